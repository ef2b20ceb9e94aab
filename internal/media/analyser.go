package media

import (
	"fmt"
	"sync"

	"github.com/pion/opus"
	"github.com/rs/zerolog"
)

// One 20ms frame at 48kHz. The decoder upsamples into all of it.
const pcmFrameSamples = 960

// analyser keeps the most recent mono PCM samples of the stream.
type analyser struct {
	logger      zerolog.Logger
	unsubscribe func()

	mu      sync.Mutex
	dec     *opus.Decoder
	pcm     []float32
	ring    []int16
	pos     int
	filled  bool
	decoded int
	failed  int
}

func newAnalyser(stream *LocalStream, size int, logger zerolog.Logger) (*analyser, error) {
	a := newLevelRing(size, logger)
	a.unsubscribe = stream.subscribe(a.decode)
	return a, nil
}

func newLevelRing(size int, logger zerolog.Logger) *analyser {
	if size <= 0 {
		size = 2048
	}
	d := opus.NewDecoder()
	return &analyser{
		logger: logger,
		dec:    &d,
		pcm:    make([]float32, pcmFrameSamples),
		ring:   make([]int16, size),
	}
}

// decodedSamples is how many 48kHz samples a 20ms SILK frame of the given
// bandwidth fills.
func decodedSamples(bw opus.Bandwidth) int {
	switch bw {
	case opus.BandwidthNarrowband:
		return 480
	case opus.BandwidthMediumband:
		return 720
	case opus.BandwidthWideband:
		return 960
	}
	return 0
}

func (a *analyser) decode(p Packet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	bw, err := a.decodeFrame(p.Data)
	if err != nil {
		// The decoder only handles 20ms SILK frames; CELT and hybrid
		// packets leave the level where it was.
		a.failed++
		ev := a.logger.Debug()
		if a.failed == 1 {
			ev = a.logger.Warn()
		}
		ev.Err(err).Int("failed", a.failed).Msg("opus decode")
		return
	}
	n := min(decodedSamples(bw), len(a.pcm))
	samples := make([]int16, n)
	for i, f := range a.pcm[:n] {
		samples[i] = floatToS16(f)
	}
	a.decoded++
	a.pushLocked(samples)
}

// decodeFrame turns a decoder panic on malformed remote input into an error.
func (a *analyser) decodeFrame(data []byte) (bw opus.Bandwidth, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("opus decoder panic: %v", r)
		}
	}()
	bw, _, err = a.dec.DecodeFloat32(data, a.pcm)
	return bw, err
}

func floatToS16(f float32) int16 {
	switch {
	case f >= 1:
		return 32767
	case f <= -1:
		return -32768
	}
	return int16(f * 32767)
}

func (a *analyser) push(samples []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pushLocked(samples)
}

func (a *analyser) pushLocked(samples []int16) {
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos++
		if a.pos == len(a.ring) {
			a.pos = 0
			a.filled = true
		}
	}
}

// TimeDomain fills buf with the latest samples, oldest first, as unsigned
// 8-bit values centered on 128. Missing samples read as silence.
func (a *analyser) TimeDomain(buf []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.ring)
	avail := a.pos
	if a.filled {
		avail = n
	}
	pad := max(len(buf)-avail, 0)
	for i := 0; i < pad; i++ {
		buf[i] = 128
	}
	start := (a.pos - (len(buf) - pad) + n) % n
	for i := pad; i < len(buf); i++ {
		s := a.ring[(start+i-pad)%n]
		buf[i] = byte(int(s>>8) + 128)
	}
}

// stats reports how many packets decoded and how many were skipped.
func (a *analyser) stats() (decoded, failed int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.decoded, a.failed
}

func (a *analyser) Close() error {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	return nil
}
