package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
)

var errRecorderActive = errors.New("recorder already active")

// containerWriter muxes Opus packets into a container stream.
type containerWriter interface {
	WritePacket(p Packet) error
	Close() error
}

type oggContainer struct {
	w    *oggwriter.OggWriter
	seq  uint16
	ts   uint32
	ssrc uint32
}

func newOggContainer(out io.Writer) (*oggContainer, error) {
	w, err := oggwriter.NewWith(out, opusRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("ogg writer: %w", err)
	}
	return &oggContainer{w: w, ssrc: rand.Uint32()}, nil
}

func (c *oggContainer) WritePacket(p Packet) error {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: c.seq,
			Timestamp:      c.ts,
			SSRC:           c.ssrc,
		},
		Payload: p.Data,
	}
	c.seq++
	c.ts += uint32(p.Duration * opusRate / time.Second)
	return c.w.WriteRTP(pkt)
}

func (c *oggContainer) Close() error { return c.w.Close() }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type webmContainer struct {
	w       webm.BlockWriteCloser
	elapsed time.Duration
}

func newWebMContainer(out io.Writer) (*webmContainer, error) {
	ws, err := webm.NewSimpleBlockWriter(nopWriteCloser{out}, []webm.TrackEntry{{
		Name:            "Audio",
		TrackNumber:     1,
		TrackUID:        uint64(rand.Uint32()),
		CodecID:         "A_OPUS",
		TrackType:       2,
		DefaultDuration: uint64(defaultPacket.Nanoseconds()),
		Audio: &webm.Audio{
			SamplingFrequency: opusRate,
			Channels:          opusChannels,
		},
	}})
	if err != nil {
		return nil, fmt.Errorf("webm writer: %w", err)
	}
	return &webmContainer{w: ws[0]}, nil
}

func (c *webmContainer) WritePacket(p Packet) error {
	_, err := c.w.Write(true, c.elapsed.Milliseconds(), p.Data)
	c.elapsed += p.Duration
	return err
}

func (c *webmContainer) Close() error { return c.w.Close() }

func newContainer(format domain.Format, out io.Writer) (containerWriter, error) {
	switch format {
	case domain.FormatWebMOpus:
		return newWebMContainer(out)
	case domain.FormatOggOpus:
		return newOggContainer(out)
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, format)
}

// recorder muxes the stream's packets into one container per Start and hands
// out whatever has been written every slice interval.
type recorder struct {
	stream *LocalStream
	format domain.Format
	logger zerolog.Logger

	mu          sync.Mutex
	active      bool
	buf         bytes.Buffer
	enc         containerWriter
	onChunk     func([]byte)
	unsubscribe func()
	stop        chan struct{}
	done        chan struct{}
}

func newRecorder(stream *LocalStream, format domain.Format, logger zerolog.Logger) (*recorder, error) {
	if !stream.Supports(format) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, format)
	}
	return &recorder{stream: stream, format: format, logger: logger}, nil
}

func (r *recorder) Start(slice time.Duration, onChunk func([]byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return errRecorderActive
	}
	r.buf.Reset()
	enc, err := newContainer(r.format, &r.buf)
	if err != nil {
		return err
	}
	r.enc = enc
	r.onChunk = onChunk
	r.active = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.unsubscribe = r.stream.subscribe(r.write)
	go r.sliceLoop(slice, r.stop, r.done)
	return nil
}

func (r *recorder) write(p Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	if err := r.enc.WritePacket(p); err != nil {
		r.logger.Warn().Err(err).Str("format", string(r.format)).Msg("mux packet")
	}
}

// take drains the buffer. Must be called with mu held.
func (r *recorder) take() []byte {
	if r.buf.Len() == 0 {
		return nil
	}
	chunk := bytes.Clone(r.buf.Bytes())
	r.buf.Reset()
	return chunk
}

func (r *recorder) sliceLoop(slice time.Duration, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(slice)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			chunk, onChunk := r.take(), r.onChunk
			r.mu.Unlock()
			if chunk != nil {
				onChunk(chunk)
			}
		}
	}
}

func (r *recorder) Stop() error {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil
	}
	r.active = false
	close(r.stop)
	err := r.enc.Close()
	chunk, onChunk, done, unsubscribe := r.take(), r.onChunk, r.done, r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	// publish holds the stream lock while calling write; unsubscribe without mu.
	unsubscribe()
	<-done
	if chunk != nil {
		onChunk(chunk)
	}
	if err != nil {
		return fmt.Errorf("close %s container: %w", r.format, err)
	}
	return nil
}

func (r *recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}
