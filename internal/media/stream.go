package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
)

type StreamOption func(*LocalStream)

func WithStreamLogger(l zerolog.Logger) StreamOption {
	return func(s *LocalStream) { s.logger = l.With().Str("module", "media").Logger() }
}

// LocalStream is the local capture: one Opus audio track fed by a Source.
// Packets are paced in real time and fanned out to recorders and analysers.
type LocalStream struct {
	track  *webrtc.TrackLocalStaticSample
	source Source
	logger zerolog.Logger

	mu      sync.RWMutex
	subs    map[int]func(Packet)
	nextSub int

	stopOnce sync.Once
	stopped  atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewLocalStream creates the track and starts pumping source into it. A nil
// source yields a silent track with no audio input.
func NewLocalStream(source Source, opts ...StreamOption) (*LocalStream, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusRate, Channels: opusChannels},
		"audio", "voicelink",
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	s := &LocalStream{
		track:  track,
		source: source,
		logger: zerolog.Nop(),
		subs:   make(map[int]func(Packet)),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if source == nil {
		close(s.done)
		return s, nil
	}
	go s.pump(ctx)
	return s, nil
}

func (s *LocalStream) pump(ctx context.Context) {
	defer close(s.done)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		p, err := s.source.NextPacket()
		if errors.Is(err, io.EOF) {
			s.logger.Info().Msg("audio source ended")
			return
		}
		if err != nil {
			s.logger.Error().Err(err).Msg("read audio source")
			return
		}
		if err := s.track.WriteSample(pionmedia.Sample{Data: p.Data, Duration: p.Duration}); err != nil {
			s.logger.Warn().Err(err).Msg("write sample")
		}
		s.publish(p)
		timer.Reset(p.Duration)
	}
}

func (s *LocalStream) publish(p Packet) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.subs {
		fn(p)
	}
}

// subscribe registers fn for every packet. fn must not block.
func (s *LocalStream) subscribe(fn func(Packet)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *LocalStream) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

func (s *LocalStream) HasAudio() bool {
	return s.source != nil
}

func (s *LocalStream) Supports(format domain.Format) bool {
	switch format {
	case domain.FormatWebMOpus, domain.FormatOggOpus:
		return true
	}
	return false
}

func (s *LocalStream) NewRecorder(format domain.Format) (core.Recorder, error) {
	return newRecorder(s, format, s.logger)
}

func (s *LocalStream) NewAnalyser(size int) (core.Analyser, error) {
	return newAnalyser(s, size, s.logger)
}

// Stopped reports whether Stop has been called.
func (s *LocalStream) Stopped() bool {
	return s.stopped.Load()
}

// Stop ends the pump and closes the source. Idempotent.
func (s *LocalStream) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.cancel()
		<-s.done
		if s.source != nil {
			if err := s.source.Close(); err != nil {
				s.logger.Warn().Err(err).Msg("close audio source")
			}
		}
		s.logger.Info().Msg("local stream stopped")
	})
}
