package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
)

// OggSink records the bound remote audio track to remote-<n>.ogg in dir.
// Binding a new track finishes the previous file.
type OggSink struct {
	dir    string
	logger zerolog.Logger

	mu      sync.Mutex
	n       int
	current *oggBinding
}

type oggBinding struct {
	mu     sync.Mutex
	path   string
	w      *oggwriter.OggWriter
	closed bool
}

func NewOggSink(dir string, logger zerolog.Logger) *OggSink {
	return &OggSink{dir: dir, logger: logger.With().Str("module", "media").Logger()}
}

func (s *OggSink) Bind(track *webrtc.TrackRemote) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		s.logger.Debug().Str("kind", track.Kind().String()).Msg("ignoring non-audio remote track")
		return
	}
	channels := uint16(track.Codec().Channels)
	if channels == 0 {
		channels = opusChannels
	}
	b, err := s.rebind(channels)
	if err != nil {
		s.logger.Error().Err(err).Msg("bind remote track")
		return
	}
	s.logger.Info().Str("track", track.ID()).Str("file", b.path).Msg("remote audio bound")
	go b.copy(func() (*rtp.Packet, error) {
		p, _, err := track.ReadRTP()
		return p, err
	}, s.logger)
}

func (s *OggSink) rebind(channels uint16) (*oggBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		if err := s.current.close(); err != nil {
			s.logger.Warn().Err(err).Str("file", s.current.path).Msg("close previous recording")
		}
		s.current = nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	s.n++
	path := filepath.Join(s.dir, fmt.Sprintf("remote-%d.ogg", s.n))
	w, err := oggwriter.New(path, opusRate, channels)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s.current = &oggBinding{path: path, w: w}
	return s.current, nil
}

// Path returns the file of the current binding, if any.
func (s *OggSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.path
}

func (s *OggSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	err := s.current.close()
	s.current = nil
	return err
}

func (b *oggBinding) copy(read func() (*rtp.Packet, error), logger zerolog.Logger) {
	for {
		p, err := read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug().Err(err).Str("file", b.path).Msg("remote track ended")
			}
			return
		}
		if !b.write(p) {
			return
		}
	}
}

func (b *oggBinding) write(p *rtp.Packet) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	if err := b.w.WriteRTP(p); err != nil {
		return false
	}
	return true
}

func (b *oggBinding) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.w.Close()
}
