// Package speech turns received text into sound: remote synthesis first,
// a local speaker when that fails.
package speech

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/rs/zerolog"
)

type Speaker struct {
	synth    core.Synthesizer
	player   core.Player
	fallback core.LocalSpeaker
	logger   zerolog.Logger
}

func NewSpeaker(synth core.Synthesizer, player core.Player, fallback core.LocalSpeaker, logger zerolog.Logger) *Speaker {
	return &Speaker{
		synth:    synth,
		player:   player,
		fallback: fallback,
		logger:   logger.With().Str("module", "speech").Logger(),
	}
}

// Speak never fails: any synthesis or playback error falls back to the
// local speaker, whose own errors are only logged.
func (s *Speaker) Speak(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	err := s.remote(ctx, text)
	if err == nil {
		return
	}
	s.logger.Warn().Err(err).Msg("remote synthesis failed, using local speaker")
	if s.fallback == nil {
		return
	}
	if err := s.fallback.Say(ctx, text); err != nil {
		s.logger.Error().Err(err).Msg("local speaker")
	}
}

func (s *Speaker) remote(ctx context.Context, text string) error {
	if s.synth == nil || s.player == nil {
		return fmt.Errorf("no synthesizer configured")
	}
	audio, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if len(audio) == 0 {
		return fmt.Errorf("empty audio")
	}
	return s.player.Play(ctx, audio)
}

// FilePlayer stores each synthesized clip as tts-<n>.mp3 in dir.
type FilePlayer struct {
	dir    string
	logger zerolog.Logger

	mu sync.Mutex
	n  int
}

func NewFilePlayer(dir string, logger zerolog.Logger) *FilePlayer {
	return &FilePlayer{dir: dir, logger: logger.With().Str("module", "speech").Logger()}
}

func (p *FilePlayer) Play(_ context.Context, audio []byte) error {
	p.mu.Lock()
	p.n++
	name := filepath.Join(p.dir, fmt.Sprintf("tts-%d.mp3", p.n))
	p.mu.Unlock()

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(name, audio, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	p.logger.Info().Str("file", name).Int("bytes", len(audio)).Msg("speech ready")
	return nil
}

// LogSpeaker is the local speaker of a headless peer: it logs the utterance.
type LogSpeaker struct {
	logger zerolog.Logger
}

func NewLogSpeaker(logger zerolog.Logger) LogSpeaker {
	return LogSpeaker{logger: logger.With().Str("module", "speech").Logger()}
}

func (l LogSpeaker) Say(_ context.Context, text string) error {
	l.logger.Info().Str("text", text).Msg("say")
	return nil
}
