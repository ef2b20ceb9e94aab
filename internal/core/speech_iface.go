package core

import (
	"context"

	"github.com/dkeye/voicelink/internal/domain"
)

// Transcriber turns a finalized segment into text. ok is false when nothing
// was recognized or the call failed; failures are logged, never returned.
type Transcriber interface {
	Recognize(ctx context.Context, audio []byte, format domain.Format) (text string, ok bool)
}

// Synthesizer renders text to encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Player plays synthesized audio.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// LocalSpeaker is the last-resort speech output when synthesis fails.
type LocalSpeaker interface {
	Say(ctx context.Context, text string) error
}
