// Package media provides the local capture pipeline (an Opus source feeding a
// WebRTC track), segment recorders, the level analyser and the remote sink.
package media

import (
	"slices"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
)

// Capabilities is probed once from an input and consulted afterwards.
type Capabilities struct {
	Audio   bool
	Formats []domain.Format
}

// Negotiate probes the input for an audio track and for each candidate
// recording format (DefaultFormats when none are given).
func Negotiate(in core.AudioInput, candidates ...domain.Format) Capabilities {
	if len(candidates) == 0 {
		candidates = domain.DefaultFormats
	}
	caps := Capabilities{Audio: in.HasAudio()}
	for _, f := range candidates {
		if in.Supports(f) {
			caps.Formats = append(caps.Formats, f)
		}
	}
	return caps
}

func (c Capabilities) Supports(f domain.Format) bool {
	return slices.Contains(c.Formats, f)
}

// Select returns the first preference that is supported.
func (c Capabilities) Select(prefs ...domain.Format) (domain.Format, bool) {
	for _, f := range prefs {
		if c.Supports(f) {
			return f, true
		}
	}
	return "", false
}
