package media

import (
	"context"
	"sync"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/rs/zerolog"
)

// Device hands out the local stream, opening it on first use and reusing it
// until it is stopped.
type Device struct {
	input  string
	loop   bool
	logger zerolog.Logger

	mu     sync.Mutex
	stream *LocalStream
}

// NewDevice uses the Ogg/Opus file at input as the microphone. An empty input
// gives a silent track.
func NewDevice(input string, loop bool, logger zerolog.Logger) *Device {
	return &Device{input: input, loop: loop, logger: logger}
}

func (d *Device) open() (*LocalStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil && !d.stream.Stopped() {
		return d.stream, nil
	}
	var src Source
	if d.input != "" {
		ogg, err := OpenOggFile(d.input, d.loop)
		if err != nil {
			return nil, err
		}
		src = ogg
	}
	stream, err := NewLocalStream(src, WithStreamLogger(d.logger))
	if err != nil {
		if src != nil {
			_ = src.Close()
		}
		return nil, err
	}
	d.logger.Info().Str("module", "media").Str("input", d.input).Bool("audio", src != nil).Msg("local stream opened")
	d.stream = stream
	return stream, nil
}

// Acquire matches core.AcquireFunc.
func (d *Device) Acquire(_ context.Context) (core.LocalMedia, error) {
	s, err := d.open()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// AudioInput returns the same stream as seen by the speech pipeline.
func (d *Device) AudioInput(_ context.Context) (core.AudioInput, error) {
	s, err := d.open()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		d.stream.Stop()
		d.stream = nil
	}
}
