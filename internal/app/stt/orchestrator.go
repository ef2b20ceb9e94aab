// Package stt segments a live audio input on silence and hands each segment
// to a transcriber.
package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/dkeye/voicelink/internal/media"
	"github.com/rs/zerolog"
)

const analyserSize = 2048

type Options struct {
	Debounce       time.Duration
	SilenceRMS     float64
	SliceInterval  time.Duration
	SampleInterval time.Duration
	// Formats is the recording preference order.
	Formats []domain.Format
}

func DefaultOptions() Options {
	return Options{
		Debounce:       2500 * time.Millisecond,
		SilenceRMS:     0.01,
		SliceInterval:  time.Second,
		SampleInterval: 150 * time.Millisecond,
		Formats:        domain.DefaultFormats,
	}
}

type Option func(*Orchestrator)

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l.With().Str("module", "stt").Logger() }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// ErrBadInterval is returned by Start when a recording or sampling interval
// is not positive.
var ErrBadInterval = errors.New("interval must be positive")

// InputFunc acquires the audio input at Start.
type InputFunc func(ctx context.Context) (core.AudioInput, error)

type Orchestrator struct {
	acquire     InputFunc
	transcriber core.Transcriber
	out         core.TextSender
	opts        Options
	logger      zerolog.Logger
	now         func() time.Time

	mu       sync.Mutex
	running  bool
	gen      uint64
	input    core.AudioInput
	format   domain.Format
	recorder core.Recorder
	analyser core.Analyser
	detector *Detector
	chunks   chunkList
	frame    []byte
	runCtx   context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
}

func NewOrchestrator(acquire InputFunc, transcriber core.Transcriber, out core.TextSender, opts Options, options ...Option) *Orchestrator {
	o := &Orchestrator{
		acquire:     acquire,
		transcriber: transcriber,
		out:         out,
		opts:        opts,
		logger:      zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Format returns the recording format chosen at Start.
func (o *Orchestrator) Format() domain.Format {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.format
}

// Start acquires the input, negotiates a recording format and begins
// recording and sampling. Calling Start on a running orchestrator is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}
	if o.opts.SliceInterval <= 0 || o.opts.SampleInterval <= 0 {
		return fmt.Errorf("%w: slice %s, sample %s", ErrBadInterval, o.opts.SliceInterval, o.opts.SampleInterval)
	}

	input, err := o.acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire audio input: %w", err)
	}
	caps := media.Negotiate(input, o.opts.Formats...)
	if !caps.Audio {
		return domain.ErrNoAudioTrack
	}
	format, ok := caps.Select(o.opts.Formats...)
	if !ok {
		return fmt.Errorf("%w: tried %v", domain.ErrUnsupportedFormat, o.opts.Formats)
	}
	analyser, err := input.NewAnalyser(analyserSize)
	if err != nil {
		return fmt.Errorf("create analyser: %w", err)
	}

	o.input = input
	o.format = format
	o.analyser = analyser
	o.frame = make([]byte, analyserSize)
	o.detector = NewDetector(o.opts.SilenceRMS, o.opts.Debounce)
	o.detector.Reset(o.now())
	o.chunks.Take()

	if err := o.startRecorder(); err != nil {
		_ = analyser.Close()
		o.analyser = nil
		return err
	}

	o.runCtx, o.cancel = context.WithCancel(context.WithoutCancel(ctx))
	o.running = true
	o.gen++
	o.loopDone = make(chan struct{})
	go o.loop(o.runCtx, o.loopDone)

	o.logger.Info().Str("format", string(format)).Dur("debounce", o.opts.Debounce).
		Float64("silence_rms", o.opts.SilenceRMS).Msg("stt started")
	return nil
}

// startRecorder must be called with mu held.
func (o *Orchestrator) startRecorder() error {
	rec, err := o.input.NewRecorder(o.format)
	if err != nil {
		return fmt.Errorf("create recorder: %w", err)
	}
	if err := rec.Start(o.opts.SliceInterval, o.chunks.Append); err != nil {
		return fmt.Errorf("start recorder: %w", err)
	}
	o.recorder = rec
	return nil
}

func (o *Orchestrator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(o.opts.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(o.now())
		}
	}
}

// tick takes one analysis sample and finalizes the segment on a boundary.
func (o *Orchestrator) tick(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	if o.recorder == nil {
		if err := o.startRecorder(); err != nil {
			o.logger.Error().Err(err).Msg("restart recorder")
		}
	}

	o.analyser.TimeDomain(o.frame)
	silentFor := o.detector.Observe(now, RMS(o.frame))
	if !o.detector.Boundary(silentFor, o.chunks.Len()) {
		return
	}

	if o.recorder != nil {
		if err := o.recorder.Stop(); err != nil {
			o.logger.Warn().Err(err).Msg("stop recorder")
		}
		o.recorder = nil
	}
	segment := bytes.Join(o.chunks.Take(), nil)
	if err := o.startRecorder(); err != nil {
		o.logger.Error().Err(err).Msg("restart recorder")
	}

	o.logger.Debug().Dur("silent_for", silentFor).Int("bytes", len(segment)).Msg("segment finalized")
	go o.transcribe(o.runCtx, o.gen, segment, o.format)
}

func (o *Orchestrator) transcribe(ctx context.Context, gen uint64, segment []byte, format domain.Format) {
	text, ok := o.transcriber.Recognize(ctx, segment, format)
	if !ok {
		return
	}

	o.mu.Lock()
	current := o.running && o.gen == gen
	o.mu.Unlock()
	if !current {
		o.logger.Debug().Msg("dropping transcript from stopped session")
		return
	}
	o.logger.Info().Str("text", text).Msg("transcript")
	o.out.SendText(text)
}

// Stop halts recording and sampling, releases the analyser and clears pending
// chunks. In-flight transcriptions are cancelled and their results dropped.
// Safe to call repeatedly or before Start.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.gen++
	o.cancel()

	if o.recorder != nil {
		if err := o.recorder.Stop(); err != nil {
			o.logger.Warn().Err(err).Msg("stop recorder")
		}
		o.recorder = nil
	}
	if o.analyser != nil {
		if err := o.analyser.Close(); err != nil {
			o.logger.Warn().Err(err).Msg("close analyser")
		}
		o.analyser = nil
	}
	o.chunks.Take()
	done := o.loopDone
	o.mu.Unlock()

	<-done
	o.logger.Info().Msg("stt stopped")
}
