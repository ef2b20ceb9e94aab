package stt

import (
	"math"
	"sync"
	"time"
)

// RMS returns the root-mean-square amplitude of an unsigned 8-bit frame
// centered on 128, normalized to [-1, 1].
func RMS(frame []byte) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, b := range frame {
		v := (float64(b) - 128) / 128
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// Detector tracks the last time speech was observed.
type Detector struct {
	threshold float64
	debounce  time.Duration

	lastSpeech time.Time
}

func NewDetector(threshold float64, debounce time.Duration) *Detector {
	return &Detector{threshold: threshold, debounce: debounce}
}

// Reset marks now as speech so a fresh session never fires immediately.
func (d *Detector) Reset(now time.Time) {
	d.lastSpeech = now
}

// Observe records one sample and reports how long the input has been silent.
func (d *Detector) Observe(now time.Time, rms float64) time.Duration {
	if rms > d.threshold {
		d.lastSpeech = now
	}
	return now.Sub(d.lastSpeech)
}

// Boundary reports whether a segment should be finalized.
func (d *Detector) Boundary(silentFor time.Duration, pending int) bool {
	return silentFor >= d.debounce && pending > 0
}

// chunkList accumulates recorder slices for the current segment.
type chunkList struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (c *chunkList) Append(b []byte) {
	if len(b) == 0 {
		return
	}
	c.mu.Lock()
	c.chunks = append(c.chunks, b)
	c.mu.Unlock()
}

func (c *chunkList) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks)
}

// Take snapshots and clears the list in one step.
func (c *chunkList) Take() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.chunks
	c.chunks = nil
	return out
}
