package stt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRMS(t *testing.T) {
	assert.Zero(t, RMS(nil))
	assert.Zero(t, RMS([]byte{128, 128, 128}))
	assert.InDelta(t, 1.0, RMS([]byte{0, 0, 0, 0}), 1e-9)
	assert.InDelta(t, 0.5, RMS([]byte{64, 192, 64, 192}), 1e-9)
}

func TestDetectorBoundaryNeedsSilenceAndChunks(t *testing.T) {
	t0 := time.Unix(0, 0)
	d := NewDetector(0.02, 800*time.Millisecond)
	d.Reset(t0)

	silent := d.Observe(t0.Add(900*time.Millisecond), 0.001)
	assert.Equal(t, 900*time.Millisecond, silent)
	assert.False(t, d.Boundary(silent, 0))
	assert.True(t, d.Boundary(silent, 1))

	silent = d.Observe(t0.Add(time.Second), 0.5)
	assert.Zero(t, silent)
	assert.False(t, d.Boundary(silent, 3))
}

func TestDetectorThresholdIsExclusive(t *testing.T) {
	t0 := time.Unix(0, 0)
	d := NewDetector(0.02, 100*time.Millisecond)
	d.Reset(t0)

	silent := d.Observe(t0.Add(time.Second), 0.02)
	assert.Equal(t, time.Second, silent)
}

func TestChunkListTakeClears(t *testing.T) {
	var c chunkList
	c.Append([]byte("a"))
	c.Append(nil)
	c.Append([]byte("b"))

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, c.Take())
	assert.Zero(t, c.Len())
	assert.Empty(t, c.Take())
}
