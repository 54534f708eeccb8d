// Package transport implements the logical playhead shared by playback and
// punch recording. Time is derived from the audio device clock, never from
// wall time.
package transport

import (
	"log/slog"
	"sync"
)

// TimeSource reports the monotonic audio device time in seconds
type TimeSource interface {
	CurrentTime() float64
}

// Clock maps device time to timeline time.
//
// While playing, CurrentTime is offset + (now - anchor). While paused it is
// the frozen offset.
type Clock struct {
	src TimeSource

	mu      sync.Mutex
	playing bool
	offset  float64 // timeline seconds at anchor
	anchor  float64 // device seconds when playback (re)started
}

// NewClock returns a paused clock at position 0
func NewClock(src TimeSource) *Clock {
	return &Clock{src: src}
}

// Play starts advancing from the current position. Calling Play while
// already playing is a no-op.
func (c *Clock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.playing {
		return
	}
	c.anchor = c.src.CurrentTime()
	c.playing = true
	slog.Debug("Transport playing", "position", c.offset)
}

// Pause freezes the position
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.playing {
		return
	}
	c.offset = c.positionLocked()
	c.playing = false
	slog.Debug("Transport paused", "position", c.offset)
}

// Seek moves the playhead to t seconds, clamped to 0. When playing the
// clock is re-anchored so it keeps advancing from t.
func (c *Clock) Seek(t float64) {
	if t < 0 {
		t = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.offset = t
	if c.playing {
		c.anchor = c.src.CurrentTime()
	}
	slog.Debug("Transport seek", "position", t, "playing", c.playing)
}

// CurrentTime returns the logical timeline position in seconds
func (c *Clock) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

// IsPlaying reports whether the clock is advancing
func (c *Clock) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *Clock) positionLocked() float64 {
	if !c.playing {
		return c.offset
	}
	return c.offset + (c.src.CurrentTime() - c.anchor)
}
