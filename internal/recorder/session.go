package recorder

import (
	"sync"

	"github.com/audiolibrelab/jamstudio/internal/audio"
)

// State of the controller
type State string

const (
	StateIdle           State = "IDLE"
	StateRecording      State = "RECORDING"
	StateMultiRecording State = "MULTI_RECORDING"
)

// PunchRegion is the durable record of the last completed punch.
// EndTime is always greater than StartTime.
type PunchRegion struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	TrackID   string  `json:"track_id"`
}

// Duration returns the punched length in seconds
func (p PunchRegion) Duration() float64 { return p.EndTime - p.StartTime }

// capture accumulates chunks for one or more tracks. The same chunk is
// shared by every track of a multi-track capture.
type capture struct {
	trackIDs  []string
	startTime float64 // device seconds
	punched   bool

	mu     sync.Mutex
	chunks []audio.Chunk
	closed bool
}

// add appends chunk unless the capture has been stopped
func (c *capture) add(chunk audio.Chunk) {
	c.mu.Lock()
	if !c.closed {
		c.chunks = append(c.chunks, chunk)
	}
	c.mu.Unlock()
}

// snapshot returns the chunks captured so far
func (c *capture) snapshot() []audio.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.Chunk(nil), c.chunks...)
}

// close stops accepting chunks and hands back what was captured
func (c *capture) close() []audio.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	chunks := c.chunks
	c.chunks = nil
	return chunks
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks)
}

// Status is a point-in-time view of the controller
type Status struct {
	State     State    `json:"state"`
	TrackIDs  []string `json:"track_ids,omitempty"`
	StartTime float64  `json:"start_time"`
	Elapsed   float64  `json:"elapsed"`
	Chunks    int      `json:"chunks"`
	Punched   bool     `json:"punched"`
}

// Finalized holds what Teardown recovered from in-flight sessions
type Finalized struct {
	TrackID string
	Buffer  *audio.Buffer
	Multi   map[string]*audio.Buffer
}
