package events

import (
	"time"

	"github.com/audiolibrelab/jamstudio/internal/audio"
)

// LiveWaveform is a best-effort snapshot of a recording in progress
type LiveWaveform struct {
	TrackID string
	Peaks   []float32
	Elapsed float64 // seconds since the recording started
}

// Complete is published when a single-track recording stops with audio.
type Complete struct {
	TrackID   string
	Buffer    *audio.Buffer
	StartTime float64 // device clock seconds
	Punched   bool
}

// MultiComplete is published when a multi-track recording stops
type MultiComplete struct {
	Buffers   map[string]*audio.Buffer
	StartTime float64
}

// Fault reports an unrecoverable device condition
type Fault struct {
	Err  error
	Time time.Time
}

// Bus groups the engine topics. The zero value is ready to use.
type Bus struct {
	Level         Topic[float64]
	Waveform      Topic[LiveWaveform]
	Complete      Topic[Complete]
	MultiComplete Topic[MultiComplete]
	Fault         Topic[Fault]
}

// NewBus allocates an empty bus
func NewBus() *Bus {
	return &Bus{}
}
