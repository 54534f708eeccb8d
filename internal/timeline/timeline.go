// Package timeline holds the track and clip model read by the playback
// scheduler and written back by recording.
package timeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/audiolibrelab/jamstudio/internal/audio"
	"github.com/audiolibrelab/jamstudio/internal/waveform"
)

// Clip is a segment of audio placed on a track. FadeIn+FadeOut must not
// exceed Duration.
type Clip struct {
	ID        string        `json:"id"`
	StartTime float64       `json:"start_time"`
	Duration  float64       `json:"duration"`
	FadeIn    float64       `json:"fade_in"`
	FadeOut   float64       `json:"fade_out"`
	GainDB    float64       `json:"gain_db"`
	Path      string        `json:"path,omitempty"`
	Buffer    *audio.Buffer `json:"-"`
	Waveform  []float32     `json:"-"`
}

// End returns the timeline position where the clip stops
func (c Clip) End() float64 { return c.StartTime + c.Duration }

// Track is a lane of clips with mixer settings
type Track struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Volume float64 `json:"volume"`
	Pan    float64 `json:"pan"`
	Muted  bool    `json:"muted"`
	Solo   bool    `json:"solo"`
	Clips  []Clip  `json:"clips"`
}

// Store is the timeline persistence contract
type Store interface {
	Tracks() []Track
	Track(id string) (Track, bool)
	PutTrack(t Track)
	RemoveTrack(id string)
	UpdateTrack(id string, fn func(*Track)) error
	AddClip(trackID string, clip Clip) error
	ReplaceRegion(trackID string, start, end float64, clip Clip) error
}

// Memory is an in-process Store. Returned tracks are copies; buffers are
// shared and must be treated as read-only.
type Memory struct {
	mu     sync.RWMutex
	order  []string
	tracks map[string]*Track
}

// NewMemory returns an empty store
func NewMemory() *Memory {
	return &Memory{tracks: make(map[string]*Track)}
}

func (m *Memory) Tracks() []Track {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Track, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, copyTrack(m.tracks[id]))
	}
	return out
}

func (m *Memory) Track(id string) (Track, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tracks[id]
	if !ok {
		return Track{}, false
	}
	return copyTrack(t), true
}

// PutTrack inserts or replaces a track, keeping its position if it exists
func (m *Memory) PutTrack(t Track) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tracks[t.ID]; !ok {
		m.order = append(m.order, t.ID)
	}
	c := copyTrack(&t)
	sortClips(c.Clips)
	m.tracks[t.ID] = &c
}

func (m *Memory) RemoveTrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tracks[id]; !ok {
		return
	}
	delete(m.tracks, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// UpdateTrack applies fn to the stored track under the write lock
func (m *Memory) UpdateTrack(id string, fn func(*Track)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tracks[id]
	if !ok {
		return fmt.Errorf("track %q: %w", id, audio.ErrUnknownTrack)
	}
	fn(t)
	t.Volume = audio.Clamp(t.Volume, 0, 1)
	t.Pan = audio.Clamp(t.Pan, -1, 1)
	sortClips(t.Clips)
	return nil
}

func (m *Memory) AddClip(trackID string, clip Clip) error {
	return m.UpdateTrack(trackID, func(t *Track) {
		t.Clips = append(t.Clips, clip)
	})
}

// ReplaceRegion removes audio in [start, end) from the track and places
// clip at start. Clips crossing a boundary are trimmed, and a clip spanning
// the whole region is split in two.
func (m *Memory) ReplaceRegion(trackID string, start, end float64, clip Clip) error {
	if end <= start {
		return fmt.Errorf("invalid region [%g, %g)", start, end)
	}

	clip.StartTime = start
	if clip.Duration <= 0 {
		clip.Duration = end - start
		if d := clip.Buffer.Duration(); d > 0 && d < clip.Duration {
			clip.Duration = d
		}
	}

	return m.UpdateTrack(trackID, func(t *Track) {
		kept := make([]Clip, 0, len(t.Clips)+2)
		for _, c := range t.Clips {
			kept = append(kept, cutRegion(c, start, end)...)
		}
		t.Clips = append(kept, clip)
	})
}

// cutRegion returns what remains of c after removing [start, end)
func cutRegion(c Clip, start, end float64) []Clip {
	cs, ce := c.StartTime, c.End()
	if ce <= start || cs >= end {
		return []Clip{c}
	}

	var out []Clip
	if cs < start {
		out = append(out, head(c, start-cs))
	}
	if ce > end {
		right := tail(c, end-cs)
		if cs < start {
			right.ID = c.ID + "-split"
		}
		out = append(out, right)
	}
	return out
}

// head keeps the first d seconds of c
func head(c Clip, d float64) Clip {
	c.Duration = d
	c.FadeOut = min(c.FadeOut, d)
	c.FadeIn = min(c.FadeIn, d-c.FadeOut)
	if c.Buffer != nil {
		c.Buffer = c.Buffer.Slice(0, frameAt(c.Buffer, d))
		c.Waveform = waveform.FromBuffer(c.Buffer, waveform.DefaultWidth)
	}
	return c
}

// tail drops the first d seconds of c
func tail(c Clip, d float64) Clip {
	c.StartTime += d
	c.Duration -= d
	c.FadeIn = 0
	c.FadeOut = min(c.FadeOut, c.Duration)
	if c.Buffer != nil {
		c.Buffer = c.Buffer.Slice(frameAt(c.Buffer, d), c.Buffer.Frames())
		c.Waveform = waveform.FromBuffer(c.Buffer, waveform.DefaultWidth)
	}
	return c
}

func frameAt(b *audio.Buffer, seconds float64) int {
	return int(seconds * float64(b.SampleRate))
}

func copyTrack(t *Track) Track {
	c := *t
	c.Clips = append([]Clip(nil), t.Clips...)
	return c
}

func sortClips(clips []Clip) {
	sort.SliceStable(clips, func(i, j int) bool { return clips[i].StartTime < clips[j].StartTime })
}
