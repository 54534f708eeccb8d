package timeline

import (
	"errors"
	"testing"

	"github.com/audiolibrelab/jamstudio/internal/audio"
)

func ramp(rate int, seconds float64) *audio.Buffer {
	n := int(float64(rate) * seconds)
	buf := audio.NewBuffer(rate, 1, n)
	for i := range buf.Channels[0] {
		buf.Channels[0][i] = float32(i) / float32(n)
	}
	return buf
}

func TestMemory_PutAndCopy(t *testing.T) {
	m := NewMemory()
	m.PutTrack(Track{ID: "a", Name: "Vox", Volume: 1})
	m.PutTrack(Track{ID: "b", Name: "Bass", Volume: 1})
	m.PutTrack(Track{ID: "a", Name: "Lead", Volume: 0.5})

	tracks := m.Tracks()
	if len(tracks) != 2 || tracks[0].ID != "a" || tracks[0].Name != "Lead" {
		t.Fatalf("Tracks() = %+v", tracks)
	}

	tracks[0].Clips = append(tracks[0].Clips, Clip{ID: "x"})
	if got, _ := m.Track("a"); len(got.Clips) != 0 {
		t.Error("mutating a returned track changed the store")
	}

	m.RemoveTrack("a")
	if _, ok := m.Track("a"); ok {
		t.Error("track still present after RemoveTrack")
	}
}

func TestMemory_UpdateTrackClamps(t *testing.T) {
	m := NewMemory()
	m.PutTrack(Track{ID: "a"})

	err := m.UpdateTrack("a", func(t *Track) {
		t.Volume = 4
		t.Pan = -3
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := m.Track("a")
	if got.Volume != 1 || got.Pan != -1 {
		t.Errorf("Volume/Pan = %v/%v, want 1/-1", got.Volume, got.Pan)
	}

	if err := m.UpdateTrack("missing", func(*Track) {}); !errors.Is(err, audio.ErrUnknownTrack) {
		t.Errorf("UpdateTrack(missing) = %v, want ErrUnknownTrack", err)
	}
}

func TestMemory_AddClipSorts(t *testing.T) {
	m := NewMemory()
	m.PutTrack(Track{ID: "a"})
	_ = m.AddClip("a", Clip{ID: "late", StartTime: 5, Duration: 1})
	_ = m.AddClip("a", Clip{ID: "early", StartTime: 1, Duration: 1})

	got, _ := m.Track("a")
	if got.Clips[0].ID != "early" || got.Clips[1].ID != "late" {
		t.Errorf("clips not sorted: %+v", got.Clips)
	}
}

func TestReplaceRegion_SplitsSpanningClip(t *testing.T) {
	m := NewMemory()
	m.PutTrack(Track{ID: "a", Clips: []Clip{
		{ID: "take1", StartTime: 0, Duration: 10, FadeIn: 1, FadeOut: 1, Buffer: ramp(100, 10)},
	}})

	punch := Clip{ID: "punch", Buffer: ramp(100, 2)}
	if err := m.ReplaceRegion("a", 4, 6, punch); err != nil {
		t.Fatalf("ReplaceRegion() error = %v", err)
	}

	got, _ := m.Track("a")
	if len(got.Clips) != 3 {
		t.Fatalf("got %d clips, want 3: %+v", len(got.Clips), got.Clips)
	}

	left, mid, right := got.Clips[0], got.Clips[1], got.Clips[2]
	if left.ID != "take1" || left.StartTime != 0 || left.Duration != 4 || left.Buffer.Frames() != 400 {
		t.Errorf("left = %+v", left)
	}
	if left.FadeIn != 1 {
		t.Errorf("left keeps its fade-in, got %v", left.FadeIn)
	}
	if mid.ID != "punch" || mid.StartTime != 4 || mid.Duration != 2 {
		t.Errorf("punch clip = %+v", mid)
	}
	if right.ID != "take1-split" || right.StartTime != 6 || right.Duration != 4 || right.Buffer.Frames() != 400 {
		t.Errorf("right = %+v", right)
	}
	if right.FadeIn != 0 || right.FadeOut != 1 {
		t.Errorf("right fades = %v/%v, want 0/1", right.FadeIn, right.FadeOut)
	}
	// right part starts at the source sample for t=6
	if right.Buffer.Channels[0][0] != float32(600)/float32(1000) {
		t.Errorf("right first sample = %v", right.Buffer.Channels[0][0])
	}
	if len(right.Waveform) != 500 {
		t.Errorf("right waveform not recomputed")
	}
}

func TestReplaceRegion_TrimsAndRemoves(t *testing.T) {
	m := NewMemory()
	m.PutTrack(Track{ID: "a", Clips: []Clip{
		{ID: "before", StartTime: 0, Duration: 3},
		{ID: "inside", StartTime: 4, Duration: 1},
		{ID: "after", StartTime: 5.5, Duration: 2},
		{ID: "clear", StartTime: 8, Duration: 1},
	}})

	if err := m.ReplaceRegion("a", 2, 6, Clip{ID: "p"}); err != nil {
		t.Fatal(err)
	}

	got, _ := m.Track("a")
	ids := []string{}
	for _, c := range got.Clips {
		ids = append(ids, c.ID)
	}
	want := []string{"before", "p", "after", "clear"}
	if len(ids) != len(want) {
		t.Fatalf("clips = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("clips = %v, want %v", ids, want)
		}
	}
	if got.Clips[0].Duration != 2 {
		t.Errorf("before trimmed to %v, want 2", got.Clips[0].Duration)
	}
	if got.Clips[2].StartTime != 6 || got.Clips[2].Duration != 1.5 {
		t.Errorf("after = %+v, want start 6 duration 1.5", got.Clips[2])
	}
	if got.Clips[1].Duration != 4 {
		t.Errorf("punch duration = %v, want region length 4", got.Clips[1].Duration)
	}
}

func TestReplaceRegion_Invalid(t *testing.T) {
	m := NewMemory()
	m.PutTrack(Track{ID: "a"})
	if err := m.ReplaceRegion("a", 3, 3, Clip{}); err == nil {
		t.Error("empty region accepted")
	}
	if err := m.ReplaceRegion("nope", 0, 1, Clip{}); !errors.Is(err, audio.ErrUnknownTrack) {
		t.Errorf("unknown track error = %v", err)
	}
}
