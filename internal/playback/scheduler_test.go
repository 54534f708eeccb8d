package playback

import (
	"math"
	"testing"

	"github.com/audiolibrelab/jamstudio/internal/audio"
	"github.com/audiolibrelab/jamstudio/internal/timeline"
)

type fakeClock struct {
	now  float64
	rate int
}

func (c *fakeClock) CurrentTime() float64 { return c.now }
func (c *fakeClock) SampleRate() int      { return c.rate }

// leftOnes is a stereo buffer with 1 on the left and silence on the right,
// so at pan 0 the left output equals the applied gain.
func leftOnes(rate int, seconds float64) *audio.Buffer {
	buf := audio.NewBuffer(rate, 2, int(float64(rate)*seconds))
	for i := range buf.Channels[0] {
		buf.Channels[0][i] = 1
	}
	return buf
}

func render(s *Scheduler, now float64, frames int) [][]float32 {
	out := [][]float32{make([]float32, frames), make([]float32, frames)}
	s.Render(now, out)
	return out
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-5 }

func clip(id string, start, dur float64) timeline.Clip {
	return timeline.Clip{ID: id, StartTime: start, Duration: dur, Buffer: leftOnes(10, dur)}
}

func TestStart_SoloPrecedence(t *testing.T) {
	s := NewScheduler(&fakeClock{rate: 10})
	tracks := []timeline.Track{
		{ID: "A", Volume: 1, Solo: true, Clips: []timeline.Clip{clip("a", 0, 1)}},
		{ID: "B", Volume: 1, Muted: true, Clips: []timeline.Clip{clip("b", 0, 1)}},
		{ID: "C", Volume: 1, Clips: []timeline.Clip{clip("c", 0, 1)}},
	}
	s.Start(tracks, 0, 1)

	voices := s.ActiveVoices()
	if len(voices) != 1 || voices[0].TrackID != "A" {
		t.Errorf("ActiveVoices() = %+v, want only A", voices)
	}
}

func TestStart_MutedWithoutSolo(t *testing.T) {
	s := NewScheduler(&fakeClock{rate: 10})
	s.Start([]timeline.Track{
		{ID: "A", Volume: 1, Muted: true, Clips: []timeline.Clip{clip("a", 0, 1)}},
		{ID: "B", Volume: 1, Clips: []timeline.Clip{clip("b", 0, 1)}},
	}, 0, 1)

	if voices := s.ActiveVoices(); len(voices) != 1 || voices[0].TrackID != "B" {
		t.Errorf("ActiveVoices() = %+v, want only B", voices)
	}
}

func TestStart_OffsetAndWhen(t *testing.T) {
	s := NewScheduler(&fakeClock{now: 100, rate: 10})
	s.Start([]timeline.Track{{ID: "T", Volume: 1, Clips: []timeline.Clip{
		clip("past", 0, 2),
		clip("running", 2, 4),
		clip("future", 5, 1),
	}}}, 3, 1)

	st := s.State()
	if _, ok := st.ActiveSources["past"]; ok {
		t.Error("clip ending before the start was scheduled")
	}

	running := st.ActiveSources["running"]
	if running.Offset != 1 || running.When != 100 || running.PlayDuration != 3 {
		t.Errorf("running = %+v, want offset 1 when 100 duration 3", running)
	}
	future := st.ActiveSources["future"]
	if future.Offset != 0 || future.When != 102 || future.PlayDuration != 1 {
		t.Errorf("future = %+v, want offset 0 when 102 duration 1", future)
	}
	if !st.IsPlaying || st.CurrentTime != 3 {
		t.Errorf("State() = playing %v at %v", st.IsPlaying, st.CurrentTime)
	}
}

func TestRender_SampleAccurateStart(t *testing.T) {
	s := NewScheduler(&fakeClock{rate: 10})
	s.Start([]timeline.Track{{ID: "T", Volume: 1, Clips: []timeline.Clip{clip("c", 0.5, 1)}}}, 0, 1)

	out := render(s, 0, 10)
	if out[0][4] != 0 {
		t.Errorf("frame 4 = %v, want silence before start", out[0][4])
	}
	if out[0][5] != 1 {
		t.Errorf("frame 5 = %v, want 1", out[0][5])
	}
}

func TestRender_ClipGain(t *testing.T) {
	s := NewScheduler(&fakeClock{rate: 10})
	c := clip("c", 0, 1)
	c.GainDB = -20
	s.Start([]timeline.Track{{ID: "T", Volume: 1, Clips: []timeline.Clip{c}}}, 0, 1)

	out := render(s, 0, 5)
	if !near(float64(out[0][2]), 0.1) {
		t.Errorf("gain -20dB output = %v, want 0.1", out[0][2])
	}
}

func TestRender_FadeIn(t *testing.T) {
	s := NewScheduler(&fakeClock{rate: 10})
	c := clip("c", 0, 2)
	c.FadeIn = 1
	s.Start([]timeline.Track{{ID: "T", Volume: 1, Clips: []timeline.Clip{c}}}, 0, 1)

	out := render(s, 0, 15)
	for f, want := range map[int]float64{0: 0, 5: 0.5, 10: 1, 14: 1} {
		if !near(float64(out[0][f]), want) {
			t.Errorf("frame %d = %v, want %v", f, out[0][f], want)
		}
	}
}

func TestRender_FadeInFromOffset(t *testing.T) {
	s := NewScheduler(&fakeClock{rate: 10})
	c := clip("c", 0, 2)
	c.FadeIn = 1
	s.Start([]timeline.Track{{ID: "T", Volume: 1, Clips: []timeline.Clip{c}}}, 0.5, 1)

	// remaining ramp is 0.5s long
	out := render(s, 0, 6)
	if !near(float64(out[0][2]), 0.4) || !near(float64(out[0][5]), 1) {
		t.Errorf("frames 2/5 = %v/%v, want 0.4/1", out[0][2], out[0][5])
	}
}

func TestRender_FadeOut(t *testing.T) {
	s := NewScheduler(&fakeClock{rate: 10})
	c := clip("c", 0, 2)
	c.FadeOut = 1
	s.Start([]timeline.Track{{ID: "T", Volume: 1, Clips: []timeline.Clip{c}}}, 0, 1)

	out := render(s, 0, 20)
	for f, want := range map[int]float64{5: 1, 10: 1, 15: 0.5, 19: 0.1} {
		if !near(float64(out[0][f]), want) {
			t.Errorf("frame %d = %v, want %v", f, out[0][f], want)
		}
	}
}

func TestRender_VoiceEnds(t *testing.T) {
	s := NewScheduler(&fakeClock{rate: 10})
	s.Start([]timeline.Track{{ID: "T", Volume: 1, Clips: []timeline.Clip{clip("c", 0, 1)}}}, 0, 1)

	out := render(s, 0, 20)
	if out[0][9] != 1 || out[0][10] != 0 {
		t.Errorf("frames 9/10 = %v/%v, want 1/0", out[0][9], out[0][10])
	}
	if len(s.ActiveVoices()) != 0 {
		t.Errorf("finished voice still active")
	}
	if !s.IsPlaying() {
		t.Error("scheduler stopped when the last voice ended")
	}
}

func TestStop_ClearsVoices(t *testing.T) {
	s := NewScheduler(&fakeClock{rate: 10})
	s.Start([]timeline.Track{{ID: "T", Volume: 1, Clips: []timeline.Clip{clip("c", 0, 1)}}}, 0, 1)
	s.Stop()

	if s.IsPlaying() || len(s.ActiveVoices()) != 0 {
		t.Error("Stop() left voices active")
	}
	out := render(s, 0, 5)
	if out[0][0] != 0 {
		t.Errorf("stopped scheduler rendered %v", out[0][0])
	}
	if st := s.State(); st.IsPlaying || len(st.ActiveSources) != 0 {
		t.Errorf("State() after stop = %+v", st)
	}
}

func TestStart_WhilePlayingRestarts(t *testing.T) {
	clock := &fakeClock{rate: 10}
	s := NewScheduler(clock)
	tracks := []timeline.Track{{ID: "T", Volume: 1, Clips: []timeline.Clip{clip("c", 0, 1)}}}

	s.Start(tracks, 0, 1)
	clock.now = 5
	s.Start(tracks, 0.5, 1)

	voices := s.ActiveVoices()
	if len(voices) != 1 || voices[0].When != 5 || voices[0].Offset != 0.5 {
		t.Errorf("restart voices = %+v", voices)
	}
}

func TestMixerControls(t *testing.T) {
	s := NewScheduler(&fakeClock{rate: 10})
	s.Start([]timeline.Track{{ID: "T", Volume: 1, Clips: []timeline.Clip{clip("c", 0, 2)}}}, 0, 1)

	s.SetTrackVolume("T", 0.5)
	if out := render(s, 0, 2); !near(float64(out[0][1]), 0.5) {
		t.Errorf("track volume 0.5 output = %v", out[0][1])
	}

	s.SetTrackVolume("T", 7)
	s.SetMasterVolume(0.25)
	if out := render(s, 0.2, 2); !near(float64(out[0][0]), 0.25) {
		t.Errorf("master 0.25 output = %v", out[0][0])
	}

	s.SetMasterVolume(-1)
	if s.MasterVolume() != 0 {
		t.Errorf("MasterVolume() = %v, want clamp to 0", s.MasterVolume())
	}

	// unknown track is ignored
	s.SetTrackVolume("nope", 0)
	s.SetTrackPan("nope", 1)
}

func TestPan_Mono(t *testing.T) {
	mono := audio.NewBuffer(10, 1, 10)
	for i := range mono.Channels[0] {
		mono.Channels[0][i] = 1
	}
	c := timeline.Clip{ID: "m", Duration: 1, Buffer: mono}

	tests := []struct {
		pan  float64
		l, r float64
	}{
		{-1, 1, 0},
		{0, math.Sqrt2 / 2, math.Sqrt2 / 2},
		{1, 0, 1},
	}
	for _, tt := range tests {
		s := NewScheduler(&fakeClock{rate: 10})
		s.Start([]timeline.Track{{ID: "T", Volume: 1, Pan: tt.pan, Clips: []timeline.Clip{c}}}, 0, 1)
		out := render(s, 0, 1)
		if !near(float64(out[0][0]), tt.l) || !near(float64(out[1][0]), tt.r) {
			t.Errorf("pan %v = (%v, %v), want (%v, %v)", tt.pan, out[0][0], out[1][0], tt.l, tt.r)
		}
	}
}

func TestPan_StereoHardLeftFoldsRight(t *testing.T) {
	buf := audio.NewBuffer(10, 2, 10)
	for i := range 10 {
		buf.Channels[0][i] = 0.25
		buf.Channels[1][i] = 0.5
	}
	s := NewScheduler(&fakeClock{rate: 10})
	s.Start([]timeline.Track{{ID: "T", Volume: 1, Pan: -1, Clips: []timeline.Clip{{ID: "s", Duration: 1, Buffer: buf}}}}, 0, 1)

	out := render(s, 0, 1)
	if !near(float64(out[0][0]), 0.75) || !near(float64(out[1][0]), 0) {
		t.Errorf("hard left = (%v, %v), want (0.75, 0)", out[0][0], out[1][0])
	}
}
