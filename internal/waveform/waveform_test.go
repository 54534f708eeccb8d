package waveform

import (
	"testing"

	"github.com/audiolibrelab/jamstudio/internal/audio"
)

func TestDownsample_WidthInvariance(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 7, 499, 500, 501, 3072, 48000} {
		samples := make([]float32, n)
		for i := range samples {
			samples[i] = float32(i%7) / 7
		}
		for _, width := range []int{1, 10, 500, 1000} {
			if got := Downsample(samples, width); len(got) != width {
				t.Errorf("Downsample(len=%d, %d) returned %d peaks", n, width, len(got))
			}
		}
	}
}

func TestDownsample_NonPositiveWidth(t *testing.T) {
	t.Parallel()

	if got := Downsample([]float32{1, 2}, 0); len(got) != 0 {
		t.Errorf("width 0 returned %d peaks", len(got))
	}
	if got := Downsample([]float32{1, 2}, -3); len(got) != 0 {
		t.Errorf("width -3 returned %d peaks", len(got))
	}
}

func TestDownsample_Peaks(t *testing.T) {
	t.Parallel()

	samples := []float32{0.1, -0.4, 0.2, 0.3, -0.9, 0.5, 0, 0}
	got := Downsample(samples, 4)
	want := []float32{0.4, 0.3, 0.9, 0}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("peak[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDownsample_ShortInputIsSilent(t *testing.T) {
	t.Parallel()

	got := Downsample([]float32{1, 1, 1}, 10)
	for i, p := range got {
		if p != 0 {
			t.Errorf("peak[%d] = %v, want 0 for degenerate windows", i, p)
		}
	}
}

func TestDownsample_ClampsOverload(t *testing.T) {
	t.Parallel()

	got := Downsample([]float32{2, -3}, 1)
	if got[0] != 1 {
		t.Errorf("peak = %v, want clamp to 1", got[0])
	}
}

func TestDownsample_DropsRemainder(t *testing.T) {
	t.Parallel()

	// 10 samples into 3 bins: step 3, the trailing sample is ignored
	samples := []float32{0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	got := Downsample(samples, 3)
	for i, p := range got {
		if p != 0 {
			t.Errorf("peak[%d] = %v, want 0", i, p)
		}
	}
}

func TestFromBuffer_MaxAcrossChannels(t *testing.T) {
	t.Parallel()

	buf := &audio.Buffer{SampleRate: 8000, Channels: [][]float32{
		{0.1, 0.1, 0.8, 0.8},
		{-0.6, 0.2, 0.1, 0.1},
	}}

	got := FromBuffer(buf, 2)
	if got[0] != float32(0.6) || got[1] != float32(0.8) {
		t.Errorf("FromBuffer() = %v, want [0.6 0.8]", got)
	}

	if got := FromBuffer(&audio.Buffer{}, 5); len(got) != 5 {
		t.Errorf("FromBuffer(empty) len = %d, want 5", len(got))
	}
}
