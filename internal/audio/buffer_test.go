package audio

import (
	"math"
	"testing"
)

func TestConcat_PreservesOrder(t *testing.T) {
	chunks := []Chunk{
		{{1, 2}, {-1, -2}},
		{{3}, {-3}},
		{{4, 5, 6}, {-4, -5, -6}},
	}

	buf := Concat(48000, chunks)
	if buf.Frames() != 6 {
		t.Fatalf("Frames() = %d, want 6", buf.Frames())
	}
	if buf.NumChannels() != 2 {
		t.Fatalf("NumChannels() = %d, want 2", buf.NumChannels())
	}
	for i, want := range []float32{1, 2, 3, 4, 5, 6} {
		if buf.Channels[0][i] != want || buf.Channels[1][i] != -want {
			t.Errorf("frame %d = (%v, %v), want (%v, %v)", i, buf.Channels[0][i], buf.Channels[1][i], want, -want)
		}
	}
}

func TestConcat_Empty(t *testing.T) {
	if buf := Concat(48000, nil); buf != nil {
		t.Errorf("Concat(nil) = %+v, want nil", buf)
	}
}

func TestCopyChunk_IsIndependent(t *testing.T) {
	block := [][]float32{{0.5, 0.25}}
	c := CopyChunk(block)
	block[0][0] = 0

	if c[0][0] != 0.5 {
		t.Errorf("chunk aliased the device block: got %v", c[0][0])
	}
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name  string
		block [][]float32
		want  float64
	}{
		{"empty", nil, 0},
		{"silence", [][]float32{{0, 0, 0}}, 0},
		{"dc", [][]float32{{0.5, 0.5}, {0.5, 0.5}}, 0.5},
		{"square", [][]float32{{1, -1, 1, -1}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RMS(tt.block); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBufferSlice(t *testing.T) {
	buf := &Buffer{SampleRate: 10, Channels: [][]float32{{0, 1, 2, 3, 4}}}

	s := buf.Slice(1, 3)
	if s.Frames() != 2 || s.Channels[0][0] != 1 || s.Channels[0][1] != 2 {
		t.Errorf("Slice(1,3) = %v", s.Channels)
	}

	s = buf.Slice(-5, 100)
	if s.Frames() != 5 {
		t.Errorf("clamped Slice frames = %d, want 5", s.Frames())
	}

	if d := buf.Duration(); d != 0.5 {
		t.Errorf("Duration() = %v, want 0.5", d)
	}
}

func TestDBToLinear(t *testing.T) {
	if got := DBToLinear(0); got != 1 {
		t.Errorf("DBToLinear(0) = %v, want 1", got)
	}
	if got := DBToLinear(-20); math.Abs(got-0.1) > 1e-12 {
		t.Errorf("DBToLinear(-20) = %v, want 0.1", got)
	}
}
