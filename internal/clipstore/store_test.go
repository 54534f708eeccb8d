package clipstore

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/jamstudio/internal/audio"
	"github.com/audiolibrelab/jamstudio/internal/wav"
)

func fixedClock() time.Time { return time.Unix(1700000000, 0) }

func tone(frames int) *audio.Buffer {
	buf := audio.NewBuffer(44100, 2, frames)
	for i := range frames {
		buf.Channels[0][i] = float32(math.Sin(float64(i) / 10))
		buf.Channels[1][i] = -buf.Channels[0][i] / 2
	}
	return buf
}

func TestSave_NamesAndContents(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, WithClock(fixedClock))

	path, err := s.Save("Lead Vox/1", tone(1000))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if want := filepath.Join(dir, "Lead_Vox1-1700000000.wav"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != wav.HeaderSize+1000*2*2 {
		t.Errorf("file size = %d", len(data))
	}
}

func TestSave_NilBuffer(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Save("a", nil); err == nil {
		t.Error("Save(nil) succeeded")
	}
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	s := New(t.TempDir(), WithClock(fixedClock))
	in := tone(2000)

	path, err := s.Save("take", in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := s.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if out.SampleRate != 44100 || out.NumChannels() != 2 || out.Frames() != 2000 {
		t.Fatalf("loaded shape = %d Hz, %d ch, %d frames", out.SampleRate, out.NumChannels(), out.Frames())
	}
	for ch := range 2 {
		for i := range 2000 {
			if d := math.Abs(float64(out.Channels[ch][i] - in.Channels[ch][i])); d > 2.0/32767 {
				t.Fatalf("ch %d frame %d off by %v", ch, i, d)
			}
		}
	}
}

func TestSaveAll_Parallel(t *testing.T) {
	s := New(t.TempDir(), WithClock(fixedClock))
	buffers := map[string]*audio.Buffer{"gtr": tone(100), "bass": tone(200), "keys": tone(300)}

	paths, err := s.SaveAll(context.Background(), buffers)
	if err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("paths = %v", paths)
	}
	for id, p := range paths {
		if !strings.HasPrefix(filepath.Base(p), id+"-") {
			t.Errorf("track %s saved as %s", id, p)
		}
	}

	listed, err := s.List()
	if err != nil || len(listed) != 3 {
		t.Errorf("List() = %v, %v", listed, err)
	}
}

func TestSaveAll_ReportsFailure(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.SaveAll(context.Background(), map[string]*audio.Buffer{"ok": tone(10), "bad": nil})
	if err == nil {
		t.Error("SaveAll() with a nil buffer succeeded")
	}
}

func TestLoad_UnknownExtension(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Load("clip.flac"); !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("Load(flac) = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDecoders_RejectGarbage(t *testing.T) {
	garbage := []byte("this is not audio at all, just some text bytes")
	for ext, dec := range map[string]Decoder{
		"wav":  WAVDecoder{},
		"aiff": AIFFDecoder{},
		"mp3":  MP3Decoder{},
		"ogg":  VorbisDecoder{},
	} {
		if _, err := dec.Decode(bytes.NewReader(garbage)); err == nil {
			t.Errorf("%s decoder accepted garbage", ext)
		}
	}
}

func TestList_MissingDir(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nope"))
	got, err := s.List()
	if err != nil || got != nil {
		t.Errorf("List() = %v, %v", got, err)
	}
}

func TestCleanFileName(t *testing.T) {
	tests := map[string]string{
		"Lead Vox":     "Lead_Vox",
		"  drums  ":    "drums",
		"a/b\\c:d":     "abcd",
		"take_2-final": "take_2-final",
	}
	for in, want := range tests {
		if got := cleanFileName(in); got != want {
			t.Errorf("cleanFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
