package otodev

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ebitengine/oto/v3"

	"github.com/audiolibrelab/jamstudio/internal/device"
)

func stubContext(t *testing.T) (ready chan struct{}, calls *int) {
	t.Helper()
	ready = make(chan struct{})
	calls = new(int)
	prev := newContext
	newContext = func(*oto.NewContextOptions) (*oto.Context, chan struct{}, error) {
		*calls++
		return nil, ready, nil
	}
	t.Cleanup(func() { newContext = prev })
	return ready, calls
}

func TestBackend_ContextSurvivesCancelledOpen(t *testing.T) {
	ready, calls := stubContext(t)
	b := &Backend{}
	opts := device.Options{SampleRate: 48000, BufferSize: 512, OutputChannels: 2}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := b.context(ctx, opts); !errors.Is(err, context.Canceled) {
		t.Fatalf("context() with cancelled ctx = %v, want context.Canceled", err)
	}

	close(ready)
	if _, reused, err := b.context(context.Background(), opts); err != nil || !reused {
		t.Fatalf("context() after cancel = reused %v, %v", reused, err)
	}
	if *calls != 1 {
		t.Errorf("oto.NewContext called %d times, want 1", *calls)
	}
}

func TestBackend_ContextFormatMismatch(t *testing.T) {
	ready, _ := stubContext(t)
	close(ready)
	b := &Backend{}

	if _, reused, err := b.context(context.Background(), device.Options{SampleRate: 48000, BufferSize: 512, OutputChannels: 2}); err != nil || reused {
		t.Fatalf("first context() = reused %v, %v", reused, err)
	}
	_, _, err := b.context(context.Background(), device.Options{SampleRate: 44100, BufferSize: 512, OutputChannels: 2})
	if err == nil || !strings.Contains(err.Error(), "48000 Hz") {
		t.Errorf("context() with another rate = %v", err)
	}
}
