package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/audiolibrelab/jamstudio/internal/audio"
	"github.com/audiolibrelab/jamstudio/internal/config"
	"github.com/audiolibrelab/jamstudio/internal/device/headless"
)

// ErrEmptyTimeline is returned when there is nothing to render
var ErrEmptyTimeline = errors.New("timeline has no clips")

// Mixdown renders the configured tracks offline. The playback path is the
// same one used live, driven by a manual headless device as fast as it can
// step, so the result matches what the speakers would have played.
func Mixdown(ctx context.Context, cfg *config.Config) (*audio.Buffer, error) {
	offline := cloneForMixdown(cfg)
	b := &headless.Backend{Config: headless.Config{Manual: true, NoInput: true}}

	sess, err := New(offline, WithBackend(b))
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if err := sess.Play(ctx); err != nil {
		return nil, fmt.Errorf("failed to start offline playback: %w", err)
	}

	var end float64
	for _, t := range sess.Tracks() {
		for _, c := range t.Clips {
			end = max(end, c.End())
		}
	}
	if end <= 0 {
		return nil, ErrEmptyTimeline
	}

	rate := sess.manager.SampleRate()
	total := mixdownFrames(end, rate)
	out := audio.NewBuffer(rate, offline.Audio.OutputChannels, total)
	dev := b.Device()

	slog.Debug("Rendering mixdown", "seconds", end, "frames", total)
	for written := 0; written < total; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		block := dev.Step(nil)
		if len(block) == 0 {
			return nil, fmt.Errorf("offline device stopped after %d frames", written)
		}
		n := min(len(block[0]), total-written)
		for ch := range out.Channels {
			copy(out.Channels[ch][written:written+n], block[ch][:n])
		}
		written += n
	}
	return out, nil
}

// cloneForMixdown copies cfg with monitoring off so that only the
// timeline reaches the output
// mixdownFrames converts a length in seconds to whole frames, rounding up
// unless the product is an integer up to float error
func mixdownFrames(seconds float64, rate int) int {
	exact := seconds * float64(rate)
	if n := math.Round(exact); math.Abs(exact-n) < 1e-6 {
		return int(n)
	}
	return int(math.Ceil(exact))
}

func cloneForMixdown(cfg *config.Config) *config.Config {
	c := *cfg
	c.Audio.Backend = "headless"
	c.Audio.InputChannels = 1
	c.Recording.Monitoring = "off"
	c.Tracks = append([]config.Track(nil), cfg.Tracks...)
	return &c
}
