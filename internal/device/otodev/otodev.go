// Package otodev provides an output-only device on ebitengine/oto. Oto has
// no capture support, so input requests fail with audio.ErrNoDeviceFound.
package otodev

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/audiolibrelab/jamstudio/internal/audio"
	"github.com/audiolibrelab/jamstudio/internal/device"
)

func init() {
	device.Register(&Backend{})
}

// newContext is oto.NewContext, replaced in tests
var newContext = oto.NewContext

// Backend opens the oto output. Oto allows a single context per process,
// so the backend keeps it once created and every device shares it.
type Backend struct {
	mu       sync.Mutex
	ctx      *oto.Context
	ready    chan struct{}
	rate     int
	channels int
}

func (*Backend) Name() string    { return "oto" }
func (*Backend) Available() bool { return true }

func (*Backend) Sources() ([]string, error) {
	return []string{}, nil
}

func (b *Backend) Open(ctx context.Context, opts device.Options) (device.Device, error) {
	otoCtx, reused, err := b.context(ctx, opts)
	if err != nil {
		return nil, err
	}
	if reused {
		// a previous device may have left it suspended
		if err := otoCtx.Resume(); err != nil {
			return nil, fmt.Errorf("oto resume: %w", err)
		}
	}

	d := &Device{
		ctx:      otoCtx,
		opts:     opts,
		state:    device.StateSuspended,
		channels: opts.OutputChannels,
	}
	d.player = otoCtx.NewPlayer(d)
	return d, nil
}

// context returns the process oto context, creating it on first use. A
// caller giving up before it is ready leaves it for the next Open.
func (b *Backend) context(ctx context.Context, opts device.Options) (*oto.Context, bool, error) {
	b.mu.Lock()
	reused := b.ctx != nil
	if !reused {
		op := &oto.NewContextOptions{
			SampleRate:   opts.SampleRate,
			ChannelCount: opts.OutputChannels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   time.Duration(float64(opts.BufferSize) / float64(opts.SampleRate) * float64(time.Second)),
		}
		otoCtx, ready, err := newContext(op)
		if err != nil {
			b.mu.Unlock()
			return nil, false, fmt.Errorf("oto context: %w", err)
		}
		b.ctx, b.ready = otoCtx, ready
		b.rate, b.channels = opts.SampleRate, opts.OutputChannels
	}
	otoCtx, ready := b.ctx, b.ready
	rate, channels := b.rate, b.channels
	b.mu.Unlock()

	if opts.SampleRate != rate || opts.OutputChannels != channels {
		return nil, false, fmt.Errorf("oto context already running at %d Hz, %d channels", rate, channels)
	}

	select {
	case <-ready:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	return otoCtx, reused, nil
}

// Device pulls output from the process callback whenever oto needs samples.
type Device struct {
	ctx    *oto.Context
	player *oto.Player
	opts   device.Options

	mu            sync.Mutex
	state         device.State
	closeHandlers []func(error)
	started       bool

	process  atomic.Pointer[device.ProcessFunc]
	frames   atomic.Int64
	channels int

	// only touched from Read
	out [][]float32
}

func (d *Device) SampleRate() int     { return d.opts.SampleRate }
func (d *Device) OutputChannels() int { return d.channels }

func (d *Device) CurrentTime() float64 {
	return float64(d.frames.Load()) / float64(d.opts.SampleRate)
}

func (d *Device) State() device.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Device) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case device.StateClosed:
		return audio.ErrDeviceClosed
	case device.StateRunning:
		return nil
	}

	if !d.started {
		d.player.Play()
		d.started = true
	} else if err := d.ctx.Resume(); err != nil {
		return fmt.Errorf("oto resume: %w", err)
	}
	d.state = device.StateRunning
	return nil
}

func (d *Device) OpenInput(context.Context, device.Constraints) (device.InputInfo, error) {
	return device.InputInfo{}, fmt.Errorf("oto has no capture support: %w", audio.ErrNoDeviceFound)
}

func (d *Device) SetProcess(fn device.ProcessFunc) {
	d.process.Store(&fn)
}

func (d *Device) OnClose(fn func(error)) {
	d.mu.Lock()
	d.closeHandlers = append(d.closeHandlers, fn)
	d.mu.Unlock()
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == device.StateClosed {
		return nil
	}
	d.state = device.StateClosed
	if err := d.player.Close(); err != nil {
		return fmt.Errorf("oto player close: %w", err)
	}
	return nil
}

// Read implements io.Reader for the oto player: one call is one cycle.
func (d *Device) Read(p []byte) (int, error) {
	frames := len(p) / (4 * d.channels)
	if frames == 0 {
		return 0, nil
	}

	if err := d.ctx.Err(); err != nil {
		d.fail(err)
	}

	out := d.outputFor(frames)
	c := &device.Cycle{Time: d.CurrentTime(), Frames: frames, Output: out}
	if fn := d.process.Load(); fn != nil {
		(*fn)(c)
	}
	d.frames.Add(int64(frames))

	i := 0
	for f := range frames {
		for ch := range d.channels {
			binary.LittleEndian.PutUint32(p[i:], math.Float32bits(out[ch][f]))
			i += 4
		}
	}
	return frames * 4 * d.channels, nil
}

func (d *Device) outputFor(frames int) [][]float32 {
	if len(d.out) != d.channels || cap(d.out[0]) < frames {
		d.out = make([][]float32, d.channels)
		for ch := range d.out {
			d.out[ch] = make([]float32, frames)
		}
	}
	for ch := range d.out {
		d.out[ch] = d.out[ch][:frames]
		clear(d.out[ch])
	}
	return d.out
}

func (d *Device) fail(err error) {
	d.mu.Lock()
	if d.state == device.StateClosed {
		d.mu.Unlock()
		return
	}
	d.state = device.StateClosed
	handlers := slices.Clone(d.closeHandlers)
	d.mu.Unlock()

	// handlers may block; keep them off the audio thread
	go func() {
		for _, h := range handlers {
			h(err)
		}
	}()
}
