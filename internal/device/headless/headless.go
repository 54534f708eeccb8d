// Package headless implements a simulated audio device. In manual mode the
// clock only advances through Step, which makes real-time behaviour
// deterministic in tests. Otherwise a goroutine paces cycles at the
// configured buffer period.
package headless

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/jamstudio/internal/audio"
	"github.com/audiolibrelab/jamstudio/internal/device"
)

// Generator produces input sample values for paced devices
type Generator func(frame int64, channel int) float32

// Config tunes the simulated hardware
type Config struct {
	Manual         bool // no pacing goroutine; advance with Step
	DenyPermission bool // OpenInput fails with audio.ErrPermissionDenied
	NoInput        bool // OpenInput fails with audio.ErrNoDeviceFound
	Generator      Generator
}

// Device is a simulated duplex device
type Device struct {
	opts device.Options
	cfg  Config

	mu            sync.Mutex
	state         device.State
	process       device.ProcessFunc
	closeHandlers []func(error)
	inputChannels int

	cycleMu sync.Mutex // serializes cycles
	frames  atomic.Int64

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a suspended device
func New(opts device.Options, cfg Config) *Device {
	return &Device{opts: opts, cfg: cfg, state: device.StateSuspended}
}

func (d *Device) SampleRate() int     { return d.opts.SampleRate }
func (d *Device) OutputChannels() int { return d.opts.OutputChannels }

// CurrentTime is frames processed divided by the sample rate
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

	d.state = device.StateRunning
	if !d.cfg.Manual {
		d.stop = make(chan struct{})
		d.wg.Add(1)
		go d.run(d.stop)
	}
	return nil
}

// Suspend pauses the device clock
func (d *Device) Suspend() {
	d.mu.Lock()
	if d.state != device.StateRunning {
		d.mu.Unlock()
		return
	}
	d.state = device.StateSuspended
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		d.wg.Wait()
	}
}

func (d *Device) OpenInput(ctx context.Context, c device.Constraints) (device.InputInfo, error) {
	if err := ctx.Err(); err != nil {
		return device.InputInfo{}, err
	}
	if d.cfg.DenyPermission {
		return device.InputInfo{}, audio.ErrPermissionDenied
	}
	if d.cfg.NoInput {
		return device.InputInfo{}, audio.ErrNoDeviceFound
	}
	if c.SampleRate != 0 && c.SampleRate != d.opts.SampleRate {
		return device.InputInfo{}, fmt.Errorf("sample rate %d not supported (device runs at %d)", c.SampleRate, d.opts.SampleRate)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == device.StateClosed {
		return device.InputInfo{}, audio.ErrDeviceClosed
	}
	d.inputChannels = c.Channels
	return device.InputInfo{Name: "headless-input", Channels: c.Channels}, nil
}

func (d *Device) SetProcess(fn device.ProcessFunc) {
	d.mu.Lock()
	d.process = fn
	d.mu.Unlock()
}

func (d *Device) OnClose(fn func(error)) {
	d.mu.Lock()
	d.closeHandlers = append(d.closeHandlers, fn)
	d.mu.Unlock()
}

// Step runs one process cycle. input supplies the captured block; when it is
// nil and an input is open, a silent block of BufferSize frames is used.
// The cycle's output is returned. Suspended or closed devices do nothing.
func (d *Device) Step(input [][]float32) [][]float32 {
	d.mu.Lock()
	running := d.state == device.StateRunning
	fn := d.process
	inCh := d.inputChannels
	d.mu.Unlock()

	if !running {
		return nil
	}

	frames := d.opts.BufferSize
	if len(input) > 0 {
		frames = len(input[0])
	} else if inCh > 0 {
		input = silence(inCh, frames)
	}
	if inCh == 0 {
		input = nil
	}

	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	c := &device.Cycle{
		Time:   d.CurrentTime(),
		Frames: frames,
		Input:  input,
		Output: silence(d.opts.OutputChannels, frames),
	}
	if fn != nil {
		fn(c)
	}
	d.frames.Add(int64(frames))
	return c.Output
}

// Fail simulates the device dying mid-session
func (d *Device) Fail(cause error) {
	handlers := d.shutdown()
	if cause == nil {
		cause = errors.New("device disconnected")
	}
	for _, h := range handlers {
		h(cause)
	}
}

func (d *Device) Close() error {
	d.shutdown()
	return nil
}

func (d *Device) shutdown() []func(error) {
	d.mu.Lock()
	if d.state == device.StateClosed {
		d.mu.Unlock()
		return nil
	}
	d.state = device.StateClosed
	stop := d.stop
	d.stop = nil
	handlers := slices.Clone(d.closeHandlers)
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		d.wg.Wait()
	}
	return handlers
}

func (d *Device) run(stop <-chan struct{}) {
	defer d.wg.Done()

	period := time.Duration(float64(d.opts.BufferSize) / float64(d.opts.SampleRate) * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	slog.Debug("Headless device pacing", "period", period)

	var input [][]float32
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.mu.Lock()
			inCh := d.inputChannels
			d.mu.Unlock()

			input = input[:0]
			if inCh > 0 {
				input = d.generate(inCh)
			}
			d.stepPaced(input)
		}
	}
}

func (d *Device) stepPaced(input [][]float32) {
	d.mu.Lock()
	fn := d.process
	d.mu.Unlock()

	frames := d.opts.BufferSize

	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	c := &device.Cycle{
		Time:   d.CurrentTime(),
		Frames: frames,
		Output: silence(d.opts.OutputChannels, frames),
	}
	if len(input) > 0 {
		c.Input = input
	}
	if fn != nil {
		fn(c)
	}
	d.frames.Add(int64(frames))
}

func (d *Device) generate(channels int) [][]float32 {
	block := silence(channels, d.opts.BufferSize)
	if d.cfg.Generator == nil {
		return block
	}
	start := d.frames.Load()
	for ch := range block {
		for i := range block[ch] {
			block[ch][i] = d.cfg.Generator(start+int64(i), ch)
		}
	}
	return block
}

func silence(channels, frames int) [][]float32 {
	block := make([][]float32, channels)
	for ch := range block {
		block[ch] = make([]float32, frames)
	}
	return block
}
