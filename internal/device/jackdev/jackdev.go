//go:build jack

// Package jackdev provides a duplex device on a running JACK server.
// Ports are registered as in_N and out_N; wiring them to hardware is left
// to the session manager (qjackctl, jack_connect, ...).
package jackdev

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hairlesshobo/go-jack"

	"github.com/audiolibrelab/jamstudio/internal/audio"
	"github.com/audiolibrelab/jamstudio/internal/device"
)

func init() {
	device.Register(&Backend{})
}

// Backend connects to JACK without starting a server
type Backend struct{}

func (*Backend) Name() string    { return "jack" }
func (*Backend) Available() bool { return true }

func (*Backend) Sources() ([]string, error) {
	// ports become visible once a client is active
	return []string{"jack"}, nil
}

func (*Backend) Open(ctx context.Context, opts device.Options) (device.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, status := jack.ClientOpen(opts.Name, jack.NoStartServer)
	if status != 0 {
		return nil, fmt.Errorf("jack client open: %s: %w", jack.StrError(status), audio.ErrNoDeviceFound)
	}

	d := &Device{
		client: client,
		opts:   opts,
		state:  device.StateSuspended,
		in:     make([][]float32, opts.InputChannels),
		out:    make([][]float32, opts.OutputChannels),
	}

	for i := range opts.InputChannels {
		name := fmt.Sprintf("in_%d", i+1)
		d.inPorts = append(d.inPorts, client.PortRegister(name, jack.DEFAULT_AUDIO_TYPE, jack.PortIsInput, 0))
		slog.Debug("Registered port " + name)
	}
	for i := range opts.OutputChannels {
		name := fmt.Sprintf("out_%d", i+1)
		d.outPorts = append(d.outPorts, client.PortRegister(name, jack.DEFAULT_AUDIO_TYPE, jack.PortIsOutput, 0))
		slog.Debug("Registered port " + name)
	}

	if code := client.SetProcessCallback(d.processCallback); code != 0 {
		client.Close()
		return nil, fmt.Errorf("failed to set process callback: %s", jack.StrError(code))
	}
	client.OnShutdown(d.shutdownCallback)
	client.SetXRunCallback(d.xrunCallback)

	return d, nil
}

// Device wraps one JACK client
type Device struct {
	client   *jack.Client
	opts     device.Options
	inPorts  []*jack.Port
	outPorts []*jack.Port

	mu            sync.Mutex
	state         device.State
	closeHandlers []func(error)

	process   atomic.Pointer[device.ProcessFunc]
	inputOpen atomic.Bool
	frames    atomic.Int64
	xruns     atomic.Int64

	// only touched from the process callback
	in, out [][]float32
}

func (d *Device) SampleRate() int     { return d.opts.SampleRate }
func (d *Device) OutputChannels() int { return len(d.outPorts) }

func (d *Device) CurrentTime() float64 {
	return float64(d.frames.Load()) / float64(d.opts.SampleRate)
}

func (d *Device) State() device.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Xruns returns the number of reported buffer over/underruns
func (d *Device) Xruns() int64 { return d.xruns.Load() }

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

	if code := d.client.Activate(); code != 0 {
		return fmt.Errorf("failed to activate client: %s", jack.StrError(code))
	}
	d.state = device.StateRunning
	slog.Info("JACK client active", "name", d.opts.Name, "inputs", len(d.inPorts), "outputs", len(d.outPorts))
	return nil
}

func (d *Device) OpenInput(ctx context.Context, c device.Constraints) (device.InputInfo, error) {
	if err := ctx.Err(); err != nil {
		return device.InputInfo{}, err
	}
	if len(d.inPorts) == 0 {
		return device.InputInfo{}, audio.ErrNoDeviceFound
	}
	if c.SampleRate != 0 && c.SampleRate != d.opts.SampleRate {
		return device.InputInfo{}, fmt.Errorf("sample rate %d does not match the JACK rate %d", c.SampleRate, d.opts.SampleRate)
	}
	d.inputOpen.Store(true)
	return device.InputInfo{Name: d.opts.Name + ":in", Channels: len(d.inPorts)}, nil
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
	d.client.Close()
	return nil
}

func (d *Device) processCallback(nframes uint32) int {
	frames := int(nframes)

	c := &device.Cycle{Time: d.CurrentTime(), Frames: frames}

	if d.inputOpen.Load() {
		for ch, port := range d.inPorts {
			samples := port.GetBuffer(nframes)
			d.in[ch] = grow(d.in[ch], frames)
			for i, s := range samples {
				d.in[ch][i] = float32(s)
			}
		}
		c.Input = d.in
	}

	for ch := range d.out {
		d.out[ch] = grow(d.out[ch], frames)
		clear(d.out[ch])
	}
	c.Output = d.out

	if fn := d.process.Load(); fn != nil {
		(*fn)(c)
	}

	for ch, port := range d.outPorts {
		samples := port.GetBuffer(nframes)
		for i := range samples {
			samples[i] = jack.AudioSample(d.out[ch][i])
		}
	}

	d.frames.Add(int64(frames))
	return 0
}

func (d *Device) shutdownCallback() {
	d.mu.Lock()
	if d.state == device.StateClosed {
		d.mu.Unlock()
		return
	}
	d.state = device.StateClosed
	handlers := slices.Clone(d.closeHandlers)
	d.mu.Unlock()

	err := fmt.Errorf("jack server shut down")
	go func() {
		for _, h := range handlers {
			h(err)
		}
	}()
}

func (d *Device) xrunCallback() int {
	d.xruns.Add(1)
	return 0
}

func grow(buf []float32, frames int) []float32 {
	if cap(buf) < frames {
		return make([]float32, frames)
	}
	return buf[:frames]
}
