// Package pwdev provides a duplex device on PipeWire by streaming raw
// float32 PCM through pw-play and pw-record. Blocking writes to pw-play pace
// the process loop, so its clock is the PipeWire graph clock.
package pwdev

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/audiolibrelab/jamstudio/internal/audio"
	"github.com/audiolibrelab/jamstudio/internal/device"
)

const (
	playbackNode = "jamstudio-playback"
	captureNode  = "jamstudio-capture"
)

func init() {
	device.Register(&Backend{})
}

// Backend opens PipeWire devices. It is available when pw-play is on PATH.
type Backend struct{}

func (*Backend) Name() string { return "pipewire" }

func (*Backend) Available() bool {
	_, err := exec.LookPath("pw-play")
	return err == nil
}

// Sources lists the output ports capture can link from
func (*Backend) Sources() ([]string, error) {
	return NewPipeWire().ListSourcePorts()
}

func (*Backend) Open(ctx context.Context, opts device.Options) (device.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command("pw-play", streamArgs(opts, opts.OutputChannels, playbackNode, "auto")...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("pw-play stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start pw-play: %w", err)
	}
	slog.Debug("pw-play started", "pid", cmd.Process.Pid, "args", cmd.Args)

	d := newDevice(opts, stdin)
	d.playCmd = cmd
	return d, nil
}

// streamArgs builds pw-play/pw-record arguments for a raw stdio stream
func streamArgs(opts device.Options, channels int, node, target string) []string {
	return []string{
		"--raw",
		"--format", "f32",
		"--rate", strconv.Itoa(opts.SampleRate),
		"--channels", strconv.Itoa(channels),
		"--latency", fmt.Sprintf("%d/%d", opts.BufferSize, opts.SampleRate),
		"--properties", fmt.Sprintf("{ node.name = %s }", node),
		"--target", target,
		"-",
	}
}

// captureTarget picks the pw-record target for the configured sources.
// Port names ("node:port") are linked after start with pw-link, so the
// stream itself must not autoconnect.
func captureTarget(sources []string) (target string, ports []string) {
	if len(sources) == 0 {
		return "auto", nil
	}
	for _, s := range sources {
		if strings.Contains(s, ":") {
			return "0", sources
		}
	}
	return sources[0], nil
}

// capturePorts names the input ports of our capture stream
func capturePorts(channels int) []string {
	if channels == 1 {
		return []string{captureNode + ":input_MONO"}
	}
	return []string{captureNode + ":input_FL", captureNode + ":input_FR"}
}

type inputStream struct {
	r     io.Reader
	raw   []byte
	block [][]float32
}

// Device runs one process cycle per BufferSize frames
type Device struct {
	opts device.Options

	mu            sync.Mutex
	state         device.State
	closeHandlers []func(error)
	released      bool
	playCmd       *exec.Cmd
	recordCmd     *exec.Cmd
	out           io.WriteCloser
	stop          chan struct{}
	done          chan struct{}

	process atomic.Pointer[device.ProcessFunc]
	input   atomic.Pointer[inputStream]
	frames  atomic.Int64
}

func newDevice(opts device.Options, out io.WriteCloser) *Device {
	return &Device{opts: opts, out: out, state: device.StateSuspended}
}

func (d *Device) SampleRate() int     { return d.opts.SampleRate }
func (d *Device) OutputChannels() int { return d.opts.OutputChannels }

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
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(d.stop, d.done)
	return nil
}

func (d *Device) OpenInput(ctx context.Context, c device.Constraints) (device.InputInfo, error) {
	if err := ctx.Err(); err != nil {
		return device.InputInfo{}, err
	}
	if c.SampleRate != 0 && c.SampleRate != d.opts.SampleRate {
		return device.InputInfo{}, fmt.Errorf("sample rate %d not supported (device runs at %d)", c.SampleRate, d.opts.SampleRate)
	}
	if _, err := exec.LookPath("pw-record"); err != nil {
		return device.InputInfo{}, fmt.Errorf("pw-record not found: %w", audio.ErrNoDeviceFound)
	}

	channels := c.Channels
	if channels <= 0 {
		channels = max(1, d.opts.InputChannels)
	}

	pw := NewPipeWire()
	target, links := captureTarget(d.opts.Sources)
	for _, port := range links {
		if err := pw.ValidatePort(port); err != nil {
			return device.InputInfo{}, fmt.Errorf("%w: %v", audio.ErrNoDeviceFound, err)
		}
	}

	cmd := exec.Command("pw-record", streamArgs(d.opts, channels, captureNode, target)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return device.InputInfo{}, fmt.Errorf("pw-record stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return device.InputInfo{}, fmt.Errorf("failed to start pw-record: %w", err)
	}

	d.mu.Lock()
	if d.state == device.StateClosed {
		d.mu.Unlock()
		cmd.Process.Kill()
		cmd.Wait()
		return device.InputInfo{}, audio.ErrDeviceClosed
	}
	d.recordCmd = cmd
	d.mu.Unlock()

	d.attachInput(stdout, channels)

	if len(links) > 0 {
		go func() {
			for i, dest := range capturePorts(channels) {
				src := links[min(i, len(links)-1)]
				if err := pw.ConnectPortsWithRetry(src, dest); err != nil {
					slog.Error("Failed to connect capture source", "source", src, "dest", dest, "error", err)
				}
			}
		}()
	}

	name := target
	if len(links) > 0 {
		name = strings.Join(links, ", ")
	}
	return device.InputInfo{Name: name, Channels: channels}, nil
}

// attachInput makes r the captured stream read by the process loop
func (d *Device) attachInput(r io.Reader, channels int) {
	frames := d.opts.BufferSize
	block := make([][]float32, channels)
	for ch := range block {
		block[ch] = make([]float32, frames)
	}
	d.input.Store(&inputStream{r: r, raw: make([]byte, frames*channels*4), block: block})
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
	if d.released {
		d.mu.Unlock()
		return nil
	}
	d.released = true
	d.state = device.StateClosed
	stop, done := d.stop, d.done
	playCmd, recordCmd := d.playCmd, d.recordCmd
	d.mu.Unlock()

	err := d.out.Close()
	for _, cmd := range []*exec.Cmd{recordCmd, playCmd} {
		if cmd != nil && cmd.Process != nil {
			cmd.Process.Kill()
		}
	}
	if stop != nil {
		close(stop)
		<-done
	}
	for _, cmd := range []*exec.Cmd{recordCmd, playCmd} {
		if cmd != nil {
			cmd.Wait()
		}
	}
	if err != nil && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("pipewire close: %w", err)
	}
	return nil
}

func (d *Device) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	frames := d.opts.BufferSize
	channels := d.opts.OutputChannels
	output := make([][]float32, channels)
	for ch := range output {
		output[ch] = make([]float32, frames)
	}
	raw := make([]byte, frames*channels*4)

	for {
		select {
		case <-stop:
			return
		default:
		}

		var input [][]float32
		if in := d.input.Load(); in != nil {
			if _, err := io.ReadFull(in.r, in.raw); err != nil {
				d.fail(fmt.Errorf("pipewire capture: %w", err))
				return
			}
			deinterleave(in.raw, in.block)
			input = in.block
		}

		for ch := range output {
			clear(output[ch])
		}
		c := &device.Cycle{Time: d.CurrentTime(), Frames: frames, Input: input, Output: output}
		if fn := d.process.Load(); fn != nil {
			(*fn)(c)
		}
		d.frames.Add(int64(frames))

		interleave(output, raw)
		if _, err := d.out.Write(raw); err != nil {
			d.fail(fmt.Errorf("pipewire playback: %w", err))
			return
		}
	}
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

	slog.Error("PipeWire stream failed", "error", err)
	// handlers may call Close, which waits for this loop to exit
	go func() {
		for _, h := range handlers {
			h(err)
		}
	}()
}

// interleave packs planar samples as little-endian float32 frames
func interleave(block [][]float32, dst []byte) {
	i := 0
	for f := range len(block[0]) {
		for ch := range block {
			binary.LittleEndian.PutUint32(dst[i:], math.Float32bits(block[ch][f]))
			i += 4
		}
	}
}

// deinterleave unpacks little-endian float32 frames into planar samples
func deinterleave(src []byte, block [][]float32) {
	i := 0
	for f := range len(block[0]) {
		for ch := range block {
			block[ch][f] = math.Float32frombits(binary.LittleEndian.Uint32(src[i:]))
			i += 4
		}
	}
}
