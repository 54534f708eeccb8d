package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/audiolibrelab/jamstudio/internal/audio"
)

// Manager acquires the device lazily and runs the monitoring graph inside
// its process callback. Constructing a Manager never touches hardware.
type Manager struct {
	backend Backend
	opts    Options
	router  Router
	logger  *slog.Logger

	mu            sync.Mutex
	dev           Device
	input         *InputInfo
	closed        bool
	closeHandlers []func(error)

	analyser *Analyser
	monitor  *Gain
	output   Node

	monitoring atomic.Bool
	chain      atomic.Pointer[chainSlot]
	taps       atomic.Pointer[[]*tapEntry]
	renderers  atomic.Pointer[[]*rendererEntry]

	// scratch is only touched from the process callback
	scratch [][]float32
}

type chainSlot struct {
	node    Node
	trackID string
}

type tapEntry struct{ fn TapFunc }

type rendererEntry struct{ r Renderer }

// ManagerOption customizes a Manager
type ManagerOption func(*Manager)

// WithRouter installs a routing chain provider for input monitoring
func WithRouter(r Router) ManagerOption {
	return func(m *Manager) { m.router = r }
}

// WithLogger overrides the default slog logger
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager prepares a manager for backend. No device is opened.
func NewManager(backend Backend, opts Options, options ...ManagerOption) *Manager {
	def := DefaultOptions()
	if opts.SampleRate <= 0 {
		opts.SampleRate = def.SampleRate
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	if opts.InputChannels <= 0 {
		opts.InputChannels = def.InputChannels
	}
	if opts.OutputChannels <= 0 {
		opts.OutputChannels = def.OutputChannels
	}
	if opts.Name == "" {
		opts.Name = def.Name
	}

	m := &Manager{
		backend:  backend,
		opts:     opts,
		logger:   slog.Default(),
		analyser: &Analyser{},
		monitor:  NewGain(1),
		output:   destination{},
	}
	for _, o := range options {
		o(m)
	}
	return m
}

// Options returns the effective device options
func (m *Manager) Options() Options { return m.opts }

// EnsureOutputReady opens the device on first use and resumes it when
// suspended. It is safe to call repeatedly.
func (m *Manager) EnsureOutputReady(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureOutputLocked(ctx)
}

func (m *Manager) ensureOutputLocked(ctx context.Context) error {
	if m.closed {
		return audio.ErrDeviceClosed
	}

	if m.dev == nil {
		m.logger.Debug("Opening audio device", "backend", m.backend.Name(), "sample_rate", m.opts.SampleRate, "buffer_size", m.opts.BufferSize)

		dev, err := m.backend.Open(ctx, m.opts)
		if err != nil {
			return fmt.Errorf("failed to open %s device: %w", m.backend.Name(), err)
		}
		dev.SetProcess(m.process)
		dev.OnClose(m.handleDeviceClosed)
		m.dev = dev

		m.logger.Info("Audio device opened", "backend", m.backend.Name(), "sample_rate", dev.SampleRate(), "outputs", dev.OutputChannels())
	}

	if m.dev.State() == StateSuspended {
		if err := m.dev.Resume(ctx); err != nil {
			return fmt.Errorf("failed to resume audio device: %w", err)
		}
		m.logger.Debug("Audio device resumed")
	}
	return nil
}

// RequestInput acquires the input stream with all voice processing turned
// off. Permission and missing-device failures are reported as
// audio.ErrPermissionDenied and audio.ErrNoDeviceFound.
func (m *Manager) RequestInput(ctx context.Context, c Constraints) (InputInfo, error) {
	if err := ctx.Err(); err != nil {
		return InputInfo{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureOutputLocked(ctx); err != nil {
		return InputInfo{}, err
	}
	if m.input != nil {
		return *m.input, nil
	}

	if c.SampleRate <= 0 {
		c.SampleRate = m.opts.SampleRate
	}
	if c.Channels <= 0 {
		c.Channels = m.opts.InputChannels
	}
	c.EchoCancellation = false
	c.AutoGainControl = false
	c.NoiseSuppression = false

	info, err := m.dev.OpenInput(ctx, c)
	if err != nil {
		switch {
		case errors.Is(err, audio.ErrPermissionDenied):
			return InputInfo{}, fmt.Errorf("microphone access: %w", err)
		case errors.Is(err, audio.ErrNoDeviceFound):
			return InputInfo{}, fmt.Errorf("input device: %w", err)
		}
		return InputInfo{}, fmt.Errorf("failed to acquire input: %w", err)
	}

	m.input = &info
	m.logger.Info("Input acquired", "name", info.Name, "channels", info.Channels, "sample_rate", c.SampleRate)
	return info, nil
}

// HasInput reports whether an input stream is open
func (m *Manager) HasInput() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.input != nil
}

// SetInputMonitoring applies the monitoring rule and rebuilds the routing
// chain for trackID. It returns whether input is now audible.
func (m *Manager) SetInputMonitoring(mode MonitorMode, isPlaying, isRecording bool, trackID string) bool {
	enabled := ShouldMonitor(mode, isPlaying, isRecording)

	if !enabled {
		m.monitoring.Store(false)
		m.chain.Store(nil)
		m.logger.Debug("Input monitoring off", "mode", mode, "playing", isPlaying, "recording", isRecording)
		return false
	}

	m.chain.Store(m.connectChain(trackID))
	m.monitoring.Store(true)
	m.logger.Debug("Input monitoring on", "mode", mode, "track", trackID)
	return true
}

// connectChain asks the router for a processing chain, falling back to a
// direct connection on error or panic.
func (m *Manager) connectChain(trackID string) (slot *chainSlot) {
	if m.router == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("Routing chain panicked, using direct monitoring", "track", trackID, "panic", r)
			slot = nil
		}
	}()

	node, err := m.router.ConnectInputMonitoring(m.monitor, trackID, m.output)
	if err != nil {
		m.logger.Warn("Routing chain failed, using direct monitoring", "track", trackID, "error", err)
		return nil
	}
	if node == nil {
		return nil
	}
	return &chainSlot{node: node, trackID: trackID}
}

// IsMonitoring reports whether input currently reaches the output
func (m *Manager) IsMonitoring() bool { return m.monitoring.Load() }

// SetMonitorGain sets the monitor level, clamped to [0,1]
func (m *Manager) SetMonitorGain(g float64) {
	m.monitor.Set(float32(audio.Clamp(g, 0, 1)))
}

// MonitorGain returns the monitor level
func (m *Manager) MonitorGain() float64 { return float64(m.monitor.Value()) }

// Level returns the RMS of the most recent input block
func (m *Manager) Level() float64 { return m.analyser.Level() }

// AddInputTap attaches fn to the input. The returned function detaches it.
func (m *Manager) AddInputTap(fn TapFunc) (remove func()) {
	e := &tapEntry{fn: fn}
	addEntry(&m.taps, e)
	return func() { removeEntry(&m.taps, e) }
}

// AddRenderer mixes r into the output. The returned function detaches it.
func (m *Manager) AddRenderer(r Renderer) (remove func()) {
	e := &rendererEntry{r: r}
	addEntry(&m.renderers, e)
	return func() { removeEntry(&m.renderers, e) }
}

// OnClose registers a handler for unrecoverable device loss
func (m *Manager) OnClose(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeHandlers = append(m.closeHandlers, fn)
}

// CurrentTime returns the device clock, or 0 before the device is opened
func (m *Manager) CurrentTime() float64 {
	m.mu.Lock()
	dev := m.dev
	m.mu.Unlock()

	if dev == nil {
		return 0
	}
	return dev.CurrentTime()
}

// SampleRate returns the device rate, or the configured rate before open
func (m *Manager) SampleRate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev != nil {
		return m.dev.SampleRate()
	}
	return m.opts.SampleRate
}

// State reports the device state. An unopened device reads as suspended.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		return StateClosed
	case m.dev == nil:
		return StateSuspended
	}
	return m.dev.State()
}

// BackendName returns the name of the backend in use
func (m *Manager) BackendName() string { return m.backend.Name() }

// Close releases the device and notifies close handlers.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	dev := m.dev
	handlers := slices.Clone(m.closeHandlers)
	m.mu.Unlock()

	m.monitoring.Store(false)

	var err error
	if dev != nil {
		if cerr := dev.Close(); cerr != nil {
			err = fmt.Errorf("failed to close audio device: %w", cerr)
		}
	}
	for _, h := range handlers {
		h(audio.ErrDeviceClosed)
	}
	m.logger.Info("Audio device closed")
	return err
}

func (m *Manager) handleDeviceClosed(cause error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	handlers := slices.Clone(m.closeHandlers)
	m.mu.Unlock()

	m.monitoring.Store(false)
	m.logger.Error("Audio device lost", "error", cause)

	err := audio.ErrDeviceClosed
	if cause != nil {
		err = fmt.Errorf("%w: %v", audio.ErrDeviceClosed, cause)
	}
	for _, h := range handlers {
		h(err)
	}
}

// process is the real-time graph. It never blocks and does no I/O.
func (m *Manager) process(c *Cycle) {
	if c.Input != nil {
		m.analyser.Process(c.Input)

		if taps := m.taps.Load(); taps != nil {
			for _, t := range *taps {
				t.fn(c.Time, c.Input)
			}
		}

		if m.monitoring.Load() {
			m.monitorInput(c)
		}
	}

	if rs := m.renderers.Load(); rs != nil {
		for _, r := range *rs {
			r.r.Render(c.Time, c.Output)
		}
	}
}

func (m *Manager) monitorInput(c *Cycle) {
	block := m.scratchFor(len(c.Input), c.Frames)
	for ch, data := range c.Input {
		copy(block[ch], data)
	}

	m.monitor.Process(block)
	if slot := m.chain.Load(); slot != nil {
		m.runChain(slot, block)
	}
	mixInto(c.Output, block, c.Frames)
}

func (m *Manager) runChain(slot *chainSlot, block [][]float32) {
	defer func() {
		if r := recover(); r != nil {
			// drop the chain once; later cycles go direct
			if m.chain.CompareAndSwap(slot, nil) {
				m.logger.Warn("Routing chain panicked during processing, using direct monitoring", "track", slot.trackID, "panic", r)
			}
		}
	}()
	slot.node.Process(block)
}

func (m *Manager) scratchFor(channels, frames int) [][]float32 {
	if len(m.scratch) != channels || (channels > 0 && cap(m.scratch[0]) < frames) {
		m.scratch = make([][]float32, channels)
		for ch := range m.scratch {
			m.scratch[ch] = make([]float32, frames)
		}
	}
	for ch := range m.scratch {
		m.scratch[ch] = m.scratch[ch][:frames]
	}
	return m.scratch
}

func addEntry[E any](p *atomic.Pointer[[]*E], e *E) {
	for {
		cur := p.Load()
		var next []*E
		if cur != nil {
			next = append(next, *cur...)
		}
		next = append(next, e)
		if p.CompareAndSwap(cur, &next) {
			return
		}
	}
}

func removeEntry[E any](p *atomic.Pointer[[]*E], e *E) {
	for {
		cur := p.Load()
		if cur == nil {
			return
		}
		next := make([]*E, 0, len(*cur))
		for _, x := range *cur {
			if x != e {
				next = append(next, x)
			}
		}
		if p.CompareAndSwap(cur, &next) {
			return
		}
	}
}
