package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/audiolibrelab/jamstudio/internal/clipstore"
	"github.com/audiolibrelab/jamstudio/internal/config"
	"github.com/audiolibrelab/jamstudio/internal/device"
	"github.com/audiolibrelab/jamstudio/internal/events"
	"github.com/audiolibrelab/jamstudio/internal/playback"
	"github.com/audiolibrelab/jamstudio/internal/recorder"
	"github.com/audiolibrelab/jamstudio/internal/timeline"
	"github.com/audiolibrelab/jamstudio/internal/transport"
	"github.com/audiolibrelab/jamstudio/internal/waveform"
)

// ErrNotActive is returned by operations that need the audio device before
// Activate has succeeded.
var ErrNotActive = errors.New("session is not active")

// Session owns every engine component for one workstation session. New
// only wires things together; the device is opened by Activate.
type Session struct {
	cfg       *config.Config
	bus       *events.Bus
	manager   *device.Manager
	clock     *transport.Clock
	scheduler *playback.Scheduler
	recorder  *recorder.Controller
	timeline  timeline.Store
	clips     *clipstore.Store

	monitorMode device.MonitorMode

	mutex          sync.Mutex
	active         bool
	closing        bool
	inputErr       error
	armedTrack     string
	recordStart    float64 // timeline seconds
	removeRenderer func()

	takes atomic.Int64

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// Take is a finished recording written to disk and, when placed, to the timeline
type Take struct {
	TrackID string                `json:"track_id"`
	Path    string                `json:"path,omitempty"`
	Clip    *timeline.Clip        `json:"clip,omitempty"`
	Region  *recorder.PunchRegion `json:"region,omitempty"`
	Frames  int                   `json:"frames"`
}

// Option customizes a Session
type Option func(*sessionOptions)

type sessionOptions struct {
	backend  device.Backend
	router   device.Router
	timeline timeline.Store
}

// WithBackend uses b instead of the configured backend
func WithBackend(b device.Backend) Option {
	return func(o *sessionOptions) { o.backend = b }
}

// WithRouter installs a routing chain provider for input monitoring
func WithRouter(r device.Router) Option {
	return func(o *sessionOptions) { o.router = r }
}

// WithTimeline replaces the in-memory timeline store
func WithTimeline(s timeline.Store) Option {
	return func(o *sessionOptions) { o.timeline = s }
}

// New builds a session from cfg without touching the audio hardware
func New(cfg *config.Config, opts ...Option) (*Session, error) {
	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}

	mode, err := device.ParseMonitorMode(cfg.Recording.Monitoring)
	if err != nil {
		return nil, err
	}

	backend := o.backend
	if backend == nil {
		backend, err = device.Select(cfg.Audio.Backend)
		if err != nil {
			return nil, fmt.Errorf("failed to select audio backend: %w", err)
		}
	}

	var managerOpts []device.ManagerOption
	if o.router != nil {
		managerOpts = append(managerOpts, device.WithRouter(o.router))
	}
	manager := device.NewManager(backend, device.Options{
		SampleRate:     cfg.Audio.SampleRate,
		BufferSize:     cfg.Audio.BufferSize,
		InputChannels:  cfg.Audio.InputChannels,
		OutputChannels: cfg.Audio.OutputChannels,
		Sources:        cfg.Audio.Sources,
	}, managerOpts...)

	store := o.timeline
	if store == nil {
		store = timeline.NewMemory()
	}
	for _, t := range cfg.Tracks {
		if _, exists := store.Track(t.ID); exists {
			continue
		}
		name := t.Name
		if name == "" {
			name = t.ID
		}
		store.PutTrack(timeline.Track{ID: t.ID, Name: name, Volume: t.Volume, Pan: t.Pan, Muted: t.Muted, Solo: t.Solo})
	}

	bus := events.NewBus()
	clock := transport.NewClock(manager)

	s := &Session{
		cfg:         cfg,
		bus:         bus,
		manager:     manager,
		clock:       clock,
		scheduler:   playback.NewScheduler(manager),
		timeline:    store,
		clips:       clipstore.New(cfg.Output.Directory),
		monitorMode: mode,
	}
	s.recorder = recorder.NewController(manager, clock, bus, recorder.Config{
		WaveformBins:     cfg.Recording.WaveformBins,
		WaveformInterval: cfg.Recording.WaveformInterval,
	})

	slog.Debug("Session created", "backend", backend.Name(), "tracks", len(cfg.Tracks), "output", cfg.Output.Directory)
	return s, nil
}

// Activate opens the output, requests input and loads configured clips.
// Input failures are kept and reported by recording calls so playback
// still works without a microphone.
func (s *Session) Activate(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.active {
		return nil
	}

	if err := s.manager.EnsureOutputReady(ctx); err != nil {
		s.setLastError(fmt.Sprintf("Failed to open audio output: %v", err))
		return fmt.Errorf("failed to open audio output: %w", err)
	}

	info, err := s.manager.RequestInput(ctx, device.Constraints{
		SampleRate: s.cfg.Audio.SampleRate,
		Channels:   s.cfg.Audio.InputChannels,
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		s.inputErr = err
		slog.Warn("Audio input unavailable, recording disabled", "error", err)
		s.setLastError(fmt.Sprintf("Audio input unavailable: %v", err))
	} else {
		slog.Info("Audio input ready", "name", info.Name, "channels", info.Channels)
	}

	s.manager.SetMonitorGain(s.cfg.Recording.MonitorGain)
	s.removeRenderer = s.manager.AddRenderer(s.scheduler)
	s.manager.OnClose(s.handleDeviceLost)
	s.active = true

	s.loadConfiguredClips()
	s.updateMonitoringLocked()

	slog.Info("Session active", "backend", s.manager.BackendName(), "sample_rate", s.manager.SampleRate())
	return nil
}

func (s *Session) loadConfiguredClips() {
	for _, t := range s.cfg.Tracks {
		for i, def := range t.Clips {
			buf, err := s.clips.Load(def.Path)
			if err != nil {
				slog.Warn("Failed to load clip", "track", t.ID, "path", def.Path, "error", err)
				s.setLastError(fmt.Sprintf("Failed to load clip %s: %v", def.Path, err))
				continue
			}
			clip := timeline.Clip{
				ID:        fmt.Sprintf("%s-clip%d", t.ID, i+1),
				StartTime: def.Start,
				Duration:  buf.Duration(),
				FadeIn:    def.FadeIn,
				FadeOut:   def.FadeOut,
				GainDB:    def.GainDB,
				Path:      def.Path,
				Buffer:    buf,
				Waveform:  waveform.FromBuffer(buf, s.cfg.Recording.WaveformBins),
			}
			if err := s.timeline.AddClip(t.ID, clip); err != nil {
				slog.Warn("Failed to place clip", "track", t.ID, "error", err)
			}
		}
	}
}

// Bus returns the engine event topics
func (s *Session) Bus() *events.Bus { return s.bus }

// Config returns the configuration the session was built from
func (s *Session) Config() *config.Config { return s.cfg }

// Tracks returns a snapshot of the timeline
func (s *Session) Tracks() []timeline.Track { return s.timeline.Tracks() }

// Manager exposes the device manager
func (s *Session) Manager() *device.Manager { return s.manager }

func (s *Session) requireActive() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.active {
		return ErrNotActive
	}
	return nil
}

// Close stops playback, finalizes any recording and releases the device
func (s *Session) Close() error {
	s.mutex.Lock()
	remove := s.removeRenderer
	s.removeRenderer = nil
	s.closing = true
	s.mutex.Unlock()

	s.scheduler.Stop()
	s.clock.Pause()
	if remove != nil {
		remove()
	}
	// close handlers run handleDeviceLost, which takes the session mutex
	return s.manager.Close()
}

// handleDeviceLost tears recording down and keeps whatever was captured
func (s *Session) handleDeviceLost(err error) {
	f := s.recorder.Teardown(err)
	s.scheduler.Stop()
	s.clock.Pause()

	s.mutex.Lock()
	s.active = false
	s.armedTrack = ""
	start, closing := s.recordStart, s.closing
	s.mutex.Unlock()

	if f.Buffer != nil {
		if _, perr := s.persist(f.TrackID, f.Buffer, start); perr != nil {
			slog.Error("Failed to keep recovered take", "track", f.TrackID, "error", perr)
		}
	}
	for id, buf := range f.Multi {
		if _, perr := s.persist(id, buf, start); perr != nil {
			slog.Error("Failed to keep recovered take", "track", id, "error", perr)
		}
	}

	if !closing {
		s.setLastError(fmt.Sprintf("Audio device lost: %v", err))
	}
}

// GetLastError returns the last error message (thread-safe)
func (s *Session) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *Session) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *Session) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
