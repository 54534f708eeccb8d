// Package recorder turns the live input into sample buffers. It supports a
// single-track recording, a multi-track recording that shares one input
// across several tracks, and punch in/out driven by the transport.
package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/audiolibrelab/jamstudio/internal/audio"
	"github.com/audiolibrelab/jamstudio/internal/device"
	"github.com/audiolibrelab/jamstudio/internal/events"
	"github.com/audiolibrelab/jamstudio/internal/waveform"
)

const (
	DefaultWaveformBins     = waveform.DefaultWidth
	DefaultWaveformInterval = 100 * time.Millisecond
)

// Input is the part of the device manager the controller records from
type Input interface {
	CurrentTime() float64
	SampleRate() int
	AddInputTap(fn device.TapFunc) (remove func())
}

// Transport reports the logical playhead used for punch points
type Transport interface {
	IsPlaying() bool
	CurrentTime() float64
}

// Config tunes the live waveform feed
type Config struct {
	WaveformBins     int
	WaveformInterval time.Duration
}

// Controller owns the recording state machine.
type Controller struct {
	input     Input
	transport Transport
	bus       *events.Bus
	cfg       Config

	mutex     sync.Mutex
	single    *capture
	multi     *capture
	detachTap func()

	tickerStop chan struct{}
	tickerDone chan struct{}

	punchStart float64
	lastPunch  *PunchRegion

	closed    bool
	closedErr error
}

// NewController wires a controller to its input, transport and event bus
func NewController(input Input, transport Transport, bus *events.Bus, cfg Config) *Controller {
	if cfg.WaveformBins <= 0 {
		cfg.WaveformBins = DefaultWaveformBins
	}
	if cfg.WaveformInterval <= 0 {
		cfg.WaveformInterval = DefaultWaveformInterval
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Controller{input: input, transport: transport, bus: bus, cfg: cfg}
}

// Bus returns the topics the controller publishes on
func (c *Controller) Bus() *events.Bus { return c.bus }

// StartRecording begins capturing trackID.
func (c *Controller) StartRecording(trackID string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.startSingleLocked(trackID, false)
}

func (c *Controller) startSingleLocked(trackID string, punched bool) error {
	if err := c.checkStartLocked(false); err != nil {
		return err
	}
	if trackID == "" {
		return fmt.Errorf("track id is required: %w", audio.ErrNoTracks)
	}

	s := &capture{trackIDs: []string{trackID}, startTime: c.input.CurrentTime(), punched: punched}
	c.single = s
	c.attachLocked(s)

	slog.Info("Recording started", "track", trackID, "start", s.startTime, "punched", punched)
	return nil
}

// StartMultiTrackRecording captures the same input onto every track in
// trackIDs. Duplicate ids are collapsed.
func (c *Controller) StartMultiTrackRecording(trackIDs []string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.checkStartLocked(true); err != nil {
		return err
	}

	ids := make([]string, 0, len(trackIDs))
	for _, id := range trackIDs {
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return audio.ErrNoTracks
	}

	m := &capture{trackIDs: ids, startTime: c.input.CurrentTime()}
	c.multi = m
	c.attachLocked(m)

	slog.Info("Multi-track recording started", "tracks", ids, "start", m.startTime)
	return nil
}

// checkStartLocked applies the start guards: the same kind of session
// already running is ErrAlreadyRecording, the other kind is
// ErrConflictingSession.
func (c *Controller) checkStartLocked(multi bool) error {
	switch {
	case c.closed:
		return c.closedErr
	case c.multi != nil && multi, c.single != nil && !multi:
		return audio.ErrAlreadyRecording
	case c.multi != nil, c.single != nil:
		return audio.ErrConflictingSession
	}
	return nil
}

// attachLocked installs the real-time tap and the live waveform ticker
func (c *Controller) attachLocked(s *capture) {
	level := &c.bus.Level
	c.detachTap = c.input.AddInputTap(func(now float64, block [][]float32) {
		s.add(audio.CopyChunk(block))
		level.Publish(audio.RMS(block))
	})

	c.tickerStop = make(chan struct{})
	c.tickerDone = make(chan struct{})
	go c.waveformWorker(s, c.tickerStop, c.tickerDone)
}

func (c *Controller) detachLocked() {
	if c.detachTap != nil {
		c.detachTap()
		c.detachTap = nil
	}
	if c.tickerStop != nil {
		close(c.tickerStop)
		<-c.tickerDone
		c.tickerStop = nil
		c.tickerDone = nil
	}
}

// waveformWorker publishes best-effort live waveforms until stopped
func (c *Controller) waveformWorker(s *capture, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.WaveformInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			chunks := s.snapshot()
			if len(chunks) == 0 {
				continue
			}
			buf := audio.Concat(c.input.SampleRate(), chunks)
			peaks := waveform.FromBuffer(buf, c.cfg.WaveformBins)
			elapsed := c.input.CurrentTime() - s.startTime

			for _, id := range s.trackIDs {
				c.bus.Waveform.Publish(events.LiveWaveform{TrackID: id, Peaks: peaks, Elapsed: elapsed})
			}
		}
	}
}

// StopRecording ends the single-track recording and returns its buffer.
// A recording that captured nothing returns a nil buffer and no error, as
// does calling Stop with nothing active.
func (c *Controller) StopRecording() (*audio.Buffer, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stopSingleLocked(), nil
}

func (c *Controller) stopSingleLocked() *audio.Buffer {
	s := c.single
	if s == nil {
		return nil
	}
	c.detachLocked()
	c.single = nil

	trackID := s.trackIDs[0]
	buf := audio.Concat(c.input.SampleRate(), s.close())
	if buf == nil {
		slog.Warn("Recording stopped with no audio captured", "track", trackID)
		return nil
	}

	c.bus.Complete.Publish(events.Complete{TrackID: trackID, Buffer: buf, StartTime: s.startTime, Punched: s.punched})
	slog.Info("Recording stopped", "track", trackID, "frames", buf.Frames(), "duration", buf.Duration())
	return buf
}

// StopMultiTrackRecording ends the multi-track recording and returns one
// buffer per track. All tracks hold identical audio.
func (c *Controller) StopMultiTrackRecording() (map[string]*audio.Buffer, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stopMultiLocked(), nil
}

func (c *Controller) stopMultiLocked() map[string]*audio.Buffer {
	m := c.multi
	if m == nil {
		return nil
	}
	c.detachLocked()
	c.multi = nil

	chunks := m.close()
	if len(chunks) == 0 {
		slog.Warn("Multi-track recording stopped with no audio captured", "tracks", m.trackIDs)
		return nil
	}

	buffers := make(map[string]*audio.Buffer, len(m.trackIDs))
	for _, id := range m.trackIDs {
		buffers[id] = audio.Concat(c.input.SampleRate(), chunks)
	}

	c.bus.MultiComplete.Publish(events.MultiComplete{Buffers: buffers, StartTime: m.startTime})
	slog.Info("Multi-track recording stopped", "tracks", m.trackIDs, "frames", buffers[m.trackIDs[0]].Frames())
	return buffers
}

// PunchIn starts a punched recording on trackID at the current transport
// position. The transport must be playing.
func (c *Controller) PunchIn(trackID string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return c.closedErr
	}
	if !c.transport.IsPlaying() {
		return audio.ErrNotPlaying
	}

	start := c.transport.CurrentTime()
	if err := c.startSingleLocked(trackID, true); err != nil {
		return err
	}
	c.punchStart = start
	slog.Info("Punch in", "track", trackID, "at", start)
	return nil
}

// PunchOut ends a punched recording. It returns the new region and the
// captured buffer, or nils when no punched recording is active. The region
// is nil when the transport did not move forward.
func (c *Controller) PunchOut() (*PunchRegion, *audio.Buffer, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	s := c.single
	if s == nil || !s.punched {
		return nil, nil, nil
	}

	end := c.transport.CurrentTime()
	trackID := s.trackIDs[0]
	buf := c.stopSingleLocked()

	if end <= c.punchStart {
		slog.Warn("Punch region discarded, end is not after start", "track", trackID, "start", c.punchStart, "end", end)
		return nil, buf, nil
	}

	region := PunchRegion{StartTime: c.punchStart, EndTime: end, TrackID: trackID}
	c.lastPunch = &region
	slog.Info("Punch out", "track", trackID, "start", region.StartTime, "end", region.EndTime)

	out := region
	return &out, buf, nil
}

// LastPunchRegion returns the most recent completed punch, if any
func (c *Controller) LastPunchRegion() (PunchRegion, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.lastPunch == nil {
		return PunchRegion{}, false
	}
	return *c.lastPunch, true
}

// Status returns a snapshot of the controller state
func (c *Controller) Status() Status {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var s *capture
	st := Status{State: StateIdle}
	switch {
	case c.single != nil:
		s, st.State = c.single, StateRecording
	case c.multi != nil:
		s, st.State = c.multi, StateMultiRecording
	default:
		return st
	}

	st.TrackIDs = append([]string(nil), s.trackIDs...)
	st.StartTime = s.startTime
	st.Elapsed = c.input.CurrentTime() - s.startTime
	st.Chunks = s.count()
	st.Punched = s.punched
	return st
}

// IsRecording reports whether any capture is active
func (c *Controller) IsRecording() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.single != nil || c.multi != nil
}

// Teardown finalizes any in-flight capture after the device is lost,
// publishes the recovered buffers and a Fault, and rejects further starts
// with err (audio.ErrDeviceClosed when nil).
func (c *Controller) Teardown(err error) Finalized {
	if err == nil {
		err = audio.ErrDeviceClosed
	} else if !errors.Is(err, audio.ErrDeviceClosed) {
		err = fmt.Errorf("%w: %v", audio.ErrDeviceClosed, err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	var f Finalized
	if c.single != nil {
		f.TrackID = c.single.trackIDs[0]
		f.Buffer = c.stopSingleLocked()
	}
	if c.multi != nil {
		f.Multi = c.stopMultiLocked()
	}

	if !c.closed {
		c.closed = true
		c.closedErr = err
		c.bus.Fault.Publish(events.Fault{Err: err, Time: time.Now()})
		slog.Error("Recording controller torn down", "error", err, "recovered_track", f.TrackID, "recovered_multi", len(f.Multi))
	}
	return f
}
