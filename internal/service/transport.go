package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/jamstudio/internal/device"
	"github.com/audiolibrelab/jamstudio/internal/timeline"
)

// Play starts the transport and schedules the timeline from the playhead
func (s *Session) Play(ctx context.Context) error {
	if err := s.Activate(ctx); err != nil {
		return err
	}

	s.clock.Play()
	s.scheduler.Start(s.timeline.Tracks(), s.clock.CurrentTime(), s.scheduler.MasterVolume())
	s.updateMonitoring()
	s.clearLastError()
	return nil
}

// Stop halts playback and freezes the playhead
func (s *Session) Stop() {
	s.scheduler.Stop()
	s.clock.Pause()
	s.updateMonitoring()
}

// Seek moves the playhead. A running playback is rescheduled from t.
func (s *Session) Seek(t float64) {
	s.clock.Seek(t)
	if s.scheduler.IsPlaying() {
		s.reschedule()
	}
}

func (s *Session) reschedule() {
	s.scheduler.Start(s.timeline.Tracks(), s.clock.CurrentTime(), s.scheduler.MasterVolume())
}

// SetTrackVolume updates the stored track and the live mix
func (s *Session) SetTrackVolume(trackID string, volume float64) error {
	if err := s.timeline.UpdateTrack(trackID, func(t *timeline.Track) { t.Volume = volume }); err != nil {
		return err
	}
	s.scheduler.SetTrackVolume(trackID, volume)
	return nil
}

// SetTrackPan updates the stored track and the live mix
func (s *Session) SetTrackPan(trackID string, pan float64) error {
	if err := s.timeline.UpdateTrack(trackID, func(t *timeline.Track) { t.Pan = pan }); err != nil {
		return err
	}
	s.scheduler.SetTrackPan(trackID, pan)
	return nil
}

// SetTrackMuted changes mute. Audibility is decided at schedule time, so a
// running playback is rescheduled.
func (s *Session) SetTrackMuted(trackID string, muted bool) error {
	if err := s.timeline.UpdateTrack(trackID, func(t *timeline.Track) { t.Muted = muted }); err != nil {
		return err
	}
	if s.scheduler.IsPlaying() {
		s.reschedule()
	}
	return nil
}

// SetTrackSolo changes solo and reschedules a running playback
func (s *Session) SetTrackSolo(trackID string, solo bool) error {
	if err := s.timeline.UpdateTrack(trackID, func(t *timeline.Track) { t.Solo = solo }); err != nil {
		return err
	}
	if s.scheduler.IsPlaying() {
		s.reschedule()
	}
	return nil
}

// SetMasterVolume changes the master gain, clamped to [0,1]
func (s *Session) SetMasterVolume(volume float64) {
	s.scheduler.SetMasterVolume(volume)
}

// SetMonitoring changes the monitoring mode and reapplies it
func (s *Session) SetMonitoring(mode string) (bool, error) {
	m, err := device.ParseMonitorMode(mode)
	if err != nil {
		return false, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.monitorMode = m
	slog.Info("Monitoring mode changed", "mode", m)
	return s.updateMonitoringLocked(), nil
}

// SetMonitorGain changes the input monitoring level
func (s *Session) SetMonitorGain(gain float64) {
	s.manager.SetMonitorGain(gain)
}

func (s *Session) updateMonitoring() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.updateMonitoringLocked()
}

func (s *Session) updateMonitoringLocked() bool {
	if !s.active || s.inputErr != nil {
		return false
	}
	return s.manager.SetInputMonitoring(s.monitorMode, s.clock.IsPlaying(), s.recorder.IsRecording(), s.armedTrack)
}

// ImportClip decodes path and places it on trackID at start seconds
func (s *Session) ImportClip(trackID, path string, start float64) (*timeline.Clip, error) {
	if _, ok := s.timeline.Track(trackID); !ok {
		return nil, unknownTrack(trackID)
	}

	buf, err := s.clips.Load(path)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to import %s: %v", path, err))
		return nil, err
	}

	clip := s.newClip(trackID, buf, start)
	clip.Path = path
	if err := s.timeline.AddClip(trackID, clip); err != nil {
		return nil, err
	}
	slog.Info("Clip imported", "track", trackID, "path", path, "start", start, "duration", clip.Duration)
	return &clip, nil
}
