package service

import (
	"github.com/audiolibrelab/jamstudio/internal/device"
	"github.com/audiolibrelab/jamstudio/internal/playback"
	"github.com/audiolibrelab/jamstudio/internal/recorder"
)

// Status is the combined view of the session served to the CLI and HTTP API
type Status struct {
	Active      bool                  `json:"active"`
	Backend     string                `json:"backend"`
	DeviceState device.State          `json:"device_state"`
	SampleRate  int                   `json:"sample_rate"`
	HasInput    bool                  `json:"has_input"`
	Transport   TransportStatus       `json:"transport"`
	Recording   recorder.Status       `json:"recording"`
	Playback    playback.State        `json:"playback"`
	Monitoring  MonitoringStatus      `json:"monitoring"`
	LastPunch   *recorder.PunchRegion `json:"last_punch,omitempty"`
	LastError   string                `json:"last_error,omitempty"`
}

type TransportStatus struct {
	Playing  bool    `json:"playing"`
	Position float64 `json:"position"`
	Master   float64 `json:"master_volume"`
}

type MonitoringStatus struct {
	Mode    device.MonitorMode `json:"mode"`
	Enabled bool               `json:"enabled"`
	Gain    float64            `json:"gain"`
	Level   float64            `json:"input_level"`
}

// Status returns a snapshot of every component
func (s *Session) Status() Status {
	s.mutex.Lock()
	active, mode := s.active, s.monitorMode
	s.mutex.Unlock()

	st := Status{
		Active:      active,
		Backend:     s.manager.BackendName(),
		DeviceState: s.manager.State(),
		SampleRate:  s.manager.SampleRate(),
		HasInput:    s.manager.HasInput(),
		Transport: TransportStatus{
			Playing:  s.clock.IsPlaying(),
			Position: s.clock.CurrentTime(),
			Master:   s.scheduler.MasterVolume(),
		},
		Recording: s.recorder.Status(),
		Playback:  s.scheduler.State(),
		Monitoring: MonitoringStatus{
			Mode:    mode,
			Enabled: s.manager.IsMonitoring(),
			Gain:    s.manager.MonitorGain(),
			Level:   s.manager.Level(),
		},
		LastError: s.GetLastError(),
	}
	if region, ok := s.recorder.LastPunchRegion(); ok {
		st.LastPunch = &region
	}
	return st
}
