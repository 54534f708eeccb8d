package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/audiolibrelab/jamstudio/internal/audio"
	"github.com/audiolibrelab/jamstudio/internal/recorder"
	"github.com/audiolibrelab/jamstudio/internal/timeline"
	"github.com/audiolibrelab/jamstudio/internal/waveform"
)

func unknownTrack(id string) error {
	return fmt.Errorf("track %q: %w", id, audio.ErrUnknownTrack)
}

// prepareRecording activates the session and checks input and tracks
func (s *Session) prepareRecording(ctx context.Context, trackIDs ...string) error {
	if err := s.Activate(ctx); err != nil {
		return err
	}

	s.mutex.Lock()
	inputErr := s.inputErr
	s.mutex.Unlock()
	if inputErr != nil {
		return fmt.Errorf("recording unavailable: %w", inputErr)
	}

	for _, id := range trackIDs {
		if _, ok := s.timeline.Track(id); !ok {
			return unknownTrack(id)
		}
	}
	return nil
}

// StartRecording captures input for trackID from the current playhead
func (s *Session) StartRecording(ctx context.Context, trackID string) error {
	if err := s.prepareRecording(ctx, trackID); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}

	start := s.clock.CurrentTime()
	if err := s.recorder.StartRecording(trackID); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}

	s.mutex.Lock()
	s.armedTrack = trackID
	s.recordStart = start
	s.mutex.Unlock()

	s.updateMonitoring()
	s.clearLastError()
	return nil
}

// StopRecording finalizes the take, saves it and places it on the
// timeline where recording started. A take with no audio returns nil.
func (s *Session) StopRecording() (*Take, error) {
	status := s.recorder.Status()
	buf, err := s.recorder.StopRecording()
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		return nil, err
	}

	s.mutex.Lock()
	start := s.recordStart
	s.armedTrack = ""
	s.mutex.Unlock()
	s.updateMonitoring()

	if buf == nil || len(status.TrackIDs) == 0 {
		return nil, nil
	}

	take, err := s.persist(status.TrackIDs[0], buf, start)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to save recording: %v", err))
		return take, err
	}
	s.clearLastError()
	return take, nil
}

// StartMultiTrackRecording captures the same input onto every listed track
func (s *Session) StartMultiTrackRecording(ctx context.Context, trackIDs []string) error {
	if err := s.prepareRecording(ctx, trackIDs...); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start multi-track recording: %v", err))
		return err
	}

	start := s.clock.CurrentTime()
	if err := s.recorder.StartMultiTrackRecording(trackIDs); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start multi-track recording: %v", err))
		return err
	}

	s.mutex.Lock()
	s.armedTrack = trackIDs[0]
	s.recordStart = start
	s.mutex.Unlock()

	s.updateMonitoring()
	s.clearLastError()
	return nil
}

// StopMultiTrackRecording finalizes every track, saving them in parallel.
// Takes are ordered by track ID.
func (s *Session) StopMultiTrackRecording(ctx context.Context) ([]Take, error) {
	buffers, err := s.recorder.StopMultiTrackRecording()
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop multi-track recording: %v", err))
		return nil, err
	}

	s.mutex.Lock()
	start := s.recordStart
	s.armedTrack = ""
	s.mutex.Unlock()
	s.updateMonitoring()

	if len(buffers) == 0 {
		return nil, nil
	}

	paths, saveErr := s.clips.SaveAll(ctx, buffers)

	var takes []Take
	for id, buf := range buffers {
		clip := s.newClip(id, buf, start)
		clip.Path = paths[id]
		if err := s.timeline.AddClip(id, clip); err != nil {
			slog.Warn("Failed to place take", "track", id, "error", err)
			continue
		}
		takes = append(takes, Take{TrackID: id, Path: paths[id], Clip: &clip, Frames: buf.Frames()})
	}
	sort.Slice(takes, func(i, j int) bool { return takes[i].TrackID < takes[j].TrackID })

	if saveErr != nil {
		s.setLastError(fmt.Sprintf("Failed to save multi-track recording: %v", saveErr))
		return takes, fmt.Errorf("failed to save multi-track recording: %w", saveErr)
	}
	s.clearLastError()
	return takes, nil
}

// PunchIn starts a punched recording on trackID. The transport must be playing.
func (s *Session) PunchIn(ctx context.Context, trackID string) error {
	if err := s.prepareRecording(ctx, trackID); err != nil {
		s.setLastError(fmt.Sprintf("Failed to punch in: %v", err))
		return err
	}

	if err := s.recorder.PunchIn(trackID); err != nil {
		s.setLastError(fmt.Sprintf("Failed to punch in: %v", err))
		return err
	}

	s.mutex.Lock()
	s.armedTrack = trackID
	s.recordStart = s.clock.CurrentTime()
	s.mutex.Unlock()

	s.updateMonitoring()
	s.clearLastError()
	return nil
}

// PunchOut ends the punch. The take replaces the punched region of the
// track; when the region is discarded the audio is only saved to disk.
// Without an active punch it returns nil.
func (s *Session) PunchOut() (*Take, error) {
	region, buf, err := s.recorder.PunchOut()
	if err != nil {
		return nil, err
	}

	s.mutex.Lock()
	trackID := s.armedTrack
	s.armedTrack = ""
	s.mutex.Unlock()
	s.updateMonitoring()

	if buf == nil {
		return nil, nil
	}

	if region == nil {
		path, err := s.clips.Save(trackID, buf)
		if err != nil {
			s.setLastError(fmt.Sprintf("Failed to save punch: %v", err))
			return nil, err
		}
		return &Take{TrackID: trackID, Path: path, Frames: buf.Frames()}, nil
	}

	path, err := s.clips.Save(region.TrackID, buf)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to save punch: %v", err))
		return nil, err
	}

	clip := s.newClip(region.TrackID, buf, region.StartTime)
	clip.Path = path
	if err := s.timeline.ReplaceRegion(region.TrackID, region.StartTime, region.EndTime, clip); err != nil {
		s.setLastError(fmt.Sprintf("Failed to place punch: %v", err))
		return nil, err
	}

	placed, _ := s.timeline.Track(region.TrackID)
	for i := range placed.Clips {
		if placed.Clips[i].ID == clip.ID {
			clip = placed.Clips[i]
			break
		}
	}

	s.clearLastError()
	return &Take{TrackID: region.TrackID, Path: path, Clip: &clip, Region: region, Frames: buf.Frames()}, nil
}

// LastPunchRegion returns the most recent completed punch
func (s *Session) LastPunchRegion() (recorder.PunchRegion, bool) {
	return s.recorder.LastPunchRegion()
}

// persist saves buf and adds it to the timeline at start
func (s *Session) persist(trackID string, buf *audio.Buffer, start float64) (*Take, error) {
	path, err := s.clips.Save(trackID, buf)
	if err != nil {
		return nil, err
	}

	clip := s.newClip(trackID, buf, start)
	clip.Path = path
	if err := s.timeline.AddClip(trackID, clip); err != nil {
		return &Take{TrackID: trackID, Path: path, Frames: buf.Frames()}, err
	}
	return &Take{TrackID: trackID, Path: path, Clip: &clip, Frames: buf.Frames()}, nil
}

func (s *Session) newClip(trackID string, buf *audio.Buffer, start float64) timeline.Clip {
	n := s.takes.Add(1)
	return timeline.Clip{
		ID:        fmt.Sprintf("%s-take%d", trackID, n),
		StartTime: start,
		Duration:  buf.Duration(),
		Buffer:    buf,
		Waveform:  waveform.FromBuffer(buf, s.cfg.Recording.WaveformBins),
	}
}
