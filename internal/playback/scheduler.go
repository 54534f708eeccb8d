// Package playback schedules timeline clips against the device clock and
// mixes them on the real-time path.
package playback

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/audiolibrelab/jamstudio/internal/audio"
	"github.com/audiolibrelab/jamstudio/internal/timeline"
)

// Clock is the device time source voices are scheduled against
type Clock interface {
	CurrentTime() float64
	SampleRate() int
}

// State is the playback snapshot returned to callers
type State struct {
	IsPlaying     bool                 `json:"is_playing"`
	CurrentTime   float64              `json:"current_time"`
	ActiveSources map[string]VoiceInfo `json:"active_sources"`
}

// VoiceInfo describes one scheduled clip
type VoiceInfo struct {
	ClipID       string  `json:"clip_id"`
	TrackID      string  `json:"track_id"`
	When         float64 `json:"when"`
	Offset       float64 `json:"offset"`
	PlayDuration float64 `json:"play_duration"`
}

// Scheduler plays a snapshot of the timeline. Start builds an immutable
// schedule that Render reads through an atomic pointer.
type Scheduler struct {
	clock  Clock
	master atomicFloat

	mutex     sync.Mutex
	playing   bool
	startTime float64 // timeline seconds at start
	startedAt float64 // device seconds at start

	current atomic.Pointer[schedule]
}

type schedule struct {
	rate   float64 // device frames per second
	voices []*voice
	tracks map[string]*trackMix
}

type trackMix struct {
	volume atomicFloat
	pan    atomicFloat
}

type voice struct {
	info    VoiceInfo
	buf     *audio.Buffer
	gain    float64
	fadeIn  float64 // ramp length from When; 0 for none
	foStart float64 // local time the fade-out begins
	fadeOut bool
	mix     *trackMix
	done    atomic.Bool
}

// NewScheduler creates an idle scheduler at full master volume
func NewScheduler(clock Clock) *Scheduler {
	s := &Scheduler{clock: clock}
	s.master.Store(1)
	return s
}

// Start schedules every audible clip of tracks from startTime. A running
// playback is restarted.
func (s *Scheduler) Start(tracks []timeline.Track, startTime, masterVolume float64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.playing {
		s.stopLocked()
	}

	now := s.clock.CurrentTime()
	s.master.Store(audio.Clamp(masterVolume, 0, 1))

	anySolo := false
	for _, t := range tracks {
		if t.Solo {
			anySolo = true
			break
		}
	}

	sched := &schedule{rate: float64(s.clock.SampleRate()), tracks: make(map[string]*trackMix, len(tracks))}
	for _, t := range tracks {
		if t.Muted || (anySolo && !t.Solo) {
			continue
		}

		mix := &trackMix{}
		mix.volume.Store(audio.Clamp(t.Volume, 0, 1))
		mix.pan.Store(audio.Clamp(t.Pan, -1, 1))
		sched.tracks[t.ID] = mix

		for _, c := range t.Clips {
			if v := newVoice(t.ID, c, startTime, now, mix); v != nil {
				sched.voices = append(sched.voices, v)
			}
		}
	}

	s.playing = true
	s.startTime = startTime
	s.startedAt = now
	s.current.Store(sched)

	slog.Info("Playback started", "from", startTime, "tracks", len(sched.tracks), "voices", len(sched.voices))
}

func newVoice(trackID string, c timeline.Clip, startTime, now float64, mix *trackMix) *voice {
	if c.Buffer == nil || c.End() <= startTime {
		return nil
	}

	offset := math.Max(0, startTime-c.StartTime)
	playDur := c.Duration - offset
	if playDur <= 0 {
		return nil
	}

	v := &voice{
		info: VoiceInfo{
			ClipID:       c.ID,
			TrackID:      trackID,
			When:         now + math.Max(0, c.StartTime-startTime),
			Offset:       offset,
			PlayDuration: playDur,
		},
		buf:  c.Buffer,
		gain: 1,
		mix:  mix,
	}
	if c.GainDB != 0 {
		v.gain = audio.DBToLinear(c.GainDB)
	}
	if c.FadeIn > 0 && offset < c.FadeIn {
		v.fadeIn = c.FadeIn - offset
	}
	if c.FadeOut > 0 {
		v.fadeOut = true
		v.foStart = math.Max(0, playDur-c.FadeOut)
	}
	return v
}

// envelope returns the fade gain at local seconds into the voice
func (v *voice) envelope(local float64) float64 {
	g := 1.0
	if v.fadeIn > 0 && local < v.fadeIn {
		g *= local / v.fadeIn
	}
	if v.fadeOut && local > v.foStart {
		span := v.info.PlayDuration - v.foStart
		if span > 0 {
			g *= math.Max(0, (v.info.PlayDuration-local)/span)
		}
	}
	return g
}

// Stop ends every voice and clears the schedule
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.playing {
		return
	}
	s.stopLocked()
	slog.Info("Playback stopped")
}

func (s *Scheduler) stopLocked() {
	if sched := s.current.Swap(nil); sched != nil {
		for _, v := range sched.voices {
			v.done.Store(true)
		}
	}
	s.playing = false
}

// SetTrackVolume changes a playing track's volume, clamped to [0,1]
func (s *Scheduler) SetTrackVolume(trackID string, volume float64) {
	if mix := s.trackMix(trackID); mix != nil {
		mix.volume.Store(audio.Clamp(volume, 0, 1))
	}
}

// SetTrackPan changes a playing track's pan, clamped to [-1,1]
func (s *Scheduler) SetTrackPan(trackID string, pan float64) {
	if mix := s.trackMix(trackID); mix != nil {
		mix.pan.Store(audio.Clamp(pan, -1, 1))
	}
}

// SetMasterVolume changes the master gain, clamped to [0,1]
func (s *Scheduler) SetMasterVolume(volume float64) {
	s.master.Store(audio.Clamp(volume, 0, 1))
}

// MasterVolume returns the master gain
func (s *Scheduler) MasterVolume() float64 { return s.master.Load() }

func (s *Scheduler) trackMix(trackID string) *trackMix {
	sched := s.current.Load()
	if sched == nil {
		return nil
	}
	mix, ok := sched.tracks[trackID]
	if !ok {
		slog.Debug("Mixer change for track not in playback", "track", trackID)
		return nil
	}
	return mix
}

// IsPlaying reports whether a schedule is active
func (s *Scheduler) IsPlaying() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.playing
}

// ActiveVoices returns the voices that have not finished
func (s *Scheduler) ActiveVoices() []VoiceInfo {
	sched := s.current.Load()
	if sched == nil {
		return nil
	}
	out := make([]VoiceInfo, 0, len(sched.voices))
	for _, v := range sched.voices {
		if !v.done.Load() {
			out = append(out, v.info)
		}
	}
	return out
}

// State returns the playback snapshot
func (s *Scheduler) State() State {
	s.mutex.Lock()
	playing, startTime, startedAt := s.playing, s.startTime, s.startedAt
	s.mutex.Unlock()

	st := State{IsPlaying: playing, ActiveSources: map[string]VoiceInfo{}}
	if !playing {
		return st
	}
	st.CurrentTime = startTime + (s.clock.CurrentTime() - startedAt)
	for _, v := range s.ActiveVoices() {
		st.ActiveSources[v.ClipID] = v
	}
	return st
}
