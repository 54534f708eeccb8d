package playback

import (
	"math"
	"sync/atomic"
)

// Render mixes the active schedule into out. It runs on the audio thread:
// no locks, no allocation.
func (s *Scheduler) Render(now float64, out [][]float32) {
	sched := s.current.Load()
	if sched == nil || len(out) == 0 {
		return
	}

	rate := sched.rate
	frames := len(out[0])
	master := s.master.Load()

	for _, v := range sched.voices {
		if v.done.Load() {
			continue
		}
		v.render(now, rate, frames, master, out)
	}
}

func (v *voice) render(now, rate float64, frames int, master float64, out [][]float32) {
	vol := v.mix.volume.Load()
	law := panGains(v.mix.pan.Load())
	srcFrames := v.buf.Frames()
	srcRate := float64(v.buf.SampleRate)
	stereo := v.buf.NumChannels() > 1

	for f := range frames {
		local := now + float64(f)/rate - v.info.When
		if local < 0 {
			continue
		}
		if local >= v.info.PlayDuration {
			v.done.Store(true)
			return
		}

		idx := int((v.info.Offset + local) * srcRate)
		if idx >= srcFrames {
			v.done.Store(true)
			return
		}

		g := float32(v.gain * v.envelope(local) * vol * master)

		var l, r float32
		if stereo {
			l, r = panStereo(v.buf.Channels[0][idx], v.buf.Channels[1][idx], law)
		} else {
			in := v.buf.Channels[0][idx]
			l, r = in*law.monoL, in*law.monoR
		}

		if len(out) == 1 {
			out[0][f] += (l + r) * 0.5 * g
			continue
		}
		out[0][f] += l * g
		out[1][f] += r * g
	}
}

// panLaw holds the equal-power coefficients for one pan value
type panLaw struct {
	pan          float64
	monoL, monoR float32
	stL, stR     float32 // cos/sin of the stereo position
}

// panGains computes the StereoPanner coefficients for pan in [-1,1]
func panGains(pan float64) panLaw {
	law := panLaw{pan: pan}

	x := (pan + 1) / 2
	law.monoL = float32(math.Cos(x * math.Pi / 2))
	law.monoR = float32(math.Sin(x * math.Pi / 2))

	if pan <= 0 {
		x = pan + 1
	} else {
		x = pan
	}
	law.stL = float32(math.Cos(x * math.Pi / 2))
	law.stR = float32(math.Sin(x * math.Pi / 2))
	return law
}

// panStereo applies the stereo panning rule: for pan <= 0 the right
// channel is folded into the left, otherwise the left into the right.
func panStereo(inL, inR float32, law panLaw) (float32, float32) {
	if law.pan <= 0 {
		return inL + inR*law.stL, inR * law.stR
	}
	return inL * law.stL, inR + inL*law.stR
}

// atomicFloat stores a float64 as atomic bits
type atomicFloat struct {
	bits atomic.Uint64
}

func (a *atomicFloat) Store(v float64) { a.bits.Store(math.Float64bits(v)) }
func (a *atomicFloat) Load() float64   { return math.Float64frombits(a.bits.Load()) }
