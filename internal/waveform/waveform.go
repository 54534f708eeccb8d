// Package waveform reduces sample sequences to fixed-width peak arrays for
// visualization. The same functions serve live captures and finished clips.
package waveform

import (
	"math"

	"github.com/audiolibrelab/jamstudio/internal/audio"
)

// DefaultWidth is the number of bins used for live and finished waveforms
const DefaultWidth = 500

// Downsample partitions samples into width floor-divided windows and returns
// max(|min|, |max|) per window, clamped to [0,1]. The result always has
// exactly width entries; windows with no samples are 0.
func Downsample(samples []float32, width int) []float32 {
	if width <= 0 {
		return []float32{}
	}

	peaks := make([]float32, width)
	step := len(samples) / width
	if step == 0 {
		return peaks
	}

	for i := range peaks {
		window := samples[i*step : (i+1)*step]
		lo, hi := window[0], window[0]
		for _, s := range window[1:] {
			if s < lo {
				lo = s
			}
			if s > hi {
				hi = s
			}
		}
		peaks[i] = peak(lo, hi)
	}
	return peaks
}

// FromBuffer downsamples every channel and keeps the loudest peak per bin.
func FromBuffer(buf *audio.Buffer, width int) []float32 {
	if width <= 0 {
		return []float32{}
	}
	if buf.NumChannels() == 0 {
		return make([]float32, width)
	}

	peaks := Downsample(buf.Channels[0], width)
	for _, data := range buf.Channels[1:] {
		for i, p := range Downsample(data, width) {
			if p > peaks[i] {
				peaks[i] = p
			}
		}
	}
	return peaks
}

func peak(lo, hi float32) float32 {
	p := math.Max(math.Abs(float64(lo)), math.Abs(float64(hi)))
	if p > 1 {
		p = 1
	}
	return float32(p)
}
