package device

import (
	"math"
	"sync/atomic"

	"github.com/audiolibrelab/jamstudio/internal/audio"
)

// Analyser measures the RMS level of every block passing through it
type Analyser struct {
	level atomic.Uint64
}

func (a *Analyser) Process(block [][]float32) {
	a.level.Store(math.Float64bits(audio.RMS(block)))
}

// Level returns the RMS of the last processed block
func (a *Analyser) Level() float64 {
	return math.Float64frombits(a.level.Load())
}

// Gain scales blocks by a linear factor that can change at any time.
type Gain struct {
	bits atomic.Uint32
}

// NewGain returns a gain node set to g
func NewGain(g float32) *Gain {
	n := &Gain{}
	n.Set(g)
	return n
}

func (n *Gain) Set(g float32) { n.bits.Store(math.Float32bits(g)) }

func (n *Gain) Value() float32 { return math.Float32frombits(n.bits.Load()) }

func (n *Gain) Process(block [][]float32) {
	g := n.Value()
	if g == 1 {
		return
	}
	for _, data := range block {
		for i := range data {
			data[i] *= g
		}
	}
}

// destination stands for the device output in routing calls
type destination struct{}

func (destination) Process([][]float32) {}

// mixInto adds src into dst. Output channels beyond the input reuse the
// last input channel, so mono input is heard on both sides.
func mixInto(dst, src [][]float32, frames int) {
	if len(src) == 0 || len(dst) == 0 {
		return
	}
	for ch, out := range dst {
		in := src[min(ch, len(src)-1)]
		n := min(frames, len(out), len(in))
		for i := range n {
			out[i] += in[i]
		}
	}
}
