package audio

import (
	"math"
)

// Buffer holds planar float samples in [-1,1], one slice per channel.
// All channel slices have the same length.
type Buffer struct {
	SampleRate int         `json:"sample_rate"`
	Channels   [][]float32 `json:"-"`
}

// NewBuffer allocates a silent buffer of the given shape
func NewBuffer(sampleRate, channels, frames int) *Buffer {
	data := make([][]float32, channels)
	for ch := range data {
		data[ch] = make([]float32, frames)
	}
	return &Buffer{SampleRate: sampleRate, Channels: data}
}

// Frames returns the number of sample frames (samples per channel)
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// NumChannels returns the channel count
func (b *Buffer) NumChannels() int {
	if b == nil {
		return 0
	}
	return len(b.Channels)
}

// Duration returns the buffer length in seconds
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Slice returns a copy of frames [from, to). Bounds are clamped.
func (b *Buffer) Slice(from, to int) *Buffer {
	frames := b.Frames()
	from = max(0, min(from, frames))
	to = max(from, min(to, frames))

	out := NewBuffer(b.SampleRate, b.NumChannels(), to-from)
	for ch, data := range b.Channels {
		copy(out.Channels[ch], data[from:to])
	}
	return out
}

// Chunk is one captured input block: planar samples for a single device period.
type Chunk [][]float32

// Frames returns the chunk length in frames
func (c Chunk) Frames() int {
	if len(c) == 0 {
		return 0
	}
	return len(c[0])
}

// CopyChunk copies a device block so it can outlive the callback that produced it.
func CopyChunk(block [][]float32) Chunk {
	out := make(Chunk, len(block))
	for ch, data := range block {
		out[ch] = append([]float32(nil), data...)
	}
	return out
}

// Concat joins chunks in order into one buffer. The channel count is taken
// from the first chunk; missing channels in later chunks are left silent.
func Concat(sampleRate int, chunks []Chunk) *Buffer {
	if len(chunks) == 0 {
		return nil
	}

	total := 0
	for _, c := range chunks {
		total += c.Frames()
	}

	out := NewBuffer(sampleRate, len(chunks[0]), total)
	pos := 0
	for _, c := range chunks {
		n := c.Frames()
		for ch := range out.Channels {
			if ch < len(c) {
				copy(out.Channels[ch][pos:pos+n], c[ch])
			}
		}
		pos += n
	}
	return out
}

// RMS returns sqrt(mean(x²)) over every sample of every channel in block.
func RMS(block [][]float32) float64 {
	var sum float64
	n := 0
	for _, data := range block {
		for _, s := range data {
			sum += float64(s) * float64(s)
		}
		n += len(data)
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

// DBToLinear converts a gain in decibels to a linear factor
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// Clamp limits v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
