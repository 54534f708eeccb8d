// Package wav encodes captured buffers into canonical 44-byte-header
// RIFF/WAVE PCM16 files and reads them back.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/audiolibrelab/jamstudio/internal/audio"
)

const (
	HeaderSize    = 44
	BitsPerSample = 16
	FormatPCM     = 1
)

// Header mirrors the fields of the canonical header
type Header struct {
	RIFFSize      uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32
}

// NewHeader computes the header for frames of numChannels at sampleRate
func NewHeader(sampleRate, numChannels, frames int) Header {
	dataSize := uint32(frames * numChannels * 2)
	return Header{
		RIFFSize:      36 + dataSize,
		AudioFormat:   FormatPCM,
		NumChannels:   uint16(numChannels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * numChannels * 2),
		BlockAlign:    uint16(numChannels * 2),
		BitsPerSample: BitsPerSample,
		DataSize:      dataSize,
	}
}

// Bytes renders the header in its 44-byte little-endian layout
func (h Header) Bytes() []byte {
	header := make([]byte, HeaderSize)

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], h.RIFFSize)
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], h.AudioFormat)
	binary.LittleEndian.PutUint16(header[22:24], h.NumChannels)
	binary.LittleEndian.PutUint32(header[24:28], h.SampleRate)
	binary.LittleEndian.PutUint32(header[28:32], h.ByteRate)
	binary.LittleEndian.PutUint16(header[32:34], h.BlockAlign)
	binary.LittleEndian.PutUint16(header[34:36], h.BitsPerSample)

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], h.DataSize)

	return header
}

// Quantize clamps x to [-1,1] and scales it to int16, using 32768 for
// negative values and 32767 for non-negative ones, truncating toward zero.
// NaN encodes as silence.
func Quantize(x float32) int16 {
	v := float64(x)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	if v < 0 {
		return int16(v * 32768)
	}
	return int16(v * 32767)
}

// Encode returns the complete WAV file for buf
func Encode(buf *audio.Buffer) []byte {
	var out bytes.Buffer
	out.Grow(HeaderSize + buf.Frames()*buf.NumChannels()*2)
	// bytes.Buffer writes never fail
	_ = Write(&out, buf)
	return out.Bytes()
}

// Write streams buf to w as a canonical WAV file with interleaved samples.
func Write(w io.Writer, buf *audio.Buffer) error {
	frames := buf.Frames()
	channels := buf.NumChannels()

	if _, err := w.Write(NewHeader(buf.SampleRate, channels, frames).Bytes()); err != nil {
		return fmt.Errorf("failed to write wav header: %w", err)
	}
	if frames == 0 || channels == 0 {
		return nil
	}

	const chunkFrames = 4096
	chunk := make([]byte, min(frames, chunkFrames)*channels*2)

	for start := 0; start < frames; start += chunkFrames {
		end := min(start+chunkFrames, frames)
		p := chunk[:(end-start)*channels*2]

		i := 0
		for f := start; f < end; f++ {
			for ch := range channels {
				binary.LittleEndian.PutUint16(p[i:i+2], uint16(Quantize(buf.Channels[ch][f])))
				i += 2
			}
		}

		if _, err := w.Write(p); err != nil {
			return fmt.Errorf("failed to write wav samples: %w", err)
		}
	}

	return nil
}
