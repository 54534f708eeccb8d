package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/audiolibrelab/jamstudio/internal/audio"
)

// ParseHeader validates and decodes a canonical 44-byte header
func ParseHeader(header []byte) (Header, error) {
	if len(header) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header is %d bytes", audio.ErrNotWAV, len(header))
	}
	if !bytes.Equal(header[0:4], []byte("RIFF")) || !bytes.Equal(header[8:12], []byte("WAVE")) {
		return Header{}, fmt.Errorf("%w: missing RIFF/WAVE markers", audio.ErrNotWAV)
	}
	if !bytes.Equal(header[12:16], []byte("fmt ")) || !bytes.Equal(header[36:40], []byte("data")) {
		return Header{}, fmt.Errorf("%w: non-canonical chunk layout", audio.ErrNotWAV)
	}

	h := Header{
		RIFFSize:      binary.LittleEndian.Uint32(header[4:8]),
		AudioFormat:   binary.LittleEndian.Uint16(header[20:22]),
		NumChannels:   binary.LittleEndian.Uint16(header[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		ByteRate:      binary.LittleEndian.Uint32(header[28:32]),
		BlockAlign:    binary.LittleEndian.Uint16(header[32:34]),
		BitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
		DataSize:      binary.LittleEndian.Uint32(header[40:44]),
	}

	if h.AudioFormat != FormatPCM || h.BitsPerSample != BitsPerSample {
		return Header{}, fmt.Errorf("%w: format %d, %d bits", audio.ErrNotWAV, h.AudioFormat, h.BitsPerSample)
	}
	if h.NumChannels == 0 {
		return Header{}, fmt.Errorf("%w: zero channels", audio.ErrNotWAV)
	}
	return h, nil
}

// Dequantize maps an int16 sample back to [-1,1] with the encoder's scale
func Dequantize(v int16) float32 {
	if v < 0 {
		return float32(v) / 32768
	}
	return float32(v) / 32767
}

// Decode reads a canonical PCM16 WAV stream written by Write.
func Decode(r io.Reader) (*audio.Buffer, Header, error) {
	raw := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, Header{}, fmt.Errorf("failed to read wav header: %w", err)
	}

	h, err := ParseHeader(raw)
	if err != nil {
		return nil, Header{}, err
	}

	data := make([]byte, h.DataSize)
	n, err := io.ReadFull(r, data)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, h, fmt.Errorf("failed to read wav data: %w", err)
	}

	channels := int(h.NumChannels)
	frames := n / (channels * 2)
	buf := audio.NewBuffer(int(h.SampleRate), channels, frames)

	i := 0
	for f := range frames {
		for ch := range channels {
			buf.Channels[ch][f] = Dequantize(int16(binary.LittleEndian.Uint16(data[i : i+2])))
			i += 2
		}
	}
	return buf, h, nil
}
