package clipstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"

	"github.com/audiolibrelab/jamstudio/internal/audio"
)

// Decoder turns an encoded clip into a planar buffer
type Decoder interface {
	Decode(r io.Reader) (*audio.Buffer, error)
}

// Registry maps file extensions (without the dot) to decoders
type Registry struct {
	mtx    sync.Mutex
	codecs map[string]Decoder
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Decoder)}
}

// DefaultRegistry knows wav, aiff, mp3 and ogg vorbis
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("wav", WAVDecoder{})
	r.Register("aif", AIFFDecoder{})
	r.Register("aiff", AIFFDecoder{})
	r.Register("mp3", MP3Decoder{})
	r.Register("ogg", VorbisDecoder{})
	return r
}

func (r *Registry) Register(ext string, d Decoder) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.codecs[strings.ToLower(strings.TrimPrefix(ext, "."))] = d
}

func (r *Registry) Get(ext string) (Decoder, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	d, ok := r.codecs[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return d, ok
}

// Formats returns the registered extensions
func (r *Registry) Formats() []string {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	out := make([]string, 0, len(r.codecs))
	for ext := range r.codecs {
		out = append(out, ext)
	}
	return out
}

// WAVDecoder reads PCM WAV files of any bit depth through go-audio
type WAVDecoder struct{}

func (WAVDecoder) Decode(r io.Reader) (*audio.Buffer, error) {
	rs, err := readSeeker(r)
	if err != nil {
		return nil, err
	}

	dec := gowav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, audio.ErrNotWAV
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decoding wav: %w", err)
	}
	return fromIntBuffer(pcm, int(dec.BitDepth))
}

// AIFFDecoder reads AIFF files through go-audio
type AIFFDecoder struct{}

func (AIFFDecoder) Decode(r io.Reader) (*audio.Buffer, error) {
	rs, err := readSeeker(r)
	if err != nil {
		return nil, err
	}

	dec := aiff.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not an AIFF file", audio.ErrUnsupportedFormat)
	}
	dec.ReadInfo()

	format := dec.Format()
	if format == nil || format.NumChannels == 0 {
		return nil, fmt.Errorf("%w: unsupported AIFF layout", audio.ErrUnsupportedFormat)
	}

	all := &goaudio.IntBuffer{Format: format}
	chunk := &goaudio.IntBuffer{Format: format, Data: make([]int, 4096*format.NumChannels)}
	for {
		n, err := dec.PCMBuffer(chunk)
		all.Data = append(all.Data, chunk.Data[:n]...)
		if n == 0 || errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding aiff: %w", err)
		}
	}
	return fromIntBuffer(all, int(dec.BitDepth))
}

// MP3Decoder decodes MP3 through go-mp3, which always yields 16-bit stereo
type MP3Decoder struct{}

func (MP3Decoder) Decode(r io.Reader) (*audio.Buffer, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrUnsupportedFormat, err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decoding mp3: %w", err)
	}

	frames := len(raw) / 4
	buf := audio.NewBuffer(dec.SampleRate(), 2, frames)
	for f := range frames {
		for ch := range 2 {
			v := int16(binary.LittleEndian.Uint16(raw[4*f+2*ch:]))
			buf.Channels[ch][f] = float32(v) / 32768
		}
	}
	return buf, nil
}

// VorbisDecoder decodes Ogg Vorbis through oggvorbis
type VorbisDecoder struct{}

func (VorbisDecoder) Decode(r io.Reader) (*audio.Buffer, error) {
	samples, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrUnsupportedFormat, err)
	}
	if format.Channels <= 0 {
		return nil, fmt.Errorf("%w: zero channels", audio.ErrUnsupportedFormat)
	}

	frames := len(samples) / format.Channels
	buf := audio.NewBuffer(format.SampleRate, format.Channels, frames)
	for f := range frames {
		for ch := range format.Channels {
			buf.Channels[ch][f] = samples[f*format.Channels+ch]
		}
	}
	return buf, nil
}

// fromIntBuffer deinterleaves go-audio integer PCM into [-1,1] floats
func fromIntBuffer(pcm *goaudio.IntBuffer, bitDepth int) (*audio.Buffer, error) {
	if pcm == nil || pcm.Format == nil || pcm.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("%w: missing format", audio.ErrUnsupportedFormat)
	}

	var scale float32
	switch bitDepth {
	case 8:
		scale = 128
	case 16:
		scale = 32768
	case 24:
		scale = 8388608
	case 32:
		scale = 2147483648
	default:
		return nil, fmt.Errorf("%w: %d-bit PCM", audio.ErrUnsupportedFormat, bitDepth)
	}

	channels := pcm.Format.NumChannels
	frames := len(pcm.Data) / channels
	buf := audio.NewBuffer(pcm.Format.SampleRate, channels, frames)
	for f := range frames {
		for ch := range channels {
			buf.Channels[ch][f] = float32(pcm.Data[f*channels+ch]) / scale
		}
	}
	return buf, nil
}

// readSeeker buffers r in memory when it cannot seek; go-audio requires it
func readSeeker(r io.Reader) (io.ReadSeeker, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading clip data: %w", err)
	}
	return bytes.NewReader(data), nil
}
