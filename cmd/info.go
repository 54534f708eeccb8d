package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/audiolibrelab/jamstudio/internal/audio"
	"github.com/audiolibrelab/jamstudio/internal/clipstore"
	"github.com/audiolibrelab/jamstudio/internal/wav"
	"github.com/audiolibrelab/jamstudio/internal/waveform"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Show audio file details and a coarse waveform",
	Long: `Display the header fields of a WAV take, or the decoded format of any
importable clip (wav, aiff, mp3, ogg), followed by a peak waveform.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		width, _ := cmd.Flags().GetInt("width")

		var buf *audio.Buffer
		if strings.EqualFold(filepath.Ext(path), ".wav") {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			b, h, err := wav.Decode(f)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			fmt.Printf("=== WAV HEADER ===\n")
			fmt.Printf("audio_format: %d\n", h.AudioFormat)
			fmt.Printf("channels: %d\n", h.NumChannels)
			fmt.Printf("sample_rate: %d\n", h.SampleRate)
			fmt.Printf("byte_rate: %d\n", h.ByteRate)
			fmt.Printf("block_align: %d\n", h.BlockAlign)
			fmt.Printf("bits_per_sample: %d\n", h.BitsPerSample)
			fmt.Printf("data_size: %d\n", h.DataSize)
			buf = b
		} else {
			b, err := clipstore.New(filepath.Dir(path)).Load(path)
			if err != nil {
				return err
			}
			fmt.Printf("=== DECODED ===\n")
			fmt.Printf("channels: %d\n", b.NumChannels())
			fmt.Printf("sample_rate: %d\n", b.SampleRate)
			buf = b
		}

		fmt.Printf("frames: %d\n", buf.Frames())
		fmt.Printf("duration: %.3fs\n", buf.Duration())

		fmt.Printf("\n=== WAVEFORM ===\n")
		fmt.Println(renderPeaks(waveform.FromBuffer(buf, width)))
		return nil
	},
}

var peakGlyphs = []rune(" ▁▂▃▄▅▆▇█")

// renderPeaks draws one glyph per peak
func renderPeaks(peaks []float32) string {
	var sb strings.Builder
	top := len(peakGlyphs) - 1
	for _, p := range peaks {
		i := int(p*float32(top) + 0.5)
		sb.WriteRune(peakGlyphs[max(0, min(i, top))])
	}
	return sb.String()
}

func init() {
	infoCmd.Flags().IntP("width", "w", 64, "waveform width in columns")
}
