package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/audiolibrelab/jamstudio/internal/service"
	"github.com/audiolibrelab/jamstudio/internal/wav"

	"github.com/spf13/cobra"
)

var mixCmd = &cobra.Command{
	Use:   "mix [output.wav]",
	Short: "Render the timeline to a stereo WAV file",
	Long: `Mix every configured track offline, with the same gain, pan, fades and
mute/solo rules as live playback, and write the result as 16-bit WAV.
The default output is mixdown.wav in the output directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(cfg.Output.Directory, "mixdown.wav")
		if len(args) == 1 {
			path = args[0]
		}

		ctx, stop := signalContext()
		defer stop()

		mix, err := service.Mixdown(ctx, cfg)
		if err != nil {
			return fmt.Errorf("mixing failed: %w", err)
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		if err := wav.Write(f, mix); err != nil {
			f.Close()
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}

		fmt.Printf("Mixed %.2fs to %s\n", mix.Duration(), path)
		return nil
	},
}
