package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play the configured timeline",
	Long: `Play every configured track and clip through the output device,
honouring volume, pan, mute and solo. Playback stops at the end of the
last clip, after --duration or on Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetFloat64("from")
		duration, _ := cmd.Flags().GetDuration("duration")
		master, _ := cmd.Flags().GetFloat64("master")

		ctx, stop := signalContext()
		defer stop()

		sess, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		var end float64
		for _, t := range sess.Tracks() {
			for _, c := range t.Clips {
				end = max(end, c.End())
			}
		}
		if end <= from {
			return fmt.Errorf("nothing to play after %.2fs", from)
		}
		if remaining := time.Duration((end - from) * float64(time.Second)); duration <= 0 || remaining < duration {
			duration = remaining
		}

		sess.SetMasterVolume(master)
		sess.Seek(from)
		if err := sess.Play(ctx); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		slog.Info("Playing", "from", from, "seconds", duration.Seconds())

		wait(ctx, duration)
		sess.Stop()
		return nil
	},
}

func init() {
	playCmd.Flags().Float64("from", 0, "timeline position in seconds to start from")
	playCmd.Flags().DurationP("duration", "d", 0, "stop after this long")
	playCmd.Flags().Float64("master", 1, "master volume in [0,1]")
}
