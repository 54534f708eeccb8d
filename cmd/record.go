package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record [track-id...]",
	Short: "Record input onto one or more tracks",
	Long: `Record the microphone onto the given tracks until Ctrl+C or --duration.
With one track the take is a single-track recording. With several, the same
input is captured onto every listed track. Takes are saved as WAV files in
the output directory and placed on the timeline where recording started.

With --play the existing timeline plays back during the take.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")
		play, _ := cmd.Flags().GetBool("play")
		from, _ := cmd.Flags().GetFloat64("from")

		tracks := args
		if len(tracks) == 0 {
			if len(cfg.Tracks) == 0 {
				return fmt.Errorf("no tracks configured")
			}
			tracks = []string{cfg.Tracks[0].ID}
		}
		slog.Info("Record command started", "tracks", tracks, "profile", cfg.Name)

		ctx, stop := signalContext()
		defer stop()

		sess, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		sess.Seek(from)
		if play {
			if err := sess.Play(ctx); err != nil {
				return fmt.Errorf("failed to start playback: %w", err)
			}
		}

		if len(tracks) == 1 {
			err = sess.StartRecording(ctx, tracks[0])
		} else {
			err = sess.StartMultiTrackRecording(ctx, tracks)
		}
		if err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}

		slog.Info("Recording... Press Ctrl+C to stop")
		stopMeter := startMeter(sess.Bus())
		wait(ctx, duration)
		stopMeter()
		slog.Info("Stopping recording...")

		sess.Stop()
		if len(tracks) == 1 {
			take, err := sess.StopRecording()
			if err != nil {
				return fmt.Errorf("failed to stop recording: %w", err)
			}
			printTake(take)
			return nil
		}

		takes, err := sess.StopMultiTrackRecording(context.Background())
		for i := range takes {
			printTake(&takes[i])
		}
		if err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}
		return nil
	},
}

func init() {
	recordCmd.Flags().DurationP("duration", "d", 0, "stop after this long (default: until Ctrl+C)")
	recordCmd.Flags().BoolP("play", "p", false, "play the timeline while recording")
	recordCmd.Flags().Float64("from", 0, "timeline position in seconds to record from")
}
