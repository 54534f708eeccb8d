package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/audiolibrelab/jamstudio/internal/service"

	"github.com/spf13/cobra"
)

var punchCmd = &cobra.Command{
	Use:   "punch <track-id>",
	Short: "Punch-in record over part of a track",
	Long: `Play the timeline from a pre-roll before --in, start recording on the
track at --in and stop at --out. The new take replaces only the punched
region of the track. Ctrl+C punches out early.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		trackID := args[0]
		in, _ := cmd.Flags().GetFloat64("in")
		out, _ := cmd.Flags().GetFloat64("out")
		preroll, _ := cmd.Flags().GetFloat64("preroll")
		if out <= in {
			return fmt.Errorf("--out (%.2f) must be after --in (%.2f)", out, in)
		}

		ctx, stop := signalContext()
		defer stop()

		sess, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		sess.Seek(max(0, in-preroll))
		if err := sess.Play(ctx); err != nil {
			return fmt.Errorf("failed to start playback: %w", err)
		}
		defer sess.Stop()

		slog.Info("Pre-roll", "track", trackID, "in", in, "out", out)
		if !waitForPosition(ctx, sess, in) {
			slog.Info("Cancelled before punch in")
			return nil
		}
		if err := sess.PunchIn(ctx, trackID); err != nil {
			return fmt.Errorf("failed to punch in: %w", err)
		}

		slog.Info("Punched in", "position", sess.Status().Transport.Position)
		stopMeter := startMeter(sess.Bus())
		waitForPosition(ctx, sess, out)
		stopMeter()

		take, err := sess.PunchOut()
		if err != nil {
			return fmt.Errorf("failed to punch out: %w", err)
		}
		printTake(take)
		return nil
	},
}

// waitForPosition polls the playhead until it reaches pos. It returns
// false when ctx ends first.
func waitForPosition(ctx context.Context, sess *service.Session, pos float64) bool {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		if sess.Status().Transport.Position >= pos {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func init() {
	punchCmd.Flags().Float64("in", 0, "punch-in point in seconds")
	punchCmd.Flags().Float64("out", 0, "punch-out point in seconds")
	punchCmd.Flags().Float64("preroll", 2, "seconds of playback before the punch-in point")
	punchCmd.MarkFlagRequired("out")
}
