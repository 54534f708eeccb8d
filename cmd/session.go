package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/audiolibrelab/jamstudio/internal/events"
	"github.com/audiolibrelab/jamstudio/internal/service"

	"golang.org/x/term"
)

// openSession creates and activates a session from the loaded config
func openSession(ctx context.Context) (*service.Session, error) {
	slog.Debug("Creating session", "profile", cfg.Name, "backend", cfg.Audio.Backend)
	sess, err := service.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if err := sess.Activate(ctx); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to open audio device: %w", err)
	}
	if msg := sess.GetLastError(); msg != "" {
		slog.Warn(msg)
	}
	return sess, nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// wait blocks until ctx is done or, when d is positive, d has elapsed
func wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		<-ctx.Done()
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// startMeter draws the input level on stderr while recording. It does
// nothing unless stderr is a terminal. The returned func stops it.
func startMeter(bus *events.Bus) (stop func()) {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return func() {}
	}

	width := 40
	if w, _, err := term.GetSize(int(os.Stderr.Fd())); err == nil && w > 30 {
		width = min(w-20, 60)
	}

	sub := bus.Level.Subscribe(8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		var level float64
		for {
			select {
			case <-sub.Done():
				fmt.Fprint(os.Stderr, "\r\033[K")
				return
			case l := <-sub.C:
				level = max(level*0.8, l)
			case <-ticker.C:
				fmt.Fprintf(os.Stderr, "\r%s", meterLine(level, width))
			}
		}
	}()

	return func() {
		bus.Level.Unsubscribe(sub)
		<-done
	}
}

// meterLine renders an RMS level as a dBFS bar covering -60..0 dB
func meterLine(level float64, width int) string {
	db := -60.0
	if level > 0 {
		db = max(-60, 20*math.Log10(level))
	}
	filled := int(math.Round((db + 60) / 60 * float64(width)))
	return fmt.Sprintf("[%s%s] %6.1f dB", strings.Repeat("#", filled), strings.Repeat(" ", width-filled), db)
}

func printTake(take *service.Take) {
	if take == nil {
		fmt.Println("No audio captured")
		return
	}
	fmt.Printf("Saved %s: %s (%.2fs)\n", take.TrackID, take.Path, float64(take.Frames)/float64(cfg.Audio.SampleRate))
	if take.Region != nil {
		fmt.Printf("Replaced %.2fs - %.2fs\n", take.Region.StartTime, take.Region.EndTime)
	}
}
