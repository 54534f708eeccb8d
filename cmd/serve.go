package cmd

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/jamstudio/internal/server"
	"github.com/audiolibrelab/jamstudio/internal/service"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for remote control",
	Long: `Start the JamStudio HTTP API to control recording and playback from
another device on the same network. The audio device is opened on the
first request that needs it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")

		sess, err := service.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		defer sess.Close()

		ctx, stop := signalContext()
		defer stop()

		slog.Info("JamStudio web server starting", "port", port, "config", cfgFile, "profile", cfg.Name)
		if err := server.New(sess, port).Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
}
