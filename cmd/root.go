package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/jamstudio/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	backend      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "jamstudio",
	Short: "Multi-track audio capture and playback",
	Long: `JamStudio records microphone input onto tracks while playing back
previously recorded clips in sync. It supports single and multi-track
takes, punch-in recording over an existing part, input monitoring and an
HTTP API for remote control.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)

		// sources lists backends and never needs a config
		if cmd.Name() == "sources" && cfgFile == "" {
			return nil
		}

		path := cfgFile
		if path == "" {
			path = defaultConfigPath()
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				slog.Debug("No config file, using defaults", "path", path)
				path = ""
			}
		}

		var err error
		cfg, err = config.LoadWithProfile(path, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfgFile = path

		if backend != "" {
			cfg.Audio.Backend = backend
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	return os.ExpandEnv("$HOME/.config/jamstudio.yaml")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/jamstudio.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "audio backend: auto, jack, pipewire, oto or headless (overrides config)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=debug with source locations")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(punchCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(mixCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level:     slogLevel,
		AddSource: level >= 2,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	slog.SetDefault(slog.New(handler))
}
