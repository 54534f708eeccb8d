package cmd

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/audiolibrelab/jamstudio/internal/device"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List audio backends and their input sources",
	Long: `List every audio backend compiled into this binary, whether it is
available on this system and the input sources it can capture from.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		selected := ""
		name := backend
		if name == "" && cfg != nil {
			name = cfg.Audio.Backend
		}
		if b, err := device.Select(name); err == nil {
			selected = b.Name()
		} else {
			slog.Warn("Could not select backend", "backend", name, "error", err)
		}
		return listAvailableSources(selected)
	},
}

// listAvailableSources prints each registered backend and its sources
func listAvailableSources(selected string) error {
	fmt.Printf("🎵 Audio Backends (%s)\n", runtime.GOOS)
	fmt.Printf("═══════════════════════════════════════\n\n")

	for _, name := range device.Backends() {
		b, _ := device.Lookup(name)
		marker := " "
		if name == selected {
			marker = "*"
		}
		if !b.Available() {
			fmt.Printf("%s %s (not available)\n\n", marker, name)
			continue
		}

		sources, err := b.Sources()
		if err != nil {
			fmt.Printf("%s %s: failed to list sources: %v\n\n", marker, name, err)
			continue
		}
		fmt.Printf("%s %s (%d sources):\n", marker, name, len(sources))
		for i, source := range sources {
			fmt.Printf("    %d. %s\n", i+1, source)
		}
		fmt.Println()
	}

	fmt.Printf("💡 * marks the backend a session would use.\n")
	fmt.Printf("   Set audio.backend in the config or pass --backend to choose one.\n")
	return nil
}
