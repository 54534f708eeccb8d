package cmd

// The headless backend is always present so auto selection has a fallback.
import _ "github.com/audiolibrelab/jamstudio/internal/device/headless"
