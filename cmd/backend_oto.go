//go:build !nooto

package cmd

import _ "github.com/audiolibrelab/jamstudio/internal/device/otodev"
