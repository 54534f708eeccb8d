//go:build jack

package cmd

import _ "github.com/audiolibrelab/jamstudio/internal/device/jackdev"
