//go:build linux

package cmd

import _ "github.com/audiolibrelab/jamstudio/internal/device/pwdev"
