// Package device owns the audio device lifecycle and the fixed monitoring
// graph: input -> analyser -> monitor gain -> optional routing chain -> output.
package device

import (
	"context"
	"fmt"
	"strings"
)

// State is the lifecycle state of an opened device
type State string

const (
	StateSuspended State = "SUSPENDED"
	StateRunning   State = "RUNNING"
	StateClosed    State = "CLOSED"
)

// Options configures a device when it is opened.
type Options struct {
	Name           string
	SampleRate     int
	BufferSize     int // frames per process cycle
	InputChannels  int
	OutputChannels int
	Sources        []string // backend-specific capture sources; empty means the default input
}

// DefaultOptions matches the engine defaults
func DefaultOptions() Options {
	return Options{
		Name:           "jamstudio",
		SampleRate:     48000,
		BufferSize:     4096,
		InputChannels:  2,
		OutputChannels: 2,
	}
}

// Constraints describes how the input stream must be acquired. Recording
// always asks for unprocessed signal.
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	AutoGainControl  bool
	NoiseSuppression bool
}

// InputInfo describes an acquired input stream
type InputInfo struct {
	Name     string
	Channels int
}

// Cycle is one period of the device process callback. Input is nil when no
// input stream has been acquired. Output arrives zeroed and is mixed into.
type Cycle struct {
	Time   float64 // device clock seconds at the first frame
	Frames int
	Input  [][]float32
	Output [][]float32
}

// ProcessFunc runs on the real-time thread once per cycle. It must not block.
type ProcessFunc func(c *Cycle)

// Device is an opened audio device.
type Device interface {
	SampleRate() int
	OutputChannels() int
	// CurrentTime is the monotonic device clock in seconds
	CurrentTime() float64
	State() State
	Resume(ctx context.Context) error
	OpenInput(ctx context.Context, c Constraints) (InputInfo, error)
	SetProcess(fn ProcessFunc)
	// OnClose registers a handler invoked when the device dies unexpectedly
	OnClose(fn func(error))
	Close() error
}

// Backend opens devices of one kind
type Backend interface {
	Name() string
	Available() bool
	Open(ctx context.Context, opts Options) (Device, error)
	Sources() ([]string, error)
}

// Node is one stage of the monitoring graph. Process transforms block in place.
type Node interface {
	Process(block [][]float32)
}

// Router inserts processing between the monitor gain and the destination.
// A nil Node with a nil error means a direct connection.
type Router interface {
	ConnectInputMonitoring(monitor Node, trackID string, destination Node) (Node, error)
}

// Renderer produces output on the real-time path, mixing into out
type Renderer interface {
	Render(now float64, out [][]float32)
}

// TapFunc observes every input block. The block is only valid during the call.
type TapFunc func(now float64, block [][]float32)

// MonitorMode selects when the live input is heard
type MonitorMode string

const (
	MonitorAuto      MonitorMode = "auto"
	MonitorInputOnly MonitorMode = "input-only"
	MonitorOff       MonitorMode = "off"
)

// ParseMonitorMode accepts the config spellings of a monitor mode
func ParseMonitorMode(s string) (MonitorMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return MonitorAuto, nil
	case "input-only", "input_only", "input":
		return MonitorInputOnly, nil
	case "off", "none":
		return MonitorOff, nil
	}
	return "", fmt.Errorf("unknown monitoring mode %q (use auto, input-only or off)", s)
}

// ShouldMonitor decides whether input is routed to the output
func ShouldMonitor(mode MonitorMode, isPlaying, isRecording bool) bool {
	switch mode {
	case MonitorInputOnly:
		return true
	case MonitorAuto:
		return !isPlaying || isRecording
	}
	return false
}
