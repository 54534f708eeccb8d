package pwdev

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// runPwLink runs pw-link with args and returns its stdout
var runPwLink = func(args ...string) ([]byte, error) {
	return exec.Command("pw-link", args...).Output()
}

// PipeWire manages PipeWire/JACK port operations through pw-link
type PipeWire struct {
	// retry delays, shortened in tests
	hardwareDelay  time.Duration
	ephemeralDelay time.Duration
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{hardwareDelay: 500 * time.Millisecond, ephemeralDelay: time.Second}
}

// ListPorts returns all input and output ports in the graph
func (pw *PipeWire) ListPorts() ([]string, error) {
	return pw.list("-io")
}

// ListSourcePorts returns the output ports, the ones capture can link from
func (pw *PipeWire) ListSourcePorts() ([]string, error) {
	return pw.list("-o")
}

func (pw *PipeWire) list(flag string) ([]string, error) {
	output, err := runPwLink(flag)
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePorts(string(output)), nil
}

// parsePorts extracts one port name per line, skipping section headers and
// the indented link lines pw-link prints under a port
func parsePorts(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Input ports:") || strings.HasPrefix(line, "Output ports:") {
			continue
		}
		ports = append(ports, line)
	}
	return ports
}

// ValidatePort checks that a port exists exactly once in the graph
func (pw *PipeWire) ValidatePort(portName string) error {
	ports, err := pw.ListPorts()
	if err != nil {
		return err
	}
	return validatePortIn(portName, ports)
}

func validatePortIn(portName string, ports []string) error {
	duplicates := findDuplicates(portName, ports)
	if len(duplicates) == 0 {
		return fmt.Errorf("port not found: %s", portName)
	}
	if len(duplicates) > 1 {
		return fmt.Errorf("duplicate sources detected for '%s': %v. Please close conflicting applications", portName, duplicates)
	}
	return nil
}

// findDuplicates returns every port with exactly portName
func findDuplicates(portName string, ports []string) []string {
	var matches []string
	for _, port := range ports {
		if port == portName {
			matches = append(matches, port)
		}
	}
	return matches
}

// ConnectPortsWithRetry links two ports, waiting for the source to appear
func (pw *PipeWire) ConnectPortsWithRetry(sourcePort, destPort string) error {
	maxRetries, retryDelay := 5, pw.hardwareDelay
	if isEphemeralPort(sourcePort) {
		// Browsers and streaming apps may take longer to appear
		maxRetries, retryDelay = 15, pw.ephemeralDelay
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		ports, err := pw.ListPorts()
		if err == nil && len(findDuplicates(sourcePort, ports)) > 0 && len(findDuplicates(destPort, ports)) > 0 {
			_, err := runPwLink(sourcePort, destPort)
			if err == nil {
				slog.Debug("Connected ports", "source", sourcePort, "dest", destPort, "attempt", attempt)
				return nil
			}
			slog.Debug("Connection attempt failed", "source", sourcePort, "dest", destPort, "attempt", attempt, "error", err)
		} else {
			slog.Debug("Ports not yet available", "source", sourcePort, "dest", destPort, "attempt", attempt)
		}

		if attempt < maxRetries {
			time.Sleep(retryDelay)
		}
	}
	return fmt.Errorf("failed to connect %s to %s after %d attempts", sourcePort, destPort, maxRetries)
}

// isEphemeralPort reports ports of applications that may appear late
func isEphemeralPort(portName string) bool {
	lowerPort := strings.ToLower(portName)
	for _, app := range []string{
		"chrome", "firefox", "spotify", "discord", "steam",
		"vlc", "mpv", "zoom", "teams", "slack", "wire",
	} {
		if strings.Contains(lowerPort, app) {
			return true
		}
	}
	return false
}
