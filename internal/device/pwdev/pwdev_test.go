package pwdev

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/jamstudio/internal/device"
)

const pwLinkOutput = `alsa_input.usb-Focusrite:capture_FL
  |-> jamstudio-capture:input_FL
alsa_input.usb-Focusrite:capture_FR
Chrome:output_FL
Chrome:output_FL
Chrome-2:output_FL
jamstudio-capture:input_FL
jamstudio-capture:input_FR
`

func stubPwLink(t *testing.T, output string) *[][]string {
	t.Helper()
	var calls [][]string
	prev := runPwLink
	runPwLink = func(args ...string) ([]byte, error) {
		calls = append(calls, args)
		if len(args) == 1 && strings.HasPrefix(args[0], "-") {
			return []byte(output), nil
		}
		return nil, nil
	}
	t.Cleanup(func() { runPwLink = prev })
	return &calls
}

func TestParsePorts(t *testing.T) {
	ports := parsePorts("Output ports:\n" + pwLinkOutput + "\n")
	if len(ports) != 7 {
		t.Fatalf("parsePorts() = %d ports %v, want 7", len(ports), ports)
	}
	if slices.ContainsFunc(ports, func(p string) bool { return strings.Contains(p, "|->") }) {
		t.Errorf("link lines were kept: %v", ports)
	}
}

func TestValidatePort(t *testing.T) {
	ports := parsePorts(pwLinkOutput)

	tests := []struct {
		port    string
		wantErr string
	}{
		{"alsa_input.usb-Focusrite:capture_FL", ""},
		{"Chrome-2:output_FL", ""},
		{"nonexistent:port", "port not found"},
		{"Chrome:output_FL", "duplicate sources detected"},
	}
	for _, tt := range tests {
		err := validatePortIn(tt.port, ports)
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("validatePortIn(%q) = %v", tt.port, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("validatePortIn(%q) = %v, want %q", tt.port, err, tt.wantErr)
		}
	}
}

func TestValidatePort_UsesPwLink(t *testing.T) {
	calls := stubPwLink(t, pwLinkOutput)
	if err := NewPipeWire().ValidatePort("alsa_input.usb-Focusrite:capture_FR"); err != nil {
		t.Errorf("ValidatePort() = %v", err)
	}
	if len(*calls) != 1 || (*calls)[0][0] != "-io" {
		t.Errorf("pw-link calls = %v", *calls)
	}
}

func TestFindDuplicates(t *testing.T) {
	dups := findDuplicates("Chrome:output_FL", parsePorts(pwLinkOutput))
	if len(dups) != 2 {
		t.Errorf("findDuplicates() = %v, want the two identical entries", dups)
	}
}

func TestIsEphemeralPort(t *testing.T) {
	if !isEphemeralPort("Firefox:output_FR") || !isEphemeralPort("spotify:output_FL") {
		t.Error("browser and streaming ports should be ephemeral")
	}
	if isEphemeralPort("alsa_input.usb-Focusrite:capture_FL") {
		t.Error("hardware port reported as ephemeral")
	}
}

func TestConnectPortsWithRetry(t *testing.T) {
	calls := stubPwLink(t, pwLinkOutput)
	pw := &PipeWire{}

	if err := pw.ConnectPortsWithRetry("alsa_input.usb-Focusrite:capture_FR", "jamstudio-capture:input_FR"); err != nil {
		t.Fatalf("ConnectPortsWithRetry() = %v", err)
	}
	last := (*calls)[len(*calls)-1]
	if !slices.Equal(last, []string{"alsa_input.usb-Focusrite:capture_FR", "jamstudio-capture:input_FR"}) {
		t.Errorf("link call = %v", last)
	}

	*calls = nil
	if err := pw.ConnectPortsWithRetry("missing:capture_1", "jamstudio-capture:input_FL"); err == nil {
		t.Error("ConnectPortsWithRetry() succeeded for a missing source")
	}
	if len(*calls) != 5 {
		t.Errorf("hardware source tried %d times, want 5", len(*calls))
	}
}

func TestCaptureTarget(t *testing.T) {
	tests := []struct {
		sources   []string
		target    string
		linkCount int
	}{
		{nil, "auto", 0},
		{[]string{"alsa_input.usb-Focusrite"}, "alsa_input.usb-Focusrite", 0},
		{[]string{"system:capture_1", "system:capture_2"}, "0", 2},
	}
	for _, tt := range tests {
		target, links := captureTarget(tt.sources)
		if target != tt.target || len(links) != tt.linkCount {
			t.Errorf("captureTarget(%v) = %q, %v", tt.sources, target, links)
		}
	}

	if got := capturePorts(1); !slices.Equal(got, []string{"jamstudio-capture:input_MONO"}) {
		t.Errorf("capturePorts(1) = %v", got)
	}
}

func TestStreamArgs(t *testing.T) {
	args := streamArgs(device.Options{SampleRate: 48000, BufferSize: 256}, 2, playbackNode, "auto")
	joined := strings.Join(args, " ")
	for _, want := range []string{"--format f32", "--rate 48000", "--channels 2", "--latency 256/48000", "node.name = jamstudio-playback", "--target auto"} {
		if !strings.Contains(joined, want) {
			t.Errorf("streamArgs() = %q, missing %q", joined, want)
		}
	}
	if args[len(args)-1] != "-" {
		t.Errorf("stream must use stdio, got %q", args[len(args)-1])
	}
}

func TestDevice_ProcessLoop(t *testing.T) {
	outR, outW := io.Pipe()
	inR, inW := io.Pipe()

	d := newDevice(device.Options{SampleRate: 1000, BufferSize: 4, OutputChannels: 2}, outW)
	d.attachInput(inR, 1)
	d.SetProcess(func(c *device.Cycle) {
		for ch := range c.Output {
			for i, v := range c.Input[0] {
				c.Output[ch][i] = v * 0.5
			}
		}
	})

	lost := make(chan error, 1)
	d.OnClose(func(err error) { lost <- err })

	if err := d.Resume(context.Background()); err != nil {
		t.Fatal(err)
	}

	go func() {
		raw := make([]byte, 4*4)
		for i := range 4 {
			binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(0.2))
		}
		inW.Write(raw)
	}()

	raw := make([]byte, 4*2*4)
	if _, err := io.ReadFull(outR, raw); err != nil {
		t.Fatal(err)
	}
	block := [][]float32{make([]float32, 4), make([]float32, 4)}
	deinterleave(raw, block)
	for ch := range block {
		for i, v := range block[ch] {
			if math.Abs(float64(v)-0.1) > 1e-6 {
				t.Fatalf("output[%d][%d] = %v, want 0.1", ch, i, v)
			}
		}
	}
	if got := d.CurrentTime(); got != 0.004 {
		t.Errorf("CurrentTime() = %v, want 0.004", got)
	}

	// capture process exits
	inW.Close()
	select {
	case err := <-lost:
		if err == nil || !strings.Contains(err.Error(), "capture") {
			t.Errorf("close handler error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close handler not called")
	}
	if d.State() != device.StateClosed {
		t.Errorf("State() = %s, want CLOSED", d.State())
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if _, err := outR.Read(raw); !errors.Is(err, io.EOF) {
		t.Errorf("playback pipe read after Close = %v, want EOF", err)
	}
}
