package headless

import (
	"context"

	"github.com/audiolibrelab/jamstudio/internal/device"
)

func init() {
	device.Register(&Backend{})
}

// Backend opens headless devices. The most recently opened device is kept
// so tests and dry runs can drive it.
type Backend struct {
	Config Config

	last *Device
}

func (b *Backend) Name() string    { return device.HeadlessName }
func (b *Backend) Available() bool { return true }

func (b *Backend) Open(ctx context.Context, opts device.Options) (device.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.last = New(opts, b.Config)
	return b.last, nil
}

func (b *Backend) Sources() ([]string, error) {
	return []string{"headless-input"}, nil
}

// Device returns the most recently opened device, or nil
func (b *Backend) Device() *Device { return b.last }
