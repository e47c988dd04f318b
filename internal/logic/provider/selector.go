package provider

import (
	"fmt"

	"github.com/cjeanneret/StillGo/internal/hw/camera"
)

// Selector picks a device by lens facing.
type Selector struct {
	Facing camera.Facing
}

var (
	DefaultBackCamera  = Selector{Facing: camera.FacingBack}
	DefaultFrontCamera = Selector{Facing: camera.FacingFront}
)

// Select returns the first device with the requested facing.
func (s Selector) Select(devices []camera.Device) (camera.Device, error) {
	for _, d := range devices {
		if d.Info().Facing == s.Facing {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: no %s camera among %d device(s)", ErrNoCamera, s.Facing, len(devices))
}
