//go:build !linux || !cgo

package camera

import "fmt"

// NewV4L2 is a stub for platforms without Video4Linux.
func NewV4L2(s Settings, format Format) (Device, error) {
	return nil, fmt.Errorf("v4l2 camera %s not available on this platform", s.ID)
}
