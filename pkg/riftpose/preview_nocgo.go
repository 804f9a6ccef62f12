//go:build !cgo

package riftpose

import "github.com/hmdtrack/riftpose/internal/sensor"

// newPreviewWindow is a no-op on a cgo-free build: preview stays
// disabled instead of failing session setup.
func newPreviewWindow(sensorID int) (sensor.Preview, bool) {
	return nil, false
}
