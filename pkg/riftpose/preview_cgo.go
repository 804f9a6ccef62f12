//go:build cgo

package riftpose

import (
	"github.com/hmdtrack/riftpose/internal/sensor"
	"github.com/hmdtrack/riftpose/internal/telemetry"
)

// newPreviewWindow opens a gocv debug window for the given sensor id.
func newPreviewWindow(sensorID int) (sensor.Preview, bool) {
	return telemetry.NewPreviewWindow(sensorID), true
}
