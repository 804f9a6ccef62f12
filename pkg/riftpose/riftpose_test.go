package riftpose

import (
	"testing"
	"time"

	"github.com/hmdtrack/riftpose/internal/geom"
)

func TestNewSessionDefaultConfigHasNoDevicesOrSensors(t *testing.T) {
	sess, err := NewSession(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sess.Close()

	if _, ok := sess.Pose(0); ok {
		t.Error("expected no device 0 in a default session")
	}
	if _, ok := sess.CameraPose(0); ok {
		t.Error("expected no sensor 0 in a default session")
	}
}

func TestSessionStartWithNoCaptureSourcesIsANoop(t *testing.T) {
	sess, err := NewSession(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sess.Close()

	if err := sess.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSetCaptureSourceRejectsUnknownSensor(t *testing.T) {
	sess, err := NewSession(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sess.Close()

	if err := sess.SetCaptureSource(0, nil); err == nil {
		t.Error("expected an error for a sensor id that was never registered")
	}
}

func TestImuUpdateRejectsUnknownDevice(t *testing.T) {
	sess, err := NewSession(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sess.Close()

	if err := sess.ImuUpdate(0, time.Now(), 0, geom.Vec3{}, geom.Vec3{}, geom.Vec3{}); err == nil {
		t.Error("expected an error for a device id that was never registered")
	}
}
