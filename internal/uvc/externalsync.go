//go:build cgo

package uvc

import (
	"context"
	"fmt"
	"time"
)

// ExternalSyncCapture drives a sensor whose start-of-frame trigger comes
// from a genlock controller on a serial line rather than from its own
// USB read loop: frames still arrive from the camera, but sofCb fires
// off the serial port's trigger lines instead of the capture loop's own
// timing.
type ExternalSyncCapture struct {
	gocv   *GocvCapture
	serial *SerialSOF

	cancel context.CancelFunc
}

// NewExternalSyncCapture pairs a V4L2 camera with a serial sync port.
func NewExternalSyncCapture(deviceID, width, height, fps int, syncPort string) (*ExternalSyncCapture, error) {
	sof, err := OpenSerialSOF(syncPort)
	if err != nil {
		return nil, err
	}
	return &ExternalSyncCapture{
		gocv:   NewGocvCapture(deviceID, width, height, fps),
		serial: sof,
	}, nil
}

// StreamSetup opens the underlying camera.
func (c *ExternalSyncCapture) StreamSetup() error {
	return c.gocv.StreamSetup()
}

// StreamStart launches the frame-only capture loop and the serial
// trigger reader, both running until StreamStop is called.
func (c *ExternalSyncCapture) StreamStart(sofCb func(time.Time), frameCb func(pixels []byte, w, h, ledPhase int)) error {
	if err := c.gocv.StreamStartFrameOnly(frameCb); err != nil {
		return fmt.Errorf("uvc: starting frame loop: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.serial.Run(ctx, sofCb)
	return nil
}

// StreamStop stops both the camera read loop and the serial trigger
// reader.
func (c *ExternalSyncCapture) StreamStop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.gocv.StreamStop()
}

// Close releases the camera and serial port.
func (c *ExternalSyncCapture) Close() error {
	err1 := c.gocv.Close()
	err2 := c.serial.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
