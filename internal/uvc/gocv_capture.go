//go:build cgo

package uvc

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// GocvCapture drives one camera via gocv/OpenCV, converting its blocking
// read loop into the sof_cb/frame_cb pair a sensor expects: sofCb fires
// immediately before the blocking read, frameCb once a grayscale frame
// has landed. The LED pattern phase alternates 0/1 every captured frame,
// matching a device flashing its two-phase blob pattern once per frame.
type GocvCapture struct {
	mu sync.Mutex

	deviceID           int
	width, height, fps int
	ledPhase           int

	webcam *gocv.VideoCapture
	opened bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewGocvCapture creates a capture source for the given V4L2 device
// index and requested resolution/frame rate (0 leaves the driver
// default).
func NewGocvCapture(deviceID, width, height, fps int) *GocvCapture {
	return &GocvCapture{deviceID: deviceID, width: width, height: height, fps: fps}
}

// StreamSetup opens the underlying device.
func (c *GocvCapture) StreamSetup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return fmt.Errorf("uvc: stream already set up")
	}

	webcam, err := gocv.OpenVideoCaptureWithAPI(c.deviceID, gocv.VideoCaptureV4L2)
	if err != nil {
		return fmt.Errorf("uvc: open device %d: %w", c.deviceID, err)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return fmt.Errorf("uvc: device %d not found or unavailable", c.deviceID)
	}

	if c.width > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(c.width))
	}
	if c.height > 0 {
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(c.height))
	}
	if c.fps > 0 {
		webcam.Set(gocv.VideoCaptureFPS, float64(c.fps))
	}

	c.webcam = webcam
	c.opened = true
	return nil
}

// StreamStart launches the capture loop in a background goroutine. It
// returns immediately; sofCb and frameCb are invoked from that goroutine
// until StreamStop is called.
func (c *GocvCapture) StreamStart(sofCb func(time.Time), frameCb func(pixels []byte, w, h, ledPhase int)) error {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return fmt.Errorf("uvc: stream not set up")
	}
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.captureLoop(sofCb, frameCb)
	return nil
}

func (c *GocvCapture) captureLoop(sofCb func(time.Time), frameCb func([]byte, int, int, int)) {
	defer c.wg.Done()

	mat := gocv.NewMat()
	gray := gocv.NewMat()
	defer mat.Close()
	defer gray.Close()

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		if sofCb != nil {
			sofCb(time.Now())
		}

		c.mu.Lock()
		ok := c.webcam.Read(&mat)
		c.mu.Unlock()
		if !ok || mat.Empty() {
			continue
		}

		gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

		c.mu.Lock()
		phase := c.ledPhase
		c.ledPhase = (c.ledPhase + 1) % 2
		c.mu.Unlock()

		frameCb(gray.ToBytes(), gray.Cols(), gray.Rows(), phase)
	}
}

// StreamStartFrameOnly launches the capture loop without driving its own
// start-of-frame callback, for a sensor whose start-of-frame instead
// comes from an external sync source (see ExternalSyncCapture).
func (c *GocvCapture) StreamStartFrameOnly(frameCb func(pixels []byte, w, h, ledPhase int)) error {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return fmt.Errorf("uvc: stream not set up")
	}
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.captureLoop(nil, frameCb)
	return nil
}

// StreamStop signals the capture loop to exit and waits for it to drain.
func (c *GocvCapture) StreamStop() {
	c.mu.Lock()
	stopCh := c.stopCh
	c.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	c.wg.Wait()
}

// Close releases the underlying device. StreamStop must be called first
// if the stream was started.
func (c *GocvCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return nil
	}
	c.opened = false
	if c.webcam != nil {
		return c.webcam.Close()
	}
	return nil
}
