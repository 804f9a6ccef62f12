//go:build cgo

package telemetry

import (
	"fmt"
	"image"
	"image/color"
	"runtime"
	"sync"

	"gocv.io/x/gocv"

	"github.com/hmdtrack/riftpose/internal/blobwatch"
)

// PreviewWindow is a debug window overlaying labelled blobs on the raw
// grayscale capture, one window per sensor. OpenCV's UI calls must run
// on a single dedicated OS thread, so the window owns its own goroutine.
type PreviewWindow struct {
	window  *gocv.Window
	frameCh chan previewFrame
	closeCh chan struct{}
	doneCh  chan struct{}
	once    sync.Once
	ready   chan struct{}
}

type previewFrame struct {
	pixels []byte
	w, h   int
	blobs  []blobwatch.Blob
}

// NewPreviewWindow creates a debug window titled for the given sensor id.
func NewPreviewWindow(sensorID int) *PreviewWindow {
	p := &PreviewWindow{
		frameCh: make(chan previewFrame, 1),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
		ready:   make(chan struct{}),
	}
	go p.loop(fmt.Sprintf("riftpose sensor %d", sensorID))
	<-p.ready
	return p
}

func (p *PreviewWindow) loop(title string) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	p.window = gocv.NewWindow(title)
	close(p.ready)

	for {
		select {
		case f := <-p.frameCh:
			p.render(f)
		case <-p.closeCh:
			p.window.Close()
			close(p.doneCh)
			return
		}
	}
}

func (p *PreviewWindow) render(f previewFrame) {
	gray, err := gocv.NewMatFromBytes(f.h, f.w, gocv.MatTypeCV8UC1, f.pixels)
	if err != nil {
		return
	}
	defer gray.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(gray, &bgr, gocv.ColorGrayToBGR)

	for _, b := range f.blobs {
		c := color.RGBA{R: 80, G: 80, B: 80, A: 255}
		if b.LedID != blobwatch.LEDInvalidID {
			c = color.RGBA{R: 0, G: 255, B: 0, A: 255}
		}
		center := image.Pt(int(b.X), int(b.Y))
		gocv.Circle(&bgr, center, 4, c, 1)
	}

	p.window.IMShow(bgr)
	p.window.WaitKey(1)
}

// Show displays a captured frame with its blob observations, if any.
// Non-blocking: a slow preview drops frames rather than stalling the
// sensor that produced them.
func (p *PreviewWindow) Show(pixels []byte, w, h int, obs *blobwatch.Observation) {
	var blobs []blobwatch.Blob
	if obs != nil {
		blobs = obs.Blobs
	}
	select {
	case p.frameCh <- previewFrame{pixels: pixels, w: w, h: h, blobs: blobs}:
	default:
	}
}

// Close closes the window and releases its resources.
func (p *PreviewWindow) Close() error {
	p.once.Do(func() {
		close(p.closeCh)
		<-p.doneCh
	})
	return nil
}
