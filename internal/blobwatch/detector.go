package blobwatch

import "sync"

// brightnessThreshold is the minimum grayscale value considered part of
// an LED blob.
const brightnessThreshold = 200

// Detector extracts blobs from grayscale frames. It is a simple
// threshold-and-flood-fill connected-component labeller: adequate to
// produce test fixtures and exercise the correspondence driver above it,
// standing in for a production binary-morphology detector.
type Detector struct {
	mu   sync.Mutex
	pool []*Observation

	// lastLabels tracks the last accepted led_id per blob centroid bucket so
	// that a freshly detected blob can be stamped with PrevLedID, the way
	// a real tracker carries labels frame-to-frame.
	lastLabels map[[2]int]int
}

// NewDetector creates an empty detector.
func NewDetector() *Detector {
	return &Detector{lastLabels: make(map[[2]int]int)}
}

// Process extracts blobs from a grayscale frame. ledPhase selects which
// subset of LEDs are lit this exposure in a real pattern-encoded system;
// this reference detector ignores it since it has no pattern decoder.
func (d *Detector) Process(pixels []byte, w, h int, ledPhase int) *Observation {
	blobs := findBlobs(pixels, w, h)

	d.mu.Lock()
	for i := range blobs {
		key := bucketKey(blobs[i].X, blobs[i].Y)
		blobs[i].PrevLedID = d.prevLabel(key)
	}
	d.mu.Unlock()

	obs := d.acquire()
	obs.Blobs = blobs
	return obs
}

func (d *Detector) prevLabel(key [2]int) int {
	if id, ok := d.lastLabels[key]; ok {
		return id
	}
	return LEDInvalidID
}

func bucketKey(x, y float64) [2]int {
	return [2]int{int(x) / 4, int(y) / 4}
}

// UpdateLabels publishes refined blob labels back into detector state so
// the next frame's PrevLedID reflects them. Only blobs belonging to
// deviceID are recorded, matching the per-device publish step the
// correspondence driver performs under the sensor lock.
func (d *Detector) UpdateLabels(obs *Observation, deviceID int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range obs.Blobs {
		if LedObjectID(b.LedID) != deviceID {
			continue
		}
		d.lastLabels[bucketKey(b.X, b.Y)] = b.LedID
	}
}

func (d *Detector) acquire() *Observation {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := len(d.pool); n > 0 {
		obs := d.pool[n-1]
		d.pool = d.pool[:n-1]
		obs.detector = d
		return obs
	}
	return &Observation{detector: d}
}

func (d *Detector) recycle(obs *Observation) {
	obs.Blobs = nil
	d.mu.Lock()
	d.pool = append(d.pool, obs)
	d.mu.Unlock()
}

// findBlobs performs a flood-fill connected-components pass over pixels
// at or above brightnessThreshold.
func findBlobs(pixels []byte, w, h int) []Blob {
	if w <= 0 || h <= 0 || len(pixels) < w*h {
		return nil
	}
	visited := make([]bool, w*h)
	var blobs []Blob

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if visited[idx] || pixels[idx] < brightnessThreshold {
				continue
			}
			minX, minY, maxX, maxY := x, y, x, y
			stack := [][2]int{{x, y}}
			visited[idx] = true
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				px, py := p[0], p[1]
				if px < minX {
					minX = px
				}
				if px > maxX {
					maxX = px
				}
				if py < minY {
					minY = py
				}
				if py > maxY {
					maxY = py
				}
				for _, d := range [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
					nx, ny := px+d[0], py+d[1]
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					nidx := ny*w + nx
					if visited[nidx] || pixels[nidx] < brightnessThreshold {
						continue
					}
					visited[nidx] = true
					stack = append(stack, [2]int{nx, ny})
				}
			}
			blobs = append(blobs, Blob{
				X:     float64(minX+maxX) / 2,
				Y:     float64(minY+maxY) / 2,
				W:     float64(maxX - minX + 1),
				H:     float64(maxY - minY + 1),
				LedID: LEDInvalidID,
			})
		}
	}
	return blobs
}
