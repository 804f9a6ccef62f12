package pipeline

// Pool owns a sensor's capture frames and the free/fast/long queues they
// cycle through. All operations assume the caller holds the sensor lock;
// Pool itself does no locking.
type Pool struct {
	frames [NumCaptureBuffers]Frame

	capture FrameQueue // free list: frames available to start a new capture
	Fast    FrameQueue
	Long    FrameQueue

	curCapture *Frame

	DroppedFrames int
}

// NewPool allocates the four frames and seeds the free list.
func NewPool() *Pool {
	p := &Pool{}
	for i := range p.frames {
		p.frames[i].ID = i
		p.capture.Push(&p.frames[i])
	}
	return p
}

// AcquireForCapture implements start-of-frame frame selection: pop a free
// frame; if none is free, rescue the most recently queued frame of the
// fast queue via Rewind and count a dropped frame; if the previous capture was never
// delivered (curCapture still set), reuse that same frame and report it
// so the caller can emit a synthetic release for the stale start.
func (p *Pool) AcquireForCapture() (frame *Frame, staleFrame *Frame, dropped bool) {
	if p.curCapture != nil {
		stale := p.curCapture
		return stale, stale, false
	}

	if f := p.capture.Pop(); f != nil {
		f.Reset()
		p.curCapture = f
		return f, nil, false
	}

	if f := p.Fast.Rewind(); f != nil {
		f.Reset()
		p.DroppedFrames++
		p.curCapture = f
		return f, nil, true
	}

	return nil, nil, false
}

// CompleteCapture clears curCapture, asserting that the delivered frame
// matches the one announced at start-of-frame.
func (p *Pool) CompleteCapture(f *Frame) {
	if p.curCapture != f {
		panic("pipeline: frame-captured delivered a frame other than cur_capture_frame")
	}
	p.curCapture = nil
}

// PushFast enqueues f, the fast worker's input.
func (p *Pool) PushFast(f *Frame) {
	p.Fast.Push(f)
}

// PushLong enqueues f for deep analysis, first rewinding and releasing
// any older unprocessed frame already queued: only one pending plus one
// active long frame is allowed at a time, and the newest wins.
func (p *Pool) PushLong(f *Frame) *Frame {
	var bumped *Frame
	if old := p.Long.Rewind(); old != nil {
		bumped = old
	}
	p.Long.Push(f)
	return bumped
}

// Release returns f to the free list.
func (p *Pool) Release(f *Frame) {
	f.Reset()
	p.capture.Push(f)
}

// CurCapture returns the frame currently bound to an in-flight capture,
// or nil.
func (p *Pool) CurCapture() *Frame {
	return p.curCapture
}
