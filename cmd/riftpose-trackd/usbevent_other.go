//go:build !linux

package main

// usbEventThread is a no-op outside Linux: the eventfd/epoll completion
// signal it watches on Linux has no portable equivalent, and shutdown
// still proceeds correctly via the signal channel alone.
type usbEventThread struct{}

func startUSBEventThread() (*usbEventThread, error) {
	return &usbEventThread{}, nil
}

func (t *usbEventThread) stop() {}
