//go:build linux

package main

import (
	"log"

	"github.com/hmdtrack/riftpose/internal/uvc"
)

// usbEventThread watches for process shutdown on a dedicated goroutine
// the way the embedded firmware's USB event thread polls its
// usb_completed flag, using an eventfd/epoll pair instead of a shared
// volatile flag.
type usbEventThread struct {
	poller *uvc.CompletionPoller
}

func startUSBEventThread() (*usbEventThread, error) {
	p, err := uvc.NewCompletionPoller()
	if err != nil {
		return nil, err
	}
	t := &usbEventThread{poller: p}
	go t.loop()
	return t, nil
}

func (t *usbEventThread) loop() {
	for {
		completed, err := t.poller.Wait()
		if err != nil {
			return
		}
		if completed {
			return
		}
	}
}

func (t *usbEventThread) stop() {
	if err := t.poller.SignalCompleted(); err != nil {
		log.Printf("usb event thread: signal completed: %v", err)
	}
	if err := t.poller.Close(); err != nil {
		log.Printf("usb event thread: close: %v", err)
	}
}
