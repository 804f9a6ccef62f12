//go:build linux

package uvc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CompletionPoller watches a simulated USB event file descriptor
// (an eventfd written to by the capture loop on shutdown) with epoll,
// waking at most once every 100 ms so the USB event thread can check the
// usb_completed flag without a busy loop.
type CompletionPoller struct {
	epfd    int
	eventfd int
}

// NewCompletionPoller creates the eventfd/epoll pair used to signal
// capture-thread shutdown.
func NewCompletionPoller() (*CompletionPoller, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("uvc: create eventfd: %w", err)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(efd)
		return nil, fmt.Errorf("uvc: create epoll: %w", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(efd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &ev); err != nil {
		unix.Close(efd)
		unix.Close(epfd)
		return nil, fmt.Errorf("uvc: register eventfd with epoll: %w", err)
	}

	return &CompletionPoller{epfd: epfd, eventfd: efd}, nil
}

// SignalCompleted marks the USB event thread as done; the next Wait
// returns true.
func (p *CompletionPoller) SignalCompleted() error {
	return unix.Eventfd_write(p.eventfd, 1)
}

// Wait blocks up to 100 ms for a completion signal. It returns true if
// the signal arrived, false on a plain timeout (the normal, repeated
// case while the USB thread is still running).
func (p *CompletionPoller) Wait() (completed bool, err error) {
	var events [1]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, events[:], 100)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, fmt.Errorf("uvc: epoll wait: %w", err)
	}
	return n > 0, nil
}

// Close releases the eventfd and epoll file descriptors.
func (p *CompletionPoller) Close() error {
	err1 := unix.Close(p.eventfd)
	err2 := unix.Close(p.epfd)
	if err1 != nil {
		return err1
	}
	return err2
}
