// Package uvc provides capture-hardware adapters for the sensor
// package's start-of-frame/frame-captured callback pair: a gocv/OpenCV
// backed capture loop for the ordinary USB case, a serial external-sync
// trigger for genlocked rigs, and an epoll-based completion poller for
// the USB event thread's shutdown signal on Linux.
package uvc
