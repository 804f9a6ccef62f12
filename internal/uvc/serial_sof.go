package uvc

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialSOF drives the start-of-frame callback from an external GPIO
// sync line instead of the USB stream's own timing, for a sensor whose
// capture is genlocked to another device. Each line read from the port
// is treated as one synchronized flash trigger.
type SerialSOF struct {
	port serial.Port
}

// OpenSerialSOF opens portName at a fixed 115200-8-N-1 configuration,
// matching the sync controllers this is built against.
func OpenSerialSOF(portName string) (*SerialSOF, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("uvc: open sync port %s: %w", portName, err)
	}
	return &SerialSOF{port: port}, nil
}

// Run reads one trigger line at a time and invokes sofCb with the local
// time the line was observed, until ctx is cancelled or the port errors.
func (s *SerialSOF) Run(ctx context.Context, sofCb func(time.Time)) error {
	scan := bufio.NewScanner(s.port)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if !scan.Scan() {
			return scan.Err()
		}
		sofCb(time.Now())
	}
}

// Close releases the serial port.
func (s *SerialSOF) Close() error {
	return s.port.Close()
}
