package serialmux

import (
	"io"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// PortOpener opens a serial port at path with the given options. The real
// opener wraps go.bug.st/serial; tests and the simulator substitute their own.
type PortOpener func(path string, opts PortOptions) (SerialPorter, error)
