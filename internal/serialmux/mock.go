package serialmux

import (
	"bytes"
	"errors"
	"sync"
)

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort implements SerialPorter with configurable behaviour for
// testing: injected read/write errors, blocking reads and captured writes.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by every Write call while set
	WriteError error

	// ShortWrite makes Write report one byte fewer than it was given
	ShortWrite bool

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// WriteCalls records the number of Write calls
	WriteCalls int

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	readCond *sync.Cond
}

// NewTestableSerialPort creates a TestableSerialPort with blocking reads, the
// way a real serial port behaves when the device is quiet.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
		BlockReads:  true,
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// Read reads from the read buffer.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		if t.Closed {
			return 0, errPortClosed
		}
		if t.ReadError != nil {
			err := t.ReadError
			t.ReadError = nil
			return 0, err
		}
		if t.ReadBuffer.Len() > 0 || !t.BlockReads {
			return t.ReadBuffer.Read(p)
		}
		t.readCond.Wait()
	}
}

// Write appends to the write buffer unless an error is injected.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++

	if t.Closed {
		return 0, errPortClosed
	}
	if t.WriteError != nil {
		return 0, t.WriteError
	}
	if t.ShortWrite && len(p) > 0 {
		return t.WriteBuffer.Write(p[:len(p)-1])
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed and wakes blocked readers.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// FailReads makes the next Read return err, waking a blocked reader.
func (t *TestableSerialPort) FailReads(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadError = err
	t.readCond.Broadcast()
}

// SetWriteError injects (or with nil clears) a write failure.
func (t *TestableSerialPort) SetWriteError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.WriteError = err
}

// GetWrittenData returns a copy of all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return bytes.Clone(t.WriteBuffer.Bytes())
}

// IsClosed reports whether Close was called.
func (t *TestableSerialPort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}

// MockPortOpener records Open calls and hands out preconfigured ports in
// order, so reconnect paths can be tested.
type MockPortOpener struct {
	mu sync.Mutex

	// Ports are returned by successive Open calls; the last one repeats.
	Ports []SerialPorter

	// Error is returned by Open if set
	Error error

	// OpenCalls records the path of every Open call
	OpenCalls []string
}

// NewMockPortOpener creates a MockPortOpener handing out ports.
func NewMockPortOpener(ports ...SerialPorter) *MockPortOpener {
	return &MockPortOpener{Ports: ports}
}

// Open implements PortOpener.
func (f *MockPortOpener) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.OpenCalls)
	f.OpenCalls = append(f.OpenCalls, path)
	if f.Error != nil {
		return nil, f.Error
	}
	if len(f.Ports) == 0 {
		return nil, errors.New("no mock ports configured")
	}
	return f.Ports[min(n, len(f.Ports)-1)], nil
}

// Calls returns the number of Open calls.
func (f *MockPortOpener) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.OpenCalls)
}
