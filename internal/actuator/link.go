// Package actuator connects the control loop to the physical actuator: a
// non-blocking Link over a serial mux and an in-process Simulator that
// behaves like the device firmware.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/crossing.signal/internal/monitoring"
	"github.com/banshee-data/crossing.signal/internal/protocol"
	"github.com/banshee-data/crossing.signal/internal/serialmux"
)

// ErrDisconnected is returned by Write while the link is down.
var ErrDisconnected = errors.New("actuator link disconnected")

// DefaultLineBuffer is the number of received lines held between control
// ticks. Lines arriving while the buffer is full are dropped.
const DefaultLineBuffer = 256

// Dialer opens a fresh serial mux for Reconnect.
type Dialer func() (serialmux.SerialMuxInterface, error)

// EventKind classifies link state changes.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventLineDropped  EventKind = "line_dropped"
)

// Event is a link state change, reported through LinkConfig.OnEvent.
type Event struct {
	Kind   EventKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Status is a point-in-time view of the link for operators.
type Status struct {
	Connected  bool      `json:"connected"`
	Since      time.Time `json:"since"`
	LastError  string    `json:"last_error,omitempty"`
	Reconnects int       `json:"reconnects"`
	Dropped    int64     `json:"dropped_lines"`
	Buffered   int       `json:"buffered_lines"`
}

// LinkConfig configures a Link.
type LinkConfig struct {
	// LineBuffer bounds the received-line queue; DefaultLineBuffer if zero.
	LineBuffer int
	// Dial reopens the port on Reconnect. Without it Reconnect fails.
	Dial Dialer
	// OnEvent, when set, observes state changes. It must not block.
	OnEvent func(Event)
}

// Link is the transport seen by the control loop. Reads never block: a pump
// goroutine moves lines from the mux subscription into a bounded queue that
// TryRead drains. Any read or write failure marks the link disconnected and
// further writes are skipped until Reconnect succeeds.
type Link struct {
	cfg   LinkConfig
	lines chan string

	mu         sync.Mutex
	mux        serialmux.SerialMuxInterface
	generation int
	parent     context.Context
	cancel     context.CancelFunc
	// down is set while mux is a placeholder for a port that never opened.
	down       bool
	connected  bool
	since      time.Time
	lastErr    error
	reconnects int
	resync     bool
	dropped    int64
}

// NewLink wraps mux. Call Start to begin reading.
func NewLink(mux serialmux.SerialMuxInterface, cfg LinkConfig) *Link {
	if cfg.LineBuffer <= 0 {
		cfg.LineBuffer = DefaultLineBuffer
	}
	return &Link{
		cfg:   cfg,
		lines: make(chan string, cfg.LineBuffer),
		mux:   mux,
	}
}

// NewDisconnectedLink returns a link whose port could not be opened. It
// behaves like a link that has just failed: writes return ErrDisconnected and
// nothing is read until Reconnect succeeds. Mux returns a DisabledSerialMux
// in the meantime.
func NewDisconnectedLink(cfg LinkConfig, cause error) *Link {
	if cause == nil {
		cause = errors.New("port not open")
	}
	l := NewLink(serialmux.NewDisabledSerialMux(), cfg)
	l.down = true
	l.lastErr = cause
	return l
}

// Start subscribes to the mux, runs its monitor and marks the link connected.
// The goroutines stop when ctx is done or the port fails. A link built by
// NewDisconnectedLink only reports its disconnection; ctx is kept for a later
// Reconnect.
func (l *Link) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.parent = ctx
	if l.down {
		l.since = time.Now()
		monitoring.Logf("actuator link disconnected: %v", l.lastErr)
		l.emit(Event{Kind: EventDisconnected, Detail: l.lastErr.Error(), At: l.since})
		return
	}
	l.startLocked(ctx)
}

func (l *Link) startLocked(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	l.generation++
	gen := l.generation
	mux := l.mux

	id, sub := mux.Subscribe()
	go l.pump(sub)
	go func() {
		err := mux.Monitor(ctx)
		mux.Unsubscribe(id)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("monitor stopped")
		}
		l.fail(gen, fmt.Errorf("read: %w", err))
	}()

	l.connected = true
	l.since = time.Now()
	l.lastErr = nil
	l.emit(Event{Kind: EventConnected, At: l.since})
}

func (l *Link) pump(sub <-chan string) {
	for line := range sub {
		select {
		case l.lines <- line:
		default:
			l.mu.Lock()
			l.dropped++
			l.mu.Unlock()
			monitoring.LinkEvents.Add(string(EventLineDropped), 1)
			monitoring.Debugf("actuator: line buffer full, dropped %q", line)
		}
	}
}

// fail marks the link down if gen is still the active generation.
func (l *Link) fail(gen int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.generation || !l.connected {
		return
	}
	l.connected = false
	l.since = time.Now()
	l.lastErr = err
	monitoring.Logf("actuator link disconnected: %v", err)
	l.emit(Event{Kind: EventDisconnected, Detail: err.Error(), At: l.since})
}

func (l *Link) emit(ev Event) {
	monitoring.LinkEvents.Add(string(ev.Kind), 1)
	if l.cfg.OnEvent != nil {
		l.cfg.OnEvent(ev)
	}
}

// TryRead returns the next buffered line without blocking. While the link
// is disconnected it reports nothing and discards anything still queued.
func (l *Link) TryRead() (string, bool) {
	if !l.Connected() {
		l.discardQueued()
		return "", false
	}
	select {
	case line := <-l.lines:
		return line, true
	default:
		return "", false
	}
}

func (l *Link) discardQueued() {
	for {
		select {
		case <-l.lines:
		default:
			return
		}
	}
}

// Write encodes and transmits m. While disconnected it returns
// ErrDisconnected without touching the port. A failed write disconnects the
// link.
func (l *Link) Write(m protocol.Message) error {
	l.mu.Lock()
	mux, gen, connected := l.mux, l.generation, l.connected
	l.mu.Unlock()
	if !connected {
		return ErrDisconnected
	}
	if err := mux.SendCommand(protocol.Encode(m)); err != nil {
		err = fmt.Errorf("write %s: %w", m.Tag(), err)
		l.fail(gen, err)
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
	return nil
}

// Connected reports whether the link is up.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// TakeResync reports, once, that the link came back up and the actuator's
// outputs must be re-sent.
func (l *Link) TakeResync() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.resync
	l.resync = false
	return r
}

// Status returns a snapshot of the link state.
func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Status{
		Connected:  l.connected,
		Since:      l.since,
		Reconnects: l.reconnects,
		Dropped:    l.dropped,
		Buffered:   len(l.lines),
	}
	if l.lastErr != nil {
		s.LastError = l.lastErr.Error()
	}
	return s
}

// Mux returns the current serial mux, e.g. to mount its admin routes.
func (l *Link) Mux() serialmux.SerialMuxInterface {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mux
}

// Reconnect closes the current port, dials a new one, drives it to the
// fail-safe state and restarts reading. On success the next TakeResync
// returns true. ctx only bounds the call; the new reader lives as long as the
// context given to Start.
func (l *Link) Reconnect(ctx context.Context) error {
	if l.cfg.Dial == nil {
		return errors.New("reconnect not supported: no dialer configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
	}
	// Invalidate the old generation before closing so its monitor's error
	// is ignored.
	l.generation++
	if err := l.mux.Close(); err != nil {
		monitoring.Logf("actuator: closing previous port: %v", err)
	}

	mux, err := l.cfg.Dial()
	if err != nil {
		l.connected = false
		l.lastErr = fmt.Errorf("dial: %w", err)
		return l.lastErr
	}
	if err := mux.Initialise(); err != nil {
		mux.Close()
		l.connected = false
		l.lastErr = fmt.Errorf("initialise: %w", err)
		return l.lastErr
	}

	l.mux = mux
	l.down = false
	l.reconnects++
	l.resync = true
	parent := l.parent
	if parent == nil {
		parent = context.Background()
	}
	l.startLocked(parent)
	return nil
}

// Close stops reading and closes the port.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
	l.generation++
	l.connected = false
	return l.mux.Close()
}

// AttachAdminRoutes mounts the serial debug pages. They follow the link
// across reconnects instead of holding on to the port open at startup.
func (l *Link) AttachAdminRoutes(mux *http.ServeMux) {
	serialmux.AttachAdminRoutes(mux, liveMux{l})
}

// liveMux forwards every call to the mux the link currently holds.
type liveMux struct{ l *Link }

func (m liveMux) Subscribe() (string, chan string)  { return m.l.Mux().Subscribe() }
func (m liveMux) Unsubscribe(id string)             { m.l.Mux().Unsubscribe(id) }
func (m liveMux) SendCommand(line string) error     { return m.l.Mux().SendCommand(line) }
func (m liveMux) Monitor(ctx context.Context) error { return m.l.Mux().Monitor(ctx) }
func (m liveMux) Close() error                      { return m.l.Mux().Close() }
func (m liveMux) Initialise() error                 { return m.l.Mux().Initialise() }
func (m liveMux) AttachAdminRoutes(mux *http.ServeMux) {
	serialmux.AttachAdminRoutes(mux, m)
}
