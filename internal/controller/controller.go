// Package controller runs the fixed-tick control loop that connects the
// actuator link, the coordinator and the outside world.
package controller

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/banshee-data/crossing.signal/internal/actuator"
	"github.com/banshee-data/crossing.signal/internal/crossing"
	"github.com/banshee-data/crossing.signal/internal/monitoring"
	"github.com/banshee-data/crossing.signal/internal/protocol"
	"github.com/banshee-data/crossing.signal/internal/timeutil"
)

// ErrBusy is returned when the operator request queue is full.
var ErrBusy = errors.New("controller busy, request dropped")

// Transport is the actuator side of the loop. *actuator.Link implements it.
type Transport interface {
	TryRead() (string, bool)
	Write(protocol.Message) error
	TakeResync() bool
}

// Config tunes the loop itself; signal timing lives in crossing.Config.
type Config struct {
	// Tick is the loop period.
	Tick time.Duration
	// MaxStep caps the dt of a single tick after a stall. Zero disables it.
	MaxStep time.Duration
	// MaxLinesPerTick bounds the lines drained from the transport per tick.
	MaxLinesPerTick int
	// RequestBuffer is the operator request queue length.
	RequestBuffer int
	// RecorderBuffer is the record queue length.
	RecorderBuffer int
}

// DefaultConfig is a 60 Hz loop.
func DefaultConfig() Config {
	return Config{
		Tick:            time.Second / 60,
		MaxStep:         time.Second,
		MaxLinesPerTick: 64,
		RequestBuffer:   64,
		RecorderBuffer:  256,
	}
}

type requestKind int

const (
	requestTram requestKind = iota
	requestSlow
	requestOccupancy
)

var requestNames = map[requestKind]string{
	requestTram:      "tram",
	requestSlow:      "slow",
	requestOccupancy: "occupancy",
}

type request struct {
	kind  requestKind
	slow  bool
	count int
}

// Controller owns the coordinator. Only the Run goroutine touches it; other
// goroutines talk to the loop through the request queue and read the
// published snapshot.
type Controller struct {
	cfg       Config
	coord     *crossing.Coordinator
	transport Transport
	clock     timeutil.Clock
	recorder  *asyncRecorder

	requests chan request
	snapshot atomic.Pointer[crossing.Snapshot]
	ticks    atomic.Int64
}

// New creates a controller. rec may be nil to disable recording.
func New(coord *crossing.Coordinator, transport Transport, clock timeutil.Clock, rec Recorder, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.MaxLinesPerTick <= 0 {
		cfg.MaxLinesPerTick = def.MaxLinesPerTick
	}
	if cfg.RequestBuffer <= 0 {
		cfg.RequestBuffer = def.RequestBuffer
	}
	if cfg.RecorderBuffer <= 0 {
		cfg.RecorderBuffer = def.RecorderBuffer
	}
	c := &Controller{
		cfg:       cfg,
		coord:     coord,
		transport: transport,
		clock:     clock,
		requests:  make(chan request, cfg.RequestBuffer),
	}
	if rec != nil {
		c.recorder = newAsyncRecorder(rec, cfg.RecorderBuffer)
	}
	return c
}

// Run ticks the loop until ctx is done. The first tick happens immediately
// with dt = 0 so the actuator receives its first computed outputs at once.
func (c *Controller) Run(ctx context.Context) error {
	if c.recorder != nil {
		go c.recorder.run()
		defer c.recorder.stop()
	}

	ticker := c.clock.NewTicker(c.cfg.Tick)
	defer ticker.Stop()

	sw := timeutil.NewStopwatch(c.clock, c.cfg.MaxStep)
	c.Step(sw.Lap())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			c.Step(sw.Lap())
		}
	}
}

// Step runs one tick at now with the given dt. Run calls it; tests may drive
// it directly.
func (c *Controller) Step(now time.Time, dt time.Duration) crossing.Output {
	in := crossing.Input{
		Dt:       dt,
		Now:      now,
		Messages: c.drain(),
		Resync:   c.transport.TakeResync(),
	}
	c.applyRequests(&in)

	out := c.coord.Step(in)
	snap := out.Snapshot
	c.snapshot.Store(&snap)
	c.ticks.Add(1)

	for _, tr := range out.Transitions {
		monitoring.PhaseTransitions.Add(tr.To.String(), 1)
		monitoring.Logf("phase %s -> %s (total %s, occupancy %d)", tr.From, tr.To, tr.Timer.Total, tr.Occupancy)
		c.recorder.enqueue("transition", func(r Recorder) error { return r.RecordTransition(now, tr) })
	}
	c.transmit(now, out.Outgoing)
	return out
}

func (c *Controller) drain() []protocol.Message {
	var msgs []protocol.Message
	for i := 0; i < c.cfg.MaxLinesPerTick; i++ {
		line, ok := c.transport.TryRead()
		if !ok {
			break
		}
		msg, err := protocol.Decode(line)
		if err != nil {
			monitoring.LinesDiscarded.Add(discardReason(err), 1)
			monitoring.Debugf("discarding actuator line %q: %v", line, err)
			continue
		}
		if msg.Tag().Direction() != protocol.ActuatorToHost {
			monitoring.LinesDiscarded.Add("direction", 1)
			monitoring.Debugf("discarding host-only line from actuator %q", line)
			continue
		}
		monitoring.LinesDecoded.Add(msg.Tag().String(), 1)
		msgs = append(msgs, msg)
	}
	return msgs
}

func discardReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrEmptyLine):
		return "empty"
	case errors.Is(err, protocol.ErrUnknownTag):
		return "unknown_tag"
	case errors.Is(err, protocol.ErrArgCount):
		return "arg_count"
	default:
		return "malformed"
	}
}

func (c *Controller) applyRequests(in *crossing.Input) {
	for {
		select {
		case req := <-c.requests:
			switch req.kind {
			case requestTram:
				in.Tram = true
			case requestSlow:
				slow := req.slow
				in.Slow = &slow
			case requestOccupancy:
				count := req.count
				in.Occupancy = &count
			}
		default:
			return
		}
	}
}

func (c *Controller) transmit(now time.Time, msgs []protocol.Message) {
	for _, msg := range msgs {
		err := c.transport.Write(msg)
		if errors.Is(err, actuator.ErrDisconnected) {
			// Logged by the link when it went down; outputs are re-sent on
			// reconnect.
			continue
		}
		if err != nil {
			monitoring.Logf("transmit %s: %v", protocol.Encode(msg), err)
			continue
		}
		monitoring.CommandsSent.Add(msg.Tag().String(), 1)
		line := protocol.Encode(msg)
		c.recorder.enqueue("command", func(r Recorder) error { return r.RecordCommand(now, line) })
	}
}

func (c *Controller) send(req request) error {
	select {
	case c.requests <- req:
		monitoring.OperatorRequests.Add(requestNames[req.kind], 1)
		return nil
	default:
		return ErrBusy
	}
}

// TriggerTram requests an immediate tram override on the next tick.
func (c *Controller) TriggerTram() error { return c.send(request{kind: requestTram}) }

// SetSlow sets the held slow-crossing input.
func (c *Controller) SetSlow(on bool) error { return c.send(request{kind: requestSlow, slow: on}) }

// SetOccupancy feeds a raw occupancy estimate.
func (c *Controller) SetOccupancy(n int) error {
	return c.send(request{kind: requestOccupancy, count: n})
}

// RecordLinkEvent queues a link state change for the recorder. It never
// blocks and is safe to use as actuator.LinkConfig.OnEvent.
func (c *Controller) RecordLinkEvent(ev actuator.Event) {
	c.recorder.enqueue("link_event", func(r Recorder) error {
		return r.RecordLinkEvent(ev.At, string(ev.Kind), ev.Detail)
	})
}

// Snapshot returns the state published by the latest tick. Before the first
// tick it reports the fail-safe output.
func (c *Controller) Snapshot() crossing.Snapshot {
	if s := c.snapshot.Load(); s != nil {
		return *s
	}
	cfg := c.coord.Config()
	return crossing.Snapshot{
		Phase:   crossing.PhaseRed,
		Lights:  protocol.AllRed,
		Timer:   crossing.Timer{Total: cfg.BaseRed},
		TotalMS: cfg.BaseRed.Milliseconds(),
	}
}

// Ticks returns the number of completed ticks.
func (c *Controller) Ticks() int64 { return c.ticks.Load() }

// Timing returns the coordinator's immutable configuration.
func (c *Controller) Timing() crossing.Config { return c.coord.Config() }
