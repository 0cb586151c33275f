package actuator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/crossing.signal/internal/monitoring"
	"github.com/banshee-data/crossing.signal/internal/protocol"
	"github.com/banshee-data/crossing.signal/internal/timeutil"
)

// PollInterval is the firmware's sensor sampling period.
const PollInterval = 50 * time.Millisecond

// Banner is the line the firmware prints on boot. Hosts discard it.
const Banner = "ESP32 Ready. Waiting for LED commands + Sensing..."

// Simulator emulates the actuator firmware as an in-process serial port. It
// applies L and P lines written by the host, samples its sensor inputs every
// PollInterval and reports the vector with an S line only when it changed,
// and reports button presses as B lines. It satisfies serialmux.SerialPorter.
type Simulator struct {
	clock timeutil.Clock

	pr *io.PipeReader
	pw *io.PipeWriter

	writeMu sync.Mutex // serialises lines onto pw
	inbuf   bytes.Buffer

	mu       sync.Mutex
	lights   protocol.LightCommand
	pulse    bool
	sensors  protocol.SensorVector
	reported protocol.SensorVector
	received []protocol.Message
	closed   bool
}

// NewSimulator returns a simulator with all sensors inactive and every light
// off, as after power-up.
func NewSimulator(clock timeutil.Clock) *Simulator {
	pr, pw := io.Pipe()
	return &Simulator{
		clock:   clock,
		pr:      pr,
		pw:      pw,
		sensors: make(protocol.SensorVector, protocol.SensorChannels),
	}
}

// Run prints the banner and polls the sensors until ctx is done or the
// simulator is closed.
func (s *Simulator) Run(ctx context.Context) error {
	if err := s.emit(Banner); err != nil {
		return err
	}
	ticker := s.clock.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if err := s.Poll(); err != nil {
				return err
			}
		}
	}
}

// Poll performs one sampling pass, sending S if the vector changed since the
// last report.
func (s *Simulator) Poll() error {
	s.mu.Lock()
	if s.reported != nil && s.sensors.Equal(s.reported) {
		s.mu.Unlock()
		return nil
	}
	s.reported = s.sensors.Clone()
	line := protocol.Encode(protocol.SensorReport{Vector: s.reported})
	s.mu.Unlock()
	return s.emit(line)
}

// SetSensor sets one channel (0-based).
func (s *Simulator) SetSensor(channel int, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if channel >= 0 && channel < len(s.sensors) {
		s.sensors[channel] = active
	}
}

// SetOccupancy activates the first n occupancy channels and clears the rest
// of them, leaving the reserved channels alone.
func (s *Simulator) SetOccupancy(n, occupancyChannels int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < occupancyChannels && i < len(s.sensors); i++ {
		s.sensors[i] = i < n
	}
}

// Press reports a button press immediately.
func (s *Simulator) Press(channel int) error {
	return s.emit(protocol.Encode(protocol.ButtonEvent{Channel: channel}))
}

// SendCount reports a legacy occupancy count line.
func (s *Simulator) SendCount(n int) error {
	return s.emit(protocol.Encode(protocol.CountReport{Count: n}))
}

// SendRaw writes an arbitrary line, for exercising the host's error paths.
func (s *Simulator) SendRaw(line string) error {
	return s.emit(line)
}

func (s *Simulator) emit(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := io.WriteString(s.pw, line+"\n")
	return err
}

// Lights returns the outputs last set by an L line.
func (s *Simulator) Lights() protocol.LightCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lights
}

// Pulse returns the output last set by a P line.
func (s *Simulator) Pulse() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulse
}

// Received returns every host message applied so far.
func (s *Simulator) Received() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.received...)
}

// Read returns device-to-host bytes.
func (s *Simulator) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

// Write accepts host-to-device bytes. Complete lines are applied; unknown or
// malformed lines are ignored like the firmware does.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.inbuf.Write(p)
	for {
		line, err := s.inbuf.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			s.inbuf.Reset()
			s.inbuf.WriteString(line)
			break
		}
		s.apply(line)
	}
	return len(p), nil
}

func (s *Simulator) apply(line string) {
	msg, err := protocol.Decode(line)
	if err != nil {
		monitoring.Debugf("simulator: ignoring %q: %v", line, err)
		return
	}
	switch m := msg.(type) {
	case protocol.LightCommand:
		s.lights = m
	case protocol.PulseCommand:
		s.pulse = m.On
	default:
		return
	}
	s.received = append(s.received, msg)
}

// Close unplugs the simulated device: pending and future reads fail.
func (s *Simulator) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return errors.Join(s.pw.CloseWithError(io.EOF), s.pr.Close())
}
