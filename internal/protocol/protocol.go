// Package protocol implements the line-oriented actuator protocol spoken over
// the serial link: one ASCII message per newline-terminated line, made of a
// single-letter tag followed by space-separated integer arguments.
//
// Host to actuator:
//
//	L <main_red> <main_green> <car_red> <car_yellow> <car_green>
//	P <0|1>
//
// Actuator to host:
//
//	S <s1> ... <s8>
//	B <1|2>
//	C <count>
package protocol

import (
	"errors"
	"fmt"
)

// SensorChannels is the fixed length of a sensor vector in the reference
// actuator firmware.
const SensorChannels = 8

var (
	// ErrEmptyLine is returned for blank lines.
	ErrEmptyLine = errors.New("protocol: empty line")
	// ErrUnknownTag is returned when the leading token is not a known tag.
	ErrUnknownTag = errors.New("protocol: unknown tag")
	// ErrArgCount is returned when a known tag has the wrong number of arguments.
	ErrArgCount = errors.New("protocol: wrong argument count")
	// ErrMalformed is returned when an argument is not an integer in the
	// domain of its field.
	ErrMalformed = errors.New("protocol: malformed argument")
)

// Tag identifies a message type on the wire.
type Tag byte

const (
	TagLights  Tag = 'L'
	TagPulse   Tag = 'P'
	TagSensors Tag = 'S'
	TagButton  Tag = 'B'
	TagCount   Tag = 'C'
)

func (t Tag) String() string { return string(rune(t)) }

// Direction reports which side of the link originates a message.
type Direction int

const (
	HostToActuator Direction = iota
	ActuatorToHost
)

// Direction returns the originating side for the tag. Each tag has exactly
// one direction.
func (t Tag) Direction() Direction {
	switch t {
	case TagLights, TagPulse:
		return HostToActuator
	default:
		return ActuatorToHost
	}
}

// Message is implemented by every typed protocol message.
type Message interface {
	Tag() Tag
	// args returns the encoded argument tokens.
	args() []string
}

// LightCommand sets all five light outputs on the actuator.
type LightCommand struct {
	MainRed   bool `json:"main_red"`
	MainGreen bool `json:"main_green"`
	CarRed    bool `json:"car_red"`
	CarYellow bool `json:"car_yellow"`
	CarGreen  bool `json:"car_green"`
}

func (LightCommand) Tag() Tag { return TagLights }

func (c LightCommand) args() []string {
	return []string{bit(c.MainRed), bit(c.MainGreen), bit(c.CarRed), bit(c.CarYellow), bit(c.CarGreen)}
}

// Valid reports whether the command is a safe, fully constructed output
// state: pedestrians and vehicles are never both green, the pedestrian head
// shows exactly one aspect and the vehicle head shows exactly one aspect.
func (c LightCommand) Valid() error {
	if c.MainGreen && c.CarGreen {
		return fmt.Errorf("conflicting green: pedestrian and vehicle both green")
	}
	if c.MainRed == c.MainGreen {
		return fmt.Errorf("pedestrian head must show exactly one of red/green")
	}
	n := 0
	for _, b := range []bool{c.CarRed, c.CarYellow, c.CarGreen} {
		if b {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("vehicle head shows %d aspects, want 1", n)
	}
	return nil
}

func (c LightCommand) String() string { return Encode(c) }

// AllRed is the fail-safe output used before the first computed command.
var AllRed = LightCommand{MainRed: true, CarRed: true}

// PulseCommand enables or disables the breathing-pulse output.
type PulseCommand struct {
	On bool `json:"on"`
}

func (PulseCommand) Tag() Tag          { return TagPulse }
func (p PulseCommand) args() []string { return []string{bit(p.On)} }

// SensorVector is the raw hall-sensor state reported by the actuator.
type SensorVector []bool

// Clone returns an independent copy of the vector.
func (v SensorVector) Clone() SensorVector {
	if v == nil {
		return nil
	}
	out := make(SensorVector, len(v))
	copy(out, v)
	return out
}

// Equal reports whether both vectors have the same length and values.
func (v SensorVector) Equal(o SensorVector) bool {
	if len(v) != len(o) {
		return false
	}
	for i := range v {
		if v[i] != o[i] {
			return false
		}
	}
	return true
}

// SensorReport carries a full sensor vector.
type SensorReport struct {
	Vector SensorVector `json:"vector"`
}

func (SensorReport) Tag() Tag { return TagSensors }

func (r SensorReport) args() []string {
	out := make([]string, len(r.Vector))
	for i, b := range r.Vector {
		out[i] = bit(b)
	}
	return out
}

// Button channels reported by the actuator.
const (
	ButtonTram = 1
	ButtonSlow = 2
)

// ButtonEvent is an edge-triggered button press on channel 1 or 2.
type ButtonEvent struct {
	Channel int `json:"channel"`
}

func (ButtonEvent) Tag() Tag          { return TagButton }
func (b ButtonEvent) args() []string { return []string{itoa(b.Channel)} }

// CountReport is the legacy actuator-side occupancy count.
type CountReport struct {
	Count int `json:"count"`
}

func (CountReport) Tag() Tag          { return TagCount }
func (c CountReport) args() []string { return []string{itoa(c.Count)} }
