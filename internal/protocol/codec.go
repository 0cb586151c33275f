package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Encode renders a message as a single protocol line without the trailing
// newline.
func Encode(m Message) string {
	var b strings.Builder
	b.WriteByte(byte(m.Tag()))
	for _, a := range m.args() {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	return b.String()
}

// Decode parses one protocol line. Surrounding whitespace and a trailing
// carriage return are ignored. The returned error wraps one of ErrEmptyLine,
// ErrUnknownTag, ErrArgCount or ErrMalformed; callers discard the line and
// keep their previous state.
func Decode(line string) (Message, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, ErrEmptyLine
	}
	if len(fields[0]) != 1 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, fields[0])
	}
	tag := Tag(fields[0][0])
	args := fields[1:]

	switch tag {
	case TagLights:
		bits, err := parseBits(tag, args, 5)
		if err != nil {
			return nil, err
		}
		return LightCommand{
			MainRed:   bits[0],
			MainGreen: bits[1],
			CarRed:    bits[2],
			CarYellow: bits[3],
			CarGreen:  bits[4],
		}, nil

	case TagPulse:
		bits, err := parseBits(tag, args, 1)
		if err != nil {
			return nil, err
		}
		return PulseCommand{On: bits[0]}, nil

	case TagSensors:
		bits, err := parseBits(tag, args, SensorChannels)
		if err != nil {
			return nil, err
		}
		return SensorReport{Vector: SensorVector(bits)}, nil

	case TagButton:
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: %s has %d arguments, want 1", ErrArgCount, tag, len(args))
		}
		ch, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %s channel %q", ErrMalformed, tag, args[0])
		}
		if ch != ButtonTram && ch != ButtonSlow {
			return nil, fmt.Errorf("%w: %s channel %d out of range", ErrMalformed, tag, ch)
		}
		return ButtonEvent{Channel: ch}, nil

	case TagCount:
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: %s has %d arguments, want 1", ErrArgCount, tag, len(args))
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %s count %q", ErrMalformed, tag, args[0])
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: %s count %d is negative", ErrMalformed, tag, n)
		}
		return CountReport{Count: n}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownTag, fields[0])
}

func parseBits(tag Tag, args []string, want int) ([]bool, error) {
	if len(args) != want {
		return nil, fmt.Errorf("%w: %s has %d arguments, want %d", ErrArgCount, tag, len(args), want)
	}
	out := make([]bool, want)
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("%w: %s argument %d %q", ErrMalformed, tag, i+1, a)
		}
		switch v {
		case 0:
		case 1:
			out[i] = true
		default:
			return nil, fmt.Errorf("%w: %s argument %d is %d, want 0 or 1", ErrMalformed, tag, i+1, v)
		}
	}
	return out, nil
}

func bit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func itoa(n int) string { return strconv.Itoa(n) }
