package serialmux

import (
	"errors"

	"github.com/banshee-data/crossing.signal/internal/protocol"
)

const (
	EventTypeUnknown   = "unknown"
	EventTypeMalformed = "malformed"
)

// ClassifyLine returns a short event name for a raw actuator line: the
// message tag for well-formed lines, "unknown" for unrecognised tags and
// "malformed" for everything else.
func ClassifyLine(line string) string {
	msg, err := protocol.Decode(line)
	switch {
	case err == nil:
		return msg.Tag().String()
	case errors.Is(err, protocol.ErrUnknownTag), errors.Is(err, protocol.ErrEmptyLine):
		return EventTypeUnknown
	default:
		return EventTypeMalformed
	}
}
