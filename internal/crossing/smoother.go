package crossing

import "time"

// CrowdSmoother debounces the raw occupancy count. A new raw value only
// becomes the display count after it has been observed unchanged for the
// whole debounce window; any change restarts the window.
type CrowdSmoother struct {
	window       time.Duration
	display      int
	pending      int
	pendingSince time.Time
}

func NewCrowdSmoother(window time.Duration) *CrowdSmoother {
	return &CrowdSmoother{window: window}
}

// Update feeds one raw sample taken at now and returns the display count.
func (s *CrowdSmoother) Update(raw int, now time.Time) int {
	if raw != s.pending {
		s.pending = raw
		s.pendingSince = now
		return s.display
	}
	if now.Sub(s.pendingSince) >= s.window {
		s.display = s.pending
	}
	return s.display
}

// Display returns the committed count.
func (s *CrowdSmoother) Display() int { return s.display }

// Reset zeroes the display and pending counts and restarts the window at now.
func (s *CrowdSmoother) Reset(now time.Time) {
	s.display = 0
	s.pending = 0
	s.pendingSince = now
}
