package crossing

// DiffEmitter passes a value through only when it differs from the last value
// it passed, so each distinct output is transmitted once per change.
type DiffEmitter[T comparable] struct {
	last T
	sent bool
}

// Emit returns (v, true) on the first call and whenever v differs from the
// last emitted value, and (zero, false) otherwise.
func (e *DiffEmitter[T]) Emit(v T) (T, bool) {
	if e.sent && v == e.last {
		var zero T
		return zero, false
	}
	e.last = v
	e.sent = true
	return v, true
}

// Last returns the last emitted value and whether anything was emitted.
func (e *DiffEmitter[T]) Last() (T, bool) { return e.last, e.sent }

// Reset forgets the last value so the next Emit always passes.
func (e *DiffEmitter[T]) Reset() {
	var zero T
	e.last = zero
	e.sent = false
}
