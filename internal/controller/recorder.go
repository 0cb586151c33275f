package controller

import (
	"sync"
	"time"

	"github.com/banshee-data/crossing.signal/internal/crossing"
	"github.com/banshee-data/crossing.signal/internal/monitoring"
)

// Recorder persists what the control loop did. Calls happen on the recorder
// goroutine, never on the control loop.
type Recorder interface {
	RecordTransition(at time.Time, tr crossing.Transition) error
	RecordCommand(at time.Time, line string) error
	RecordLinkEvent(at time.Time, kind, detail string) error
}

// asyncRecorder queues records on a bounded channel. When the queue is full
// the record is dropped and counted rather than stalling the caller.
type asyncRecorder struct {
	rec   Recorder
	queue chan func(Recorder) error
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newAsyncRecorder(rec Recorder, size int) *asyncRecorder {
	return &asyncRecorder{
		rec:   rec,
		queue: make(chan func(Recorder) error, size),
		done:  make(chan struct{}),
	}
}

func (a *asyncRecorder) enqueue(kind string, fn func(Recorder) error) {
	if a == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		monitoring.RecorderDrops.Add(kind, 1)
		return
	}
	select {
	case a.queue <- fn:
	default:
		monitoring.RecorderDrops.Add(kind, 1)
		monitoring.Debugf("recorder queue full, dropped %s", kind)
	}
}

// run writes queued records until stop is called and the queue is drained.
func (a *asyncRecorder) run() {
	defer close(a.done)
	for fn := range a.queue {
		if err := fn(a.rec); err != nil {
			monitoring.Logf("recorder: %v", err)
		}
	}
}

// stop closes the queue and waits for run to drain it. Records enqueued
// afterwards are dropped.
func (a *asyncRecorder) stop() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}
