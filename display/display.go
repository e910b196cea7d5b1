// Package display drains decoded frames from the shared queue and hands
// them to a presentation sink, one at a time, without ever blocking on an
// empty queue.
package display

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/framecast/media"
)

// DefaultIdleInterval is how long Run yields when the queue is empty.
const DefaultIdleInterval = 5 * time.Millisecond

// ErrStopped is returned once the loop has reached its terminal state. Sinks
// return it from Present when the user asked to quit.
var ErrStopped = errors.New("display: stopped")

// Source is a non-blocking frame supplier, usually a *queue.Queue.
type Source interface {
	TryPop() (*media.Frame, bool)
}

// Sink presents frames. Present is only ever called from one goroutine at a
// time. Close releases display resources and is called exactly once.
type Sink interface {
	Present(f *media.Frame) error
	Close() error
}

// State is the lifecycle state of a Loop.
type State int32

const (
	StateRunning State = iota
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Loop is the single consumer of the frame queue.
type Loop struct {
	// IdleInterval is the sleep between polls of an empty queue in Run.
	IdleInterval time.Duration
	// OnStop, if set, runs once when the loop stops, after the sink is
	// closed. Producers use it to stop feeding a queue nobody drains.
	OnStop func()

	src  Source
	sink Sink
	log  *slog.Logger

	mu       sync.Mutex
	state    State
	closeErr error

	presented atomic.Int64
	failed    atomic.Int64
}

// NewLoop creates a running Loop. If log is nil, slog.Default() is used.
func NewLoop(src Source, sink Sink, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		IdleInterval: DefaultIdleInterval,
		src:          src,
		sink:         sink,
		log:          log.With("component", "display"),
	}
}

// Poll takes at most one frame from the source and presents it. It never
// waits for a frame: took is false when the queue was empty. After Stop,
// Poll returns ErrStopped.
func (l *Loop) Poll() (took bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateStopped {
		return false, ErrStopped
	}
	f, ok := l.src.TryPop()
	if !ok {
		return false, nil
	}

	if err := l.sink.Present(f); err != nil {
		if errors.Is(err, ErrStopped) {
			l.log.Info("sink requested stop")
			l.stopLocked()
			return true, ErrStopped
		}
		// A frame the sink cannot show is dropped; the loop keeps going.
		l.failed.Add(1)
		l.log.Warn("present failed", "source", f.Source, "seq", f.Seq, "error", err)
		return true, nil
	}
	l.presented.Add(1)
	return true, nil
}

// Run polls until ctx is cancelled or the loop is stopped. Both end in
// StateStopped; Run returns the sink's Close error, if any.
func (l *Loop) Run(ctx context.Context) error {
	idle := l.IdleInterval
	if idle <= 0 {
		idle = DefaultIdleInterval
	}
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return l.Stop()
		}
		took, err := l.Poll()
		if errors.Is(err, ErrStopped) {
			return l.closeResult()
		}
		if took {
			continue
		}

		timer.Reset(idle)
		select {
		case <-ctx.Done():
			return l.Stop()
		case <-timer.C:
		}
	}
}

// Stop moves the loop to StateStopped and closes the sink. It is safe to call
// more than once and from any goroutine; only the first call closes the sink.
func (l *Loop) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	return l.closeErr
}

func (l *Loop) stopLocked() {
	if l.state == StateStopped {
		return
	}
	l.state = StateStopped
	l.closeErr = l.sink.Close()
	l.log.Info("display stopped", "presented", l.presented.Load(), "failed", l.failed.Load())
	if l.OnStop != nil {
		l.OnStop()
	}
}

func (l *Loop) closeResult() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeErr
}

// State reports the current lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Presented returns the number of frames handed to the sink successfully.
func (l *Loop) Presented() int64 {
	return l.presented.Load()
}
