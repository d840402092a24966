// Package sched runs the subscription renewal loop. A single
// long-running task watches for the next lapse and charges or cancels
// subscriptions as they come due; mutating API handlers nudge it
// through a Notifier whenever they change something that could move
// the next lapse earlier.
package sched

import "sync"

// signalBuffer bounds how many wake-up signals can queue between two
// scheduler wakes. The scheduler drains the channel on every wake, so
// the buffer only needs to absorb a burst, not hold a backlog.
const signalBuffer = 25

// Notifier is the wake-up channel between API handlers and the
// scheduler loop. Signals carry no payload; one pending signal is as
// good as twenty-five.
type Notifier struct {
	mu     sync.Mutex
	ch     chan struct{}
	closed bool
}

func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, signalBuffer)}
}

// Notify queues a wake-up signal without blocking. It reports false
// when the buffer is full or the notifier is closed; callers log that
// and move on, they never fail a request over it.
func (n *Notifier) Notify() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return false
	}
	select {
	case n.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// C exposes the receive side for the scheduler's select loop. The
// channel is closed by Close, which the loop treats as shutdown.
func (n *Notifier) C() <-chan struct{} {
	return n.ch
}

// Drain consumes every buffered signal. Called by the scheduler after
// each wake so that a burst of notifications triggers one re-read of
// the store, not one per signal.
func (n *Notifier) Drain() {
	for {
		select {
		case _, ok := <-n.ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Close shuts the channel down. Subsequent Notify calls report false;
// the scheduler exits cleanly on its next wake.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	close(n.ch)
}
