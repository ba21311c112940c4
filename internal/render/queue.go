package render

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type sendFunc func(ctx context.Context, payload string) error

// updateQueue holds at most one pending card payload. Newer schedules
// overwrite older pending payloads (latest wins, not FIFO); a single flush
// loop enforces the minimum inter-send interval and re-checks for newer
// content after each flush. Intermediate states may be dropped; the queue
// guarantees convergence to the latest scheduled payload.
type updateQueue struct {
	send    sendFunc
	limiter *rate.Limiter

	mu       sync.Mutex
	pending  *string
	flushing bool
	idle     *sync.Cond
}

// newUpdateQueue creates a queue whose first flush waits out minInterval
// from creation, so updates scheduled right after the initial card send are
// throttled against it.
func newUpdateQueue(minInterval time.Duration, send sendFunc) *updateQueue {
	q := &updateQueue{
		send:    send,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
	q.idle = sync.NewCond(&q.mu)
	// Consume the initial token: the window starts at the initial send.
	q.limiter.Allow()
	return q
}

// Schedule replaces any pending payload and ensures exactly one flush loop
// is running.
func (q *updateQueue) Schedule(payload string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := payload
	q.pending = &p
	if !q.flushing {
		q.flushing = true
		go q.flushLoop()
	}
}

func (q *updateQueue) flushLoop() {
	for {
		q.mu.Lock()
		if q.pending == nil {
			q.flushing = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		// Wait out the throttle window before snapshotting, so the newest
		// payload scheduled during the wait wins.
		_ = q.limiter.Wait(context.Background())

		q.mu.Lock()
		p := q.pending
		q.pending = nil
		if p == nil {
			q.flushing = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		if err := q.send(context.Background(), *p); err != nil {
			slog.Warn("render: card update failed", "error", err)
		}
	}
}

// Drain blocks until no payload is pending and no flush is in flight.
func (q *updateQueue) Drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.flushing || q.pending != nil {
		q.idle.Wait()
	}
}
