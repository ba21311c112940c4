package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	dedupRetention     = 24 * time.Hour
	dedupSweepInterval = 1 * time.Hour
)

// Deduplicator tracks processed message IDs so redelivered events are
// ignored. State is in-memory only; a restart loses it, which is acceptable
// because re-processing after restart is rare and idempotent downstream.
type Deduplicator struct {
	mu        sync.RWMutex
	seen      map[string]time.Time
	retention time.Duration
	sweep     time.Duration
}

// NewDeduplicator creates a deduplicator with the default 24h retention.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		seen:      make(map[string]time.Time),
		retention: dedupRetention,
		sweep:     dedupSweepInterval,
	}
}

// Seen reports whether id was already marked within the retention window.
func (d *Deduplicator) Seen(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.seen[id]
	return ok
}

// MarkSeen records id as processed at the current time.
func (d *Deduplicator) MarkSeen(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return
	}
	d.seen[id] = time.Now()
}

// Start runs the background sweep until ctx is cancelled.
func (d *Deduplicator) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(d.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := d.sweepOnce(time.Now())
				if removed > 0 {
					slog.Debug("dedup sweep", "removed", removed)
				}
			}
		}
	}()
}

func (d *Deduplicator) sweepOnce(now time.Time) int {
	cutoff := now.Add(-d.retention)
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for id, ts := range d.seen {
		if ts.Before(cutoff) {
			delete(d.seen, id)
			removed++
		}
	}
	return removed
}
