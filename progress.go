package sftpshell

import (
	"context"
	"iter"
	"sync/atomic"
)

// ProgressFunc observes streaming progress. It is called on the transfer's
// goroutine in delivery order and must not block.
type ProgressFunc func(transferred, total int64)

// Tracker counts bytes transferred against a total fixed at creation.
// It is written by one goroutine (the transfer) and read by another (the renderer).
type Tracker struct {
	transferred atomic.Int64
	total       int64
	changed     chan struct{}
	ticked      atomic.Bool
}

// NewTracker returns a tracker for a transfer of total bytes.
func NewTracker(total int64) *Tracker {
	if total < 0 {
		total = 0
	}
	return &Tracker{
		total:   total,
		changed: make(chan struct{}, 1),
	}
}

func (t *Tracker) Total() int64       { return t.total }
func (t *Tracker) Transferred() int64 { return t.transferred.Load() }

// Complete reports whether the transferred count has reached the total.
func (t *Tracker) Complete() bool {
	return t.transferred.Load() >= t.total
}

// Set overwrites the transferred count unconditionally.
// Callers are expected to pass non-decreasing values; Set does not enforce it.
func (t *Tracker) Set(n int64) {
	t.transferred.Store(n)
	t.notify()
}

// Advance raises the transferred count to n, capped at the total.
// Values at or below the current count are ignored so that out-of-order
// callbacks never move the observed value backwards. It returns the count
// after the update.
func (t *Tracker) Advance(n int64) int64 {
	if n > t.total {
		n = t.total
	}
	for {
		cur := t.transferred.Load()
		if n <= cur {
			return cur
		}
		if t.transferred.CompareAndSwap(cur, n) {
			t.notify()
			return n
		}
	}
}

// Changed delivers a signal after one or more updates. Signals coalesce and
// are consumed by a single observer (a Renderer or Ticks, not both).
func (t *Tracker) Changed() <-chan struct{} { return t.changed }

func (t *Tracker) notify() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}

// Ticks returns a lazy, finite sequence of observed transferred counts.
// It yields the current count, then each new count as updates arrive, and
// ends once the tracker is complete or ctx is done. The sequence cannot be
// restarted: only the first call yields values.
func (t *Tracker) Ticks(ctx context.Context) iter.Seq[int64] {
	return func(yield func(int64) bool) {
		if !t.ticked.CompareAndSwap(false, true) {
			return
		}
		last := int64(-1)
		for {
			cur := t.transferred.Load()
			if cur != last {
				last = cur
				if !yield(cur) {
					return
				}
			}
			if cur >= t.total {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-t.changed:
			}
		}
	}
}
