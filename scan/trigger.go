package scan

import (
	"context"
	"time"
)

// Trigger decides when a pass runs: a steady interval tick, plus bursty
// page activity (scroll, DOM mutations) coalesced through a debounce
// window so a fast scroll causes one extra pass, not dozens.
type Trigger struct {
	interval time.Duration
	debounce time.Duration
	notify   chan struct{}
	fires    chan struct{}
}

// NewTrigger creates a Trigger. Run must be called to start it.
func NewTrigger(interval, debounce time.Duration) *Trigger {
	return &Trigger{
		interval: interval,
		debounce: debounce,
		notify:   make(chan struct{}, 1),
		fires:    make(chan struct{}, 1),
	}
}

// Notify signals page activity. Never blocks; bursts collapse.
func (t *Trigger) Notify() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// C delivers one value per due pass. A pass that is due while the
// consumer is mid-pass collapses into a single pending fire.
func (t *Trigger) C() <-chan struct{} { return t.fires }

// Run blocks until ctx is cancelled.
func (t *Trigger) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case <-ticker.C:
			t.fire()

		case <-t.notify:
			if t.debounce <= 0 {
				t.fire()
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(t.debounce)
			debounceC = debounceTimer.C

		case <-debounceC:
			debounceC = nil
			t.fire()
		}
	}
}

func (t *Trigger) fire() {
	select {
	case t.fires <- struct{}{}:
	default:
	}
}
