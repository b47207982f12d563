package daemon

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of rebuild triggers into a single fire. A quiet
// window of no new triggers fires the callback; the max delay caps how long a
// steady stream of triggers can postpone it.
type Debouncer struct {
	quiet    time.Duration
	maxDelay time.Duration
	fire     func(reason string)

	mu       sync.Mutex
	timer    *time.Timer
	deadline time.Time
	reason   string
	count    int
}

// NewDebouncer creates a debouncer. fire runs on a timer goroutine.
func NewDebouncer(quiet, maxDelay time.Duration, fire func(reason string)) *Debouncer {
	if quiet <= 0 {
		quiet = 2 * time.Second
	}
	if maxDelay < quiet {
		maxDelay = quiet
	}
	return &Debouncer{quiet: quiet, maxDelay: maxDelay, fire: fire}
}

// Trigger registers one rebuild request. The first trigger of a burst fixes
// the max-delay deadline; later triggers extend the quiet window up to it.
func (d *Debouncer) Trigger(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	d.reason = reason
	d.count++
	if d.timer == nil {
		d.deadline = now.Add(d.maxDelay)
	}

	delay := d.quiet
	if remaining := d.deadline.Sub(now); remaining < delay {
		delay = remaining
		if delay < 0 {
			delay = 0
		}
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(delay, d.emit)
}

func (d *Debouncer) emit() {
	d.mu.Lock()
	reason := d.reason
	d.timer = nil
	d.count = 0
	d.mu.Unlock()
	d.fire(reason)
}

// Stop cancels any pending fire.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
