package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Debouncer collapses bursts per key: only the last call within the window
// runs, once the key has been quiet for the whole window.
type Debouncer struct {
	window time.Duration
	clock  clock.Clock
	mutex  sync.Mutex
	timers map[string]*clock.Timer
	seq    map[string]uint64
}

func NewDebouncer(window time.Duration, clk clock.Clock) *Debouncer {
	return &Debouncer{
		window: window,
		clock:  clk,
		timers: make(map[string]*clock.Timer),
		seq:    make(map[string]uint64),
	}
}

// Do schedules fn for key, replacing any pending call for the same key.
func (d *Debouncer) Do(key string, fn func()) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.seq[key]++
	mine := d.seq[key]
	d.timers[key] = d.clock.AfterFunc(d.window, func() {
		d.mutex.Lock()
		if d.seq[key] != mine {
			d.mutex.Unlock()
			return
		}
		delete(d.timers, key)
		d.mutex.Unlock()
		fn()
	})
}

// Cancel drops the pending call for key, if any. Sequences only grow, so a
// callback already waiting on the lock skips.
func (d *Debouncer) Cancel(key string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.cancelLocked(key)
}

func (d *Debouncer) cancelLocked(key string) {
	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
	d.seq[key]++
}

// Pending reports how many keys have a call waiting.
func (d *Debouncer) Pending() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.timers)
}

// Stop cancels everything.
func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for key := range d.timers {
		d.cancelLocked(key)
	}
}
