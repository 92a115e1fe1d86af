// Package watcher re-ingests files as they change on disk. A debounced
// fsnotify watcher feeds the ingestion controller; unchanged files
// classify as exact duplicates there and cost nothing.
package watcher

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of events per key. Editors commonly fire
// several writes for one save; only the last one within the window
// reaches the handler.
type Debouncer struct {
	delay time.Duration
	fire  func(key string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewDebouncer creates a debouncer that calls fire once per key after
// delay has passed without further Trigger calls for that key.
func NewDebouncer(delay time.Duration, fire func(key string)) *Debouncer {
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &Debouncer{
		delay:  delay,
		fire:   fire,
		timers: make(map[string]*time.Timer),
	}
}

// Trigger registers an event for the key, resetting its timer.
func (d *Debouncer) Trigger(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.timers[key]; ok {
		timer.Stop()
	}
	d.timers[key] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		delete(d.timers, key)
		d.mu.Unlock()
		d.fire(key)
	})
}

// Stop cancels all pending timers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, timer := range d.timers {
		timer.Stop()
		delete(d.timers, key)
	}
}
