package slots

import "time"

// debouncer collapses bursts of identical requests inside a fixed window.
// The same asset can be requested for preload several times in quick
// succession when it occupies adjacent timeline positions; only the first
// request in the window does work.
type debouncer struct {
	window time.Duration
	seen   map[string]time.Time
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// shouldAllow reports whether a request for key may proceed at now, and
// records it if so. A key re-requested inside the window is suppressed
// without refreshing its timestamp, so a steady stream of duplicates does
// not postpone the next allowed request forever.
func (d *debouncer) shouldAllow(key string, now time.Time) bool {
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		return false
	}
	d.seen[key] = now
	return true
}

// forget drops a key so the next request for it is allowed immediately.
func (d *debouncer) forget(key string) {
	delete(d.seen, key)
}
