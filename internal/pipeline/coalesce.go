package pipeline

import "sync"

// coalescer deduplicates concurrent identical requests per
// (project, content hash): one leader runs the pipeline, followers wait on
// its outcome.
type coalescer struct {
	mu      sync.Mutex
	entries map[string]*inflight
}

func newCoalescer() *coalescer {
	return &coalescer{entries: make(map[string]*inflight)}
}

// join returns the in-flight entry for key and whether the caller is the
// leader. The leader must call settle exactly once.
func (c *coalescer) join(key string) (*inflight, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		return entry, false
	}
	entry := &inflight{done: make(chan struct{})}
	c.entries[key] = entry
	return entry, true
}

// settle publishes the leader's outcome and removes the entry so later
// requests start a fresh flight.
func (c *coalescer) settle(key string, entry *inflight, res *Result, err error) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	entry.result = res
	entry.err = err
	close(entry.done)
}
