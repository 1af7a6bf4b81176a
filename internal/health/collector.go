package health

import "sync"

// sliceCollector accumulates missing ids from concurrent probes.
type sliceCollector struct {
	mu  sync.Mutex
	ids []string
}

func (c *sliceCollector) add(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
}
