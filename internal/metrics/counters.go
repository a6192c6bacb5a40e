// Package metrics keeps named process counters for the pipeline and delivery.
package metrics

import (
	"log/slog"
	"sort"
	"sync"
)

// Counters is a set of named monotonically increasing counters. A nil
// *Counters ignores every call.
type Counters struct {
	mu sync.Mutex
	m  map[string]int64
}

func New() *Counters {
	return &Counters{m: make(map[string]int64)}
}

func (c *Counters) Inc(name string) { c.Add(name, 1) }

func (c *Counters) Add(name string, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.m[name] += n
	c.mu.Unlock()
}

func (c *Counters) Get(name string) int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[name]
}

// Snapshot returns a copy of every counter.
func (c *Counters) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	if c == nil {
		return out
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.m {
		out[k] = v
	}
	return out
}

// Log writes every non-zero counter at info level in name order.
func (c *Counters) Log(logger *slog.Logger) {
	snap := c.Snapshot()
	names := make([]string, 0, len(snap))
	for k := range snap {
		names = append(names, k)
	}
	sort.Strings(names)

	attrs := make([]any, 0, len(names)*2)
	for _, k := range names {
		if snap[k] != 0 {
			attrs = append(attrs, k, snap[k])
		}
	}
	logger.Info("pipeline metrics", attrs...)
}
