package supervisor

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Group manages the listener and sender connections together.
type Group struct {
	mu    sync.Mutex
	conns []*Connection
	wg    sync.WaitGroup
}

func NewGroup(conns ...*Connection) *Group {
	return &Group{conns: conns}
}

func (g *Group) Add(c *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns = append(g.conns, c)
}

func (g *Group) snapshot() []*Connection {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Connection(nil), g.conns...)
}

// ConnectAll connects every connection in parallel and returns the first error.
func (g *Group) ConnectAll(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, c := range g.snapshot() {
		eg.Go(func() error { return c.ConnectWithRetry(ctx) })
	}
	return eg.Wait()
}

// StartMonitoring launches a monitor per connection. They stop with ctx;
// Wait blocks until they have.
func (g *Group) StartMonitoring(ctx context.Context, interval time.Duration) {
	for _, c := range g.snapshot() {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			c.Monitor(ctx, interval)
		}()
	}
}

func (g *Group) Wait() { g.wg.Wait() }

func (g *Group) DisconnectAll() {
	for _, c := range g.snapshot() {
		c.Disconnect()
	}
}

// Status returns the state of every connection keyed by name.
func (g *Group) Status() map[string]Status {
	out := make(map[string]Status)
	for _, c := range g.snapshot() {
		out[c.Name()] = c.Status()
	}
	return out
}

// Names returns connection names in sorted order.
func (g *Group) Names() []string {
	var names []string
	for _, c := range g.snapshot() {
		names = append(names, c.Name())
	}
	sort.Strings(names)
	return names
}
