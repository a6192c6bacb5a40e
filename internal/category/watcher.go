package category

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

const DefaultReloadInterval = 5 * time.Second

// Catalog publishes the current Snapshot. Readers never block; a reload
// swaps the pointer in one step.
type Catalog struct {
	current atomic.Pointer[Snapshot]
	path    string
	modTime time.Time
	logger  *slog.Logger
}

// Open loads the catalog at path.
func Open(path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{path: path, logger: logger}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	snap, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.modTime = info.ModTime()
	c.current.Store(snap)
	return c, nil
}

// NewStatic wraps a fixed snapshot. Watch on it returns immediately.
func NewStatic(snap *Snapshot) *Catalog {
	c := &Catalog{logger: slog.Default()}
	c.current.Store(snap)
	return c
}

// Snapshot returns the catalog in effect right now.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// Reload re-reads the file when its modification time changed. A file that
// fails to parse leaves the previous snapshot in place.
func (c *Catalog) Reload() (bool, error) {
	info, err := os.Stat(c.path)
	if err != nil {
		return false, err
	}
	if info.ModTime().Equal(c.modTime) {
		return false, nil
	}
	snap, err := Load(c.path)
	if err != nil {
		return false, err
	}
	c.modTime = info.ModTime()
	c.current.Store(snap)
	return true, nil
}

// Watch polls the file every interval until ctx is cancelled.
func (c *Catalog) Watch(ctx context.Context, interval time.Duration) {
	if c.path == "" {
		return
	}
	if interval <= 0 {
		interval = DefaultReloadInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := c.Reload()
			if err != nil {
				c.logger.Warn("category reload failed, keeping previous catalog", "path", c.path, "error", err)
				continue
			}
			if changed {
				c.logger.Info("categories reloaded", "path", c.path, "count", c.Snapshot().Len())
			}
		}
	}
}
