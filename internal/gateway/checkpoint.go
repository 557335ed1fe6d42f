// ABOUTME: Periodic snapshot writer for the in-memory repository
// ABOUTME: Saves on every interval tick and once more when stopped

package gateway

import (
	"log/slog"
	"sync"
	"time"
)

// snapshotter is the part of store.MemoryStore the checkpointer needs.
type snapshotter interface {
	SaveFile(path string) error
}

type checkpointer struct {
	store    snapshotter
	path     string
	interval time.Duration
	logger   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	exited    chan struct{}
	started   bool
	err       error
}

func newCheckpointer(s snapshotter, path string, interval time.Duration, logger *slog.Logger) *checkpointer {
	return &checkpointer{
		store:    s,
		path:     path,
		interval: interval,
		logger:   logger.With("component", "checkpoint"),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

func (c *checkpointer) start() {
	c.startOnce.Do(func() {
		c.started = true
		go c.loop()
	})
}

func (c *checkpointer) loop() {
	defer close(c.exited)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.store.SaveFile(c.path); err != nil {
				c.logger.Error("checkpoint failed", "path", c.path, "error", err)
			}
		case <-c.done:
			return
		}
	}
}

// stop ends the loop and writes a final snapshot. Later calls return the
// result of the first.
func (c *checkpointer) stop() error {
	c.stopOnce.Do(func() {
		// Prevent a start racing with stop from launching the loop.
		c.startOnce.Do(func() {})
		close(c.done)
		if c.started {
			<-c.exited
		}
		c.err = c.store.SaveFile(c.path)
		if c.err == nil {
			c.logger.Info("wrote final snapshot", "path", c.path)
		}
	})
	return c.err
}
