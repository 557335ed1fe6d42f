// ABOUTME: Thread-safe TTL guard for ECDH request nonces
// ABOUTME: Insertion-ordered list gives O(1) eviction when the guard is full

package replay

import (
	"container/list"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// ErrReplayed is returned when a nonce is presented twice within the TTL.
var ErrReplayed = errors.New("nonce already used")

type entry struct {
	seen    time.Time
	element *list.Element
}

// Guard tracks recently used nonces.
type Guard struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// New creates a guard that remembers up to maxSize nonces for ttl.
// A background goroutine periodically drops expired entries.
func New(ttl time.Duration, maxSize int, opts ...Option) *Guard {
	g := &Guard{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	go g.cleanup()
	return g
}

func key(caller string, publicKey, nonce []byte) string {
	return caller + "\x00" + hex.EncodeToString(publicKey) + "\x00" + hex.EncodeToString(nonce)
}

// Use records the triple and returns ErrReplayed if it was already recorded
// and has not expired. Check and record happen under one lock.
func (g *Guard) Use(caller string, publicKey, nonce []byte) error {
	k := key(caller, publicKey, nonce)
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.seen[k]; ok {
		if now.Sub(e.seen) < g.ttl {
			return ErrReplayed
		}
		e.seen = now
		g.order.MoveToBack(e.element)
		return nil
	}

	if len(g.seen) >= g.maxSize {
		g.evictOldest()
	}
	g.seen[k] = &entry{seen: now, element: g.order.PushBack(k)}
	return nil
}

// Len returns the number of remembered nonces, expired or not.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// evictOldest must be called with mu held.
func (g *Guard) evictOldest() {
	front := g.order.Front()
	if front == nil {
		return
	}
	k, _ := front.Value.(string)
	g.order.Remove(front)
	delete(g.seen, k)
}

func (g *Guard) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.prune()
		case <-g.done:
			return
		}
	}
}

// prune drops every expired entry.
func (g *Guard) prune() {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, e := range g.seen {
		if now.Sub(e.seen) >= g.ttl {
			g.order.Remove(e.element)
			delete(g.seen, k)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call more than once.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		close(g.done)
		g.closed = true
	}
}
