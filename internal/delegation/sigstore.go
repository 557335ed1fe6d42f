// ABOUTME: Stores for issued delegation signatures
// ABOUTME: In-memory map for one process, Redis when gateways share sessions

package delegation

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no live signature exists.
	ErrNotFound = errors.New("delegation not found")
	// ErrExpired is returned when storing a signature that already expired.
	ErrExpired = errors.New("delegation expired")
)

// SignatureStore keeps delegation signatures until they expire.
type SignatureStore interface {
	Put(ctx context.Context, seed []byte, hash [32]byte, sig []byte, expiresAt time.Time) error
	Get(ctx context.Context, seed []byte, hash [32]byte) ([]byte, error)
}

func sigKey(seed []byte, hash [32]byte) string {
	return hex.EncodeToString(seed) + ":" + hex.EncodeToString(hash[:])
}

type memorySig struct {
	sig       []byte
	expiresAt time.Time
}

// MemoryStore is a process-local SignatureStore.
type MemoryStore struct {
	mu   sync.Mutex
	sigs map[string]memorySig
	now  func() time.Time
}

// NewMemoryStore creates an empty store. now may be nil for time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{sigs: make(map[string]memorySig), now: now}
}

// Put stores sig and drops any expired entries.
func (m *MemoryStore) Put(_ context.Context, seed []byte, hash [32]byte, sig []byte, expiresAt time.Time) error {
	now := m.now()
	if !expiresAt.After(now) {
		return ErrExpired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.sigs {
		if !v.expiresAt.After(now) {
			delete(m.sigs, k)
		}
	}
	m.sigs[sigKey(seed, hash)] = memorySig{sig: sig, expiresAt: expiresAt}
	return nil
}

// Get returns the signature if it has not expired.
func (m *MemoryStore) Get(_ context.Context, seed []byte, hash [32]byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.sigs[sigKey(seed, hash)]
	if !ok || !v.expiresAt.After(m.now()) {
		return nil, ErrNotFound
	}
	return v.sig, nil
}

// RedisStore shares signatures between gateway replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore stores keys under prefix in client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Put writes sig with a TTL ending at expiresAt.
func (r *RedisStore) Put(ctx context.Context, seed []byte, hash [32]byte, sig []byte, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl < time.Millisecond {
		return ErrExpired
	}
	if err := r.client.Set(ctx, r.prefix+sigKey(seed, hash), sig, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get reads a signature, mapping a missing key to ErrNotFound.
func (r *RedisStore) Get(ctx context.Context, seed []byte, hash [32]byte) ([]byte, error) {
	sig, err := r.client.Get(ctx, r.prefix+sigKey(seed, hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return sig, nil
}
