// Package idempotency drops inbound updates that were already accepted.
package idempotency

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers update ids for a while.
type Deduper interface {
	// MarkSeen records id and reports whether it was new.
	MarkSeen(ctx context.Context, id int) (bool, error)
	// Forget drops id so a redelivery is processed again.
	Forget(ctx context.Context, id int) error
}

// Memory is a process-local Deduper.
type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[int]time.Time
	now  func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:  ttl,
		seen: make(map[int]time.Time),
		now:  time.Now,
	}
}

func (m *Memory) MarkSeen(_ context.Context, id int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.seen[id]; ok && now.Before(exp) {
		return false, nil
	}
	m.seen[id] = now.Add(m.ttl)
	m.sweep(now)
	return true, nil
}

func (m *Memory) Forget(_ context.Context, id int) error {
	m.mu.Lock()
	delete(m.seen, id)
	m.mu.Unlock()
	return nil
}

// sweep drops expired ids once the map grows.
func (m *Memory) sweep(now time.Time) {
	if len(m.seen) < 1024 {
		return
	}
	for id, exp := range m.seen {
		if !now.Before(exp) {
			delete(m.seen, id)
		}
	}
}

func (m *Memory) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// Redis shares seen ids between bot replicas.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(id int) string {
	return r.prefix + ":update:" + strconv.Itoa(id)
}

func (r *Redis) MarkSeen(ctx context.Context, id int) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(id), "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark update %d: %w", id, err)
	}
	return ok, nil
}

func (r *Redis) Forget(ctx context.Context, id int) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to forget update %d: %w", id, err)
	}
	return nil
}
