// Package lookupcache caches generative lookup results per barcode so a
// rescanned unknown barcode keeps the same identity.
package lookupcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

// Store caches generative products by barcode
type Store interface {
	Get(ctx context.Context, barcode string) (models.GenerativeProduct, bool, error)
	Set(ctx context.Context, barcode string, p models.GenerativeProduct) error
	Stats() Stats
	Close() error
}

// Stats holds cache counters
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	Size   int   `json:"size"`
}

// Config selects and configures a backend
type Config struct {
	Backend       string // memory, redis or none
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New builds the configured store. An unreachable Redis falls back to memory.
func New(cfg Config, log logger.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.TTL, time.Minute), nil
	case "none":
		return Noop{}, nil
	case "redis":
		store, err := NewRedis(RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL,
		}, log)
		if err != nil {
			log.Warn("redis lookup cache unavailable, using memory", "addr", cfg.RedisAddr, "error", err)
			return NewMemory(cfg.TTL, time.Minute), nil
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

type entry struct {
	value      models.GenerativeProduct
	expiration time.Time
}

func (e *entry) isExpired(now time.Time) bool {
	return now.After(e.expiration)
}

// Memory is an in-process TTL store with a background janitor
type Memory struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]*entry
	stats   Stats

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewMemory creates a memory store. Expired entries are swept every
// cleanupInterval; zero disables the janitor.
func NewMemory(ttl, cleanupInterval time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	m := &Memory{
		ttl:     ttl,
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go m.janitor(cleanupInterval)
	} else {
		close(m.done)
	}
	return m
}

// Get returns the cached product for barcode
func (m *Memory) Get(ctx context.Context, barcode string) (models.GenerativeProduct, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[barcode]
	if !ok || e.isExpired(time.Now()) {
		m.stats.Misses++
		return models.GenerativeProduct{}, false, nil
	}
	m.stats.Hits++
	return e.value, true, nil
}

// Set stores p for barcode
func (m *Memory) Set(ctx context.Context, barcode string, p models.GenerativeProduct) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[barcode] = &entry{value: p, expiration: time.Now().Add(m.ttl)}
	m.stats.Sets++
	return nil
}

// Stats returns cache counters
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.stats
	s.Size = len(m.entries)
	return s
}

// Close stops the janitor
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
	return nil
}

func (m *Memory) deleteExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	count := 0
	for key, e := range m.entries {
		if e.isExpired(now) {
			delete(m.entries, key)
			count++
		}
	}
	return count
}

func (m *Memory) janitor(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.deleteExpired()
		case <-m.stop:
			return
		}
	}
}

// Noop never caches
type Noop struct{}

func (Noop) Get(context.Context, string) (models.GenerativeProduct, bool, error) {
	return models.GenerativeProduct{}, false, nil
}
func (Noop) Set(context.Context, string, models.GenerativeProduct) error { return nil }
func (Noop) Stats() Stats                                                { return Stats{} }
func (Noop) Close() error                                                { return nil }
