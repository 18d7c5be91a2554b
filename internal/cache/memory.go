// Package cache stores perception bundles between runs so that a city
// assessed recently does not hit the search API again.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
)

const defaultMaxAgeDays = 7

type entry struct {
	bundle    agent.PerceptionBundle
	createdAt time.Time
	expiresAt time.Time
}

// Memory is a process-local cache used when no cache path is configured.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]entry{}, now: time.Now}
}

func (m *Memory) Has(ctx context.Context, key string, maxAgeDays int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	now := m.now()
	return now.Before(item.expiresAt) && fresh(item.createdAt, now, maxAgeDays), nil
}

func (m *Memory) Load(ctx context.Context, key string) (agent.PerceptionBundle, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.entries[key]
	if !ok || !m.now().Before(item.expiresAt) {
		return agent.PerceptionBundle{}, false, nil
	}
	return cloneBundle(item.bundle), true, nil
}

func (m *Memory) Save(ctx context.Context, key string, bundle agent.PerceptionBundle, maxAgeDays int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.entries[key] = entry{
		bundle:    cloneBundle(bundle),
		createdAt: now,
		expiresAt: expiry(now, maxAgeDays),
	}
	return nil
}

func (m *Memory) Clear(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := int64(len(m.entries))
	m.entries = map[string]entry{}
	return count, nil
}

func cloneBundle(bundle agent.PerceptionBundle) agent.PerceptionBundle {
	out := bundle
	out.Categories = make(map[string]agent.CategoryEvidence, len(bundle.Categories))
	for name, evidence := range bundle.Categories {
		out.Categories[name] = evidence
	}
	return out
}
