package cache

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
)

var _ agent.Cache = (*SQLite)(nil)
var _ agent.Cache = (*Memory)(nil)

func sampleBundle() agent.PerceptionBundle {
	return agent.PerceptionBundle{
		City:    "Lisbon",
		Country: "Portugal",
		Categories: map[string]agent.CategoryEvidence{
			agent.CategoryRent: {
				Category:           agent.CategoryRent,
				Query:              "rent lisbon",
				Quality:            65,
				Strategy:           agent.StrategyCostDatabase,
				ConfidenceModifier: 1.2,
				Evidence: agent.Evidence{
					Items: []agent.EvidenceItem{{Title: "Numbeo", Snippet: "1,100 EUR", Source: "numbeo.com", Trusted: true}},
				},
			},
		},
		GatheredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	cache, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "cache", "perception.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestSQLite_SaveLoadRoundTrip(t *testing.T) {
	cache := newTestSQLite(t)
	ctx := context.Background()

	ok, err := cache.Has(ctx, "lisbon|portugal", 7)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Save(ctx, "lisbon|portugal", sampleBundle(), 7))

	ok, err = cache.Has(ctx, "lisbon|portugal", 7)
	require.NoError(t, err)
	assert.True(t, ok)

	bundle, found, err := cache.Load(ctx, "lisbon|portugal")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, sampleBundle(), bundle)
}

func TestSQLite_ExpiredEntriesAreAbsent(t *testing.T) {
	cache := newTestSQLite(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return start }
	require.NoError(t, cache.Save(ctx, "porto|portugal", sampleBundle(), 2))

	cache.now = func() time.Time { return start.Add(36 * time.Hour) }
	ok, err := cache.Has(ctx, "porto|portugal", 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.Has(ctx, "porto|portugal", 1)
	require.NoError(t, err)
	assert.False(t, ok, "caller window is stricter than the stored expiry")

	cache.now = func() time.Time { return start.Add(72 * time.Hour) }
	_, found, err := cache.Load(ctx, "porto|portugal")
	require.NoError(t, err)
	assert.False(t, found)

	pruned, err := cache.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}

func TestSQLite_SaveOverwritesAndClear(t *testing.T) {
	cache := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, cache.Save(ctx, "k", sampleBundle(), 7))
	updated := sampleBundle()
	updated.City = "Lisboa"
	require.NoError(t, cache.Save(ctx, "k", updated, 7))

	bundle, found, err := cache.Load(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Lisboa", bundle.City)

	cleared, err := cache.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)
}

func TestNewSQLite_OpenError(t *testing.T) {
	original := openDB
	defer func() { openDB = original }()
	openDB = func(driverName, dataSourceName string) (*sql.DB, error) {
		return nil, errors.New("driver missing")
	}

	_, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "x.db"))
	require.ErrorContains(t, err, "driver missing")
}

func TestMemory_SaveLoadAndExpiry(t *testing.T) {
	cache := NewMemory()
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return start }

	require.NoError(t, cache.Save(ctx, "k", sampleBundle(), 1))
	ok, err := cache.Has(ctx, "k", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	bundle, found, err := cache.Load(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	bundle.Categories["extra"] = agent.CategoryEvidence{}

	again, _, _ := cache.Load(ctx, "k")
	assert.Len(t, again.Categories, 1, "loaded bundles are copies")

	cache.now = func() time.Time { return start.Add(25 * time.Hour) }
	ok, err = cache.Has(ctx, "k", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	cleared, err := cache.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)
}
