package worldmodel

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/roadmapd/internal/extraction"
	"github.com/fyrsmithlabs/roadmapd/internal/storage"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "wm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStore(db)
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), 99)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_UpdateUpserts(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rec, created, err := s.Update(ctx, 5, func(p *BusinessProfile, found bool) (*BusinessProfile, error) {
				assert.False(t, found)
				assert.Nil(t, p)
				return &BusinessProfile{Products: []ProductSummary{{Name: "Atlas"}}}, nil
			})
			require.NoError(t, err)
			assert.True(t, created)
			first := rec.CreatedAt

			rec, created, err = s.Update(ctx, 5, func(p *BusinessProfile, found bool) (*BusinessProfile, error) {
				assert.True(t, found)
				p.CustomerSegments = append(p.CustomerSegments, "SMB")
				return p, nil
			})
			require.NoError(t, err)
			assert.False(t, created)
			assert.True(t, first.Equal(rec.CreatedAt))

			got, err := s.Get(ctx, 5)
			require.NoError(t, err)
			assert.Equal(t, []ProductSummary{{Name: "Atlas"}}, got.Profile.Products)
			assert.Equal(t, []string{"SMB"}, got.Profile.CustomerSegments)
		})
	}
}

func TestStore_UpdateErrorLeavesRowUntouched(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _, err := s.Update(ctx, 3, func(*BusinessProfile, bool) (*BusinessProfile, error) {
				return nil, fmt.Errorf("nope")
			})
			require.Error(t, err)
			_, err = s.Get(ctx, 3)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ConcurrentMergesLoseNothing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := NewMerger(s, nil)
			const n = 16

			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					batch := []extraction.Entity{entity("Product", fmt.Sprintf("product-%02d", i))}
					_, err := m.Merge(ctx, 1, nil, batch, nil, nil)
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			rec, err := s.Get(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, rec.Profile.Products, n)
		})
	}
}

func TestSQLiteStore_RoundTripsRelationshipsAndOverflow(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	m := NewMerger(s, nil)

	batch := []extraction.Entity{entity("Vision", "Plan everything"), entity("ProductKPI", map[string]any{"name": "NPS"})}
	rels := []extraction.Relationship{rel("Self-serve", "Grow revenue", "supports")}
	merged, err := m.Merge(ctx, 9, nil, batch, rels, nil)
	require.NoError(t, err)

	rec, err := s.Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, merged, rec.Profile)
	require.Len(t, rec.Profile.Relationships, 1)
	assert.Equal(t, "Grow revenue", rec.Profile.Relationships[0].Target.Value.String())
	require.Len(t, rec.Profile.Entities, 1)
	assert.Equal(t, "Vision", rec.Profile.Entities[0]["entity_type"])
}
