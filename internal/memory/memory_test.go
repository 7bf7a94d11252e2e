package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/roadmapd/internal/events"
	"github.com/fyrsmithlabs/roadmapd/internal/extraction"
	"github.com/fyrsmithlabs/roadmapd/internal/storage"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": NewSQLiteStore(db),
	}
}

func ent(entityType, value string, rel map[string]any) extraction.Entity {
	return extraction.Entity{
		Type:          entityType,
		Value:         extraction.StringValue(value),
		Confidence:    0.8,
		Method:        extraction.MethodLLM,
		Relationships: rel,
	}
}

func TestStore_SemanticUpsert(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.AddSemantic(ctx, 1, "run-1", []extraction.Entity{
				ent("Product", "Atlas", nil),
				ent("CustomerSegment", "SMB", nil),
			}))
			require.NoError(t, s.AddSemantic(ctx, 1, "run-2", []extraction.Entity{
				ent("Product", "ATLAS", map[string]any{"owner": "Platform"}),
			}))
			require.NoError(t, s.AddSemantic(ctx, 2, "run-3", []extraction.Entity{ent("Product", "Other org", nil)}))

			got, err := s.Semantic(ctx, 1)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "ATLAS", got[0].Value.String())
			assert.Equal(t, "Platform", got[0].Relationships["owner"])
			assert.Equal(t, "SMB", got[1].Value.String())
		})
	}
}

func TestStore_AddSemanticRejectsInvalid(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.AddSemantic(context.Background(), 1, "", []extraction.Entity{{Type: "Product"}})
			assert.ErrorIs(t, err, extraction.ErrInvalidEntity)
		})
	}
}

func TestStore_EpisodesAndRemoval(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.AddSemantic(ctx, 1, "", []extraction.Entity{ent("Product", "Legacy Suite", nil)}))
			require.NoError(t, s.AppendEpisode(ctx, 1, "run-1", events.New(events.TypeExtractedEntity, map[string]any{
				"entity_type": "Product", "value": "Legacy Suite",
			})))
			require.NoError(t, s.RemoveEntity(ctx, 1, "Product", extraction.StringValue("legacy suite")))

			sem, err := s.Semantic(ctx, 1)
			require.NoError(t, err)
			assert.Empty(t, sem)

			eps, err := s.Episodes(ctx, 1)
			require.NoError(t, err)
			require.Len(t, eps, 2)
			assert.Equal(t, events.TypeExtractedEntity, eps[0].Type)
			assert.Equal(t, "run-1", eps[0].String("run_id"))
			assert.Equal(t, events.TypeRemovedEntity, eps[1].Type)

			obsolete := extraction.ObsoleteKeys(eps)
			_, ok := obsolete[extraction.KeyOf("Product", extraction.StringValue("Legacy Suite"))]
			assert.True(t, ok)

			other, err := s.Episodes(ctx, 2)
			require.NoError(t, err)
			assert.Empty(t, other)
		})
	}
}

func TestEpisodeSink_FiltersEvents(t *testing.T) {
	store := NewMemoryStore()
	sink := NewEpisodeSink(store, 4, "run-9", nil)
	ctx := context.Background()

	sink.Emit(ctx, events.New(events.TypeTiming, map[string]any{"step": "enrich"}))
	sink.Emit(ctx, events.New(events.TypeExtractedEntity, map[string]any{"entity_type": "Product", "value": "Atlas"}))

	eps, err := store.Episodes(ctx, 4)
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "run-9", eps[0].String("run_id"))
}

type brokenStore struct{ Store }

func (brokenStore) AppendEpisode(context.Context, int64, string, events.Event) error {
	return errors.New("disk full")
}

func TestEpisodeSink_LogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sink := NewEpisodeSink(brokenStore{}, 1, "run-1", zap.New(core))

	sink.Emit(context.Background(), events.New(events.TypeExtractedEntity, nil))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "failed to append episode", logs.All()[0].Message)
}
