package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibin_matcher/models"
)

type storeFactory func(t *testing.T) DocumentStore

func storeBackends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) DocumentStore {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) DocumentStore {
			store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "items.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func profileKey(id string) Key {
	return Key{Table: models.UsersTable, PK: models.UserKeyPrefix + id, SK: models.ProfileSortKey}
}

func recKey(userID, candidateID string) Key {
	return Key{Table: models.RecommendationsTable, PK: models.UserKeyPrefix + userID, SK: models.RecommendationKeyPrefix + candidateID}
}

func TestDocumentStore_GetPutUpdateDelete(t *testing.T) {
	for name, newStore := range storeBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			var got models.UserProfile
			found, err := store.GetItem(ctx, profileKey("u1"), &got)
			require.NoError(t, err)
			assert.False(t, found)

			profile := models.UserProfile{
				ID:        "u1",
				FirstName: "Ana",
				Location:  &models.GeoPoint{Latitude: 40.7, Longitude: -74.0},
				Settings:  &models.UserSettings{DistanceRadius: "50 km", GenderPreference: "female", ShowMe: true},
			}
			require.NoError(t, store.PutItem(ctx, profileKey("u1"), profile))

			found, err = store.GetItem(ctx, profileKey("u1"), &got)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, profile, got)

			require.NoError(t, store.UpdateItem(ctx, profileKey("u1"), map[string]interface{}{
				"hasComputedRecommendations": true,
				"currentRecommendationSize":  12,
			}))
			got = models.UserProfile{}
			_, err = store.GetItem(ctx, profileKey("u1"), &got)
			require.NoError(t, err)
			assert.Equal(t, "Ana", got.FirstName)
			assert.True(t, got.HasComputedRecommendations)
			assert.Equal(t, 12, got.CurrentRecommendationSize)

			require.NoError(t, store.DeleteItem(ctx, profileKey("u1")))
			require.NoError(t, store.DeleteItem(ctx, profileKey("u1")))
			found, err = store.GetItem(ctx, profileKey("u1"), &got)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestDocumentStore_UpdateCreatesMissingItem(t *testing.T) {
	for name, newStore := range storeBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			key := Key{Table: models.RecommendationsTable, PK: "USER#u1", SK: models.StatusSortKey}

			require.NoError(t, store.UpdateItem(ctx, key, map[string]interface{}{"isComputingRecommendation": true}))

			var status models.RecommendationStatus
			found, err := store.GetItem(ctx, key, &status)
			require.NoError(t, err)
			require.True(t, found)
			assert.True(t, status.IsComputingRecommendation)
		})
	}
}

func TestDocumentStore_QueryCountScanByPrefix(t *testing.T) {
	for name, newStore := range storeBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			for _, id := range []string{"c", "a", "b"} {
				require.NoError(t, store.PutItem(ctx, recKey("u1", id), models.Recommendation{UserProfile: models.UserProfile{ID: id}}))
			}
			require.NoError(t, store.PutItem(ctx, recKey("u2", "z"), models.Recommendation{UserProfile: models.UserProfile{ID: "z"}}))
			require.NoError(t, store.UpdateItem(ctx, Key{Table: models.RecommendationsTable, PK: "USER#u1", SK: models.StatusSortKey},
				map[string]interface{}{"isComputingRecommendation": false}))

			var recs []models.Recommendation
			require.NoError(t, store.QueryItems(ctx, models.RecommendationsTable, "USER#u1", models.RecommendationKeyPrefix, &recs))
			require.Len(t, recs, 3)
			assert.Equal(t, "a", recs[0].ID)
			assert.Equal(t, "b", recs[1].ID)
			assert.Equal(t, "c", recs[2].ID)

			count, err := store.CountItems(ctx, models.RecommendationsTable, "USER#u1", models.RecommendationKeyPrefix)
			require.NoError(t, err)
			assert.Equal(t, 3, count)

			count, err = store.CountItems(ctx, models.RecommendationsTable, "USER#nobody", models.RecommendationKeyPrefix)
			require.NoError(t, err)
			assert.Zero(t, count)

			var all []models.Recommendation
			require.NoError(t, store.ScanItems(ctx, models.RecommendationsTable, models.RecommendationKeyPrefix, &all))
			assert.Len(t, all, 4)
		})
	}
}

func TestDocumentStore_CommitBatch(t *testing.T) {
	for name, newStore := range storeBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			require.NoError(t, store.PutItem(ctx, recKey("u1", "old"), models.Recommendation{UserProfile: models.UserProfile{ID: "old"}}))
			require.NoError(t, store.PutItem(ctx, recKey("u1", "kept"), models.Recommendation{UserProfile: models.UserProfile{ID: "kept"}}))

			batch := NewWriteBatch()
			batch.Delete(recKey("u1", "old"))
			batch.Delete(recKey("u1", "kept"))
			batch.Put(recKey("u1", "kept"), models.Recommendation{UserProfile: models.UserProfile{ID: "kept"}, Distance: "1 mile away"})
			batch.Put(recKey("u1", "new"), models.Recommendation{UserProfile: models.UserProfile{ID: "new"}})
			require.Equal(t, 3, batch.Len())
			require.NoError(t, store.CommitBatch(ctx, batch))

			var recs []models.Recommendation
			require.NoError(t, store.QueryItems(ctx, models.RecommendationsTable, "USER#u1", models.RecommendationKeyPrefix, &recs))
			require.Len(t, recs, 2)
			assert.Equal(t, "kept", recs[0].ID)
			assert.Equal(t, "1 mile away", recs[0].Distance)
			assert.Equal(t, "new", recs[1].ID)
		})
	}
}

func TestDocumentStore_CreateConflictAbortsBatch(t *testing.T) {
	for name, newStore := range storeBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			existing := Key{Table: models.MatchesTable, PK: "USER#a", SK: models.MatchKeyPrefix + "b"}
			other := Key{Table: models.MatchesTable, PK: "USER#b", SK: models.MatchKeyPrefix + "a"}
			require.NoError(t, store.PutItem(ctx, existing, models.Match{MatchID: "first"}))

			batch := NewWriteBatch()
			batch.Create(other, models.Match{MatchID: "second"})
			batch.Create(existing, models.Match{MatchID: "second"})
			err := store.CommitBatch(ctx, batch)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConditionFailed))

			var match models.Match
			found, err := store.GetItem(ctx, other, &match)
			require.NoError(t, err)
			assert.False(t, found, "no op of a failed batch is applied")

			_, err = store.GetItem(ctx, existing, &match)
			require.NoError(t, err)
			assert.Equal(t, "first", match.MatchID)
		})
	}
}

func TestDocumentStore_Lease(t *testing.T) {
	for name, newStore := range storeBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			key := Key{Table: models.RecommendationsTable, PK: "USER#u1", SK: models.StatusSortKey}
			now := time.Now()

			ok, err := store.AcquireLease(ctx, key, "first", now, time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = store.AcquireLease(ctx, key, "second", now.Add(time.Second), time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "held lease excludes another token")

			ok, err = store.AcquireLease(ctx, key, "second", now.Add(2*time.Minute), time.Minute)
			require.NoError(t, err)
			assert.True(t, ok, "expired lease can be taken over")

			require.NoError(t, store.ReleaseLease(ctx, key, "first"), "stale release is a no-op")
			ok, err = store.AcquireLease(ctx, key, "third", now.Add(2*time.Minute), time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.ReleaseLease(ctx, key, "second"))
			ok, err = store.AcquireLease(ctx, key, "third", now.Add(2*time.Minute), time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			var status models.RecommendationStatus
			_, err = store.GetItem(ctx, key, &status)
			require.NoError(t, err)
			assert.Equal(t, "third", status.LeaseToken)
		})
	}
}

func TestDocumentStore_ChangeNotifications(t *testing.T) {
	notifiers := map[string]func(t *testing.T) (DocumentStore, *ChangeNotifier){
		"memory": func(t *testing.T) (DocumentStore, *ChangeNotifier) {
			store := NewMemoryStore()
			return store, &store.ChangeNotifier
		},
		"sqlite": func(t *testing.T) (DocumentStore, *ChangeNotifier) {
			store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "items.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store, &store.ChangeNotifier
		},
	}
	for name, newStore := range notifiers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store, notifier := newStore(t)

			var mu sync.Mutex
			var changes []Change
			notifier.Subscribe(func(c Change) {
				mu.Lock()
				defer mu.Unlock()
				changes = append(changes, c)
			})

			require.NoError(t, store.PutItem(ctx, recKey("u1", "a"), models.Recommendation{UserProfile: models.UserProfile{ID: "a"}}))
			require.NoError(t, store.DeleteItem(ctx, recKey("u1", "a")))
			require.NoError(t, store.DeleteItem(ctx, recKey("u1", "missing")))

			mu.Lock()
			defer mu.Unlock()
			require.Len(t, changes, 2)
			assert.Nil(t, changes[0].Old)
			assert.NotNil(t, changes[0].New)
			assert.NotNil(t, changes[1].Old)
			assert.Nil(t, changes[1].New)
			assert.Equal(t, recKey("u1", "a"), changes[1].Key)
		})
	}
}

func TestWriteBatch_OneOpPerKey(t *testing.T) {
	batch := NewWriteBatch()
	batch.Delete(recKey("u1", "a"))
	batch.Put(recKey("u1", "b"), nil)
	batch.Put(recKey("u1", "a"), models.Recommendation{})

	ops := batch.Ops()
	require.Len(t, ops, 2)
	assert.Equal(t, OpPut, ops[0].Kind)
	assert.Equal(t, recKey("u1", "a"), ops[0].Key)
	assert.Equal(t, recKey("u1", "b"), ops[1].Key)
}
