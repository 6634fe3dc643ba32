package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"vibin_matcher/models"
)

var testDefaults = models.UserSettings{
	DistanceRadius:   models.DistanceRadiusUnlimited,
	Gender:           models.GenderNone,
	GenderPreference: models.GenderPreferenceAll,
	ShowMe:           true,
}

type testEngine struct {
	store    *MemoryStore
	index    *observedIndex
	tables   Tables
	profiles *UserProfileService
	swipes   *SwipeService
	recs     *RecommendationService
	triggers *TriggerService
	notified []string
	mu       sync.Mutex
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	e := &testEngine{
		store:  NewMemoryStore(),
		index:  &observedIndex{GeoIndex: NewMemoryGeoIndex()},
		tables: DefaultTables(),
	}
	e.profiles = NewUserProfileService(e.store, e.index, e.tables, testDefaults, nil)
	notifier := MatchNotifierFunc(func(ctx context.Context, userID string, match models.Match) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.notified = append(e.notified, userID+":"+match.ID)
		return nil
	})
	e.swipes = NewSwipeService(e.store, e.tables, e.profiles, notifier, nil)
	opts := DefaultRecommendationOptions()
	opts.CandidatePageSize = 7
	e.recs = NewRecommendationService(e.store, e.index, e.tables, testDefaults, opts, nil)
	e.triggers = NewTriggerService(e.profiles, e.recs, e.index, DefaultTriggerOptions(), nil)
	return e
}

// observedIndex lets a test observe the engine while a candidate search runs
type observedIndex struct {
	GeoIndex
	onNear func()
	nears  int
}

func (p *observedIndex) Near(ctx context.Context, q NearQuery, offset, limit int) ([]Candidate, error) {
	p.nears++
	if p.onNear != nil {
		p.onNear()
	}
	return p.GeoIndex.Near(ctx, q, offset, limit)
}

// candidate builds a ready, indexed-looking profile latOffset degrees north of the origin
func candidate(id, gender string, latOffset float64) models.UserProfile {
	point := &models.GeoPoint{Latitude: originLat + latOffset, Longitude: originLon}
	return models.UserProfile{
		ID:                id,
		FirstName:         "Name " + id,
		Email:             id + "@example.com",
		ProfilePictureURL: "https://cdn.example.com/" + id + ".jpg",
		Location:          point,
		Settings:          &models.UserSettings{DistanceRadius: "unlimited", Gender: gender, GenderPreference: models.GenderPreferenceAll, ShowMe: true},
	}
}

// seedIndexed stores the profile with a fresh index key and indexes it
func (e *testEngine) seedIndexed(t *testing.T, profile models.UserProfile) models.UserProfile {
	t.Helper()
	ctx := context.Background()
	_, err := e.profiles.SaveProfile(ctx, profile)
	require.NoError(t, err)
	refreshed, err := e.profiles.RefreshIndexKey(ctx, profile)
	require.NoError(t, err)
	stored, err := e.profiles.GetProfile(ctx, refreshed.ID)
	require.NoError(t, err)
	return *stored
}

func (e *testEngine) recommendationIDs(t *testing.T, userID string) []string {
	t.Helper()
	recs, err := e.recs.ListRecommendations(context.Background(), userID)
	require.NoError(t, err)
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	return ids
}

func (e *testEngine) seedRecommendations(t *testing.T, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("seed-%03d", i)
		require.NoError(t, e.store.PutItem(context.Background(), e.tables.RecommendationKey(userID, id),
			models.Recommendation{UserProfile: models.UserProfile{ID: id}, Distance: "1 mile away"}))
	}
}

func (e *testEngine) isComputing(t *testing.T, userID string) bool {
	t.Helper()
	status, err := e.recs.Status(context.Background(), userID)
	require.NoError(t, err)
	return status.IsComputingRecommendation
}

var errStoreDown = errors.New("store unavailable")

// failingStore fails the operations named in failOn
type failingStore struct {
	DocumentStore
	failOn map[string]bool
}

func (f *failingStore) GetItem(ctx context.Context, key Key, out interface{}) (bool, error) {
	if f.failOn["GetItem"] {
		return false, errStoreDown
	}
	return f.DocumentStore.GetItem(ctx, key, out)
}

func (f *failingStore) PutItem(ctx context.Context, key Key, item interface{}) error {
	if f.failOn["PutItem"] {
		return errStoreDown
	}
	return f.DocumentStore.PutItem(ctx, key, item)
}

func (f *failingStore) CommitBatch(ctx context.Context, batch *WriteBatch) error {
	if f.failOn["CommitBatch"] {
		return errStoreDown
	}
	return f.DocumentStore.CommitBatch(ctx, batch)
}
