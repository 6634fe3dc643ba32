package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibin_matcher/models"
)

func TestOnRecommendationDeleted_RefillsAtLowWaterMark(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	x := seekerWithSettings(t, e, testDefaults)
	require.NoError(t, e.profiles.ApplyBookkeeping(ctx, &x, 16))
	for i := 0; i < 30; i++ {
		e.seedIndexed(t, candidate(fmt.Sprintf("c%02d", i), "female", 0.01*float64(i+1)))
	}
	e.seedRecommendations(t, "x", 16)

	var flagDuringSearch []bool
	e.index.onNear = func() { flagDuringSearch = append(flagDuringSearch, e.isComputing(t, "x")) }

	// 16 -> 15
	require.NoError(t, e.recs.DeleteRecommendation(ctx, "x", "seed-000"))
	require.NoError(t, e.triggers.OnRecommendationDeleted(ctx, "x", "seed-000"))

	require.NotEmpty(t, flagDuringSearch, "a recompute ran")
	for _, computing := range flagDuringSearch {
		assert.False(t, computing, "refill never raises the computing flag")
	}
	assert.Len(t, e.recommendationIDs(t, "x"), 30)

	stored, err := e.profiles.GetProfile(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 30, stored.CurrentRecommendationSize)
}

func TestOnRecommendationDeleted_AboveLowWaterMark(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seekerWithSettings(t, e, testDefaults)
	e.seedRecommendations(t, "x", 17)

	// 17 -> 16
	require.NoError(t, e.recs.DeleteRecommendation(ctx, "x", "seed-000"))
	require.NoError(t, e.triggers.OnRecommendationDeleted(ctx, "x", "seed-000"))
	assert.Zero(t, e.index.nears)
	assert.Len(t, e.recommendationIDs(t, "x"), 16)
}

func TestOnRecommendationDeleted_UnknownUser(t *testing.T) {
	e := newTestEngine(t)
	assert.NoError(t, e.triggers.OnRecommendationDeleted(context.Background(), "ghost", "anyone"))
	assert.Zero(t, e.index.nears)
}

func TestOnProfileWrite_SettingsChangeRecomputesWithFlag(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	before := seekerWithSettings(t, e, models.UserSettings{DistanceRadius: "10", Gender: "male", GenderPreference: models.GenderPreferenceAll, ShowMe: true})
	require.NoError(t, e.profiles.ApplyBookkeeping(ctx, &before, 1))
	e.seedIndexed(t, candidate("near", "female", 0.05)) // ~5.6 km
	e.seedIndexed(t, candidate("mid", "female", 0.3))   // ~33 km
	e.seedRecommendations(t, "x", 1)

	after, err := e.profiles.UpdateProfile(ctx, "x", map[string]interface{}{
		"settings": models.UserSettings{DistanceRadius: "50", Gender: "male", GenderPreference: models.GenderPreferenceAll, ShowMe: true},
	})
	require.NoError(t, err)

	var flagDuringSearch []bool
	e.index.onNear = func() { flagDuringSearch = append(flagDuringSearch, e.isComputing(t, "x")) }
	require.NoError(t, e.triggers.OnProfileWrite(ctx, &before, after))

	require.NotEmpty(t, flagDuringSearch)
	assert.True(t, flagDuringSearch[0], "flag forced true during the recompute")
	assert.False(t, e.isComputing(t, "x"), "flag false after commit")
	assert.ElementsMatch(t, []string{"near", "mid"}, e.recommendationIDs(t, "x"))

	stored, err := e.profiles.GetProfile(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CurrentRecommendationSize)
}

func TestOnProfileWrite_VisibilityChangeIsConfigurable(t *testing.T) {
	for _, recompute := range []bool{false, true} {
		t.Run(fmt.Sprintf("recompute=%t", recompute), func(t *testing.T) {
			e := newTestEngine(t)
			e.triggers.Options.RecomputeOnVisibilityChange = recompute
			ctx := context.Background()
			before := seekerWithSettings(t, e, testDefaults)
			require.NoError(t, e.profiles.ApplyBookkeeping(ctx, &before, 0))

			hiddenSettings := testDefaults
			hiddenSettings.ShowMe = false
			after := before
			after.Settings = &hiddenSettings

			require.NoError(t, e.triggers.OnProfileWrite(ctx, &before, &after))
			assert.Equal(t, recompute, e.index.nears > 0)
		})
	}
}

func TestOnProfileWrite_DefaultsFillingMissingSettingsIsNoChange(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	x := candidate("x", "male", 0)
	x.Settings = nil
	before := e.seedIndexed(t, x)
	before.HasComputedRecommendations = true
	require.NoError(t, e.profiles.ApplyBookkeeping(ctx, &x, 0))

	after, err := e.profiles.GetProfile(ctx, "x")
	require.NoError(t, err)
	require.NotNil(t, after.Settings)
	require.Nil(t, before.Settings)

	require.NoError(t, e.triggers.OnProfileWrite(ctx, &before, after))
	assert.Zero(t, e.index.nears)
}

func TestOnProfileWrite_FirstComputation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.seedIndexed(t, candidate("f", "female", 0.01))
	e.seedIndexed(t, candidate("m", "male", 0.02))

	// a brand new ready profile: no index key, no settings
	x := candidate("x", "male", 0)
	x.Settings = nil
	saved, err := e.profiles.SaveProfile(ctx, x)
	require.NoError(t, err)

	require.NoError(t, e.triggers.OnProfileWrite(ctx, nil, saved))

	stored, err := e.profiles.GetProfile(ctx, "x")
	require.NoError(t, err)
	assert.True(t, stored.HasComputedRecommendations)
	assert.Equal(t, 2, stored.CurrentRecommendationSize)
	require.NotNil(t, stored.Settings)
	assert.Equal(t, testDefaults, *stored.Settings)
	require.NotNil(t, stored.Coordinates)
	assert.True(t, stored.Coordinates.Equal(stored.Location))
	assert.NotEmpty(t, stored.GeoHash)
	assert.ElementsMatch(t, []string{"f", "m"}, e.recommendationIDs(t, "x"))

	// x is now discoverable by others
	found, err := e.index.Near(ctx, NearQuery{Latitude: originLat, Longitude: originLon, RadiusKm: 1}, 0, 10)
	require.NoError(t, err)
	assert.Contains(t, candidateIDs(found), "x")

	// replaying the same event is a no-op
	nears := e.index.nears
	require.NoError(t, e.triggers.OnProfileWrite(ctx, nil, saved))
	assert.Equal(t, nears, e.index.nears)
}

func TestOnProfileWrite_NotReady(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *models.UserProfile)
	}{
		{"no location", func(p *models.UserProfile) { p.Location = nil }},
		{"blank first name", func(p *models.UserProfile) { p.FirstName = "   " }},
		{"no contact", func(p *models.UserProfile) { p.Email = ""; p.Phone = "" }},
		{"no picture", func(p *models.UserProfile) { p.ProfilePictureURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			ctx := context.Background()
			e.seedIndexed(t, candidate("f", "female", 0.01))

			x := candidate("x", "male", 0)
			tt.mutate(&x)
			saved, err := e.profiles.SaveProfile(ctx, x)
			require.NoError(t, err)

			require.NoError(t, e.triggers.OnProfileWrite(ctx, nil, saved))
			assert.Zero(t, e.index.nears)
			stored, err := e.profiles.GetProfile(ctx, "x")
			require.NoError(t, err)
			assert.False(t, stored.HasComputedRecommendations)
			assert.Empty(t, stored.GeoHash)
		})
	}
}

func TestOnProfileWrite_PhoneIsEnoughContact(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	x := candidate("x", "male", 0)
	x.Email = ""
	x.Phone = "+15555550100"
	saved, err := e.profiles.SaveProfile(ctx, x)
	require.NoError(t, err)

	require.NoError(t, e.triggers.OnProfileWrite(ctx, nil, saved))
	stored, err := e.profiles.GetProfile(ctx, "x")
	require.NoError(t, err)
	assert.True(t, stored.HasComputedRecommendations)
}

func TestOnProfileWrite_DeletedProfileLeavesIndex(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	f := e.seedIndexed(t, candidate("f", "female", 0.01))

	require.NoError(t, e.triggers.OnProfileWrite(ctx, &f, nil))
	found, err := e.index.Near(ctx, NearQuery{Latitude: originLat, Longitude: originLon, RadiusKm: 50}, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestOnProfileWrite_MovedUserIsReindexed(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	before := e.seedIndexed(t, candidate("f", "female", 0.01))
	require.NoError(t, e.profiles.ApplyBookkeeping(ctx, &before, 0))

	after, err := e.profiles.UpdateProfile(ctx, "f", map[string]interface{}{
		"location": models.GeoPoint{Latitude: originLat + 1, Longitude: originLon},
	})
	require.NoError(t, err)
	require.NoError(t, e.triggers.OnProfileWrite(ctx, &before, after))

	nearOld, err := e.index.Near(ctx, NearQuery{Latitude: originLat, Longitude: originLon, RadiusKm: 50}, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, nearOld)
	nearNew, err := e.index.Near(ctx, NearQuery{Latitude: originLat + 1, Longitude: originLon, RadiusKm: 1}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"f"}, candidateIDs(nearNew))
}

func TestRecomputeForUser(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.seedIndexed(t, candidate("f", "female", 0.01))
	x := candidate("x", "male", 0)
	_, err := e.profiles.SaveProfile(ctx, x)
	require.NoError(t, err)

	recs, err := e.triggers.RecomputeForUser(ctx, "x")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "f", recs[0].ID)

	_, err = e.triggers.RecomputeForUser(ctx, "ghost")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

// leaseCheckingStore tries to take the recompute lease whenever recompute
// bookkeeping is written to a profile
type leaseCheckingStore struct {
	DocumentStore
	statusKey Key
	acquired  []bool
}

func (l *leaseCheckingStore) UpdateItem(ctx context.Context, key Key, fields map[string]interface{}) error {
	if _, ok := fields["hasComputedRecommendations"]; ok {
		got, err := l.DocumentStore.AcquireLease(ctx, l.statusKey, "intruder", time.Now(), time.Minute)
		if err != nil {
			return err
		}
		l.acquired = append(l.acquired, got)
	}
	return l.DocumentStore.UpdateItem(ctx, key, fields)
}

func TestRecompute_BookkeepingWrittenUnderLease(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seekerWithSettings(t, e, testDefaults)
	e.seedIndexed(t, candidate("f", "female", 0.01))

	checking := &leaseCheckingStore{DocumentStore: e.store, statusKey: e.tables.StatusKey("x")}
	e.profiles.Store = checking

	_, err := e.triggers.RecomputeForUser(ctx, "x")
	require.NoError(t, err)
	require.NoError(t, e.triggers.OnRecommendationDeleted(ctx, "x", "f"))

	require.Len(t, checking.acquired, 2)
	for _, got := range checking.acquired {
		assert.False(t, got, "the lease is still held while bookkeeping is written")
	}

	free, err := e.store.AcquireLease(ctx, e.tables.StatusKey("x"), "after", time.Now(), time.Minute)
	require.NoError(t, err)
	assert.True(t, free, "the lease is released once bookkeeping is done")
}
