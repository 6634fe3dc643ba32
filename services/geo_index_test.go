package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibin_matcher/models"
)

const (
	originLat = 40.7128
	originLon = -74.0060
)

func indexedProfile(id string, latOffset float64, gender string, showMe bool) models.UserProfile {
	point := &models.GeoPoint{Latitude: originLat + latOffset, Longitude: originLon}
	return models.UserProfile{
		ID:          id,
		FirstName:   id,
		Location:    point,
		Coordinates: point,
		Settings:    &models.UserSettings{Gender: gender, ShowMe: showMe, GenderPreference: models.GenderPreferenceAll},
	}
}

func geoIndexBackends() map[string]func(t *testing.T) GeoIndex {
	return map[string]func(t *testing.T) GeoIndex{
		"memory": func(t *testing.T) GeoIndex { return NewMemoryGeoIndex() },
		"bleve-mem": func(t *testing.T) GeoIndex {
			idx, err := NewBleveGeoIndex("", nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = idx.Close() })
			return idx
		},
		"bleve-disk": func(t *testing.T) GeoIndex {
			idx, err := NewBleveGeoIndex(filepath.Join(t.TempDir(), "geo"), nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = idx.Close() })
			return idx
		},
	}
}

func candidateIDs(candidates []Candidate) []string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.Profile.ID
	}
	return ids
}

func TestGeoIndex_NearOrdersByDistance(t *testing.T) {
	for name, newIndex := range geoIndexBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			idx := newIndex(t)

			require.NoError(t, idx.Upsert(ctx, indexedProfile("far", 0.09, "female", true)))   // ~10 km
			require.NoError(t, idx.Upsert(ctx, indexedProfile("near", 0.01, "female", true)))  // ~1 km
			require.NoError(t, idx.Upsert(ctx, indexedProfile("mid", 0.045, "female", true)))  // ~5 km
			require.NoError(t, idx.Upsert(ctx, indexedProfile("out", 1.0, "female", true)))    // ~111 km

			got, err := idx.Near(ctx, NearQuery{Latitude: originLat, Longitude: originLon, RadiusKm: 50}, 0, 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"near", "mid", "far"}, candidateIDs(got))
			assert.InDelta(t, 1.11, got[0].DistanceKm, 0.05)
			assert.Equal(t, "near", got[0].Profile.FirstName)
		})
	}
}

func TestGeoIndex_NearAppliesFilters(t *testing.T) {
	for name, newIndex := range geoIndexBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			idx := newIndex(t)

			require.NoError(t, idx.Upsert(ctx, indexedProfile("f1", 0.01, "female", true)))
			require.NoError(t, idx.Upsert(ctx, indexedProfile("f2", 0.02, "female", false)))
			require.NoError(t, idx.Upsert(ctx, indexedProfile("m1", 0.03, "male", true)))

			q := NearQuery{Latitude: originLat, Longitude: originLon, RadiusKm: 50, Filters: []Filter{{Field: FieldShowMe, Value: true}}}
			got, err := idx.Near(ctx, q, 0, 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"f1", "m1"}, candidateIDs(got))

			q.Filters = append(q.Filters, Filter{Field: FieldGender, Value: "female"})
			got, err = idx.Near(ctx, q, 0, 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"f1"}, candidateIDs(got))
		})
	}
}

func TestGeoIndex_PagingAndRemoval(t *testing.T) {
	for name, newIndex := range geoIndexBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			idx := newIndex(t)

			for i, id := range []string{"a", "b", "c", "d", "e"} {
				require.NoError(t, idx.Upsert(ctx, indexedProfile(id, 0.01*float64(i+1), "female", true)))
			}
			q := NearQuery{Latitude: originLat, Longitude: originLon, RadiusKm: 50}

			page1, err := idx.Near(ctx, q, 0, 2)
			require.NoError(t, err)
			page2, err := idx.Near(ctx, q, 2, 2)
			require.NoError(t, err)
			page3, err := idx.Near(ctx, q, 4, 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, candidateIDs(page1))
			assert.Equal(t, []string{"c", "d"}, candidateIDs(page2))
			assert.Equal(t, []string{"e"}, candidateIDs(page3))

			require.NoError(t, idx.Remove(ctx, "a"))
			noCoords := indexedProfile("b", 0, "female", true)
			noCoords.Coordinates = nil
			require.NoError(t, idx.Upsert(ctx, noCoords))

			got, err := idx.Near(ctx, q, 0, 10)
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "d", "e"}, candidateIDs(got))
		})
	}
}
