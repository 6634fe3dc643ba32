package services

import (
	"context"
	"sort"
	"sync"

	"vibin_matcher/models"
	"vibin_matcher/utils"
)

// MemoryGeoIndex is a brute-force GeoIndex over an in-process map
type MemoryGeoIndex struct {
	mu       sync.RWMutex
	profiles map[string]models.UserProfile
}

func NewMemoryGeoIndex() *MemoryGeoIndex {
	return &MemoryGeoIndex{profiles: make(map[string]models.UserProfile)}
}

func (m *MemoryGeoIndex) Upsert(ctx context.Context, profile models.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if profile.Coordinates == nil {
		delete(m.profiles, profile.ID)
		return nil
	}
	m.profiles[profile.ID] = profile
	return nil
}

func (m *MemoryGeoIndex) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, id)
	return nil
}

func (m *MemoryGeoIndex) Near(ctx context.Context, q NearQuery, offset, limit int) ([]Candidate, error) {
	m.mu.RLock()
	var matches []Candidate
	for _, profile := range m.profiles {
		d := utils.DistanceKm(q.Latitude, q.Longitude, profile.Coordinates.Latitude, profile.Coordinates.Longitude)
		if d > q.RadiusKm {
			continue
		}
		ok := true
		for _, f := range q.Filters {
			if !matchesFilter(profile, f) {
				ok = false
				break
			}
		}
		if ok {
			matches = append(matches, Candidate{Profile: profile, DistanceKm: d})
		}
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].DistanceKm != matches[j].DistanceKm {
			return matches[i].DistanceKm < matches[j].DistanceKm
		}
		return matches[i].Profile.ID < matches[j].Profile.ID
	})
	if offset >= len(matches) {
		return nil, nil
	}
	matches = matches[offset:]
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (m *MemoryGeoIndex) Close() error { return nil }
