package services

import (
	"context"

	"vibin_matcher/models"
)

// Filterable profile fields
const (
	FieldShowMe = "settings.show_me"
	FieldGender = "settings.gender"
)

// Filter is an equality filter on a nested profile field
type Filter struct {
	Field string
	Value interface{} // string or bool
}

// NearQuery selects indexed profiles within RadiusKm of a point
type NearQuery struct {
	Latitude  float64
	Longitude float64
	RadiusKm  float64
	Filters   []Filter
}

// Candidate is a profile returned by a NearQuery
type Candidate struct {
	Profile    models.UserProfile
	DistanceKm float64
}

// GeoIndex answers radius queries over profile coordinates. Results are
// ordered by ascending distance, ties broken by profile id, so paging with
// offset and limit walks a stable sequence.
type GeoIndex interface {
	Near(ctx context.Context, q NearQuery, offset, limit int) ([]Candidate, error)
	// Upsert indexes the profile at its coordinates; a profile without
	// coordinates is removed from the index.
	Upsert(ctx context.Context, profile models.UserProfile) error
	Remove(ctx context.Context, id string) error
	Close() error
}

// matchesFilter evaluates f against a profile
func matchesFilter(profile models.UserProfile, f Filter) bool {
	if profile.Settings == nil {
		return false
	}
	switch f.Field {
	case FieldShowMe:
		v, ok := f.Value.(bool)
		return ok && profile.Settings.ShowMe == v
	case FieldGender:
		v, ok := f.Value.(string)
		return ok && profile.Settings.Gender == v
	default:
		return false
	}
}
