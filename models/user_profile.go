package models

import "strings"

// GeoPoint is a latitude/longitude pair
type GeoPoint struct {
	Latitude  float64 `dynamodbav:"latitude" json:"latitude"`
	Longitude float64 `dynamodbav:"longitude" json:"longitude"`
}

// Equal reports whether both points carry the same coordinates.
func (p *GeoPoint) Equal(other *GeoPoint) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.Latitude == other.Latitude && p.Longitude == other.Longitude
}

// UserSettings holds the discovery preferences of a user
type UserSettings struct {
	DistanceRadius   string `dynamodbav:"distance_radius" json:"distance_radius"`     // "unlimited" or "<n>[ km|mi]"
	Gender           string `dynamodbav:"gender" json:"gender"`                       // the user's own gender
	GenderPreference string `dynamodbav:"gender_preference" json:"gender_preference"` // a gender or "all"
	ShowMe           bool   `dynamodbav:"show_me" json:"show_me"`                     // visible to others
}

// UserProfile defines the structure for user profiles
type UserProfile struct {
	ID                string        `dynamodbav:"id" json:"id"`
	FirstName         string        `dynamodbav:"firstName,omitempty" json:"firstName,omitempty"`
	LastName          string        `dynamodbav:"lastName,omitempty" json:"lastName,omitempty"`
	Email             string        `dynamodbav:"email,omitempty" json:"email,omitempty"`
	Phone             string        `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
	ProfilePictureURL string        `dynamodbav:"profilePictureURL,omitempty" json:"profilePictureURL,omitempty"`
	Location          *GeoPoint     `dynamodbav:"location,omitempty" json:"location,omitempty"`
	Coordinates       *GeoPoint     `dynamodbav:"coordinates,omitempty" json:"coordinates,omitempty"` // copy of location the geo index knows about
	GeoHash           string        `dynamodbav:"g,omitempty" json:"g,omitempty"`
	Settings          *UserSettings `dynamodbav:"settings,omitempty" json:"settings,omitempty"`

	HasComputedRecommendations bool `dynamodbav:"hasComputedRecommendations" json:"hasComputedRecommendations"`
	CurrentRecommendationSize  int  `dynamodbav:"currentRecommendationSize" json:"currentRecommendationSize"`
}

// HasLocation reports whether the profile carries a usable location.
func (p *UserProfile) HasLocation() bool {
	return p != nil && p.Location != nil && p.Location.Latitude != 0
}

// IsReadyForRecommendations reports whether the minimum fields for a first
// computation are present and nothing has been computed yet.
func (p *UserProfile) IsReadyForRecommendations() bool {
	return strings.TrimSpace(p.FirstName) != "" &&
		(p.Email != "" || p.Phone != "") &&
		p.ProfilePictureURL != "" &&
		!p.HasComputedRecommendations
}

// IndexIsStale reports whether the geo index key is missing or out of date
// with respect to the profile's location.
func (p *UserProfile) IndexIsStale() bool {
	return p.GeoHash == "" || !p.Coordinates.Equal(p.Location)
}

// SettingsOrDefault returns the profile settings, or defaults when unset.
func (p *UserProfile) SettingsOrDefault(defaults UserSettings) UserSettings {
	if p == nil || p.Settings == nil {
		return defaults
	}
	return *p.Settings
}
