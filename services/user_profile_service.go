package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"vibin_matcher/models"
	"vibin_matcher/utils"
)

// engineOwnedFields may only be written by the engine itself
var engineOwnedFields = map[string]bool{
	"id":                         true,
	"coordinates":                true,
	"g":                          true,
	"hasComputedRecommendations": true,
	"currentRecommendationSize":  true,
}

type UserProfileService struct {
	Store    DocumentStore
	Index    GeoIndex
	Tables   Tables
	Defaults models.UserSettings
	Logger   *zap.Logger
}

// NewUserProfileService wires a profile service; defaults are the settings
// written to profiles that never chose their own.
func NewUserProfileService(store DocumentStore, index GeoIndex, tables Tables, defaults models.UserSettings, logger *zap.Logger) *UserProfileService {
	return &UserProfileService{Store: store, Index: index, Tables: tables, Defaults: defaults, Logger: utils.OrNop(logger)}
}

// GetProfile retrieves a user profile by ID
func (ups *UserProfileService) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var profile models.UserProfile
	found, err := ups.Store.GetItem(ctx, ups.Tables.ProfileKey(userID), &profile)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile %s: %w", userID, err)
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", userID, ErrProfileNotFound)
	}
	return &profile, nil
}

// SaveProfile writes the full profile. Engine-owned fields (index key and
// recommendation bookkeeping) are carried over from the stored profile.
func (ups *UserProfileService) SaveProfile(ctx context.Context, profile models.UserProfile) (*models.UserProfile, error) {
	if profile.ID == "" {
		return nil, fmt.Errorf("missing id: %w", ErrInvalidProfile)
	}
	var existing models.UserProfile
	found, err := ups.Store.GetItem(ctx, ups.Tables.ProfileKey(profile.ID), &existing)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile %s: %w", profile.ID, err)
	}
	profile.Coordinates = nil
	profile.GeoHash = ""
	profile.HasComputedRecommendations = false
	profile.CurrentRecommendationSize = 0
	if found {
		profile.Coordinates = existing.Coordinates
		profile.GeoHash = existing.GeoHash
		profile.HasComputedRecommendations = existing.HasComputedRecommendations
		profile.CurrentRecommendationSize = existing.CurrentRecommendationSize
	}

	if err := ups.Store.PutItem(ctx, ups.Tables.ProfileKey(profile.ID), profile); err != nil {
		return nil, fmt.Errorf("failed to save profile %s: %w", profile.ID, err)
	}
	ups.Logger.Info("profile saved", zap.String("userId", profile.ID), zap.Bool("created", !found))
	return &profile, nil
}

// UpdateProfile merges top-level fields into an existing profile
func (ups *UserProfileService) UpdateProfile(ctx context.Context, userID string, updates map[string]interface{}) (*models.UserProfile, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("no fields to update: %w", ErrInvalidProfile)
	}
	for field := range updates {
		if engineOwnedFields[field] {
			return nil, fmt.Errorf("field %q cannot be updated: %w", field, ErrInvalidProfile)
		}
	}
	if _, err := ups.GetProfile(ctx, userID); err != nil {
		return nil, err
	}
	if err := ups.Store.UpdateItem(ctx, ups.Tables.ProfileKey(userID), updates); err != nil {
		return nil, fmt.Errorf("failed to update profile %s: %w", userID, err)
	}
	return ups.GetProfile(ctx, userID)
}

// DeleteProfile removes a user profile
func (ups *UserProfileService) DeleteProfile(ctx context.Context, userID string) error {
	if err := ups.Store.DeleteItem(ctx, ups.Tables.ProfileKey(userID)); err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", userID, err)
	}
	return nil
}

// ApplyBookkeeping records the outcome of a recompute on the profile. When
// the profile still has no settings the configured defaults are written too.
func (ups *UserProfileService) ApplyBookkeeping(ctx context.Context, profile *models.UserProfile, size int) error {
	fields := map[string]interface{}{
		"hasComputedRecommendations": true,
		"currentRecommendationSize":  size,
	}
	if profile.Settings == nil {
		fields["settings"] = ups.Defaults
	}
	if err := ups.Store.UpdateItem(ctx, ups.Tables.ProfileKey(profile.ID), fields); err != nil {
		return fmt.Errorf("failed to update bookkeeping for %s: %w", profile.ID, err)
	}
	profile.HasComputedRecommendations = true
	profile.CurrentRecommendationSize = size
	if profile.Settings == nil {
		defaults := ups.Defaults
		profile.Settings = &defaults
	}
	return nil
}

// RefreshIndexKey copies the profile's location into its indexed coordinates,
// recomputes the geohash and pushes the profile into the geo index. It
// returns the refreshed profile.
func (ups *UserProfileService) RefreshIndexKey(ctx context.Context, profile models.UserProfile) (*models.UserProfile, error) {
	if !profile.HasLocation() {
		return nil, fmt.Errorf("profile %s has no location: %w", profile.ID, ErrInvalidProfile)
	}
	location := *profile.Location
	profile.Coordinates = &location
	profile.GeoHash = utils.GeoHash(location.Latitude, location.Longitude)

	err := ups.Store.UpdateItem(ctx, ups.Tables.ProfileKey(profile.ID), map[string]interface{}{
		"coordinates": profile.Coordinates,
		"g":           profile.GeoHash,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to refresh index key for %s: %w", profile.ID, err)
	}
	if err := ups.Index.Upsert(ctx, profile); err != nil {
		return nil, err
	}
	ups.Logger.Debug("index key refreshed", zap.String("userId", profile.ID), zap.String("g", profile.GeoHash))
	return &profile, nil
}

// ApplyDefaultSettings writes the configured default settings to a profile
// that has none and returns the updated profile.
func (ups *UserProfileService) ApplyDefaultSettings(ctx context.Context, profile models.UserProfile) (*models.UserProfile, error) {
	defaults := ups.Defaults
	if err := ups.Store.UpdateItem(ctx, ups.Tables.ProfileKey(profile.ID), map[string]interface{}{"settings": defaults}); err != nil {
		return nil, fmt.Errorf("failed to apply default settings for %s: %w", profile.ID, err)
	}
	profile.Settings = &defaults
	if profile.Coordinates != nil && !profile.IndexIsStale() {
		if err := ups.Index.Upsert(ctx, profile); err != nil {
			return nil, err
		}
	}
	return &profile, nil
}

// Reindex loads every stored profile into the geo index and returns how many
// were indexed.
func (ups *UserProfileService) Reindex(ctx context.Context) (int, error) {
	var profiles []models.UserProfile
	if err := ups.Store.ScanItems(ctx, ups.Tables.Users, models.ProfileSortKey, &profiles); err != nil {
		return 0, err
	}
	indexed := 0
	for _, profile := range profiles {
		if profile.Coordinates == nil {
			continue
		}
		if err := ups.Index.Upsert(ctx, profile); err != nil {
			return indexed, err
		}
		indexed++
	}
	ups.Logger.Info("geo index rebuilt", zap.Int("profiles", len(profiles)), zap.Int("indexed", indexed))
	return indexed, nil
}
