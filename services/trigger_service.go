package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"vibin_matcher/models"
	"vibin_matcher/utils"
)

// TriggerOptions configures when profile writes and recommendation
// deletions lead to a recompute
type TriggerOptions struct {
	// LowWaterMark is the remaining-recommendation count at or below which a
	// deletion refills the set.
	LowWaterMark int
	// RecomputeOnVisibilityChange makes a show_me toggle count as a settings change.
	RecomputeOnVisibilityChange bool
}

// DefaultTriggerOptions returns the production defaults
func DefaultTriggerOptions() TriggerOptions {
	return TriggerOptions{LowWaterMark: 15}
}

// TriggerService decides, from profile writes and recommendation deletions,
// whether a user's recommendations need recomputing.
type TriggerService struct {
	Profiles        *UserProfileService
	Recommendations *RecommendationService
	Index           GeoIndex
	Options         TriggerOptions
	Logger          *zap.Logger
}

func NewTriggerService(profiles *UserProfileService, recs *RecommendationService, index GeoIndex, opts TriggerOptions, logger *zap.Logger) *TriggerService {
	return &TriggerService{
		Profiles:        profiles,
		Recommendations: recs,
		Index:           index,
		Options:         opts,
		Logger:          utils.OrNop(logger),
	}
}

// settingsChanged compares the settings that shape the candidate set. A
// profile without settings compares as the configured defaults.
func (ts *TriggerService) settingsChanged(beforeProfile, afterProfile *models.UserProfile) bool {
	before := beforeProfile.SettingsOrDefault(ts.Profiles.Defaults)
	after := afterProfile.SettingsOrDefault(ts.Profiles.Defaults)
	changed := before.DistanceRadius != after.DistanceRadius ||
		before.GenderPreference != after.GenderPreference
	if ts.Options.RecomputeOnVisibilityChange {
		changed = changed || before.ShowMe != after.ShowMe
	}
	return changed
}

// OnProfileWrite reacts to a profile being created, updated (both snapshots)
// or deleted (after is nil).
func (ts *TriggerService) OnProfileWrite(ctx context.Context, before, after *models.UserProfile) error {
	if after == nil {
		if before != nil {
			return ts.Index.Remove(ctx, before.ID)
		}
		return nil
	}
	if !after.HasLocation() {
		return nil
	}
	logger := ts.Logger.With(zap.String("userId", after.ID))

	// the index must know the current location before any recompute reads it
	profile := *after
	switch {
	case profile.IndexIsStale() && (profile.HasComputedRecommendations || profile.IsReadyForRecommendations()):
		refreshed, err := ts.Profiles.RefreshIndexKey(ctx, profile)
		if err != nil {
			return err
		}
		profile = *refreshed
	case !profile.IndexIsStale():
		if err := ts.Index.Upsert(ctx, profile); err != nil {
			return err
		}
	}

	if profile.HasComputedRecommendations && before != nil && ts.settingsChanged(before, &profile) {
		logger.Info("settings changed, recomputing recommendations")
		return ts.recomputeAndRecord(ctx, profile, true)
	}

	if !profile.IsReadyForRecommendations() {
		return nil
	}

	// another invocation may have computed while this one refreshed
	current, err := ts.Profiles.GetProfile(ctx, profile.ID)
	if err != nil {
		return err
	}
	if current.HasComputedRecommendations {
		return nil
	}
	profile = *current

	if profile.Settings == nil {
		withDefaults, err := ts.Profiles.ApplyDefaultSettings(ctx, profile)
		if err != nil {
			return err
		}
		profile = *withDefaults
	}

	logger.Info("computing first recommendations")
	return ts.recomputeAndRecord(ctx, profile, true)
}

// OnRecommendationDeleted refills userID's recommendations once the remaining
// count falls to the low-water mark.
func (ts *TriggerService) OnRecommendationDeleted(ctx context.Context, userID, recommendationID string) error {
	profile, err := ts.Profiles.GetProfile(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	remaining, err := ts.Recommendations.CountRecommendations(ctx, userID)
	if err != nil {
		return err
	}
	if remaining > ts.Options.LowWaterMark {
		return nil
	}
	if !profile.HasLocation() {
		return nil
	}
	ts.Logger.Info("recommendations depleted, refilling",
		zap.String("userId", userID),
		zap.String("deleted", recommendationID),
		zap.Int("remaining", remaining))
	return ts.recomputeAndRecord(ctx, *profile, false)
}

// RecomputeForUser recomputes a user's recommendations on demand
func (ts *TriggerService) RecomputeForUser(ctx context.Context, userID string) ([]models.Recommendation, error) {
	profile, err := ts.Profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !profile.HasLocation() {
		return nil, fmt.Errorf("user %s has no location: %w", userID, ErrInvalidProfile)
	}
	if profile.IndexIsStale() {
		if profile, err = ts.Profiles.RefreshIndexKey(ctx, *profile); err != nil {
			return nil, err
		}
	}
	return ts.Recommendations.computeAndRecord(ctx, *profile, true, func(recs []models.Recommendation) error {
		return ts.Profiles.ApplyBookkeeping(ctx, profile, len(recs))
	})
}

func (ts *TriggerService) recomputeAndRecord(ctx context.Context, profile models.UserProfile, updateIsComputingFlag bool) error {
	// bookkeeping lands before the lease is released
	_, err := ts.Recommendations.computeAndRecord(ctx, profile, updateIsComputingFlag, func(recs []models.Recommendation) error {
		return ts.Profiles.ApplyBookkeeping(ctx, &profile, len(recs))
	})
	if errors.Is(err, ErrRecomputeInProgress) {
		ts.Logger.Debug("recompute already running", zap.String("userId", profile.ID))
		return nil
	}
	return err
}
