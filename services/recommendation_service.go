package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"vibin_matcher/models"
	"vibin_matcher/utils"
)

// RecommendationOptions tunes candidate search and recompute exclusion
type RecommendationOptions struct {
	// BatchCeiling caps the number of entries written per recompute.
	BatchCeiling int
	// UnlimitedRadiusKm is the search radius used for an "unlimited" setting.
	UnlimitedRadiusKm float64
	// CandidatePageSize is how many candidates are read from the index at a time.
	CandidatePageSize int
	// LeaseEnabled guards each recompute with a per-user lease of LeaseTTL.
	LeaseEnabled bool
	LeaseTTL     time.Duration
}

// DefaultRecommendationOptions returns the production defaults
func DefaultRecommendationOptions() RecommendationOptions {
	return RecommendationOptions{
		BatchCeiling:      100,
		UnlimitedRadiusKm: 10000,
		CandidatePageSize: 50,
		LeaseEnabled:      true,
		LeaseTTL:          2 * time.Minute,
	}
}

// exclusionTypes are the swipe partitions whose targets are never recommended
var exclusionTypes = []string{models.SwipeTypeLike, models.SwipeTypeDislike, models.SwipeTypeSuperLike}

// RecommendationService computes and serves per-user recommendation sets
type RecommendationService struct {
	Store    DocumentStore
	Index    GeoIndex
	Tables   Tables
	Defaults models.UserSettings
	Options  RecommendationOptions
	Logger   *zap.Logger
	Now      func() time.Time
}

func NewRecommendationService(store DocumentStore, index GeoIndex, tables Tables, defaults models.UserSettings, opts RecommendationOptions, logger *zap.Logger) *RecommendationService {
	return &RecommendationService{
		Store:    store,
		Index:    index,
		Tables:   tables,
		Defaults: defaults,
		Options:  opts,
		Logger:   utils.OrNop(logger),
		Now:      time.Now,
	}
}

// ComputeRecommendations replaces the user's recommendation set with the
// nearest compatible candidates the user has not swiped on yet, capped at the
// batch ceiling. With updateIsComputingFlag the status document reads
// isComputingRecommendation=true until the new set is committed.
func (rs *RecommendationService) ComputeRecommendations(ctx context.Context, user models.UserProfile, updateIsComputingFlag bool) ([]models.Recommendation, error) {
	return rs.computeAndRecord(ctx, user, updateIsComputingFlag, nil)
}

// computeAndRecord runs a recompute and then record, if set, before the
// recompute lease is released.
func (rs *RecommendationService) computeAndRecord(ctx context.Context, user models.UserProfile, updateIsComputingFlag bool, record func([]models.Recommendation) error) (recs []models.Recommendation, err error) {
	ctx, span := tracer.Start(ctx, "RecommendationService.ComputeRecommendations", trace.WithAttributes(
		attribute.String("user.id", user.ID),
		attribute.Bool("recompute.update_flag", updateIsComputingFlag),
	))
	defer func() { endSpan(span, err) }()

	if !user.HasLocation() {
		return nil, fmt.Errorf("user %s has no location: %w", user.ID, ErrInvalidProfile)
	}

	statusKey := rs.Tables.StatusKey(user.ID)
	if rs.Options.LeaseEnabled {
		token := uuid.New().String()
		acquired, err := rs.Store.AcquireLease(ctx, statusKey, token, rs.Now(), rs.Options.LeaseTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire recompute lease: %w", err)
		}
		if !acquired {
			return nil, fmt.Errorf("user %s: %w", user.ID, ErrRecomputeInProgress)
		}
		defer func() {
			// a fresh context so the lease is released even if ctx is done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if releaseErr := rs.Store.ReleaseLease(releaseCtx, statusKey, token); releaseErr != nil {
				rs.Logger.Warn("failed to release recompute lease", zap.String("userId", user.ID), zap.Error(releaseErr))
			}
		}()
	}

	recs, err = rs.recompute(ctx, user, updateIsComputingFlag)
	if err == nil && record != nil {
		if err = record(recs); err != nil {
			recs = nil
		}
	}
	if err != nil && updateIsComputingFlag {
		if clearErr := rs.setComputing(context.Background(), user.ID, false); clearErr != nil {
			rs.Logger.Warn("failed to clear computing flag", zap.String("userId", user.ID), zap.Error(clearErr))
		}
	}
	return recs, err
}

func (rs *RecommendationService) recompute(ctx context.Context, user models.UserProfile, updateIsComputingFlag bool) ([]models.Recommendation, error) {
	var current []models.Recommendation
	if err := rs.Store.QueryItems(ctx, rs.Tables.Recommendations, userPK(user.ID), models.RecommendationKeyPrefix, &current); err != nil {
		return nil, fmt.Errorf("failed to read current recommendations: %w", err)
	}
	if updateIsComputingFlag {
		if err := rs.setComputing(ctx, user.ID, true); err != nil {
			return nil, err
		}
	}

	batch := NewWriteBatch()
	for _, rec := range current {
		batch.Delete(rs.Tables.RecommendationKey(user.ID, rec.ID))
	}

	excluded, err := rs.swipeExclusions(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	recs, scanned, err := rs.collectCandidates(ctx, user, excluded)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		batch.Put(rs.Tables.RecommendationKey(user.ID, rec.ID), rec)
	}

	if err := rs.Store.CommitBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to commit recommendations: %w", err)
	}
	// also clears a flag left raised by an earlier failed run
	if err := rs.setComputing(ctx, user.ID, false); err != nil {
		return nil, err
	}

	rs.Logger.Info("recommendations computed",
		zap.String("userId", user.ID),
		zap.Int("previous", len(current)),
		zap.Int("scanned", scanned),
		zap.Int("written", len(recs)))
	return recs, nil
}

// NearQueryFor builds the candidate query for a user's location and settings
func (rs *RecommendationService) NearQueryFor(user models.UserProfile) NearQuery {
	settings := user.SettingsOrDefault(rs.Defaults)
	q := NearQuery{
		Latitude:  user.Location.Latitude,
		Longitude: user.Location.Longitude,
		RadiusKm:  utils.ParseRadiusKm(settings.DistanceRadius, rs.Options.UnlimitedRadiusKm),
		Filters:   []Filter{{Field: FieldShowMe, Value: true}},
	}
	if settings.GenderPreference != "" && settings.GenderPreference != models.GenderPreferenceAll {
		q.Filters = append(q.Filters, Filter{Field: FieldGender, Value: settings.GenderPreference})
	}
	return q
}

// collectCandidates walks the candidates in distance order until the batch
// ceiling is reached or the index runs out. It also returns how many
// candidates were looked at.
func (rs *RecommendationService) collectCandidates(ctx context.Context, user models.UserProfile, excluded map[string]string) ([]models.Recommendation, int, error) {
	q := rs.NearQueryFor(user)
	ceiling := rs.Options.BatchCeiling
	pageSize := rs.Options.CandidatePageSize
	if pageSize <= 0 {
		pageSize = ceiling
	}

	recs := []models.Recommendation{}
	scanned := 0
	for offset := 0; len(recs) < ceiling; offset += pageSize {
		page, err := rs.Index.Near(ctx, q, offset, pageSize)
		if err != nil {
			return nil, scanned, fmt.Errorf("candidate search failed: %w", err)
		}
		for _, candidate := range page {
			scanned++
			id := candidate.Profile.ID
			if id == user.ID {
				continue
			}
			if _, swiped := excluded[id]; swiped {
				continue
			}
			recs = append(recs, models.Recommendation{
				UserProfile: recommendationSnapshot(candidate.Profile),
				Distance:    utils.DistanceLabel(candidate.DistanceKm),
			})
			if len(recs) == ceiling {
				break
			}
		}
		if len(page) < pageSize {
			break
		}
	}
	return recs, scanned, nil
}

// recommendationSnapshot strips the candidate's own engine bookkeeping
func recommendationSnapshot(profile models.UserProfile) models.UserProfile {
	profile.HasComputedRecommendations = false
	profile.CurrentRecommendationSize = 0
	return profile
}

// swipeExclusions maps every profile the user has swiped on to the decision type
func (rs *RecommendationService) swipeExclusions(ctx context.Context, userID string) (map[string]string, error) {
	excluded := make(map[string]string)
	for _, swipeType := range exclusionTypes {
		var swipes []models.Swipe
		if err := rs.Store.QueryItems(ctx, rs.Tables.Swipes, userPK(userID), models.SwipeKeyPrefix(swipeType), &swipes); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", models.SwipeCollection(swipeType), err)
		}
		for _, swipe := range swipes {
			excluded[swipe.SwipedProfileID] = swipe.Type
		}
	}
	return excluded, nil
}

func (rs *RecommendationService) setComputing(ctx context.Context, userID string, computing bool) error {
	err := rs.Store.UpdateItem(ctx, rs.Tables.StatusKey(userID), map[string]interface{}{
		"isComputingRecommendation": computing,
	})
	if err != nil {
		return fmt.Errorf("failed to set computing flag to %t: %w", computing, err)
	}
	return nil
}

// ListRecommendations returns the user's current recommendations ordered by id
func (rs *RecommendationService) ListRecommendations(ctx context.Context, userID string) ([]models.Recommendation, error) {
	recs := []models.Recommendation{}
	if err := rs.Store.QueryItems(ctx, rs.Tables.Recommendations, userPK(userID), models.RecommendationKeyPrefix, &recs); err != nil {
		return nil, fmt.Errorf("failed to list recommendations for %s: %w", userID, err)
	}
	return recs, nil
}

// CountRecommendations returns how many recommendations the user has left
func (rs *RecommendationService) CountRecommendations(ctx context.Context, userID string) (int, error) {
	count, err := rs.Store.CountItems(ctx, rs.Tables.Recommendations, userPK(userID), models.RecommendationKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to count recommendations for %s: %w", userID, err)
	}
	return count, nil
}

// Status returns the user's computation status; a user that was never
// computed reads as not computing.
func (rs *RecommendationService) Status(ctx context.Context, userID string) (models.RecommendationStatus, error) {
	var status models.RecommendationStatus
	if _, err := rs.Store.GetItem(ctx, rs.Tables.StatusKey(userID), &status); err != nil {
		return status, fmt.Errorf("failed to read recommendation status for %s: %w", userID, err)
	}
	return status, nil
}

// DeleteRecommendation removes one entry, typically after the user swiped on
// it. The deletion reaches the depletion trigger through the change feed.
func (rs *RecommendationService) DeleteRecommendation(ctx context.Context, userID, recommendationID string) error {
	if userID == "" || recommendationID == "" {
		return errors.New("userId and recommendationId are required")
	}
	if err := rs.Store.DeleteItem(ctx, rs.Tables.RecommendationKey(userID, recommendationID)); err != nil {
		return fmt.Errorf("failed to delete recommendation %s for %s: %w", recommendationID, userID, err)
	}
	return nil
}
