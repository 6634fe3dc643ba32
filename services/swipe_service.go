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

// SwipeService records swipe decisions and publishes mutual matches
type SwipeService struct {
	Store    DocumentStore
	Tables   Tables
	Profiles *UserProfileService
	Notifier MatchNotifier
	Logger   *zap.Logger
	Now      func() time.Time
}

func NewSwipeService(store DocumentStore, tables Tables, profiles *UserProfileService, notifier MatchNotifier, logger *zap.Logger) *SwipeService {
	return &SwipeService{
		Store:    store,
		Tables:   tables,
		Profiles: profiles,
		Notifier: notifier,
		Logger:   utils.OrNop(logger),
		Now:      time.Now,
	}
}

// RecordSwipe stores a swipe and, when it completes a mutual like or
// superlike, writes a match into both users' partitions. It returns the
// matched user's profile, nil when there is no match, or an error when the
// outcome could not be determined.
func (s *SwipeService) RecordSwipe(ctx context.Context, swipe models.Swipe) (matched *models.UserProfile, err error) {
	ctx, span := tracer.Start(ctx, "SwipeService.RecordSwipe", trace.WithAttributes(
		attribute.String("swipe.author", swipe.AuthorID),
		attribute.String("swipe.swiped", swipe.SwipedProfileID),
		attribute.String("swipe.type", swipe.Type),
	))
	defer func() { endSpan(span, err) }()

	if swipe.AuthorID == "" || swipe.SwipedProfileID == "" || swipe.Type == "" {
		return nil, fmt.Errorf("authorID, swipedProfileID and type are required: %w", ErrInvalidSwipe)
	}
	if swipe.AuthorID == swipe.SwipedProfileID {
		return nil, fmt.Errorf("cannot swipe on own profile: %w", ErrInvalidSwipe)
	}

	if models.IsMatchingSwipeType(swipe.Type) {
		reciprocal, err := s.hasReciprocalSwipe(ctx, swipe)
		if err != nil {
			return nil, err
		}
		if reciprocal {
			matched, err = s.createMatch(ctx, swipe)
			if err != nil {
				return nil, err
			}
		}
	}

	now := s.Now().UTC()
	swipe.CreatedAt = now.Format(time.RFC3339)
	if err := s.Store.PutItem(ctx, s.Tables.SwipeKey(swipe.AuthorID, swipe.Type, swipe.SwipedProfileID), swipe); err != nil {
		s.Logger.Error("failed to persist swipe",
			zap.String("authorID", swipe.AuthorID),
			zap.String("swipedProfileID", swipe.SwipedProfileID),
			zap.Bool("matched", matched != nil),
			zap.Error(err))
		return nil, fmt.Errorf("failed to persist swipe: %w", err)
	}

	span.SetAttributes(attribute.Bool("swipe.matched", matched != nil))
	return matched, nil
}

// hasReciprocalSwipe checks the mirror record: has the swiped user already
// recorded the same decision type on the author?
func (s *SwipeService) hasReciprocalSwipe(ctx context.Context, swipe models.Swipe) (bool, error) {
	var mirror models.Swipe
	found, err := s.Store.GetItem(ctx, s.Tables.SwipeKey(swipe.SwipedProfileID, swipe.Type, swipe.AuthorID), &mirror)
	if err != nil {
		return false, fmt.Errorf("failed to check reciprocal swipe: %w", err)
	}
	return found && mirror.Type == swipe.Type, nil
}

// createMatch writes both sides of the match in one batch. If the match
// already exists it is left untouched and the other profile is still returned.
// A deleted profile on either side means no match.
func (s *SwipeService) createMatch(ctx context.Context, swipe models.Swipe) (*models.UserProfile, error) {
	author, err := s.Profiles.GetProfile(ctx, swipe.AuthorID)
	if errors.Is(err, ErrProfileNotFound) {
		s.Logger.Info("match skipped, author profile missing", zap.String("authorID", swipe.AuthorID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	swiped, err := s.Profiles.GetProfile(ctx, swipe.SwipedProfileID)
	if errors.Is(err, ErrProfileNotFound) {
		s.Logger.Info("match skipped, swiped profile missing", zap.String("swipedProfileID", swipe.SwipedProfileID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	matchID := uuid.New().String()
	matchedAt := s.Now().UTC().Format(time.RFC3339)
	authorSide := models.Match{UserProfile: *swiped, MatchID: matchID, MatchedAt: matchedAt}
	swipedSide := models.Match{UserProfile: *author, MatchID: matchID, MatchedAt: matchedAt}

	batch := NewWriteBatch()
	batch.Create(s.Tables.MatchKey(author.ID, swiped.ID), authorSide)
	batch.Create(s.Tables.MatchKey(swiped.ID, author.ID), swipedSide)
	if err := s.Store.CommitBatch(ctx, batch); err != nil {
		if errors.Is(err, ErrConditionFailed) {
			s.Logger.Info("match already exists", zap.String("userA", author.ID), zap.String("userB", swiped.ID))
			return swiped, nil
		}
		return nil, fmt.Errorf("failed to write match: %w", err)
	}

	s.Logger.Info("match created", zap.String("matchId", matchID), zap.String("userA", author.ID), zap.String("userB", swiped.ID))
	s.notify(ctx, author.ID, authorSide)
	s.notify(ctx, swiped.ID, swipedSide)
	return swiped, nil
}

func (s *SwipeService) notify(ctx context.Context, userID string, match models.Match) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.NotifyMatch(ctx, userID, match); err != nil {
		s.Logger.Warn("match notification failed", zap.String("userId", userID), zap.String("matchId", match.MatchID), zap.Error(err))
	}
}

// ListMatches returns every match in the user's partition
func (s *SwipeService) ListMatches(ctx context.Context, userID string) ([]models.Match, error) {
	matches := []models.Match{}
	if err := s.Store.QueryItems(ctx, s.Tables.Matches, userPK(userID), models.MatchKeyPrefix, &matches); err != nil {
		return nil, fmt.Errorf("failed to list matches for %s: %w", userID, err)
	}
	return matches, nil
}

// ListSwipes returns the user's swipes of one decision type
func (s *SwipeService) ListSwipes(ctx context.Context, userID, swipeType string) ([]models.Swipe, error) {
	swipes := []models.Swipe{}
	if err := s.Store.QueryItems(ctx, s.Tables.Swipes, userPK(userID), models.SwipeKeyPrefix(swipeType), &swipes); err != nil {
		return nil, fmt.Errorf("failed to list %s for %s: %w", models.SwipeCollection(swipeType), userID, err)
	}
	return swipes, nil
}
