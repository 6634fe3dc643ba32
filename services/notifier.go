package services

import (
	"context"

	"vibin_matcher/models"
)

// MatchNotifier tells a connected user about a new match
type MatchNotifier interface {
	NotifyMatch(ctx context.Context, userID string, match models.Match) error
}

// MatchNotifierFunc adapts a function to MatchNotifier
type MatchNotifierFunc func(ctx context.Context, userID string, match models.Match) error

func (f MatchNotifierFunc) NotifyMatch(ctx context.Context, userID string, match models.Match) error {
	return f(ctx, userID, match)
}
