package services

import "vibin_matcher/models"

// Tables names the four tables the engine uses and builds their keys.
type Tables struct {
	Users           string
	Swipes          string
	Matches         string
	Recommendations string
}

// DefaultTables returns the default table names
func DefaultTables() Tables {
	return Tables{
		Users:           models.UsersTable,
		Swipes:          models.SwipesTable,
		Matches:         models.MatchesTable,
		Recommendations: models.RecommendationsTable,
	}
}

func userPK(userID string) string {
	return models.UserKeyPrefix + userID
}

func (t Tables) ProfileKey(userID string) Key {
	return Key{Table: t.Users, PK: userPK(userID), SK: models.ProfileSortKey}
}

// SwipeKey addresses author's swipe of swipeType on swipedID, e.g.
// USER#author / LIKES#swiped
func (t Tables) SwipeKey(authorID, swipeType, swipedID string) Key {
	return Key{Table: t.Swipes, PK: userPK(authorID), SK: models.SwipeKeyPrefix(swipeType) + swipedID}
}

func (t Tables) MatchKey(userID, otherID string) Key {
	return Key{Table: t.Matches, PK: userPK(userID), SK: models.MatchKeyPrefix + otherID}
}

func (t Tables) RecommendationKey(userID, candidateID string) Key {
	return Key{Table: t.Recommendations, PK: userPK(userID), SK: models.RecommendationKeyPrefix + candidateID}
}

func (t Tables) StatusKey(userID string) Key {
	return Key{Table: t.Recommendations, PK: userPK(userID), SK: models.StatusSortKey}
}
