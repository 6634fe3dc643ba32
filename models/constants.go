package models

// Swipe decision types
const (
	SwipeTypeLike      = "like"
	SwipeTypeDislike   = "dislike"
	SwipeTypeSuperLike = "superlike"
)

// Setting values with special meaning
const (
	DistanceRadiusUnlimited = "unlimited"
	GenderPreferenceAll     = "all"
	GenderNone              = "none"
)

// Default table names; overridable through config
const (
	UsersTable           = "Users"
	SwipesTable          = "Swipes"
	MatchesTable         = "Matches"
	RecommendationsTable = "Recommendations"
)

// Key prefixes and fixed sort keys
const (
	UserKeyPrefix           = "USER#"
	ProfileSortKey          = "PROFILE"
	MatchKeyPrefix          = "MATCH#"
	RecommendationKeyPrefix = "REC#"
	StatusSortKey           = "STATUS"
)

// IsMatchingSwipeType reports whether a swipe of this type can produce a match.
func IsMatchingSwipeType(swipeType string) bool {
	return swipeType == SwipeTypeLike || swipeType == SwipeTypeSuperLike
}
