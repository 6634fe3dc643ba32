package models

import "strings"

// Swipe is a user's decision on another profile
type Swipe struct {
	AuthorID        string `dynamodbav:"authorID" json:"authorID"`
	SwipedProfileID string `dynamodbav:"swipedProfileID" json:"swipedProfileID"`
	Type            string `dynamodbav:"type" json:"type"` // like, dislike, superlike
	CreatedAt       string `dynamodbav:"createdAt,omitempty" json:"createdAt,omitempty"`
}

// SwipeCollection returns the pluralized partition name for a decision type,
// e.g. "likes" for "like".
func SwipeCollection(swipeType string) string {
	return swipeType + "s"
}

// SwipeKeyPrefix returns the sort key prefix of a decision type's partition.
func SwipeKeyPrefix(swipeType string) string {
	return strings.ToUpper(SwipeCollection(swipeType)) + "#"
}
