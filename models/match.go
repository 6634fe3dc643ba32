package models

// Match is one side of a mutual like: stored in a user's partition, holding
// the other user's profile as it was when the match happened.
type Match struct {
	UserProfile
	MatchID   string `dynamodbav:"matchId" json:"matchId"`
	MatchedAt string `dynamodbav:"matchedAt" json:"matchedAt"`
}
