package models

// Recommendation is a candidate profile offered to a user
type Recommendation struct {
	UserProfile
	Distance string `dynamodbav:"distance" json:"distance"` // e.g. "3 miles away"
}

// RecommendationStatus is the per-user computation status document
type RecommendationStatus struct {
	IsComputingRecommendation bool   `dynamodbav:"isComputingRecommendation" json:"isComputingRecommendation"`
	LeaseToken                string `dynamodbav:"leaseToken,omitempty" json:"-"`
	LeaseExpiresAt            int64  `dynamodbav:"leaseExpiresAt,omitempty" json:"-"` // unix millis
}
