package services

import "errors"

var (
	// ErrInvalidSwipe is returned when a swipe lacks one of its required fields.
	ErrInvalidSwipe = errors.New("invalid swipe")
	// ErrProfileNotFound is returned when a user profile does not exist.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrInvalidProfile is returned for profile writes that are missing an id
	// or touch engine-owned fields.
	ErrInvalidProfile = errors.New("invalid profile")
	// ErrRecomputeInProgress is returned when another invocation holds the
	// user's recompute lease.
	ErrRecomputeInProgress = errors.New("recommendation recompute already in progress")
	// ErrInvalidUpload is returned for upload requests that are not profile pictures.
	ErrInvalidUpload = errors.New("invalid upload")
)
