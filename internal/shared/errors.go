package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates a policy refusal.
	ErrForbidden = errors.New("forbidden")
	// ErrRateLimited indicates the caller should retry later.
	ErrRateLimited = errors.New("rate limited")
)
