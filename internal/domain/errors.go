package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrLockHeld            = errors.New("lock already held")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrMalformedRecord     = errors.New("malformed record")
	ErrPersistence         = errors.New("persistence failure")
	ErrInvalidK            = errors.New("k must be positive")
	ErrRunInProgress       = errors.New("run already in progress")
)
