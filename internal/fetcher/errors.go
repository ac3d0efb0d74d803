package fetcher

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for errors.Is matching at the caller boundary.
var (
	// ErrCollectionNotFound means the marketplace reports no such collection.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrUpstreamUnavailable covers network failures, timeouts, and
	// unexpected marketplace responses.
	ErrUpstreamUnavailable = errors.New("marketplace unavailable")
	// ErrRateLimited means the marketplace returned HTTP 429.
	ErrRateLimited = errors.New("marketplace rate limited")
)

// RateLimitError carries the marketplace's retry-after hint alongside the
// ErrRateLimited identity.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("marketplace rate limited, retry after %s", e.RetryAfter)
	}
	return "marketplace rate limited"
}

// Is reports identity with ErrRateLimited so callers can match either way.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// UpstreamError describes a non-2xx marketplace response.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("marketplace error (%d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("marketplace error (%d)", e.StatusCode)
}

// Is reports identity with ErrUpstreamUnavailable.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}
