package domain

import "errors"

var (
	// ErrAuth means the session or token is no longer valid. Never retried.
	ErrAuth = errors.New("authentication failed")
	// ErrTransport covers HTTP and network failures.
	ErrTransport = errors.New("transport failure")
	// ErrValidation means the upstream response had an unexpected shape.
	// Retrieval retries it like ErrTransport.
	ErrValidation = errors.New("invalid response")
	// ErrTooSmall means the materialized output was below the minimum size.
	ErrTooSmall = errors.New("content below minimum size")
)

// Retryable reports whether err may succeed on another attempt.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrAuth) || errors.Is(err, ErrTooSmall) {
		return false
	}
	return true
}

// ErrNotFound is returned when a lookup matched nothing upstream.
var ErrNotFound = errors.New("not found")

// ErrNoSources means no source names were given and none are cached.
var ErrNoSources = errors.New("no sources given and none cached")
