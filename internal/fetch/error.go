package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure; it drives the retry policy in both
// fetcher variants and the recovery path in the worker.
type Kind string

const (
	KindBlocked      Kind = "blocked"
	KindRateLimited  Kind = "rate_limited"
	KindNotFound     Kind = "not_found"
	KindServerError  Kind = "server_error"
	KindShortContent Kind = "short_content"
	KindSessionDead  Kind = "session_dead"
	KindTimeout      Kind = "timeout"
)

// Error is the failure type surfaced by Fetcher implementations.
type Error struct {
	Kind   Kind
	Status int
	URL    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s (status=%d): %v", e.URL, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s (status=%d)", e.URL, e.Kind, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a fetch error of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// retryable reports whether another attempt within the same Fetch call can
// succeed. not_found is terminal; session_dead is handled by driver
// reconstruction, not plain retry.
func retryable(kind Kind) bool {
	switch kind {
	case KindNotFound, KindSessionDead:
		return false
	}
	return true
}
