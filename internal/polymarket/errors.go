package polymarket

import (
	"errors"
	"fmt"
	"time"
)

// TransientError is a failure worth retrying: HTTP 429, 5xx, timeouts and
// transport errors.
type TransientError struct {
	URL        string
	StatusCode int           // 0 for transport failures
	RetryAfter time.Duration // from the Retry-After header, if any
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient error (status %d) for %s: %v", e.StatusCode, e.URL, e.Err)
	}
	return fmt.Sprintf("transient error for %s: %v", e.URL, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is a failure that will not go away on retry: other 4xx
// responses and bodies that do not match the expected schema.
type FatalError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FatalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fatal error (status %d) for %s: %v", e.StatusCode, e.URL, e.Err)
	}
	return fmt.Sprintf("fatal error for %s: %v", e.URL, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err wraps a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err wraps a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
