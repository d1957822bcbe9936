package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrMissingAppID is returned when an app-style base URL carries no "/apps/{id}" segment.
var ErrMissingAppID = errors.New("app id not found in base url")

// ErrEmptyResponse is returned when a backend answers with success but no text.
var ErrEmptyResponse = errors.New("empty completion response")

// HTTPError is a non-success response from a backend.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// IsTimeout reports whether err came from the bounded backend timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// MaskKey renders an API key for logs as "***" plus its last four characters.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "***"
	}
	return "***" + key[len(key)-4:]
}
