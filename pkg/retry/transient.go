package retry

import (
	"context"
	"errors"
	"strings"
)

// transientMarkers is the fixed vocabulary of error text treated as
// transient: timeouts, rate limits, unavailability, and 5xx-class
// responses from the payment and text-generation collaborators.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"rate limit",
	"too many requests",
	"429",
	"unavailable",
	"connection refused",
	"connection reset",
	"temporarily",
	"500",
	"502",
	"503",
	"504",
}

// Transient reports whether err matches the transient-error vocabulary.
// Context cancellation is never transient; it means the caller gave up.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
