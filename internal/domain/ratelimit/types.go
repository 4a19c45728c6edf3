// Package ratelimit provides the per-host politeness throttle the HTTP
// engine applies before dispatching a request, so a scan does not hammer
// a single origin outside its configured request budget.
package ratelimit

import (
	"fmt"
	"time"
)

// RateLimitConfig defines the politeness throttle's parameters.
type RateLimitConfig struct {
	// Rate is the number of allowed requests in the period.
	Rate int

	// Burst is the maximum number of requests that can fire at once.
	// Burst should be >= Rate for meaningful operation.
	Burst int

	// Period is the time window for the rate.
	Period time.Duration
}

// RateLimitResult contains the result of a throttle check.
type RateLimitResult struct {
	// Allowed indicates whether the request may proceed now.
	Allowed bool

	// Remaining is the number of remaining requests in the current window.
	Remaining int

	// RetryAfter is the duration until the next request will be allowed.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration

	// ResetAfter is the duration until the throttle resets.
	ResetAfter time.Duration
}

// KeyType identifies the type of throttle key.
type KeyType string

const (
	// KeyTypeHost throttles by the target request's hostname — one budget
	// per origin the scan is crawling.
	KeyTypeHost KeyType = "host"
)

// keyPrefix is the base prefix for all throttle keys.
const keyPrefix = "ratelimit"

// FormatKey returns a structured throttle key.
// Format: "ratelimit:{type}:{value}"
// Example: FormatKey(KeyTypeHost, "example.com") -> "ratelimit:host:example.com"
func FormatKey(keyType KeyType, value string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, keyType, value)
}
