package sources

import (
	"errors"
	"fmt"
)

// Category classifies why a provider call failed.
type Category string

const (
	CategoryQuota       Category = "quota"
	CategoryAuth        Category = "auth"
	CategoryNetwork     Category = "network"
	CategoryStatus      Category = "status"
	CategoryUpstream    Category = "upstream"
	CategoryMalformed   Category = "malformed"
	CategoryUnsupported Category = "unsupported"
)

// ErrMissingAPIKey is returned when a keyed provider is built without a key.
var ErrMissingAPIKey = errors.New("provider api key is not configured")

// FetchError is returned by every Fetcher when the provider could not deliver
// articles. An empty result is never used to signal failure.
type FetchError struct {
	Provider   string
	Category   Category
	StatusCode int
	// Code is the provider's own error code, when it sent one.
	Code string
	Err  error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch from %s failed (%s", e.Provider, e.Category)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(", HTTP %d", e.StatusCode)
	}
	if e.Code != "" {
		msg += ", " + e.Code
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether redelivering the job could plausibly succeed.
func (e *FetchError) Retryable() bool {
	switch e.Category {
	case CategoryAuth, CategoryUnsupported:
		return false
	case CategoryStatus:
		return e.StatusCode >= 500 || e.StatusCode == 429
	default:
		return true
	}
}
