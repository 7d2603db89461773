package normalizer

import (
	"errors"
	"fmt"
)

// Validation failures. Every ValidationError wraps one of these.
var (
	ErrMissingTitle       = errors.New("title is required")
	ErrTitleTooLong       = errors.New("title is too long")
	ErrRemovedArticle     = errors.New("article was removed by the provider")
	ErrMissingURL         = errors.New("url is required")
	ErrInvalidURL         = errors.New("url is not an absolute http(s) url")
	ErrMissingPublishedAt = errors.New("published_at is required")
	ErrInvalidPublishedAt = errors.New("published_at could not be parsed")
)

// ValidationError rejects a single raw article; it never aborts a batch.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
