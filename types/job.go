package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultLimit    = 10
	MaxLimit        = 100
	MaxQueryLength  = 100
	DefaultLanguage = "en"
	DefaultSource   = "newsapi"
)

// ErrInvalidJob is wrapped by every IngestionJob validation failure.
var ErrInvalidJob = errors.New("invalid ingestion job")

// IngestionJob is the body of one queue message.
type IngestionJob struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit"`
	Language string `json:"language"`
	Source   string `json:"source,omitempty"`
}

// UnmarshalJSON defaults limit only when the field is absent or null; an explicit
// 0 is kept so Validate rejects it.
func (j *IngestionJob) UnmarshalJSON(data []byte) error {
	var a struct {
		Query    string `json:"query"`
		Limit    *int   `json:"limit"`
		Language string `json:"language"`
		Source   string `json:"source"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*j = IngestionJob{Query: a.Query, Limit: DefaultLimit, Language: a.Language, Source: a.Source}
	if a.Limit != nil {
		j.Limit = *a.Limit
	}
	return nil
}

// WithDefaults trims fields and fills in omitted language and source. Limit is
// left alone; decoding supplies DefaultLimit when it is missing.
func (j IngestionJob) WithDefaults() IngestionJob {
	j.Query = strings.TrimSpace(j.Query)
	j.Language = strings.ToLower(strings.TrimSpace(j.Language))
	j.Source = strings.TrimSpace(j.Source)
	if j.Language == "" {
		j.Language = DefaultLanguage
	}
	if j.Source == "" {
		j.Source = DefaultSource
	}
	return j
}

// Validate checks the job contract: non-empty query, limit in [1, MaxLimit] and a
// two-letter language code.
func (j IngestionJob) Validate() error {
	query := strings.TrimSpace(j.Query)
	if query == "" {
		return fmt.Errorf("%w: query is required", ErrInvalidJob)
	}
	if len(query) > MaxQueryLength {
		return fmt.Errorf("%w: query exceeds %d characters", ErrInvalidJob, MaxQueryLength)
	}
	if j.Limit < 1 || j.Limit > MaxLimit {
		return fmt.Errorf("%w: limit %d outside 1-%d", ErrInvalidJob, j.Limit, MaxLimit)
	}
	if !isLanguageCode(j.Language) {
		return fmt.Errorf("%w: language %q is not a 2-letter code", ErrInvalidJob, j.Language)
	}
	return nil
}

func isLanguageCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, c := range s {
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}
