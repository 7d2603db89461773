package types

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// IngestionResult summarizes one processed job.
type IngestionResult struct {
	Status     string `json:"status"`
	Query      string `json:"query"`
	Fetched    int    `json:"fetched"`
	Duplicates int    `json:"duplicates"`
	// New counts non-duplicate articles that passed normalization.
	New int `json:"new"`
	// Invalid counts non-duplicate articles dropped by normalization.
	Invalid             int      `json:"invalid"`
	Stored              int      `json:"stored"`
	ProcessingTimeMS    int64    `json:"processing_time_ms"`
	RawLocation         string   `json:"raw_location,omitempty"`
	NormalizedLocations []string `json:"normalized_locations,omitempty"`
	Message             string   `json:"message,omitempty"`
}
