package storage

import "fmt"

// Stage identifies which write of a job failed.
type Stage string

const (
	StageRaw        Stage = "raw"
	StageNormalized Stage = "normalized"
)

// StorageWriteError reports a failed object write. Stage tells raw and normalized
// failures apart.
type StorageWriteError struct {
	Stage Stage
	Key   string
	Err   error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("%s storage write failed for %s: %v", e.Stage, e.Key, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }
