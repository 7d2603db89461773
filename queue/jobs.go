package queue

import (
	"context"
	"encoding/json"
	"errors"

	"newspipe/logging"
	"newspipe/sources"
	"newspipe/types"

	"github.com/sirupsen/logrus"
)

// Processor runs one ingestion job.
type Processor interface {
	Process(ctx context.Context, job types.IngestionJob) (*types.IngestionResult, error)
}

// Publisher enqueues a message and returns its id.
type Publisher interface {
	Publish(ctx context.Context, body []byte) (string, error)
}

// NewJobHandler decodes ingestion jobs and hands them to p.
func NewJobHandler(p Processor) *TypedMessageHandler[types.IngestionJob] {
	log := logging.For("queue")
	return &TypedMessageHandler[types.IngestionJob]{
		Validate: func(job *types.IngestionJob) error {
			*job = job.WithDefaults()
			return job.Validate()
		},
		Process: func(ctx context.Context, job *types.IngestionJob) error {
			result, err := p.Process(ctx, *job)
			if err != nil {
				return err
			}
			log.WithFields(logrus.Fields{
				"query":  result.Query,
				"new":    result.New,
				"stored": result.Stored,
			}).Info("job_processed")
			return nil
		},
		Permanent: IsPermanent,
	}
}

// IsPermanent reports errors for which redelivering the job is pointless.
func IsPermanent(err error) bool {
	if errors.Is(err, types.ErrInvalidJob) || errors.Is(err, sources.ErrMissingAPIKey) {
		return true
	}
	var fetchErr *sources.FetchError
	if errors.As(err, &fetchErr) {
		return !fetchErr.Retryable()
	}
	return false
}

// PublishJob validates job and enqueues it on p.
func PublishJob(ctx context.Context, p Publisher, job types.IngestionJob) (string, error) {
	job = job.WithDefaults()
	if err := job.Validate(); err != nil {
		return "", err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	return p.Publish(ctx, body)
}
