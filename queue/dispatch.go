package queue

import (
	"context"
	"strconv"

	"newspipe/logging"

	"github.com/sirupsen/logrus"
)

const (
	// HeaderAttempt carries the 1-based delivery attempt of a message.
	HeaderAttempt = "x-attempt"
	// HeaderError carries the last failure of a dead-lettered message.
	HeaderError = "x-error"

	DefaultMaxAttempts = 3
)

// Delivery is a message as seen by the dispatcher.
type Delivery struct {
	ID      string
	Body    []byte
	Attempt int
}

// Redeliverer republishes messages that are not acknowledged as-is.
type Redeliverer interface {
	Requeue(ctx context.Context, body []byte, attempt int) error
	DeadLetter(ctx context.Context, body []byte, attempt int, reason string) error
}

// Dispatcher runs a handler and applies the retry budget. Both backends share it.
type Dispatcher struct {
	handler     MessageHandler
	out         Redeliverer
	maxAttempts int
	log         *logging.Entry
}

// NewDispatcher creates a Dispatcher; maxAttempts below 1 selects DefaultMaxAttempts.
func NewDispatcher(handler MessageHandler, out Redeliverer, maxAttempts int) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Dispatcher{handler: handler, out: out, maxAttempts: maxAttempts, log: logging.For("queue")}
}

// Dispatch handles d. A nil return means the original delivery can be
// acknowledged: it was processed, requeued or dead-lettered. An error means the
// requeue or dead-letter publish failed and the delivery must stay unacknowledged.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Delivery) error {
	if msg.Attempt < 1 {
		msg.Attempt = 1
	}
	outcome, err := d.handler.HandleMessage(ctx, msg.Body)
	log := d.log.WithFields(logrus.Fields{"message_id": msg.ID, "attempt": msg.Attempt, "outcome": outcome.String()})

	switch outcome {
	case OutcomeAck:
		return nil
	case OutcomeRetry:
		if msg.Attempt < d.maxAttempts {
			log.WithError(err).Warn("message_requeued")
			return d.out.Requeue(ctx, msg.Body, msg.Attempt+1)
		}
		log.WithError(err).Error("retries_exhausted")
	default:
		log.WithError(err).Error("message_rejected")
	}

	reason := "unknown"
	if err != nil {
		reason = err.Error()
	}
	return d.out.DeadLetter(ctx, msg.Body, msg.Attempt, reason)
}

func parseAttempt(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
