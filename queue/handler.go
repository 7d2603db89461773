// Package queue moves ingestion jobs through Kafka or RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Outcome tells the consumer what to do with a handled message.
type Outcome int

const (
	// OutcomeAck marks the message as processed.
	OutcomeAck Outcome = iota
	// OutcomeRetry redelivers the message until its attempts run out.
	OutcomeRetry
	// OutcomeDeadLetter moves the message to the dead-letter destination.
	OutcomeDeadLetter
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRetry:
		return "retry"
	case OutcomeDeadLetter:
		return "dead_letter"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// ErrUndecodable marks a message body that is not valid JSON for the handler's type.
var ErrUndecodable = errors.New("undecodable message")

// MessageHandler processes one message body. Each backend delegates to it.
type MessageHandler interface {
	// HandleMessage returns what to do with the message and, for anything but
	// OutcomeAck, the reason.
	HandleMessage(ctx context.Context, message []byte) (Outcome, error)
}

// TypedMessageHandler decodes JSON messages into T before processing.
type TypedMessageHandler[T any] struct {
	// Validate rejects messages that can never succeed; they are dead-lettered.
	Validate func(msg *T) error
	// Process handles the message. Errors are retried unless Permanent says otherwise.
	Process func(ctx context.Context, msg *T) error
	// Permanent reports processing errors that retrying cannot fix.
	Permanent func(err error) bool
}

// HandleMessage implements MessageHandler.
func (h *TypedMessageHandler[T]) HandleMessage(ctx context.Context, message []byte) (Outcome, error) {
	var msg T
	if err := json.Unmarshal(message, &msg); err != nil {
		return OutcomeDeadLetter, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	if h.Validate != nil {
		if err := h.Validate(&msg); err != nil {
			return OutcomeDeadLetter, err
		}
	}

	if err := h.Process(ctx, &msg); err != nil {
		if h.Permanent != nil && h.Permanent(err) {
			return OutcomeDeadLetter, err
		}
		return OutcomeRetry, err
	}
	return OutcomeAck, nil
}
