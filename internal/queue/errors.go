package queue

import (
	"errors"
	"fmt"
)

// ErrStorageUnavailable marks broker failures caused by the backing store
// rather than by the message or the caller. Workers treat it as fatal for
// the pipeline and the orchestrator surfaces it loudly.
var ErrStorageUnavailable = errors.New("queue storage unavailable")

// ErrUnknownMessage is returned by Ack and Reject when no envelope with the
// given message id exists, typically because its lease expired and another
// consumer already settled it.
var ErrUnknownMessage = errors.New("unknown message id")

func storageError(operation string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, operation, err)
}

func errUnknown(messageID string) error {
	return fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
}
