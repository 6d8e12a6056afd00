package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks malformed or unprocessable input. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrTransient marks failures expected to clear on retry.
	ErrTransient = errors.New("transient failure")
	// ErrPermanent marks failures that will not clear for this item.
	ErrPermanent = errors.New("permanent failure")
	// ErrConfiguration marks operator configuration problems.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks missing records or channels.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks backing storage or network unavailability.
	ErrUnavailable = errors.New("unavailable")
	// ErrTimeout marks deadline expiry on an external call.
	ErrTimeout = errors.New("timeout")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsTransient reports whether err should be retried later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}

// IsPermanent reports whether err will never clear for this item.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// IsValidation reports whether err indicates unprocessable input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsUnavailable reports whether err indicates backing infrastructure failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
