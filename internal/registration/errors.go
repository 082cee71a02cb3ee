package registration

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrTransient          = errors.New("transient datastore error")
	ErrRejected           = errors.New("notification rejected")
	ErrOrphanNotification = errors.New("orphan notification")
	ErrNotFound           = errors.New("not found")
	ErrRegistrationClosed = errors.New("registration closed")
)

// AsTransient tags a datastore failure as retryable. Errors that already
// carry a kind from the taxonomy keep it.
func AsTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrRegistrationClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
