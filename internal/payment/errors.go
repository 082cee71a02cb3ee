package payment

import (
	"errors"
	"fmt"
	"net/http"

	"ms-registration/internal/registration"
)

// WebhookError represents an error that occurred during webhook processing
type WebhookError struct {
	Category      string // "validation", "processing"
	StatusCode    int    // HTTP status code
	PublicError   string // Safe to expose to clients
	InternalError string // Detailed error for logs only
	OriginalErr   error  // Underlying error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

func (e *WebhookError) Unwrap() error {
	return e.OriginalErr
}

// ClassifyError maps a reconciler error to the response the gateway sees.
// Rejected notifications get a 4xx so they are not redelivered; everything
// else gets a 5xx so they are.
func ClassifyError(err error) *WebhookError {
	var we *WebhookError
	if errors.As(err, &we) {
		return we
	}
	if errors.Is(err, registration.ErrRejected) {
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Webhook signature verification failed",
			InternalError: err.Error(),
			OriginalErr:   err,
		}
	}
	return &WebhookError{
		Category:      "processing",
		StatusCode:    http.StatusServiceUnavailable,
		PublicError:   "Webhook processing error",
		InternalError: fmt.Sprintf("processing failed: %v", err),
		OriginalErr:   err,
	}
}
