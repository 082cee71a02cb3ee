package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"ms-registration/internal/logger"
	"ms-registration/internal/payment"
	"ms-registration/internal/utils"
)

const maxWebhookBody = 64 << 10

// Reconciler is satisfied by *payment.Reconciler.
type Reconciler interface {
	Handle(ctx context.Context, payload []byte, signature string) (payment.Result, error)
}

type WebhookHandler struct {
	Reconciler Reconciler
	Logger     *logger.Logger
}

func NewWebhookHandler(reconciler Reconciler, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{Reconciler: reconciler, Logger: log}
}

// StripeWebhook handles webhook events from Stripe. Any 2xx tells Stripe to
// stop redelivering, so only rejected and transient failures get other codes.
func (h *WebhookHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to read webhook payload: %v", err))
		http.Error(w, "Invalid webhook payload", http.StatusBadRequest)
		return
	}

	result, err := h.Reconciler.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		webhookErr := payment.ClassifyError(err)
		h.Logger.Error("API", fmt.Sprintf("StripeWebhook: category=%s, status=%d: %s",
			webhookErr.Category, webhookErr.StatusCode, webhookErr.InternalError))
		http.Error(w, webhookErr.PublicError, webhookErr.StatusCode)
		return
	}

	if err := utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Webhook processed", map[string]string{
		"result": string(result),
	})); err != nil {
		h.Logger.Error("API", fmt.Sprintf("StripeWebhook: failed to encode response: %v", err))
	}
}
