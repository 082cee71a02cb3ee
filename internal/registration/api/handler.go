package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"ms-registration/internal/checkin"
	"ms-registration/internal/logger"
	"ms-registration/internal/models"
	"ms-registration/internal/registration"
	"ms-registration/internal/utils"
)

// Admissions is satisfied by *registration.AdmissionController.
type Admissions interface {
	TryAdmit(ctx context.Context, req registration.AdmissionRequest) (*registration.Admission, error)
	EnsurePaymentIntent(ctx context.Context, registrationID string) (*models.PaymentIntent, error)
	Cancel(ctx context.Context, registrationID string) (registration.CancelOutcome, error)
	Get(ctx context.Context, registrationID string) (*models.Registration, error)
}

// Promoter is satisfied by *registration.WaitlistManager.
type Promoter interface {
	FillFreedCapacity(ctx context.Context, eventID string) ([]registration.Promotion, error)
}

// PassVerifier is satisfied by *checkin.PassGenerator.
type PassVerifier interface {
	Verify(token string) (*checkin.Claims, error)
}

type RetryPolicy struct {
	Attempts   int
	MaxBackoff time.Duration
}

type Handler struct {
	Admissions Admissions
	Waitlist   Promoter
	Passes     PassVerifier
	Logger     *logger.Logger
	Retry      RetryPolicy
	validate   *validator.Validate
}

func NewHandler(admissions Admissions, waitlist Promoter, passes PassVerifier, retry RetryPolicy, log *logger.Logger) *Handler {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	return &Handler{
		Admissions: admissions,
		Waitlist:   waitlist,
		Passes:     passes,
		Logger:     log,
		Retry:      retry,
		validate:   validator.New(),
	}
}

// RegisterRoutes mounts the registration API. limit wraps the submission
// route only.
func (h *Handler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	submit := r
	if limit != nil {
		submit = r.With(limit)
	}
	submit.Post("/events/{eventId}/registrations", h.Register)
	r.Post("/events/{eventId}/waitlist/promote", h.PromoteWaitlist)

	r.Route("/registrations/{registrationId}", func(r chi.Router) {
		r.Get("/", h.GetRegistration)
		r.Delete("/", h.CancelRegistration)
		r.Post("/payment-intent", h.CreatePaymentIntent)
	})
	r.Post("/checkin/verify", h.VerifyCheckIn)
}

type registrationRequest struct {
	AttendeeEmail string `json:"attendee_email" validate:"required,email"`
	AttendeeName  string `json:"attendee_name" validate:"max=200"`
	PartySize     int    `json:"party_size" validate:"required,min=1,max=100"`
}

type checkInRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Register: failed to decode request body: %v", err))
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid registration", err)
		return
	}

	var admission *registration.Admission
	err := h.withRetry(r.Context(), func() error {
		var err error
		admission, err = h.Admissions.TryAdmit(r.Context(), registration.AdmissionRequest{
			EventID:       eventID,
			AttendeeEmail: req.AttendeeEmail,
			AttendeeName:  req.AttendeeName,
			PartySize:     req.PartySize,
		})
		return err
	})
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Register: event=%s: %v", eventID, err))
		h.writeError(w, statusFor(err), "Registration failed", err)
		return
	}

	h.Logger.Info("API", fmt.Sprintf("Register: registration %s is %s", admission.RegistrationID, admission.Outcome))
	h.writeJSON(w, http.StatusCreated, utils.SuccessResponse("Registration received", admission))
}

func (h *Handler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "registrationId")
	reg, err := h.Admissions.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, statusFor(err), "Registration lookup failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Registration", reg))
}

func (h *Handler) CancelRegistration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "registrationId")
	h.Logger.Info("API", fmt.Sprintf("CancelRegistration: registrationId=%s", id))

	var outcome registration.CancelOutcome
	err := h.withRetry(r.Context(), func() error {
		var err error
		outcome, err = h.Admissions.Cancel(r.Context(), id)
		return err
	})
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CancelRegistration: %v", err))
		h.writeError(w, statusFor(err), "Cancellation failed", err)
		return
	}

	status := http.StatusOK
	if outcome == registration.CancelRefundRequested {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, utils.SuccessResponse("Cancellation processed", map[string]string{
		"registration_id": id,
		"outcome":         string(outcome),
	}))
}

func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "registrationId")
	intent, err := h.Admissions.EnsurePaymentIntent(r.Context(), id)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreatePaymentIntent: registration %s: %v", id, err))
		h.writeError(w, statusFor(err), "Could not create payment intent", err)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("CreatePaymentIntent: created payment intent %s for registration %s", intent.ID, id))
	h.writeJSON(w, http.StatusCreated, utils.SuccessResponse("Payment intent created", intent))
}

func (h *Handler) PromoteWaitlist(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	promoted, err := h.Waitlist.FillFreedCapacity(r.Context(), eventID)
	if err != nil && len(promoted) == 0 {
		h.Logger.Error("API", fmt.Sprintf("PromoteWaitlist: event=%s: %v", eventID, err))
		h.writeError(w, statusFor(err), "Promotion failed", err)
		return
	}
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("PromoteWaitlist: event=%s stopped after %d promotions: %v", eventID, len(promoted), err))
	}
	if promoted == nil {
		promoted = []registration.Promotion{}
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("%d registrations promoted", len(promoted)), promoted))
}

// VerifyCheckIn is called by door scanners with the token inside a pass.
func (h *Handler) VerifyCheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid check-in request", err)
		return
	}
	if h.Passes == nil {
		h.writeError(w, http.StatusServiceUnavailable, "Check-in is not configured", errors.New("no pass secret"))
		return
	}

	claims, err := h.Passes.Verify(req.Token)
	if err != nil {
		h.Logger.LogSecurity("CHECKIN_REJECTED", err.Error())
		h.writeError(w, http.StatusUnauthorized, "Invalid check-in pass", err)
		return
	}
	reg, err := h.Admissions.Get(r.Context(), claims.RegistrationID)
	if err != nil {
		h.writeError(w, statusFor(err), "Registration lookup failed", err)
		return
	}
	if !reg.IsConfirmed() || (reg.PaymentStatus != models.PaymentPaid && reg.PaymentStatus != models.PaymentNotRequired) {
		h.writeError(w, http.StatusConflict, "Registration is not admitted",
			fmt.Errorf("registration %s is %s/%s", reg.ID, reg.RegistrationStatus, reg.PaymentStatus))
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Check-in verified", reg))
}

// withRetry reruns op while it fails with ErrTransient.
func (h *Handler) withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	if h.Retry.MaxBackoff > 0 {
		b.MaxInterval = h.Retry.MaxBackoff
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(h.Retry.Attempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		err := op()
		if err == nil || errors.Is(err, registration.ErrTransient) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, wait time.Duration) {
		h.Logger.Warn("API", fmt.Sprintf("Transient failure, retrying in %s: %v", wait, err))
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registration.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, registration.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registration.ErrRegistrationClosed):
		return http.StatusConflict
	case errors.Is(err, registration.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		// Gateway failures.
		return http.StatusBadGateway
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	h.writeJSON(w, status, utils.ErrorResponse(message, err.Error()))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	if err := utils.WriteJSON(w, status, body); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}
