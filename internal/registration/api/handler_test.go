package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-registration/internal/checkin"
	"ms-registration/internal/logger"
	"ms-registration/internal/models"
	"ms-registration/internal/registration"
)

type MockAdmissions struct {
	mock.Mock
}

func (m *MockAdmissions) TryAdmit(ctx context.Context, req registration.AdmissionRequest) (*registration.Admission, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*registration.Admission), args.Error(1)
}

func (m *MockAdmissions) EnsurePaymentIntent(ctx context.Context, registrationID string) (*models.PaymentIntent, error) {
	args := m.Called(ctx, registrationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentIntent), args.Error(1)
}

func (m *MockAdmissions) Cancel(ctx context.Context, registrationID string) (registration.CancelOutcome, error) {
	args := m.Called(ctx, registrationID)
	return args.Get(0).(registration.CancelOutcome), args.Error(1)
}

func (m *MockAdmissions) Get(ctx context.Context, registrationID string) (*models.Registration, error) {
	args := m.Called(ctx, registrationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Registration), args.Error(1)
}

type MockPromoter struct {
	mock.Mock
}

func (m *MockPromoter) FillFreedCapacity(ctx context.Context, eventID string) ([]registration.Promotion, error) {
	args := m.Called(ctx, eventID)
	promoted, _ := args.Get(0).([]registration.Promotion)
	return promoted, args.Error(1)
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.RegisterRoutes(r, nil)
	return r
}

func do(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{Attempts: attempts, MaxBackoff: time.Millisecond}
}

func TestRegister(t *testing.T) {
	m := new(MockAdmissions)
	m.On("TryAdmit", mock.Anything, registration.AdmissionRequest{
		EventID:       "evt-1",
		AttendeeEmail: "ana@example.com",
		AttendeeName:  "Ana",
		PartySize:     2,
	}).Return(&registration.Admission{
		RegistrationID: "reg-1",
		EventID:        "evt-1",
		Outcome:        models.RegistrationConfirmed,
		PaymentStatus:  models.PaymentPending,
		ClientSecret:   "pi_secret",
	}, nil)

	h := NewHandler(m, nil, nil, fastRetry(1), logger.NewDiscardLogger())
	w, body := do(t, newRouter(h), http.MethodPost, "/events/evt-1/registrations",
		`{"attendee_email":"ana@example.com","attendee_name":"Ana","party_size":2}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "reg-1", data["registration_id"])
	assert.Equal(t, "confirmed", data["registration_status"])
	assert.Equal(t, "pi_secret", data["client_secret"])
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"attendee_email":`},
		{"missing email", `{"party_size":1}`},
		{"bad email", `{"attendee_email":"nope","party_size":1}`},
		{"zero party", `{"attendee_email":"a@example.com","party_size":0}`},
		{"huge party", `{"attendee_email":"a@example.com","party_size":1000}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(MockAdmissions)
			h := NewHandler(m, nil, nil, fastRetry(1), logger.NewDiscardLogger())
			w, body := do(t, newRouter(h), http.MethodPost, "/events/evt-1/registrations", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, false, body["success"])
			m.AssertNotCalled(t, "TryAdmit", mock.Anything, mock.Anything)
		})
	}
}

func TestRegisterErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid", registration.ErrInvalidInput, http.StatusBadRequest},
		{"unknown event", registration.ErrNotFound, http.StatusNotFound},
		{"closed", registration.ErrRegistrationClosed, http.StatusConflict},
		{"transient", registration.AsTransient("commit", errors.New("deadlock")), http.StatusServiceUnavailable},
		{"other", errors.New("gateway down"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(MockAdmissions)
			m.On("TryAdmit", mock.Anything, mock.Anything).Return(nil, tt.err)
			h := NewHandler(m, nil, nil, fastRetry(1), logger.NewDiscardLogger())
			w, _ := do(t, newRouter(h), http.MethodPost, "/events/evt-1/registrations",
				`{"attendee_email":"a@example.com","party_size":1}`)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRegisterRetriesTransientFailures(t *testing.T) {
	m := new(MockAdmissions)
	transient := registration.AsTransient("commit", errors.New("serialization failure"))
	m.On("TryAdmit", mock.Anything, mock.Anything).Return(nil, transient).Twice()
	m.On("TryAdmit", mock.Anything, mock.Anything).Return(&registration.Admission{
		RegistrationID: "reg-2",
		Outcome:        models.RegistrationWaitlist,
	}, nil).Once()

	h := NewHandler(m, nil, nil, fastRetry(3), logger.NewDiscardLogger())
	w, _ := do(t, newRouter(h), http.MethodPost, "/events/evt-1/registrations",
		`{"attendee_email":"a@example.com","party_size":1}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	m.AssertNumberOfCalls(t, "TryAdmit", 3)
}

func TestRegisterGivesUpAfterAttempts(t *testing.T) {
	m := new(MockAdmissions)
	m.On("TryAdmit", mock.Anything, mock.Anything).Return(nil, registration.AsTransient("commit", errors.New("busy")))

	h := NewHandler(m, nil, nil, fastRetry(2), logger.NewDiscardLogger())
	w, _ := do(t, newRouter(h), http.MethodPost, "/events/evt-1/registrations",
		`{"attendee_email":"a@example.com","party_size":1}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	m.AssertNumberOfCalls(t, "TryAdmit", 2)
}

func TestRegisterDoesNotRetryPermanentErrors(t *testing.T) {
	m := new(MockAdmissions)
	m.On("TryAdmit", mock.Anything, mock.Anything).Return(nil, registration.ErrRegistrationClosed)

	h := NewHandler(m, nil, nil, fastRetry(5), logger.NewDiscardLogger())
	w, _ := do(t, newRouter(h), http.MethodPost, "/events/evt-1/registrations",
		`{"attendee_email":"a@example.com","party_size":1}`)

	assert.Equal(t, http.StatusConflict, w.Code)
	m.AssertNumberOfCalls(t, "TryAdmit", 1)
}

func TestCancelRegistration(t *testing.T) {
	tests := []struct {
		outcome registration.CancelOutcome
		status  int
	}{
		{registration.CancelCancelled, http.StatusOK},
		{registration.CancelAlreadyCancelled, http.StatusOK},
		{registration.CancelRefundRequested, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			m := new(MockAdmissions)
			m.On("Cancel", mock.Anything, "reg-1").Return(tt.outcome, nil)
			h := NewHandler(m, nil, nil, fastRetry(1), logger.NewDiscardLogger())

			w, body := do(t, newRouter(h), http.MethodDelete, "/registrations/reg-1/", "")
			assert.Equal(t, tt.status, w.Code)
			data := body["data"].(map[string]interface{})
			assert.Equal(t, string(tt.outcome), data["outcome"])
		})
	}
}

func TestGetRegistration(t *testing.T) {
	m := new(MockAdmissions)
	m.On("Get", mock.Anything, "reg-1").Return(&models.Registration{ID: "reg-1", PartySize: 3}, nil)
	m.On("Get", mock.Anything, "missing").Return(nil, registration.ErrNotFound)
	router := newRouter(NewHandler(m, nil, nil, fastRetry(1), logger.NewDiscardLogger()))

	w, body := do(t, router, http.MethodGet, "/registrations/reg-1/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), body["data"].(map[string]interface{})["party_size"])

	w, _ = do(t, router, http.MethodGet, "/registrations/missing/", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreatePaymentIntent(t *testing.T) {
	m := new(MockAdmissions)
	m.On("EnsurePaymentIntent", mock.Anything, "reg-1").Return(&models.PaymentIntent{ID: "pi_1", ClientSecret: "sec"}, nil)
	m.On("EnsurePaymentIntent", mock.Anything, "reg-free").Return(nil, registration.ErrInvalidInput)
	router := newRouter(NewHandler(m, nil, nil, fastRetry(1), logger.NewDiscardLogger()))

	w, _ := do(t, router, http.MethodPost, "/registrations/reg-1/payment-intent", "")
	assert.Equal(t, http.StatusCreated, w.Code)

	w, _ = do(t, router, http.MethodPost, "/registrations/reg-free/payment-intent", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPromoteWaitlist(t *testing.T) {
	p := new(MockPromoter)
	p.On("FillFreedCapacity", mock.Anything, "evt-1").Return([]registration.Promotion{
		{RegistrationID: "reg-9", EventID: "evt-1", PartySize: 2, Promoted: true},
	}, nil)
	p.On("FillFreedCapacity", mock.Anything, "evt-2").Return(nil, nil)
	router := newRouter(NewHandler(new(MockAdmissions), p, nil, fastRetry(1), logger.NewDiscardLogger()))

	w, body := do(t, router, http.MethodPost, "/events/evt-1/waitlist/promote", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 1)

	w, body = do(t, router, http.MethodPost, "/events/evt-2/waitlist/promote", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, body["data"])
}

func TestVerifyCheckIn(t *testing.T) {
	passes, err := checkin.NewPassGenerator("door-secret")
	require.NoError(t, err)
	token, err := passes.Token("reg-ok")
	require.NoError(t, err)
	unpaidToken, err := passes.Token("reg-unpaid")
	require.NoError(t, err)

	m := new(MockAdmissions)
	m.On("Get", mock.Anything, "reg-ok").Return(&models.Registration{
		ID: "reg-ok", RegistrationStatus: models.RegistrationConfirmed, PaymentStatus: models.PaymentPaid,
	}, nil)
	m.On("Get", mock.Anything, "reg-unpaid").Return(&models.Registration{
		ID: "reg-unpaid", RegistrationStatus: models.RegistrationConfirmed, PaymentStatus: models.PaymentPending,
	}, nil)
	router := newRouter(NewHandler(m, nil, passes, fastRetry(1), logger.NewDiscardLogger()))

	w, _ := do(t, router, http.MethodPost, "/checkin/verify", `{"token":"`+token+`"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, router, http.MethodPost, "/checkin/verify", `{"token":"`+unpaidToken+`"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = do(t, router, http.MethodPost, "/checkin/verify", `{"token":"forged"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(t, router, http.MethodPost, "/checkin/verify", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyCheckInWithoutPasses(t *testing.T) {
	router := newRouter(NewHandler(new(MockAdmissions), nil, nil, fastRetry(1), logger.NewDiscardLogger()))
	w, _ := do(t, router, http.MethodPost, "/checkin/verify", `{"token":"anything"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
