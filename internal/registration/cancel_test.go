package registration_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-registration/internal/models"
	"ms-registration/internal/registration"
)

func markPaid(t *testing.T, f *fixture, id string) {
	t.Helper()
	ctx := context.Background()
	tx, err := f.store.BeginAtomic(ctx)
	require.NoError(t, err)
	ok, err := tx.UpdateRegistrationStatus(ctx, id, models.RegistrationConfirmed, models.RegistrationConfirmed, models.PaymentPaid)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tx.Commit())
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "evt", intPtr(5), 0)
	a := f.admit(t, "evt", 2)

	outcome, err := f.admissions.Cancel(context.Background(), a.RegistrationID)
	require.NoError(t, err)
	assert.Equal(t, registration.CancelCancelled, outcome)

	outcome, err = f.admissions.Cancel(context.Background(), a.RegistrationID)
	require.NoError(t, err)
	assert.Equal(t, registration.CancelAlreadyCancelled, outcome)

	f.notifier.AssertNumberOfCalls(t, "Notify", 2) // confirmed + cancelled
	assert.Zero(t, f.confirmedSeats(t, "evt"))
}

func TestCancelUnknownRegistration(t *testing.T) {
	f := newFixture(t)
	_, err := f.admissions.Cancel(context.Background(), "nope")
	assert.ErrorIs(t, err, registration.ErrNotFound)
}

func TestCancelWaitlistedDoesNotPromote(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "evt", intPtr(1), 0)
	f.admit(t, "evt", 1)
	first := f.admit(t, "evt", 1)
	second := f.admit(t, "evt", 1)

	_, err := f.admissions.Cancel(context.Background(), first.RegistrationID)
	require.NoError(t, err)

	assert.Equal(t, models.RegistrationCancelled, f.get(t, first.RegistrationID).RegistrationStatus)
	assert.Equal(t, models.RegistrationWaitlist, f.get(t, second.RegistrationID).RegistrationStatus)
	assert.Equal(t, 1, f.confirmedSeats(t, "evt"))
}

func TestCancelPaidRegistrationRequestsRefund(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "paid", intPtr(5), 2000)
	f.gateway.On("CreatePaymentIntent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.PaymentIntent{ID: "pi_paid"}, nil)
	f.gateway.On("RefundPayment", mock.Anything, "pi_paid").Return(nil).Once()

	a := f.admit(t, "paid", 1)
	markPaid(t, f, a.RegistrationID)

	outcome, err := f.admissions.Cancel(context.Background(), a.RegistrationID)
	require.NoError(t, err)
	assert.Equal(t, registration.CancelRefundRequested, outcome)

	reg := f.get(t, a.RegistrationID)
	assert.Equal(t, models.RegistrationConfirmed, reg.RegistrationStatus, "seat is held until the refund lands")
	assert.Equal(t, models.PaymentPaid, reg.PaymentStatus)
	f.gateway.AssertExpectations(t)
}

func TestCancelPaidRegistrationRefundFailure(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "paid", intPtr(5), 2000)
	f.gateway.On("CreatePaymentIntent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.PaymentIntent{ID: "pi_paid"}, nil)
	refundErr := errors.New("card network down")
	f.gateway.On("RefundPayment", mock.Anything, "pi_paid").Return(refundErr)

	a := f.admit(t, "paid", 1)
	markPaid(t, f, a.RegistrationID)

	_, err := f.admissions.Cancel(context.Background(), a.RegistrationID)
	assert.ErrorIs(t, err, refundErr)
	assert.Equal(t, models.RegistrationConfirmed, f.get(t, a.RegistrationID).RegistrationStatus)
}

func TestCancelPendingPaymentDiscardsIntent(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "paid", intPtr(5), 2000)
	f.gateway.On("CreatePaymentIntent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.PaymentIntent{ID: "pi_pending"}, nil)
	f.gateway.On("CancelPaymentIntent", mock.Anything, "pi_pending").Return(nil).Once()

	a := f.admit(t, "paid", 1)
	outcome, err := f.admissions.Cancel(context.Background(), a.RegistrationID)
	require.NoError(t, err)
	assert.Equal(t, registration.CancelCancelled, outcome)

	reg := f.get(t, a.RegistrationID)
	assert.Equal(t, models.RegistrationCancelled, reg.RegistrationStatus)
	assert.Equal(t, models.PaymentPending, reg.PaymentStatus)
	f.gateway.AssertCalled(t, "CancelPaymentIntent", mock.Anything, "pi_pending")
}
