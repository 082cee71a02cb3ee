package registration_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-registration/internal/models"
)

func TestPromotionSkipsPartiesThatDoNotFit(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "evt", intPtr(3), 0)

	f.admit(t, "evt", 2)
	single := f.admit(t, "evt", 1)
	w1 := f.admit(t, "evt", 2)
	w2 := f.admit(t, "evt", 1)
	require.Equal(t, models.RegistrationWaitlist, w1.Outcome)
	require.Equal(t, models.RegistrationWaitlist, w2.Outcome)

	// Frees exactly one seat.
	_, err := f.admissions.Cancel(context.Background(), single.RegistrationID)
	require.NoError(t, err)

	assert.Equal(t, models.RegistrationWaitlist, f.get(t, w1.RegistrationID).RegistrationStatus, "older party of two keeps its place")
	assert.Equal(t, models.RegistrationConfirmed, f.get(t, w2.RegistrationID).RegistrationStatus)
	assert.Equal(t, 3, f.confirmedSeats(t, "evt"))
	f.notifier.AssertCalled(t, "Notify", mock.Anything, models.MessagePromoted, w2.RegistrationID)
}

func TestPromoteNextIsFIFOAmongFittingParties(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "evt", intPtr(1), 0)

	holder := f.admit(t, "evt", 1)
	first := f.admit(t, "evt", 1)
	second := f.admit(t, "evt", 1)

	_, err := f.admissions.Cancel(context.Background(), holder.RegistrationID)
	require.NoError(t, err)

	assert.Equal(t, models.RegistrationConfirmed, f.get(t, first.RegistrationID).RegistrationStatus)
	assert.Equal(t, models.RegistrationWaitlist, f.get(t, second.RegistrationID).RegistrationStatus)
}

func TestPromoteNextWithoutFreeSeats(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "evt", intPtr(2), 0)
	f.admit(t, "evt", 2)
	waiting := f.admit(t, "evt", 1)

	p, err := f.waitlist.PromoteNext(context.Background(), "evt")
	require.NoError(t, err)
	assert.False(t, p.Promoted)
	assert.Equal(t, "evt", p.EventID)
	assert.Equal(t, models.RegistrationWaitlist, f.get(t, waiting.RegistrationID).RegistrationStatus)
}

func TestFillFreedCapacityPromotesUntilFull(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "evt", intPtr(4), 0)
	big := f.admit(t, "evt", 4)
	a := f.admit(t, "evt", 1)
	b := f.admit(t, "evt", 2)
	c := f.admit(t, "evt", 2)

	_, err := f.admissions.Cancel(context.Background(), big.RegistrationID)
	require.NoError(t, err)

	assert.Equal(t, models.RegistrationConfirmed, f.get(t, a.RegistrationID).RegistrationStatus)
	assert.Equal(t, models.RegistrationConfirmed, f.get(t, b.RegistrationID).RegistrationStatus)
	assert.Equal(t, models.RegistrationWaitlist, f.get(t, c.RegistrationID).RegistrationStatus)
	assert.Equal(t, 3, f.confirmedSeats(t, "evt"))

	promoted, err := f.waitlist.FillFreedCapacity(context.Background(), "evt")
	require.NoError(t, err)
	assert.Empty(t, promoted)
}

func TestPromotionOnUnlimitedEventTakesEveryone(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "evt", intPtr(1), 0)
	f.admit(t, "evt", 1)
	w := f.admit(t, "evt", 5)

	_, err := f.store.Bun.NewUpdate().
		Model((*models.Event)(nil)).
		Set("max_capacity = NULL").
		Where("id = ?", "evt").
		Exec(context.Background())
	require.NoError(t, err)

	promoted, err := f.waitlist.FillFreedCapacity(context.Background(), "evt")
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	assert.Equal(t, w.RegistrationID, promoted[0].RegistrationID)
	assert.Equal(t, 5, promoted[0].PartySize)
}

func TestPromotedPaidRegistrantGetsIntent(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "paid", intPtr(1), 1500)
	f.gateway.On("CreatePaymentIntent", mock.Anything, int64(1500), "usd", mock.Anything).
		Return(&models.PaymentIntent{ID: "pi_holder"}, nil).Once()
	f.gateway.On("CancelPaymentIntent", mock.Anything, "pi_holder").Return(nil).Once()

	holder := f.admit(t, "paid", 1)
	waiting := f.admit(t, "paid", 1)

	f.gateway.On("CreatePaymentIntent", mock.Anything, int64(1500), "usd", mock.MatchedBy(func(md map[string]string) bool {
		return md["registration_id"] == waiting.RegistrationID
	})).Return(&models.PaymentIntent{ID: "pi_promoted"}, nil).Once()

	outcome, err := f.admissions.Cancel(context.Background(), holder.RegistrationID)
	require.NoError(t, err)
	assert.EqualValues(t, "cancelled", outcome)

	reg := f.get(t, waiting.RegistrationID)
	assert.Equal(t, models.RegistrationConfirmed, reg.RegistrationStatus)
	assert.Equal(t, models.PaymentPending, reg.PaymentStatus)
	assert.Equal(t, "pi_promoted", reg.PaymentIntentID)
	f.gateway.AssertExpectations(t)
}
