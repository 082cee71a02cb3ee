package registration_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-registration/internal/datastore"
	"ms-registration/internal/logger"
	"ms-registration/internal/models"
	"ms-registration/internal/registration"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*models.PaymentIntent, error) {
	args := m.Called(ctx, amount, currency, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentIntent), args.Error(1)
}

func (m *MockGateway) CancelPaymentIntent(ctx context.Context, intentID string) error {
	args := m.Called(ctx, intentID)
	return args.Error(0)
}

func (m *MockGateway) RefundPayment(ctx context.Context, intentID string) error {
	args := m.Called(ctx, intentID)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, kind models.MessageKind, registrationID string) error {
	args := m.Called(ctx, kind, registrationID)
	return args.Error(0)
}

// stepClock hands out strictly increasing instants so FIFO order is the
// order of admission.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *stepClock {
	return &stepClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type fixture struct {
	store      *datastore.Store
	faults     *faultyStore
	gateway    *MockGateway
	notifier   *MockNotifier
	clock      *stepClock
	waitlist   *registration.WaitlistManager
	admissions *registration.AdmissionController
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := datastore.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:    store,
		faults:   &faultyStore{Datastore: store},
		gateway:  new(MockGateway),
		notifier: new(MockNotifier),
		clock:    newClock(),
	}
	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	deps := registration.Deps{
		Store:    f.faults,
		Gateway:  f.gateway,
		Notifier: f.notifier,
		Logger:   logger.NewDiscardLogger(),
		Now:      f.clock.Now,
	}
	f.waitlist = registration.NewWaitlistManager(deps)
	f.admissions = registration.NewAdmissionController(deps, f.waitlist)
	return f
}

func intPtr(n int) *int { return &n }

func (f *fixture) seedEvent(t *testing.T, id string, capacity *int, cost int64) *models.Event {
	t.Helper()
	event := &models.Event{
		ID:                   id,
		Title:                "Spring retreat",
		MaxCapacity:          capacity,
		RegistrationRequired: true,
		CostAmount:           cost,
		Currency:             "usd",
	}
	require.NoError(t, f.store.InsertEvent(context.Background(), event))
	return event
}

func (f *fixture) admit(t *testing.T, eventID string, party int) *registration.Admission {
	t.Helper()
	a, err := f.admissions.TryAdmit(context.Background(), registration.AdmissionRequest{
		EventID:       eventID,
		AttendeeEmail: "guest@example.com",
		PartySize:     party,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) get(t *testing.T, id string) *models.Registration {
	t.Helper()
	reg, err := f.admissions.Get(context.Background(), id)
	require.NoError(t, err)
	return reg
}

func (f *fixture) confirmedSeats(t *testing.T, eventID string) int {
	t.Helper()
	var total int
	err := f.store.Bun.NewSelect().
		Model((*models.Registration)(nil)).
		ColumnExpr("COALESCE(SUM(party_size), 0)").
		Where("event_id = ?", eventID).
		Where("registration_status = ?", string(models.RegistrationConfirmed)).
		Scan(context.Background(), &total)
	require.NoError(t, err)
	return total
}
