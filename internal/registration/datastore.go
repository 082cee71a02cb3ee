package registration

import (
	"context"

	"ms-registration/internal/models"
)

// Datastore opens atomic units. Every read and write an operation depends
// on for its decision happens inside one Txn.
type Datastore interface {
	BeginAtomic(ctx context.Context) (Txn, error)
}

type Txn interface {
	// GetEventCapacity reads the event and holds its row lock until the
	// unit ends. Admissions and promotions for one event serialize here.
	GetEventCapacity(ctx context.Context, eventID string) (*models.Event, error)
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
	SumConfirmedPartySize(ctx context.Context, eventID string) (int, error)

	InsertRegistration(ctx context.Context, reg *models.Registration) error
	GetRegistration(ctx context.Context, id string) (*models.Registration, error)
	// LockRegistration reads the registration and holds its row lock.
	LockRegistration(ctx context.Context, id string) (*models.Registration, error)
	LockRegistrationByPaymentIntent(ctx context.Context, intentID string) (*models.Registration, error)
	// ListWaitlisted returns waitlisted registrations oldest first.
	ListWaitlisted(ctx context.Context, eventID string) ([]models.Registration, error)
	// UpdateRegistrationStatus applies the change only while the row still
	// has status from, and reports whether it did.
	UpdateRegistrationStatus(ctx context.Context, id string, from, to models.RegistrationStatus, payment models.PaymentStatus) (bool, error)
	SetPaymentIntent(ctx context.Context, id, intentID string) error

	InsertDonation(ctx context.Context, donation *models.Donation) error
	// GetSubscription reads by gateway subscription id and holds the row lock.
	GetSubscription(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error

	HasProcessedNotification(ctx context.Context, id string) (bool, error)
	// MarkProcessedNotification inserts the row unless it exists. false means
	// another unit already claimed the id.
	MarkProcessedNotification(ctx context.Context, n *models.ProcessedNotification) (bool, error)

	Commit() error
	Rollback() error
}

// PaymentGateway is the outbound half of the payment provider.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*models.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, intentID string) error
	RefundPayment(ctx context.Context, intentID string) error
}

// Notifier delivers attendee messages. Callers log failures and move on.
type Notifier interface {
	Notify(ctx context.Context, kind models.MessageKind, registrationID string) error
}
