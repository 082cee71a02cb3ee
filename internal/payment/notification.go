package payment

import "time"

// Kind is the gateway-neutral notification kind the reconciler dispatches on.
type Kind string

const (
	KindPaymentSucceeded     Kind = "payment_succeeded"
	KindPaymentFailed        Kind = "payment_failed"
	KindChargeRefunded       Kind = "charge_refunded"
	KindSubscriptionCreated  Kind = "subscription_created"
	KindSubscriptionUpdated  Kind = "subscription_updated"
	KindSubscriptionDeleted  Kind = "subscription_deleted"
	KindInvoicePaid          Kind = "invoice_paid"
	KindInvoicePaymentFailed Kind = "invoice_payment_failed"
	KindUnknown              Kind = "unknown"
)

// Notification is a verified gateway event reduced to the fields the
// reconciler needs. Type keeps the gateway's own event name for logging.
type Notification struct {
	ID   string
	Kind Kind
	Type string

	// One-time payments.
	PaymentIntentID string
	RegistrationID  string // from intent metadata
	FullyRefunded   bool

	// Subscriptions and invoices.
	SubscriptionID     string
	InvoiceID          string
	SubscriptionStatus string
	NextPaymentDate    *time.Time
	CustomerEmail      string

	Amount   int64
	Currency string
}

type Result string

const (
	ResultApplied   Result = "applied"
	ResultDuplicate Result = "duplicate"
	ResultOrphan    Result = "orphan"
	ResultSkipped   Result = "skipped"
	ResultIgnored   Result = "ignored"
)
