package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-registration/internal/idempotency"
	"ms-registration/internal/logger"
	"ms-registration/internal/models"
	"ms-registration/internal/registration"
)

// Gateway verifies inbound notifications and performs the follow-up calls
// some transitions need.
type Gateway interface {
	registration.PaymentGateway
	VerifyNotification(payload []byte, signature string) (*Notification, error)
}

type ReconcilerDeps struct {
	Store    registration.Datastore
	Gateway  Gateway
	Gate     *idempotency.Gate
	Waitlist *registration.WaitlistManager
	Notifier registration.Notifier
	Logger   *logger.Logger
	Now      func() time.Time
}

// Reconciler applies payment and subscription notifications exactly once.
type Reconciler struct {
	store    registration.Datastore
	gateway  Gateway
	gate     *idempotency.Gate
	waitlist *registration.WaitlistManager
	notifier registration.Notifier
	logger   *logger.Logger
	now      func() time.Time
}

func NewReconciler(deps ReconcilerDeps) *Reconciler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		store:    deps.Store,
		gateway:  deps.Gateway,
		gate:     deps.Gate,
		waitlist: deps.Waitlist,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		now:      now,
	}
}

// plan is what one notification does, decided while its rows are locked.
// apply runs inside the unit, after runs once it has committed.
type plan struct {
	result Result
	reason string
	apply  func(ctx context.Context, tx registration.Txn) error
	after  func(ctx context.Context)
}

func skipped(reason string) *plan { return &plan{result: ResultSkipped, reason: reason} }
func orphan(reason string) *plan  { return &plan{result: ResultOrphan, reason: reason} }

// Handle verifies the raw payload and applies it. Verification failures
// return ErrRejected and record nothing.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signature string) (Result, error) {
	n, err := r.gateway.VerifyNotification(payload, signature)
	if err != nil {
		r.logger.LogSecurity("WEBHOOK_REJECTED", err.Error())
		return "", fmt.Errorf("%w: %v", registration.ErrRejected, err)
	}
	return r.Apply(ctx, n)
}

// Apply runs an already verified notification through the idempotency gate
// and its transition.
func (r *Reconciler) Apply(ctx context.Context, n *Notification) (Result, error) {
	if n == nil || n.ID == "" {
		return "", fmt.Errorf("%w: notification has no id", registration.ErrRejected)
	}
	if r.gate.Cached(ctx, n.ID) {
		r.logger.LogWebhook(n.label(), n.ID, "duplicate (cached)")
		return ResultDuplicate, nil
	}

	tx, err := r.store.BeginAtomic(ctx)
	if err != nil {
		return "", registration.AsTransient("begin reconciliation", err)
	}
	defer tx.Rollback()

	seen, err := r.gate.AlreadyProcessed(ctx, tx, n.ID)
	if err != nil {
		return "", registration.AsTransient("check processed notification", err)
	}
	if seen {
		tx.Rollback()
		r.gate.Remember(ctx, n.ID)
		r.logger.LogWebhook(n.label(), n.ID, "duplicate")
		return ResultDuplicate, nil
	}

	p, err := r.plan(ctx, tx, n)
	if err != nil {
		return "", registration.AsTransient(fmt.Sprintf("reconcile %s", n.Kind), err)
	}

	claimed, err := r.gate.Claim(ctx, tx, n.ID, n.label(), string(p.result))
	if err != nil {
		return "", registration.AsTransient("claim notification", err)
	}
	if !claimed {
		r.logger.LogWebhook(n.label(), n.ID, "duplicate (claimed concurrently)")
		return ResultDuplicate, nil
	}

	if p.apply != nil {
		if err := p.apply(ctx, tx); err != nil {
			return "", registration.AsTransient(fmt.Sprintf("apply %s", n.Kind), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", registration.AsTransient("commit reconciliation", err)
	}
	r.gate.Remember(ctx, n.ID)

	msg := string(p.result)
	if p.reason != "" {
		msg = fmt.Sprintf("%s: %s", p.result, p.reason)
	}
	if p.result == ResultOrphan {
		r.logger.Warn("WEBHOOK", fmt.Sprintf("[%s] %s - %s", n.label(), n.ID, msg))
	} else {
		r.logger.LogWebhook(n.label(), n.ID, msg)
	}

	if p.after != nil {
		p.after(ctx)
	}
	return p.result, nil
}

func (n *Notification) label() string {
	if n.Type != "" {
		return n.Type
	}
	return string(n.Kind)
}

func (r *Reconciler) plan(ctx context.Context, tx registration.Txn, n *Notification) (*plan, error) {
	switch n.Kind {
	case KindPaymentSucceeded:
		return r.paymentSucceeded(ctx, tx, n)
	case KindPaymentFailed:
		return r.paymentFailed(ctx, tx, n)
	case KindChargeRefunded:
		return r.chargeRefunded(ctx, tx, n)
	case KindSubscriptionCreated:
		return r.subscriptionCreated(ctx, tx, n)
	case KindSubscriptionUpdated, KindSubscriptionDeleted, KindInvoicePaymentFailed:
		return r.subscriptionChanged(ctx, tx, n)
	case KindInvoicePaid:
		return r.invoicePaid(ctx, tx, n)
	default:
		return &plan{result: ResultIgnored, reason: "unhandled event type"}, nil
	}
}

// ---------------- ONE-TIME PAYMENTS ----------------

// correlate locks the registration a payment notification refers to: by
// intent id first, then by the registration id in the intent metadata.
func (r *Reconciler) correlate(ctx context.Context, tx registration.Txn, n *Notification) (*models.Registration, error) {
	if n.PaymentIntentID != "" {
		reg, err := tx.LockRegistrationByPaymentIntent(ctx, n.PaymentIntentID)
		if err == nil {
			return reg, nil
		}
		if !errors.Is(err, registration.ErrNotFound) {
			return nil, err
		}
	}
	if n.RegistrationID != "" {
		reg, err := tx.LockRegistration(ctx, n.RegistrationID)
		if err == nil {
			return reg, nil
		}
		if !errors.Is(err, registration.ErrNotFound) {
			return nil, err
		}
	}
	return nil, registration.ErrOrphanNotification
}

func (r *Reconciler) paymentSucceeded(ctx context.Context, tx registration.Txn, n *Notification) (*plan, error) {
	reg, err := r.correlate(ctx, tx, n)
	if errors.Is(err, registration.ErrOrphanNotification) {
		return orphan(fmt.Sprintf("no registration for payment intent %s", n.PaymentIntentID)), nil
	}
	if err != nil {
		return nil, err
	}

	if reg.IsCancelled() {
		// Charged after the registrant cancelled: give the money back.
		p := skipped(fmt.Sprintf("registration %s is cancelled, refunding", reg.ID))
		p.after = func(ctx context.Context) { r.refund(ctx, reg.ID, n.PaymentIntentID) }
		return p, nil
	}
	if !reg.IsConfirmed() {
		return skipped(fmt.Sprintf("registration %s is %s", reg.ID, reg.RegistrationStatus)), nil
	}
	if reg.PaymentStatus != models.PaymentPending && reg.PaymentStatus != models.PaymentFailed {
		return skipped(fmt.Sprintf("registration %s payment is %s", reg.ID, reg.PaymentStatus)), nil
	}

	stale := ""
	if reg.PaymentIntentID != "" && reg.PaymentIntentID != n.PaymentIntentID {
		stale = reg.PaymentIntentID
	}

	return &plan{
		result: ResultApplied,
		reason: fmt.Sprintf("registration %s paid", reg.ID),
		apply: func(ctx context.Context, tx registration.Txn) error {
			if err := r.setRegistration(ctx, tx, reg, models.RegistrationConfirmed, models.PaymentPaid); err != nil {
				return err
			}
			if n.PaymentIntentID != "" && n.PaymentIntentID != reg.PaymentIntentID {
				if err := tx.SetPaymentIntent(ctx, reg.ID, n.PaymentIntentID); err != nil {
					return err
				}
			}
			return tx.InsertDonation(ctx, &models.Donation{
				ID:               uuid.New().String(),
				Kind:             models.DonationOneTime,
				RegistrationID:   reg.ID,
				GatewayReference: n.PaymentIntentID,
				Amount:           n.Amount,
				Currency:         n.Currency,
				CreatedAt:        r.now().UTC(),
			})
		},
		after: func(ctx context.Context) {
			if stale == "" {
				return
			}
			if err := r.gateway.CancelPaymentIntent(ctx, stale); err != nil {
				r.logger.Warn("PAYMENT", fmt.Sprintf("Failed to cancel superseded payment intent %s: %v", stale, err))
			}
		},
	}, nil
}

func (r *Reconciler) paymentFailed(ctx context.Context, tx registration.Txn, n *Notification) (*plan, error) {
	reg, err := r.correlate(ctx, tx, n)
	if errors.Is(err, registration.ErrOrphanNotification) {
		return orphan(fmt.Sprintf("no registration for payment intent %s", n.PaymentIntentID)), nil
	}
	if err != nil {
		return nil, err
	}

	// A cancelled registration cannot pay again, so there is nothing to record.
	if reg.IsCancelled() {
		return skipped(fmt.Sprintf("registration %s is cancelled", reg.ID)), nil
	}
	if reg.PaymentStatus != models.PaymentPending {
		return skipped(fmt.Sprintf("registration %s payment is %s", reg.ID, reg.PaymentStatus)), nil
	}
	if reg.PaymentIntentID != "" && n.PaymentIntentID != "" && reg.PaymentIntentID != n.PaymentIntentID {
		return skipped(fmt.Sprintf("intent %s was superseded by %s", n.PaymentIntentID, reg.PaymentIntentID)), nil
	}

	// The seat stays confirmed; eviction after a grace period is handled elsewhere.
	return &plan{
		result: ResultApplied,
		reason: fmt.Sprintf("registration %s payment failed", reg.ID),
		apply: func(ctx context.Context, tx registration.Txn) error {
			return r.setRegistration(ctx, tx, reg, reg.RegistrationStatus, models.PaymentFailed)
		},
		after: func(ctx context.Context) {
			r.notify(ctx, models.MessagePaymentFailed, reg.ID)
		},
	}, nil
}

func (r *Reconciler) chargeRefunded(ctx context.Context, tx registration.Txn, n *Notification) (*plan, error) {
	reg, err := r.correlate(ctx, tx, n)
	if errors.Is(err, registration.ErrOrphanNotification) {
		return orphan(fmt.Sprintf("no registration for payment intent %s", n.PaymentIntentID)), nil
	}
	if err != nil {
		return nil, err
	}

	// Only from paid: a refund racing ahead of its success must not apply.
	if reg.PaymentStatus != models.PaymentPaid {
		return skipped(fmt.Sprintf("registration %s payment is %s", reg.ID, reg.PaymentStatus)), nil
	}
	if !n.FullyRefunded {
		return skipped(fmt.Sprintf("partial refund on registration %s", reg.ID)), nil
	}

	return &plan{
		result: ResultApplied,
		reason: fmt.Sprintf("registration %s refunded and cancelled", reg.ID),
		apply: func(ctx context.Context, tx registration.Txn) error {
			return r.setRegistration(ctx, tx, reg, models.RegistrationCancelled, models.PaymentRefunded)
		},
		after: func(ctx context.Context) {
			r.notify(ctx, models.MessageRefunded, reg.ID)
			if r.waitlist == nil {
				return
			}
			if _, err := r.waitlist.FillFreedCapacity(ctx, reg.EventID); err != nil {
				r.logger.Error("WAITLIST", fmt.Sprintf("Failed to fill seats freed by refund of %s: %v", reg.ID, err))
			}
		},
	}, nil
}

// setRegistration writes a transition on a row this unit has locked.
func (r *Reconciler) setRegistration(ctx context.Context, tx registration.Txn, reg *models.Registration, to models.RegistrationStatus, payment models.PaymentStatus) error {
	ok, err := tx.UpdateRegistrationStatus(ctx, reg.ID, reg.RegistrationStatus, to, payment)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("registration %s changed while locked", reg.ID)
	}
	return nil
}

// ---------------- SUBSCRIPTIONS ----------------

func (r *Reconciler) subscriptionCreated(ctx context.Context, tx registration.Txn, n *Notification) (*plan, error) {
	if n.SubscriptionID == "" {
		return orphan("subscription id missing"), nil
	}
	_, err := tx.GetSubscription(ctx, n.SubscriptionID)
	if err == nil {
		return skipped(fmt.Sprintf("subscription %s already exists", n.SubscriptionID)), nil
	}
	if !errors.Is(err, registration.ErrNotFound) {
		return nil, err
	}

	now := r.now().UTC()
	sub := &models.Subscription{
		ID:                   uuid.New().String(),
		StripeSubscriptionID: n.SubscriptionID,
		Status:               models.SubscriptionActive,
		NextPaymentDate:      n.NextPaymentDate,
		DonorEmail:           n.CustomerEmail,
		Amount:               n.Amount,
		Currency:             n.Currency,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	return &plan{
		result: ResultApplied,
		reason: fmt.Sprintf("subscription %s active", n.SubscriptionID),
		apply: func(ctx context.Context, tx registration.Txn) error {
			return tx.UpsertSubscription(ctx, sub)
		},
	}, nil
}

// subscriptionChanged handles the kinds that rewrite an existing
// subscription's status.
func (r *Reconciler) subscriptionChanged(ctx context.Context, tx registration.Txn, n *Notification) (*plan, error) {
	sub, p, err := r.lockSubscription(ctx, tx, n)
	if p != nil || err != nil {
		return p, err
	}

	switch n.Kind {
	case KindSubscriptionDeleted:
		sub.Status = models.SubscriptionCanceled
	case KindInvoicePaymentFailed:
		sub.Status = models.SubscriptionPaymentFailed
	default:
		if n.SubscriptionStatus != "" {
			sub.Status = models.SubscriptionStatus(n.SubscriptionStatus)
		}
		if n.NextPaymentDate != nil {
			sub.NextPaymentDate = n.NextPaymentDate
		}
	}
	sub.UpdatedAt = r.now().UTC()

	return &plan{
		result: ResultApplied,
		reason: fmt.Sprintf("subscription %s is %s", sub.StripeSubscriptionID, sub.Status),
		apply: func(ctx context.Context, tx registration.Txn) error {
			return tx.UpsertSubscription(ctx, sub)
		},
	}, nil
}

func (r *Reconciler) invoicePaid(ctx context.Context, tx registration.Txn, n *Notification) (*plan, error) {
	sub, p, err := r.lockSubscription(ctx, tx, n)
	if p != nil || err != nil {
		return p, err
	}
	if sub.IsTerminal() {
		return skipped(fmt.Sprintf("subscription %s is %s", sub.StripeSubscriptionID, sub.Status)), nil
	}

	// A paid invoice settles an earlier failure: the charge is real either way.
	reason := fmt.Sprintf("recurring donation on subscription %s", sub.StripeSubscriptionID)
	if !sub.IsActive() {
		reason = fmt.Sprintf("%s, reactivated from %s", reason, sub.Status)
		sub.Status = models.SubscriptionActive
	}
	now := r.now().UTC()
	if n.NextPaymentDate != nil {
		sub.NextPaymentDate = n.NextPaymentDate
	}
	sub.UpdatedAt = now
	currency := n.Currency
	if currency == "" {
		currency = sub.Currency
	}

	return &plan{
		result: ResultApplied,
		reason: reason,
		apply: func(ctx context.Context, tx registration.Txn) error {
			err := tx.InsertDonation(ctx, &models.Donation{
				ID:               uuid.New().String(),
				Kind:             models.DonationRecurring,
				SubscriptionID:   sub.ID,
				GatewayReference: n.InvoiceID,
				Amount:           n.Amount,
				Currency:         currency,
				CreatedAt:        now,
			})
			if err != nil {
				return err
			}
			return tx.UpsertSubscription(ctx, sub)
		},
	}, nil
}

// lockSubscription returns either the locked subscription or an orphan plan.
func (r *Reconciler) lockSubscription(ctx context.Context, tx registration.Txn, n *Notification) (*models.Subscription, *plan, error) {
	if n.SubscriptionID == "" {
		return nil, orphan("subscription id missing"), nil
	}
	sub, err := tx.GetSubscription(ctx, n.SubscriptionID)
	if errors.Is(err, registration.ErrNotFound) {
		return nil, orphan(fmt.Sprintf("unknown subscription %s", n.SubscriptionID)), nil
	}
	if err != nil {
		return nil, nil, err
	}
	return sub, nil, nil
}

// ---------------- FOLLOW-UPS ----------------

func (r *Reconciler) refund(ctx context.Context, registrationID, intentID string) {
	if intentID == "" {
		return
	}
	if err := r.gateway.RefundPayment(ctx, intentID); err != nil {
		r.logger.Error("PAYMENT", fmt.Sprintf("Failed to refund intent %s for registration %s: %v", intentID, registrationID, err))
		return
	}
	r.logger.Info("PAYMENT", fmt.Sprintf("Refund requested for intent %s (registration %s)", intentID, registrationID))
}

func (r *Reconciler) notify(ctx context.Context, kind models.MessageKind, registrationID string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, kind, registrationID); err != nil {
		r.logger.Error("NOTIFY", fmt.Sprintf("Failed to send %s for %s: %v", kind, registrationID, err))
	}
}
