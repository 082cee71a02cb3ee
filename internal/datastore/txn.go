package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-registration/internal/models"
	"ms-registration/internal/registration"
)

type Txn struct {
	tx       bun.Tx
	lockRows bool
	done     bool
}

func (t *Txn) forUpdate(q *bun.SelectQuery) *bun.SelectQuery {
	if t.lockRows {
		return q.For("UPDATE")
	}
	return q
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, registration.ErrNotFound)
	}
	return err
}

// ---------------- EVENTS ----------------

func (t *Txn) GetEventCapacity(ctx context.Context, eventID string) (*models.Event, error) {
	event := new(models.Event)
	err := t.forUpdate(t.tx.NewSelect().Model(event).Where("id = ?", eventID)).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "event", eventID)
	}
	return event, nil
}

func (t *Txn) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	event := new(models.Event)
	if err := t.tx.NewSelect().Model(event).Where("id = ?", eventID).Scan(ctx); err != nil {
		return nil, notFound(err, "event", eventID)
	}
	return event, nil
}

func (t *Txn) SumConfirmedPartySize(ctx context.Context, eventID string) (int, error) {
	var total int
	err := t.tx.NewSelect().
		Model((*models.Registration)(nil)).
		ColumnExpr("COALESCE(SUM(party_size), 0)").
		Where("event_id = ?", eventID).
		Where("registration_status = ?", string(models.RegistrationConfirmed)).
		Scan(ctx, &total)
	return total, err
}

// ---------------- REGISTRATIONS ----------------

func (t *Txn) InsertRegistration(ctx context.Context, reg *models.Registration) error {
	_, err := t.tx.NewInsert().Model(reg).Exec(ctx)
	return err
}

func (t *Txn) GetRegistration(ctx context.Context, id string) (*models.Registration, error) {
	reg := new(models.Registration)
	if err := t.tx.NewSelect().Model(reg).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err, "registration", id)
	}
	return reg, nil
}

func (t *Txn) LockRegistration(ctx context.Context, id string) (*models.Registration, error) {
	reg := new(models.Registration)
	if err := t.forUpdate(t.tx.NewSelect().Model(reg).Where("id = ?", id)).Scan(ctx); err != nil {
		return nil, notFound(err, "registration", id)
	}
	return reg, nil
}

func (t *Txn) LockRegistrationByPaymentIntent(ctx context.Context, intentID string) (*models.Registration, error) {
	reg := new(models.Registration)
	q := t.tx.NewSelect().Model(reg).Where("payment_intent_id = ?", intentID).Limit(1)
	if err := t.forUpdate(q).Scan(ctx); err != nil {
		return nil, notFound(err, "registration for payment intent", intentID)
	}
	return reg, nil
}

func (t *Txn) ListWaitlisted(ctx context.Context, eventID string) ([]models.Registration, error) {
	var regs []models.Registration
	err := t.tx.NewSelect().
		Model(&regs).
		Where("event_id = ?", eventID).
		Where("registration_status = ?", string(models.RegistrationWaitlist)).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return regs, nil
}

func (t *Txn) UpdateRegistrationStatus(ctx context.Context, id string, from, to models.RegistrationStatus, payment models.PaymentStatus) (bool, error) {
	res, err := t.tx.NewUpdate().
		Model((*models.Registration)(nil)).
		Set("registration_status = ?", string(to)).
		Set("payment_status = ?", string(payment)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("registration_status = ?", string(from)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *Txn) SetPaymentIntent(ctx context.Context, id, intentID string) error {
	_, err := t.tx.NewUpdate().
		Model((*models.Registration)(nil)).
		Set("payment_intent_id = ?", intentID).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// ---------------- DONATIONS & SUBSCRIPTIONS ----------------

func (t *Txn) InsertDonation(ctx context.Context, donation *models.Donation) error {
	_, err := t.tx.NewInsert().Model(donation).Exec(ctx)
	return err
}

func (t *Txn) GetSubscription(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	sub := new(models.Subscription)
	q := t.tx.NewSelect().Model(sub).Where("stripe_subscription_id = ?", stripeSubscriptionID)
	if err := t.forUpdate(q).Scan(ctx); err != nil {
		return nil, notFound(err, "subscription", stripeSubscriptionID)
	}
	return sub, nil
}

func (t *Txn) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	_, err := t.tx.NewInsert().
		Model(sub).
		On("CONFLICT (stripe_subscription_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("next_payment_date = EXCLUDED.next_payment_date").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// ---------------- PROCESSED NOTIFICATIONS ----------------

func (t *Txn) HasProcessedNotification(ctx context.Context, id string) (bool, error) {
	return t.tx.NewSelect().
		Model((*models.ProcessedNotification)(nil)).
		Where("notification_id = ?", id).
		Exists(ctx)
}

func (t *Txn) MarkProcessedNotification(ctx context.Context, n *models.ProcessedNotification) (bool, error) {
	res, err := t.tx.NewInsert().
		Model(n).
		On("CONFLICT (notification_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (t *Txn) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	return t.tx.Commit()
}

// Rollback is a no-op once the unit has ended, so it is safe to defer.
func (t *Txn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
