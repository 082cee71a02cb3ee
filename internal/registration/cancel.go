package registration

import (
	"context"
	"fmt"

	"ms-registration/internal/models"
)

type CancelOutcome string

const (
	CancelCancelled        CancelOutcome = "cancelled"
	CancelAlreadyCancelled CancelOutcome = "already_cancelled"
	// CancelRefundRequested means the seat is released once the gateway
	// confirms the refund.
	CancelRefundRequested CancelOutcome = "refund_requested"
)

// Cancel releases a registration. Paid registrations are refunded instead,
// and the refund notification completes the cancellation.
func (a *AdmissionController) Cancel(ctx context.Context, registrationID string) (CancelOutcome, error) {
	tx, err := a.store.BeginAtomic(ctx)
	if err != nil {
		return "", AsTransient("begin cancellation", err)
	}
	defer tx.Rollback()

	reg, err := tx.LockRegistration(ctx, registrationID)
	if err != nil {
		return "", AsTransient("lock registration", err)
	}
	if reg.IsCancelled() {
		return CancelAlreadyCancelled, nil
	}

	if reg.PaymentStatus == models.PaymentPaid {
		tx.Rollback()
		if reg.PaymentIntentID == "" {
			return "", invalidf("registration %s is paid but has no payment intent", reg.ID)
		}
		if err := a.gateway.RefundPayment(ctx, reg.PaymentIntentID); err != nil {
			return "", fmt.Errorf("request refund for registration %s: %w", reg.ID, err)
		}
		a.logger.LogAdmission("CANCEL", reg.ID, fmt.Sprintf("refund requested for intent %s", reg.PaymentIntentID))
		return CancelRefundRequested, nil
	}

	heldSeat := reg.IsConfirmed()
	ok, err := tx.UpdateRegistrationStatus(ctx, reg.ID, reg.RegistrationStatus, models.RegistrationCancelled, reg.PaymentStatus)
	if err != nil {
		return "", AsTransient("cancel registration", err)
	}
	if !ok {
		return "", AsTransient("cancel registration", fmt.Errorf("registration %s changed under lock", reg.ID))
	}
	if err := tx.Commit(); err != nil {
		return "", AsTransient("commit cancellation", err)
	}

	a.logger.LogAdmission("CANCEL", reg.ID, fmt.Sprintf("was %s, seat freed: %t", reg.RegistrationStatus, heldSeat))
	notify(ctx, a.notifier, a.logger, models.MessageCancelled, reg.ID)

	if reg.PaymentIntentID != "" && (reg.PaymentStatus == models.PaymentPending || reg.PaymentStatus == models.PaymentFailed) {
		a.intents.discard(ctx, reg.PaymentIntentID)
	}
	if heldSeat && a.waitlist != nil {
		if _, err := a.waitlist.FillFreedCapacity(ctx, reg.EventID); err != nil {
			a.logger.Error("WAITLIST", fmt.Sprintf("Promotion after cancelling %s failed: %v", reg.ID, err))
		}
	}
	return CancelCancelled, nil
}
