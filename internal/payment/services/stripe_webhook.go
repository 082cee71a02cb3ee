package services

import (
	"encoding/json"
	"fmt"
	"time"

	"ms-registration/internal/payment"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

var _ payment.Gateway = (*StripeService)(nil)

var eventKinds = map[string]payment.Kind{
	"payment_intent.succeeded":      payment.KindPaymentSucceeded,
	"payment_intent.payment_failed": payment.KindPaymentFailed,
	"charge.refunded":               payment.KindChargeRefunded,
	"customer.subscription.created": payment.KindSubscriptionCreated,
	"customer.subscription.updated": payment.KindSubscriptionUpdated,
	"customer.subscription.deleted": payment.KindSubscriptionDeleted,
	"invoice.paid":                  payment.KindInvoicePaid,
	"invoice.payment_failed":        payment.KindInvoicePaymentFailed,
}

// VerifyNotification checks the Stripe-Signature header and maps the event.
func (s *StripeService) VerifyNotification(payload []byte, signature string) (*payment.Notification, error) {
	if s.webhookSecret == "" {
		return nil, ErrWebhookNotConfigured
	}

	// Verify signature with API version mismatch tolerance
	opts := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, opts)
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}

	n, err := MapEvent(event)
	if err != nil {
		return nil, err
	}
	s.log.Debug("WEBHOOK", fmt.Sprintf("Verified Stripe event %s (%s)", event.ID, event.Type))
	return n, nil
}

// MapEvent reduces a Stripe event to a payment.Notification. Unknown event
// types map to KindUnknown. Subscription and invoice bodies are decoded
// into local shapes because their period fields moved between API versions.
func MapEvent(event stripe.Event) (*payment.Notification, error) {
	n := &payment.Notification{
		ID:   event.ID,
		Type: string(event.Type),
		Kind: payment.KindUnknown,
	}
	kind, ok := eventKinds[string(event.Type)]
	if !ok {
		return n, nil
	}
	n.Kind = kind
	if event.Data == nil {
		return nil, fmt.Errorf("event %s has no data", event.ID)
	}
	raw := event.Data.Raw

	switch kind {
	case payment.KindPaymentSucceeded, payment.KindPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment intent: %w", err)
		}
		n.PaymentIntentID = pi.ID
		n.RegistrationID = pi.Metadata["registration_id"]
		n.Amount = pi.AmountReceived
		if n.Amount == 0 {
			n.Amount = pi.Amount
		}
		n.Currency = string(pi.Currency)
		n.CustomerEmail = pi.ReceiptEmail

	case payment.KindChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(raw, &charge); err != nil {
			return nil, fmt.Errorf("failed to unmarshal charge: %w", err)
		}
		if charge.PaymentIntent != nil {
			n.PaymentIntentID = charge.PaymentIntent.ID
		}
		n.RegistrationID = charge.Metadata["registration_id"]
		n.FullyRefunded = charge.Refunded
		n.Amount = charge.AmountRefunded
		n.Currency = string(charge.Currency)

	case payment.KindSubscriptionCreated, payment.KindSubscriptionUpdated, payment.KindSubscriptionDeleted:
		var sub subscriptionBody
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
		}
		n.SubscriptionID = sub.ID
		n.SubscriptionStatus = sub.Status
		n.NextPaymentDate = unixTime(sub.periodEnd())
		n.CustomerEmail = sub.Metadata["donor_email"]
		n.Amount, n.Currency = sub.amount()

	case payment.KindInvoicePaid, payment.KindInvoicePaymentFailed:
		var inv invoiceBody
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, fmt.Errorf("failed to unmarshal invoice: %w", err)
		}
		n.InvoiceID = inv.ID
		n.SubscriptionID = inv.subscriptionID()
		n.NextPaymentDate = unixTime(inv.periodEnd())
		n.Amount = inv.AmountPaid
		n.Currency = inv.Currency
		n.CustomerEmail = inv.CustomerEmail
	}
	return n, nil
}

// expandableID decodes a Stripe field that is either an id or an expanded object.
type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		*e = expandableID(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type subscriptionBody struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Currency         string            `json:"currency"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Quantity         int64 `json:"quantity"`
			Price            struct {
				UnitAmount int64  `json:"unit_amount"`
				Currency   string `json:"currency"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s *subscriptionBody) periodEnd() int64 {
	if s.CurrentPeriodEnd != 0 {
		return s.CurrentPeriodEnd
	}
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd != 0 {
			return item.CurrentPeriodEnd
		}
	}
	return 0
}

func (s *subscriptionBody) amount() (int64, string) {
	var total int64
	currency := s.Currency
	for _, item := range s.Items.Data {
		qty := item.Quantity
		if qty == 0 {
			qty = 1
		}
		total += item.Price.UnitAmount * qty
		if currency == "" {
			currency = item.Price.Currency
		}
	}
	return total, currency
}

type invoiceBody struct {
	ID            string       `json:"id"`
	AmountPaid    int64        `json:"amount_paid"`
	Currency      string       `json:"currency"`
	CustomerEmail string       `json:"customer_email"`
	Subscription  expandableID `json:"subscription"`
	Parent        struct {
		SubscriptionDetails struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (i *invoiceBody) subscriptionID() string {
	if i.Subscription != "" {
		return string(i.Subscription)
	}
	return string(i.Parent.SubscriptionDetails.Subscription)
}

func (i *invoiceBody) periodEnd() int64 {
	var end int64
	for _, line := range i.Lines.Data {
		if line.Period.End > end {
			end = line.Period.End
		}
	}
	return end
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
