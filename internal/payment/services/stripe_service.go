package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ms-registration/internal/logger"
	"ms-registration/internal/models"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var (
	ErrStripeAPIError         = errors.New("stripe API error")
	ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")
	ErrWebhookNotConfigured   = errors.New("stripe webhook secret is not configured")
)

// StripeService handles integration with Stripe payment gateway
type StripeService struct {
	client        *client.API
	webhookSecret string
	log           *logger.Logger
}

// NewStripeService creates a new instance of StripeService
func NewStripeService(secretKey, webhookSecret string, log *logger.Logger) (*StripeService, error) {
	if secretKey == "" {
		log.Error("STRIPE", "Stripe secret key not set")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(secretKey, nil)
	if sc == nil {
		log.Error("STRIPE", "Failed to initialize Stripe client")
		return nil, ErrStripeClientInitFailed
	}
	if webhookSecret == "" {
		log.Warn("STRIPE", "Webhook secret not set, every notification will be rejected")
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeService{
		client:        sc,
		webhookSecret: webhookSecret,
		log:           log,
	}, nil
}

// CreatePaymentIntent creates a payment intent for amount minor units.
func (s *StripeService) CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*models.PaymentIntent, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("invalid payment amount: %d", amount)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := s.client.PaymentIntents.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create payment intent: %v", err))
		return nil, fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}

	s.log.Info("STRIPE", fmt.Sprintf("Payment intent created: %s (registration: %s, %d %s)", pi.ID, metadata["registration_id"], amount, currency))
	return &models.PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (s *StripeService) CancelPaymentIntent(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := s.client.PaymentIntents.Cancel(intentID, params); err != nil {
		return fmt.Errorf("%w: cancel %s: %v", ErrStripeAPIError, intentID, err)
	}
	s.log.Info("STRIPE", fmt.Sprintf("Payment intent cancelled: %s", intentID))
	return nil
}

// RefundPayment refunds the full captured amount of an intent. The
// charge.refunded notification that follows drives the state change.
func (s *StripeService) RefundPayment(ctx context.Context, intentID string) error {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
	params.Context = ctx
	refund, err := s.client.Refunds.New(params)
	if err != nil {
		return fmt.Errorf("%w: refund %s: %v", ErrStripeAPIError, intentID, err)
	}
	s.log.Info("STRIPE", fmt.Sprintf("Refund %s created for payment intent %s (status %s)", refund.ID, intentID, refund.Status))
	return nil
}
