package models

// PaymentIntent is the gateway-side handle a registrant pays against.
type PaymentIntent struct {
	ID           string `json:"payment_intent_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}
