package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/earthman-shop/checkout/internal/domain"
)

const (
	ProviderCard   = "card"
	ProviderWallet = "wallet"
)

// InitiateResult is the provider handle returned when a payment is opened.
// Exactly one of ClientSecret (card) and ApprovalURL (wallet) is set.
type InitiateResult struct {
	ProviderPaymentID string
	ClientSecret      string
	ApprovalURL       string
}

type EventType string

const (
	EventPaymentSucceeded EventType = "payment_succeeded"
	EventPaymentFailed    EventType = "payment_failed"

	// EventIgnored covers event types this system does not react to.
	// They are acknowledged so the provider stops redelivering them.
	EventIgnored EventType = "ignored"
)

// Event is a provider-neutral webhook notification. OrderReference may be
// empty for providers that only correlate by payment id.
type Event struct {
	Type              EventType
	ProviderPaymentID string
	OrderReference    string
	CartSessionID     string
	TransactionID     string
	FailureReason     string
}

// Gateway is the uniform contract over the payment providers.
type Gateway interface {
	Name() string

	// Initiate opens a payment with the provider for the given frozen
	// amount, correlated by order reference.
	Initiate(ctx context.Context, amount decimal.Decimal, currency, reference, cartSessionID string) (*InitiateResult, error)

	// Confirm re-verifies the payment state server-side. Client
	// confirmation calls always go through here; client-supplied outcome
	// booleans are never trusted.
	Confirm(ctx context.Context, providerPaymentID, proof string) (*domain.PaymentOutcome, error)

	// DecodeWebhook verifies the signature over the raw body before any
	// parsing, then decodes the provider payload into an Event.
	DecodeWebhook(body []byte, signature string) (*Event, error)
}
