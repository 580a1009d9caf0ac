package domain

import "errors"

var (
	ErrCartNotFound  = errors.New("cart not found")
	ErrCartEmpty     = errors.New("cart is empty")
	ErrOrderNotFound = errors.New("order not found")

	// ErrDuplicateTransaction means the transaction id from a provider
	// notification is already attached to a different order.
	ErrDuplicateTransaction = errors.New("transaction id already attached to another order")

	ErrInvalidOutcome   = errors.New("malformed provider payload")
	ErrInvalidSignature = errors.New("webhook signature verification failed")

	// ErrGatewayUnavailable marks transient provider failures. Webhook
	// handlers surface it as retryable so the provider redelivers.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)
