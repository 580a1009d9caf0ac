package domain

import "time"

// Events published to Kafka after a fresh terminal payment transition.
// Consumers get at-least-once delivery; the sends they trigger are
// best-effort, so duplicates are harmless.

type OrderPaidEvent struct {
	Reference     string    `json:"reference"`
	Email         string    `json:"email"`
	TotalPrice    string    `json:"total_price"`
	PaymentMethod string    `json:"payment_method"`
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
}

type PaymentFailedEvent struct {
	Reference     string    `json:"reference"`
	Email         string    `json:"email"`
	TotalPrice    string    `json:"total_price"`
	PaymentMethod string    `json:"payment_method"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
