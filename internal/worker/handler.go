package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/earthman-shop/checkout/internal/domain"
)

// StaffNotifier is the slice of the email notifier the worker needs.
type StaffNotifier interface {
	SendStaffAlert(ctx context.Context, subject, body string) bool
	SendPaymentFailed(ctx context.Context, order *domain.Order) bool
}

// NotificationHandler turns payment events into best-effort emails.
// Delivery from Kafka is at-least-once and the customer-facing one-shot
// emails are handled synchronously by the reconciliation gate, so every
// send here may run more than once and must stay harmless when it does.
type NotificationHandler struct {
	notifier StaffNotifier
	logger   *slog.Logger
}

func NewNotificationHandler(notifier StaffNotifier, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifier: notifier,
		logger:   logger,
	}
}

// HandleOrderPaid alerts staff about a freshly paid order.
func (h *NotificationHandler) HandleOrderPaid(ctx context.Context, payload []byte) error {
	var event domain.OrderPaidEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order paid event: %w", err)
	}

	h.logger.Info("processing order paid event", "reference", event.Reference)

	subject := fmt.Sprintf("New Order %s - %s %s", event.Reference, event.TotalPrice, domain.Currency)
	body := fmt.Sprintf(
		"A new order has been paid.\n\nOrder: %s\nCustomer: %s\nAmount: %s %s\nPayment method: %s\nTransaction: %s",
		event.Reference, event.Email, event.TotalPrice, domain.Currency, event.PaymentMethod, event.TransactionID,
	)

	if !h.notifier.SendStaffAlert(ctx, subject, body) {
		// Best-effort: log and move on rather than forcing a redelivery loop.
		h.logger.Error("failed to send staff alert for paid order", "reference", event.Reference)
	}

	return nil
}

// HandlePaymentFailed notifies the buyer and staff about a failed payment.
func (h *NotificationHandler) HandlePaymentFailed(ctx context.Context, payload []byte) error {
	var event domain.PaymentFailedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal payment failed event: %w", err)
	}

	h.logger.Info("processing payment failed event", "reference", event.Reference)

	total, err := decimal.NewFromString(event.TotalPrice)
	if err != nil {
		return fmt.Errorf("parse total price: %w", err)
	}

	order := &domain.Order{
		Reference:     event.Reference,
		Email:         event.Email,
		PaymentMethod: domain.PaymentMethod(event.PaymentMethod),
		TotalPrice:    total,
	}

	if !h.notifier.SendPaymentFailed(ctx, order) {
		h.logger.Error("failed to send payment failure email to buyer", "reference", event.Reference)
	}

	subject := "Payment Failed - Order " + event.Reference
	body := fmt.Sprintf(
		"PAYMENT FAILED\n\nOrder: %s\nCustomer: %s\nAmount: %s %s\nPayment method: %s\nReason: %s\n\nAction: follow up with the customer.",
		event.Reference, event.Email, event.TotalPrice, domain.Currency, event.PaymentMethod, reasonOrNA(event.Reason),
	)
	if !h.notifier.SendStaffAlert(ctx, subject, body) {
		h.logger.Error("failed to send payment failure alert to staff", "reference", event.Reference)
	}

	return nil
}

func reasonOrNA(reason string) string {
	if reason == "" {
		return "n/a"
	}
	return reason
}
