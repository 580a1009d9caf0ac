package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/earthman-shop/checkout/internal/domain"
)

// EmailNotifier delivers order notifications through the email service.
// Each send reports a plain success/failure; transport retries are the
// email service's own concern.
type EmailNotifier struct {
	emailServiceURL string
	staffEmail      string
	client          *http.Client
	logger          *slog.Logger
}

func NewEmailNotifier(emailServiceURL, staffEmail string, client *http.Client, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		emailServiceURL: emailServiceURL,
		staffEmail:      staffEmail,
		client:          client,
		logger:          logger,
	}
}

func (n *EmailNotifier) SendConfirmation(ctx context.Context, order *domain.Order) bool {
	subject := "Order Confirmation - " + order.Reference
	body := fmt.Sprintf(
		"Thank you for your order!\n\nOrder number: %s\nTotal: %s %s\n\nWe will let you know as soon as it ships.",
		order.Reference, domain.FormatAmount(order.TotalPrice), domain.Currency,
	)
	return n.send(ctx, order.Email, subject, body)
}

func (n *EmailNotifier) SendShipped(ctx context.Context, order *domain.Order) bool {
	subject := "Your Order Has Shipped - " + order.Reference
	body := fmt.Sprintf(
		"Good news!\n\nYour order %s is on its way.\nTracking number: %s",
		order.Reference, order.TrackingNumber,
	)
	return n.send(ctx, order.Email, subject, body)
}

func (n *EmailNotifier) SendPaymentFailed(ctx context.Context, order *domain.Order) bool {
	subject := "Payment Issue - Order " + order.Reference
	body := fmt.Sprintf(
		"We encountered an issue processing your payment for order %s.\n\nTotal: %s %s\n\nPlease contact support or try placing your order again.",
		order.Reference, domain.FormatAmount(order.TotalPrice), domain.Currency,
	)
	return n.send(ctx, order.Email, subject, body)
}

// SendStaffAlert notifies the shop staff; used by the worker for
// new-paid-order and payment-failure alerts.
func (n *EmailNotifier) SendStaffAlert(ctx context.Context, subject, body string) bool {
	return n.send(ctx, n.staffEmail, subject, body)
}

func (n *EmailNotifier) send(ctx context.Context, to, subject, body string) bool {
	payload := map[string]string{
		"to":      to,
		"subject": subject,
		"body":    body,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to marshal email request", "error", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		n.logger.Error("failed to create email request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Error("failed to send email", "error", err, "to", to, "subject", subject)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		n.logger.Error("email service returned non-ok status", "status", resp.StatusCode, "to", to, "subject", subject)
		return false
	}

	return true
}
