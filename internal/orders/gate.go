package orders

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/earthman-shop/checkout/internal/domain"
)

var reconcileCounter, _ = otel.Meter("checkout/orders").Int64Counter(
	"checkout.payment.reconciliations",
	metric.WithDescription("Payment reconciliation attempts by outcome"),
)

func countReconcile(ctx context.Context, outcome string) {
	reconcileCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// EventPublisher is the asynchronous boundary for best-effort
// notifications. messaging.Producer satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Gate reconciles provider payment notifications into the order's
// authoritative state. Both the client-confirmation path and the webhook
// path funnel through Reconcile; the store's conditional updates make it
// safe under concurrent and duplicate delivery without any in-process
// locking.
type Gate struct {
	store        OrderStore
	carts        CartStore
	notifier     Notifier
	paidEvents   EventPublisher
	failedEvents EventPublisher
	logger       *slog.Logger
	now          func() time.Time
}

func NewGate(store OrderStore, carts CartStore, notifier Notifier, paidEvents, failedEvents EventPublisher, logger *slog.Logger) *Gate {
	return &Gate{
		store:        store,
		carts:        carts,
		notifier:     notifier,
		paidEvents:   paidEvents,
		failedEvents: failedEvents,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// ReconcileResult reports whether this call performed the terminal
// transition (Applied) or observed one that already happened.
type ReconcileResult struct {
	Order   *domain.Order
	Applied bool
}

// Reconcile merges a payment outcome into the order exactly once.
//
// Whichever call wins the conditional transition performs the one-shot
// side effects; every other call, concurrent or late, observes the
// settled state and leaves it untouched. The only side effect a
// duplicate may repeat is the confirmation email, and only while no
// earlier attempt has recorded a successful send.
func (g *Gate) Reconcile(ctx context.Context, reference string, outcome domain.PaymentOutcome) (*ReconcileResult, error) {
	order, err := g.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	if order.PaymentStatus.Terminal() {
		countReconcile(ctx, "duplicate")
		g.logger.Info("duplicate payment notification ignored",
			"reference", reference,
			"payment_status", order.PaymentStatus,
		)
		if order.PaymentStatus == domain.PaymentStatusPaid && !order.ConfirmationEmailSent {
			// The earlier send failed; this redelivery is the retry.
			g.sendConfirmation(ctx, order)
		}
		return &ReconcileResult{Order: order}, nil
	}

	if !outcome.Succeeded {
		return g.reconcileFailure(ctx, order, outcome)
	}

	if outcome.TransactionID == "" {
		countReconcile(ctx, "rejected")
		return nil, domain.ErrInvalidOutcome
	}

	applied, err := g.store.MarkPaid(ctx, reference, outcome.TransactionID, outcome.ProviderPayerID)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateTransaction) {
			countReconcile(ctx, "rejected")
			g.logger.Error("transaction id already attached to another order",
				"reference", reference,
				"transaction_id", outcome.TransactionID,
			)
		}
		return nil, err
	}

	if !applied {
		countReconcile(ctx, "duplicate")
		// Lost the race against a concurrent reconciliation.
		order, err = g.store.GetByReference(ctx, reference)
		if err != nil {
			return nil, err
		}
		return &ReconcileResult{Order: order}, nil
	}

	countReconcile(ctx, "paid")

	g.teardownCart(ctx, order)

	order, err = g.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	g.sendConfirmation(ctx, order)
	g.publishPaid(ctx, order)

	g.logger.Info("payment reconciled",
		"reference", reference,
		"transaction_id", outcome.TransactionID,
		"provider", outcome.Provider,
	)

	order, err = g.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	return &ReconcileResult{Order: order, Applied: true}, nil
}

func (g *Gate) reconcileFailure(ctx context.Context, order *domain.Order, outcome domain.PaymentOutcome) (*ReconcileResult, error) {
	applied, err := g.store.MarkFailed(ctx, order.Reference)
	if err != nil {
		return nil, err
	}

	order, err = g.store.GetByReference(ctx, order.Reference)
	if err != nil {
		return nil, err
	}

	if !applied {
		countReconcile(ctx, "duplicate")
		return &ReconcileResult{Order: order}, nil
	}

	countReconcile(ctx, "failed")
	g.logger.Warn("payment failed",
		"reference", order.Reference,
		"provider", outcome.Provider,
		"reason", outcome.FailureReason,
	)

	if g.failedEvents != nil {
		event := domain.PaymentFailedEvent{
			Reference:     order.Reference,
			Email:         order.Email,
			TotalPrice:    domain.FormatAmount(order.TotalPrice),
			PaymentMethod: string(order.PaymentMethod),
			Reason:        outcome.FailureReason,
			Timestamp:     g.now(),
		}
		if err := g.failedEvents.Publish(ctx, order.Reference, event); err != nil {
			g.logger.Error("failed to publish payment failed event", "error", err, "reference", order.Reference)
		}
	}

	return &ReconcileResult{Order: order, Applied: true}, nil
}

// teardownCart clears and removes the originating cart. Both operations
// tolerate a cart that is already gone.
func (g *Gate) teardownCart(ctx context.Context, order *domain.Order) {
	if order.CartSessionID == "" {
		return
	}

	if err := g.carts.Clear(ctx, order.CartSessionID); err != nil && !errors.Is(err, domain.ErrCartNotFound) {
		g.logger.Error("failed to clear cart", "error", err, "reference", order.Reference)
	}
	if err := g.carts.Delete(ctx, order.CartSessionID); err != nil && !errors.Is(err, domain.ErrCartNotFound) {
		g.logger.Error("failed to delete cart", "error", err, "reference", order.Reference)
	}
}

// sendConfirmation dispatches the confirmation email and records the
// one-shot flag only when the send reports success, so a failed send is
// retried by the next duplicate notification.
func (g *Gate) sendConfirmation(ctx context.Context, order *domain.Order) {
	if order.ConfirmationEmailSent {
		return
	}

	if !g.notifier.SendConfirmation(ctx, order) {
		g.logger.Error("failed to send confirmation email, flag left unset for retry", "reference", order.Reference)
		return
	}

	applied, err := g.store.MarkConfirmationEmailSent(ctx, order.Reference, g.now())
	if err != nil {
		g.logger.Error("failed to mark confirmation email sent", "error", err, "reference", order.Reference)
		return
	}
	if applied {
		g.logger.Info("confirmation email sent", "reference", order.Reference)
	}
}

func (g *Gate) publishPaid(ctx context.Context, order *domain.Order) {
	if g.paidEvents == nil {
		return
	}

	event := domain.OrderPaidEvent{
		Reference:     order.Reference,
		Email:         order.Email,
		TotalPrice:    domain.FormatAmount(order.TotalPrice),
		PaymentMethod: string(order.PaymentMethod),
		TransactionID: order.TransactionID,
		Timestamp:     g.now(),
	}
	if err := g.paidEvents.Publish(ctx, order.Reference, event); err != nil {
		g.logger.Error("failed to publish order paid event", "error", err, "reference", order.Reference)
	}
}
