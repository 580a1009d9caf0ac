package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/earthman-shop/checkout/internal/cart"
	"github.com/earthman-shop/checkout/internal/catalog"
	"github.com/earthman-shop/checkout/internal/domain"
	"github.com/earthman-shop/checkout/internal/payment"
)

// Contracts the lifecycle consumes. The cart, catalog, and notifier are
// external collaborators; orders only ever see these narrow surfaces.

type OrderStore interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByReference(ctx context.Context, reference string) (*domain.Order, error)
	GetByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	SetProviderHandle(ctx context.Context, reference, provider, providerPaymentID, clientSecret string) error
	MarkPaid(ctx context.Context, reference, transactionID, payerID string) (bool, error)
	MarkFailed(ctx context.Context, reference string) (bool, error)
	MarkConfirmationEmailSent(ctx context.Context, reference string, at time.Time) (bool, error)
	MarkShippingEmailSent(ctx context.Context, reference string, at time.Time) (bool, error)
	UpdateFulfillment(ctx context.Context, reference string, status domain.OrderStatus, trackingNumber string) (*domain.StatusTransition, error)
	Delete(ctx context.Context, reference string) error
}

type CartStore interface {
	Get(ctx context.Context, sessionID string) (*cart.Cart, error)
	Clear(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
}

type CatalogStore interface {
	PriceOf(ctx context.Context, variantID string) (*catalog.VariantPrice, error)
}

type Notifier interface {
	SendConfirmation(ctx context.Context, order *domain.Order) bool
	SendShipped(ctx context.Context, order *domain.Order) bool
	SendPaymentFailed(ctx context.Context, order *domain.Order) bool
}

// ValidationError reports missing or malformed request input. It causes
// no state change and maps to a 400 at the HTTP surface.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

var defaultShippingCost = decimal.NewFromInt(10)

// gatewayTimeout bounds provider calls made inside request handling.
const gatewayTimeout = 15 * time.Second

// Lifecycle orchestrates order creation and fulfillment updates.
type Lifecycle struct {
	store    OrderStore
	carts    CartStore
	catalog  CatalogStore
	notifier Notifier
	gateways map[domain.PaymentMethod]payment.Gateway
	logger   *slog.Logger
	now      func() time.Time
}

func NewLifecycle(store OrderStore, carts CartStore, catalogStore CatalogStore, notifier Notifier, gateways map[domain.PaymentMethod]payment.Gateway, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		store:    store,
		carts:    carts,
		catalog:  catalogStore,
		notifier: notifier,
		gateways: gateways,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateOrderRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`

	Billing     domain.Address `json:"billing"`
	Delivery    domain.Address `json:"delivery"`
	PhoneNumber string         `json:"phone_number"`

	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	ShippingCost  *decimal.Decimal     `json:"shipping_cost,omitempty"`
}

type CreateOrderResult struct {
	Order *domain.Order `json:"order"`

	// Set for card payments: the client completes the intent with it.
	ClientSecret string `json:"client_secret,omitempty"`
	// Set for wallet payments: the buyer approves the payment there.
	ApprovalURL string `json:"approval_url,omitempty"`
}

func (r CreateOrderRequest) validate() error {
	switch {
	case r.SessionID == "":
		return ValidationError("session_id is required")
	case r.Email == "":
		return ValidationError("email is required")
	case r.Billing.Address == "" || r.Billing.City == "" || r.Billing.PostalCode == "":
		return ValidationError("billing address, city and postal code are required")
	case r.PhoneNumber == "":
		return ValidationError("phone_number is required")
	case r.PaymentMethod == "":
		return ValidationError("payment_method is required")
	case !r.PaymentMethod.Valid():
		return ValidationError("unsupported payment method: " + string(r.PaymentMethod))
	}
	return nil
}

// CreateFromCart snapshots the cart into a durable order with prices
// frozen at this moment, then initiates payment with the chosen provider.
// A failed initiation deletes the just-created order so nothing
// half-initiated survives the request.
func (l *Lifecycle) CreateFromCart(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	buyerCart, err := l.carts.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if len(buyerCart.Items) == 0 {
		return nil, domain.ErrCartEmpty
	}

	items, err := l.snapshotItems(ctx, buyerCart)
	if err != nil {
		return nil, err
	}

	shippingCost := defaultShippingCost
	if req.ShippingCost != nil {
		shippingCost = *req.ShippingCost
	}

	now := l.now()
	order := &domain.Order{
		Reference:     domain.NewReference(),
		UserID:        req.UserID,
		Email:         req.Email,
		Billing:       req.Billing,
		Delivery:      req.Delivery,
		PhoneNumber:   req.PhoneNumber,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusProcessing,
		Items:         items,
		TotalPrice:    domain.Total(items, shippingCost),
		ShippingCost:  shippingCost,
		CartSessionID: req.SessionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := l.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	result := &CreateOrderResult{Order: order}

	if order.PaymentMethod.RequiresOnlinePayment() {
		if err := l.initiatePayment(ctx, order, result); err != nil {
			return nil, err
		}
	} else {
		// No online settlement will ever confirm this order, so the cart
		// is torn down now instead of at reconciliation time.
		if err := l.carts.Clear(ctx, req.SessionID); err != nil {
			l.logger.Error("failed to clear cart", "error", err, "reference", order.Reference)
		}
	}

	l.logger.Info("order created",
		"reference", order.Reference,
		"payment_method", order.PaymentMethod,
		"total_price", order.TotalPrice,
	)

	return result, nil
}

func (l *Lifecycle) snapshotItems(ctx context.Context, buyerCart *cart.Cart) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(buyerCart.Items))
	for _, line := range buyerCart.Items {
		if line.Quantity <= 0 {
			return nil, ValidationError("cart line quantity must be positive")
		}

		price, err := l.catalog.PriceOf(ctx, line.VariantID)
		if err != nil {
			if errors.Is(err, catalog.ErrVariantNotFound) {
				return nil, ValidationError("unknown product variant: " + line.VariantID)
			}
			return nil, fmt.Errorf("price cart line %s: %w", line.VariantID, err)
		}

		items = append(items, domain.OrderItem{
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			UnitPrice: price.Effective(),
		})
	}
	return items, nil
}

func (l *Lifecycle) initiatePayment(ctx context.Context, order *domain.Order, result *CreateOrderResult) error {
	gateway, ok := l.gateways[order.PaymentMethod]
	if !ok {
		return ValidationError("no gateway configured for payment method: " + string(order.PaymentMethod))
	}

	gatewayCtx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()

	initiated, err := gateway.Initiate(gatewayCtx, order.TotalPrice, domain.Currency, order.Reference, order.CartSessionID)
	if err != nil {
		// Compensate: the unpaid order must not survive without a handle.
		if deleteErr := l.store.Delete(ctx, order.Reference); deleteErr != nil {
			l.logger.Error("failed to delete order after gateway failure", "error", deleteErr, "reference", order.Reference)
		}
		return fmt.Errorf("initiate %s payment: %w", gateway.Name(), err)
	}

	if err := l.store.SetProviderHandle(ctx, order.Reference, gateway.Name(), initiated.ProviderPaymentID, initiated.ClientSecret); err != nil {
		return fmt.Errorf("store provider handle: %w", err)
	}

	order.Provider = gateway.Name()
	order.ProviderPaymentID = initiated.ProviderPaymentID
	order.ClientSecret = initiated.ClientSecret
	order.PaymentStatus = domain.PaymentStatusProcessing

	result.ClientSecret = initiated.ClientSecret
	result.ApprovalURL = initiated.ApprovalURL

	return nil
}

// UpdateFulfillment moves the fulfillment status and fires the one-shot
// shipping notification when this update is the one that crossed into
// shipped. The transition result from the store is authoritative; no
// state is re-derived from a later read.
func (l *Lifecycle) UpdateFulfillment(ctx context.Context, reference string, status domain.OrderStatus, trackingNumber string) (*domain.Order, error) {
	if !status.Valid() {
		return nil, ValidationError("unsupported order status: " + string(status))
	}

	transition, err := l.store.UpdateFulfillment(ctx, reference, status, trackingNumber)
	if err != nil {
		return nil, err
	}

	order, err := l.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	if transition.EnteredShipped() {
		l.sendShippingNotification(ctx, order)
	}

	return order, nil
}

func (l *Lifecycle) sendShippingNotification(ctx context.Context, order *domain.Order) {
	if order.ShippingEmailSent {
		return
	}
	if order.TrackingNumber == "" {
		l.logger.Warn("order shipped without tracking number, shipping email not sent", "reference", order.Reference)
		return
	}

	if !l.notifier.SendShipped(ctx, order) {
		l.logger.Error("failed to send shipping email", "reference", order.Reference)
		return
	}

	if _, err := l.store.MarkShippingEmailSent(ctx, order.Reference, l.now()); err != nil {
		l.logger.Error("failed to mark shipping email sent", "error", err, "reference", order.Reference)
		return
	}

	l.logger.Info("shipping email sent", "reference", order.Reference, "tracking_number", order.TrackingNumber)
}
