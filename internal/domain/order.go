package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// Terminal reports whether the reconciliation path may no longer move the
// payment status. Refunds are administrative and never reached from here.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusFailed || s == PaymentStatusRefunded
}

type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCashOnDelivery PaymentMethod = "cashOnDelivery"
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodBankTransfer   PaymentMethod = "bankTransfer"
	PaymentMethodWallet         PaymentMethod = "wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCashOnDelivery, PaymentMethodCard, PaymentMethodBankTransfer, PaymentMethodWallet:
		return true
	}
	return false
}

// RequiresOnlinePayment reports whether checkout must initiate a payment
// with an external provider before the order can settle.
func (m PaymentMethod) RequiresOnlinePayment() bool {
	return m == PaymentMethodCard || m == PaymentMethodWallet
}

type Address struct {
	Country    string `json:"country"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
}

type OrderItem struct {
	VariantID string          `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Order struct {
	Reference string `json:"reference"`

	UserID  string `json:"user_id,omitempty"`
	GuestID string `json:"guest_id,omitempty"`
	Email   string `json:"email"`

	Billing     Address `json:"billing"`
	Delivery    Address `json:"delivery"`
	PhoneNumber string  `json:"phone_number"`

	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	OrderStatus   OrderStatus   `json:"order_status"`

	Items        []OrderItem     `json:"items"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`

	Provider          string `json:"provider,omitempty"`
	ProviderPaymentID string `json:"provider_payment_id,omitempty"`
	ProviderPayerID   string `json:"provider_payer_id,omitempty"`
	ClientSecret      string `json:"client_secret,omitempty"`
	TransactionID     string `json:"transaction_id,omitempty"`

	CartSessionID  string `json:"-"`
	TrackingNumber string `json:"tracking_number,omitempty"`

	ConfirmationEmailSent   bool       `json:"confirmation_email_sent"`
	ConfirmationEmailSentAt *time.Time `json:"confirmation_email_sent_at,omitempty"`
	ShippingEmailSent       bool       `json:"shipping_email_sent"`
	ShippingEmailSentAt     *time.Time `json:"shipping_email_sent_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewReference generates a URL-safe, globally unique order reference.
func NewReference() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:10])
}

// Total computes the frozen order total from the item snapshots. It is
// evaluated once at creation; live catalog prices never feed into it again.
func Total(items []OrderItem, shippingCost decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total.Add(shippingCost)
}

// StatusTransition is the result of a fulfillment update: the status the
// order held before the update and the one it holds now. Side-effect
// triggers compare the two instead of keeping history on the aggregate.
type StatusTransition struct {
	Previous OrderStatus
	Current  OrderStatus
}

// EnteredShipped reports whether this update moved the order into shipped.
func (t StatusTransition) EnteredShipped() bool {
	return t.Previous != OrderStatusShipped && t.Current == OrderStatusShipped
}

// PaymentOutcome is the provider-neutral result of a payment notification,
// produced by a webhook decode or a server-side confirmation call.
type PaymentOutcome struct {
	Provider          string
	ProviderPaymentID string
	ProviderPayerID   string
	TransactionID     string
	Succeeded         bool
	FailureReason     string
}
