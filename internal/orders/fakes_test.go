package orders

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/earthman-shop/checkout/internal/cart"
	"github.com/earthman-shop/checkout/internal/catalog"
	"github.com/earthman-shop/checkout/internal/domain"
	"github.com/earthman-shop/checkout/internal/payment"
)

// memStore mirrors the repository's conditional-update semantics in
// memory so the lifecycle and gate can be tested without Postgres.
type memStore struct {
	mu           sync.Mutex
	orders       map[string]*domain.Order
	transactions map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		orders:       make(map[string]*domain.Order),
		transactions: make(map[string]string),
	}
}

func (s *memStore) Create(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *order
	s.orders[order.Reference] = &cp
	return nil
}

func (s *memStore) GetByReference(_ context.Context, reference string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[reference]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (s *memStore) GetByProviderPaymentID(_ context.Context, provider, providerPaymentID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.Provider == provider && order.ProviderPaymentID == providerPaymentID {
			cp := *order
			return &cp, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (s *memStore) ListByUser(_ context.Context, userID string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.Order
	for _, order := range s.orders {
		if order.UserID == userID {
			result = append(result, *order)
		}
	}
	return result, nil
}

func (s *memStore) SetProviderHandle(_ context.Context, reference, provider, providerPaymentID, clientSecret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[reference]
	if !ok || order.PaymentStatus != domain.PaymentStatusPending {
		return domain.ErrOrderNotFound
	}
	order.Provider = provider
	order.ProviderPaymentID = providerPaymentID
	order.ClientSecret = clientSecret
	order.PaymentStatus = domain.PaymentStatusProcessing
	return nil
}

func (s *memStore) MarkPaid(_ context.Context, reference, transactionID, payerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, taken := s.transactions[transactionID]; taken && owner != reference {
		return false, domain.ErrDuplicateTransaction
	}
	order, ok := s.orders[reference]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if order.PaymentStatus.Terminal() {
		return false, nil
	}
	order.PaymentStatus = domain.PaymentStatusPaid
	order.TransactionID = transactionID
	if payerID != "" {
		order.ProviderPayerID = payerID
	}
	s.transactions[transactionID] = reference
	return true, nil
}

func (s *memStore) MarkFailed(_ context.Context, reference string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[reference]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if order.PaymentStatus.Terminal() {
		return false, nil
	}
	order.PaymentStatus = domain.PaymentStatusFailed
	return true, nil
}

func (s *memStore) MarkConfirmationEmailSent(_ context.Context, reference string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[reference]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if order.ConfirmationEmailSent {
		return false, nil
	}
	order.ConfirmationEmailSent = true
	order.ConfirmationEmailSentAt = &at
	return true, nil
}

func (s *memStore) MarkShippingEmailSent(_ context.Context, reference string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[reference]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if order.ShippingEmailSent {
		return false, nil
	}
	order.ShippingEmailSent = true
	order.ShippingEmailSentAt = &at
	return true, nil
}

func (s *memStore) UpdateFulfillment(_ context.Context, reference string, status domain.OrderStatus, trackingNumber string) (*domain.StatusTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[reference]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	previous := order.OrderStatus
	order.OrderStatus = status
	if trackingNumber != "" {
		order.TrackingNumber = trackingNumber
	}
	return &domain.StatusTransition{Previous: previous, Current: status}, nil
}

func (s *memStore) Delete(_ context.Context, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[reference]; !ok {
		return domain.ErrOrderNotFound
	}
	delete(s.orders, reference)
	return nil
}

type fakeCarts struct {
	mu          sync.Mutex
	carts       map[string]*cart.Cart
	clearCalls  int
	deleteCalls int
}

func newFakeCarts() *fakeCarts {
	return &fakeCarts{carts: make(map[string]*cart.Cart)}
}

func (c *fakeCarts) put(sessionID string, items ...cart.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carts[sessionID] = &cart.Cart{SessionID: sessionID, Items: items}
}

func (c *fakeCarts) Get(_ context.Context, sessionID string) (*cart.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored, ok := c.carts[sessionID]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	return stored, nil
}

func (c *fakeCarts) Clear(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearCalls++
	if stored, ok := c.carts[sessionID]; ok {
		stored.Items = nil
	}
	return nil
}

func (c *fakeCarts) Delete(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteCalls++
	delete(c.carts, sessionID)
	return nil
}

type fakeCatalog struct {
	prices map[string]catalog.VariantPrice
}

func (c *fakeCatalog) PriceOf(_ context.Context, variantID string) (*catalog.VariantPrice, error) {
	price, ok := c.prices[variantID]
	if !ok {
		return nil, catalog.ErrVariantNotFound
	}
	return &price, nil
}

// fakeNotifier counts send attempts; failConfirmations makes that many
// confirmation sends fail before the rest succeed.
type fakeNotifier struct {
	mu                sync.Mutex
	failConfirmations int
	confirmations     int
	shipped           int
	paymentFailures   int
}

func (n *fakeNotifier) SendConfirmation(_ context.Context, _ *domain.Order) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmations++
	if n.failConfirmations > 0 {
		n.failConfirmations--
		return false
	}
	return true
}

func (n *fakeNotifier) SendShipped(_ context.Context, _ *domain.Order) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shipped++
	return true
}

func (n *fakeNotifier) SendPaymentFailed(_ context.Context, _ *domain.Order) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paymentFailures++
	return true
}

type fakePublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *fakePublisher) Publish(_ context.Context, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// fakeGateway scripts a payment provider for lifecycle tests.
type fakeGateway struct {
	name         string
	initiateErr  error
	result       payment.InitiateResult
	confirmCalls int
	outcome      *domain.PaymentOutcome
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) Initiate(_ context.Context, _ decimal.Decimal, _, _, _ string) (*payment.InitiateResult, error) {
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	result := g.result
	return &result, nil
}

func (g *fakeGateway) Confirm(_ context.Context, _, _ string) (*domain.PaymentOutcome, error) {
	g.confirmCalls++
	if g.outcome == nil {
		return nil, domain.ErrGatewayUnavailable
	}
	outcome := *g.outcome
	return &outcome, nil
}

func (g *fakeGateway) DecodeWebhook(_ []byte, _ string) (*payment.Event, error) {
	return nil, domain.ErrInvalidSignature
}
