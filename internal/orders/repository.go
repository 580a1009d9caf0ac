package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/earthman-shop/checkout/internal/domain"
)

const pqUniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create persists the order, its item snapshots, and the guest record in
// a single transaction. A failure anywhere leaves no partial order behind.
func (r *Repository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if order.UserID == "" {
		guestID, err := getOrCreateGuest(ctx, tx, order.Email)
		if err != nil {
			return fmt.Errorf("resolve guest: %w", err)
		}
		order.GuestID = guestID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			reference, user_id, guest_id, email,
			country, address, city, postal_code,
			delivery_country, delivery_address, delivery_city, delivery_postal_code,
			phone_number, payment_method, payment_status, order_status,
			total_price, shipping_cost, cart_session_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $20)
	`,
		order.Reference, nullable(order.UserID), nullable(order.GuestID), order.Email,
		order.Billing.Country, order.Billing.Address, order.Billing.City, order.Billing.PostalCode,
		order.Delivery.Country, order.Delivery.Address, order.Delivery.City, order.Delivery.PostalCode,
		order.PhoneNumber, order.PaymentMethod, order.PaymentStatus, order.OrderStatus,
		order.TotalPrice, order.ShippingCost, order.CartSessionID, order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_reference, variant_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.New().String(), order.Reference, item.VariantID, item.Quantity, item.UnitPrice)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit()
}

func getOrCreateGuest(ctx context.Context, tx *sql.Tx, email string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `
		INSERT INTO guests (id, email, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id
	`, uuid.New().String(), email).Scan(&id)
	return id, err
}

const orderColumns = `
	reference, user_id, guest_id, email,
	country, address, city, postal_code,
	delivery_country, delivery_address, delivery_city, delivery_postal_code,
	phone_number, payment_method, payment_status, order_status,
	total_price, shipping_cost,
	provider, provider_payment_id, provider_payer_id, client_secret, transaction_id,
	cart_session_id, tracking_number,
	confirmation_email_sent, confirmation_email_sent_at,
	shipping_email_sent, shipping_email_sent_at,
	created_at, updated_at`

func (r *Repository) GetByReference(ctx context.Context, reference string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE reference = $1
	`, reference)

	order, err := scanOrder(row)
	if err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// GetByProviderPaymentID resolves an order from the provider-assigned
// payment id, for webhook payloads that carry no order reference.
func (r *Repository) GetByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE provider = $1 AND provider_payment_id = $2
	`, provider, providerPaymentID)

	order, err := scanOrder(row)
	if err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var references []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.Reference] = order
		references = append(references, order.Reference)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(references) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_reference, variant_id, quantity, unit_price
		FROM order_items
		WHERE order_reference = ANY($1)
	`, pq.Array(references))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var reference string
		var item domain.OrderItem
		if err := itemRows.Scan(&reference, &item.VariantID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		order := orderMap[reference]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(references))
	for _, reference := range references {
		orders = append(orders, *orderMap[reference])
	}

	return orders, nil
}

// SetProviderHandle stores the handle returned by Initiate and moves the
// order into processing, conditional on it still being pending.
func (r *Repository) SetProviderHandle(ctx context.Context, reference, provider, providerPaymentID, clientSecret string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET provider = $2, provider_payment_id = $3, client_secret = $4,
		    payment_status = $5, updated_at = NOW()
		WHERE reference = $1 AND payment_status = $6
	`, reference, provider, providerPaymentID, clientSecret,
		domain.PaymentStatusProcessing, domain.PaymentStatusPending)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

// MarkPaid is the conditional terminal transition: it applies only while
// the order is still pending or processing, and attaches the transaction
// id in the same statement. The unique index on transaction_id is the
// dedup safety net; a violation means the id belongs to another order.
// applied == false with a nil error means another reconciliation won the
// race (or the order was already terminal) and this call is a no-op.
func (r *Repository) MarkPaid(ctx context.Context, reference, transactionID, payerID string) (applied bool, err error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $2, transaction_id = $3,
		    provider_payer_id = COALESCE(NULLIF($4, ''), provider_payer_id),
		    updated_at = NOW()
		WHERE reference = $1 AND payment_status IN ($5, $6)
	`, reference, domain.PaymentStatusPaid, transactionID, payerID,
		domain.PaymentStatusPending, domain.PaymentStatusProcessing)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return false, domain.ErrDuplicateTransaction
		}
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// MarkFailed transitions processing → failed under the same conditional
// update discipline as MarkPaid.
func (r *Repository) MarkFailed(ctx context.Context, reference string) (applied bool, err error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $2, updated_at = NOW()
		WHERE reference = $1 AND payment_status IN ($3, $4)
	`, reference, domain.PaymentStatusFailed,
		domain.PaymentStatusPending, domain.PaymentStatusProcessing)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// MarkConfirmationEmailSent flips the one-shot flag, conditional on it
// being unset, so only one send attempt can ever record success.
func (r *Repository) MarkConfirmationEmailSent(ctx context.Context, reference string, at time.Time) (applied bool, err error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET confirmation_email_sent = TRUE, confirmation_email_sent_at = $2, updated_at = NOW()
		WHERE reference = $1 AND confirmation_email_sent = FALSE
	`, reference, at)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

func (r *Repository) MarkShippingEmailSent(ctx context.Context, reference string, at time.Time) (applied bool, err error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET shipping_email_sent = TRUE, shipping_email_sent_at = $2, updated_at = NOW()
		WHERE reference = $1 AND shipping_email_sent = FALSE
	`, reference, at)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// UpdateFulfillment changes the fulfillment status and returns the
// previous/current pair so callers can detect the transition they care
// about without re-reading state that may have moved on.
func (r *Repository) UpdateFulfillment(ctx context.Context, reference string, status domain.OrderStatus, trackingNumber string) (*domain.StatusTransition, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var previous domain.OrderStatus
	err = tx.QueryRowContext(ctx, `
		SELECT order_status FROM orders WHERE reference = $1 FOR UPDATE
	`, reference).Scan(&previous)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET order_status = $2, tracking_number = COALESCE(NULLIF($3, ''), tracking_number), updated_at = NOW()
		WHERE reference = $1
	`, reference, status, trackingNumber)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &domain.StatusTransition{Previous: previous, Current: status}, nil
}

// Delete is the compensating action for a failed payment initiation.
// Items go with the order via the cascade.
func (r *Repository) Delete(ctx context.Context, reference string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE reference = $1`, reference)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

func (r *Repository) loadItems(ctx context.Context, order *domain.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT variant_id, quantity, unit_price
		FROM order_items
		WHERE order_reference = $1
	`, order.Reference)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.VariantID, &item.Quantity, &item.UnitPrice); err != nil {
			return err
		}
		order.Items = append(order.Items, item)
	}

	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	order := &domain.Order{}
	var userID, guestID, transactionID sql.NullString
	var confirmationSentAt, shippingSentAt sql.NullTime

	err := row.Scan(
		&order.Reference, &userID, &guestID, &order.Email,
		&order.Billing.Country, &order.Billing.Address, &order.Billing.City, &order.Billing.PostalCode,
		&order.Delivery.Country, &order.Delivery.Address, &order.Delivery.City, &order.Delivery.PostalCode,
		&order.PhoneNumber, &order.PaymentMethod, &order.PaymentStatus, &order.OrderStatus,
		&order.TotalPrice, &order.ShippingCost,
		&order.Provider, &order.ProviderPaymentID, &order.ProviderPayerID, &order.ClientSecret, &transactionID,
		&order.CartSessionID, &order.TrackingNumber,
		&order.ConfirmationEmailSent, &confirmationSentAt,
		&order.ShippingEmailSent, &shippingSentAt,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	order.UserID = userID.String
	order.GuestID = guestID.String
	order.TransactionID = transactionID.String
	if confirmationSentAt.Valid {
		order.ConfirmationEmailSentAt = &confirmationSentAt.Time
	}
	if shippingSentAt.Valid {
		order.ShippingEmailSentAt = &shippingSentAt.Time
	}

	return order, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
