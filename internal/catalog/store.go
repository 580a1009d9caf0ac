package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrVariantNotFound = errors.New("product variant not found")

// VariantPrice is the live catalog price of a product variant. Checkout
// reads it exactly once per order, at creation time.
type VariantPrice struct {
	VariantID      string
	ProductName    string
	ListPrice      decimal.Decimal
	DiscountActive bool
	DiscountPrice  decimal.Decimal
}

// Effective returns the price a buyer pays right now: the discount price
// when a discount is active, the list price otherwise.
func (p VariantPrice) Effective() decimal.Decimal {
	if p.DiscountActive && p.DiscountPrice.IsPositive() {
		return p.DiscountPrice
	}
	return p.ListPrice
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) PriceOf(ctx context.Context, variantID string) (*VariantPrice, error) {
	price := &VariantPrice{}
	var discountPrice sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, product_name, price, discount_active, discount_price
		FROM product_variants
		WHERE id = $1
	`, variantID).Scan(&price.VariantID, &price.ProductName, &price.ListPrice, &price.DiscountActive, &discountPrice)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVariantNotFound
		}
		return nil, fmt.Errorf("price of variant %s: %w", variantID, err)
	}

	if discountPrice.Valid {
		price.DiscountPrice, err = decimal.NewFromString(discountPrice.String)
		if err != nil {
			return nil, fmt.Errorf("parse discount price for %s: %w", variantID, err)
		}
	}

	return price, nil
}
