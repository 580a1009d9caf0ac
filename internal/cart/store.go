package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/earthman-shop/checkout/internal/domain"
)

// Carts are session-scoped and live in Redis until checkout tears them
// down or the TTL expires.
const cartTTL = 30 * 24 * time.Hour

type Item struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type Cart struct {
	SessionID string `json:"session_id"`
	Items     []Item `json:"items"`
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func key(sessionID string) string {
	return "cart:" + sessionID
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Cart, error) {
	data, err := s.client.Get(ctx, key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cart %s: %w", sessionID, err)
	}

	cart := &Cart{SessionID: sessionID}
	if err := json.Unmarshal([]byte(data), cart); err != nil {
		return nil, fmt.Errorf("decode cart %s: %w", sessionID, err)
	}
	cart.SessionID = sessionID

	return cart, nil
}

func (s *RedisStore) Put(ctx context.Context, cart *Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encode cart %s: %w", cart.SessionID, err)
	}

	if err := s.client.Set(ctx, key(cart.SessionID), data, cartTTL).Err(); err != nil {
		return fmt.Errorf("store cart %s: %w", cart.SessionID, err)
	}

	return nil
}

// Clear empties the cart's line items. A missing cart is not an error so
// duplicate reconciliations stay idempotent.
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	empty, err := json.Marshal(&Cart{SessionID: sessionID, Items: []Item{}})
	if err != nil {
		return err
	}

	// SetXX only touches carts that still exist.
	if err := s.client.SetXX(ctx, key(sessionID), empty, cartTTL).Err(); err != nil {
		return fmt.Errorf("clear cart %s: %w", sessionID, err)
	}

	return nil
}

// Delete removes the cart entirely. Deleting an absent cart is a no-op.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete cart %s: %w", sessionID, err)
	}
	return nil
}
