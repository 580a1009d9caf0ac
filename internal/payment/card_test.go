package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/earthman-shop/checkout/internal/domain"
)

func TestCardProvider_Initiate(t *testing.T) {
	t.Run("creates a payment intent in minor units with order metadata", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/payment_intents" {
				t.Errorf("expected /v1/payment_intents, got %s", r.URL.Path)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer sk_test" {
				t.Errorf("unexpected authorization header: %s", auth)
			}
			if err := r.ParseForm(); err != nil {
				t.Fatalf("failed to parse form: %v", err)
			}
			if got := r.PostForm.Get("amount"); got != "10550" {
				t.Errorf("amount = %s, want 10550", got)
			}
			if got := r.PostForm.Get("currency"); got != "eur" {
				t.Errorf("currency = %s, want eur", got)
			}
			if got := r.PostForm.Get("metadata[order_reference]"); got != "ORD-1" {
				t.Errorf("order reference metadata = %s, want ORD-1", got)
			}
			if got := r.PostForm.Get("metadata[cart_session_id]"); got != "sess-1" {
				t.Errorf("cart session metadata = %s, want sess-1", got)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"pi_1","status":"requires_payment_method","client_secret":"pi_1_secret"}`))
		}))
		defer server.Close()

		provider := NewCardProvider(server.URL, "sk_test", "whsec", server.Client())

		result, err := provider.Initiate(context.Background(), decimal.RequireFromString("105.50"), "EUR", "ORD-1", "sess-1")
		if err != nil {
			t.Fatalf("initiate failed: %v", err)
		}
		if result.ProviderPaymentID != "pi_1" {
			t.Errorf("payment id = %s, want pi_1", result.ProviderPaymentID)
		}
		if result.ClientSecret != "pi_1_secret" {
			t.Errorf("client secret = %s, want pi_1_secret", result.ClientSecret)
		}
	})

	t.Run("maps provider outages to a retryable error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		provider := NewCardProvider(server.URL, "sk_test", "whsec", server.Client())

		_, err := provider.Initiate(context.Background(), decimal.NewFromInt(10), "EUR", "ORD-1", "sess-1")
		if !errors.Is(err, domain.ErrGatewayUnavailable) {
			t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
		}
	})

	t.Run("keeps client errors non-retryable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid amount"}`))
		}))
		defer server.Close()

		provider := NewCardProvider(server.URL, "sk_test", "whsec", server.Client())

		_, err := provider.Initiate(context.Background(), decimal.NewFromInt(10), "EUR", "ORD-1", "sess-1")
		if err == nil {
			t.Fatal("expected an error")
		}
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			t.Fatal("4xx must not be treated as retryable")
		}
	})
}

func TestCardProvider_Confirm(t *testing.T) {
	t.Run("derives success from the provider's intent status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/payment_intents/pi_9" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"pi_9","status":"succeeded"}`))
		}))
		defer server.Close()

		provider := NewCardProvider(server.URL, "sk_test", "whsec", server.Client())

		outcome, err := provider.Confirm(context.Background(), "pi_9", "")
		if err != nil {
			t.Fatalf("confirm failed: %v", err)
		}
		if !outcome.Succeeded {
			t.Error("expected a successful outcome")
		}
		if outcome.TransactionID != "pi_9" {
			t.Errorf("transaction id = %s, want pi_9", outcome.TransactionID)
		}
	})

	t.Run("reports the provider's failure message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"pi_9","status":"requires_payment_method","last_payment_error":{"message":"card declined"}}`))
		}))
		defer server.Close()

		provider := NewCardProvider(server.URL, "sk_test", "whsec", server.Client())

		outcome, err := provider.Confirm(context.Background(), "pi_9", "")
		if err != nil {
			t.Fatalf("confirm failed: %v", err)
		}
		if outcome.Succeeded {
			t.Error("expected a failed outcome")
		}
		if outcome.FailureReason != "card declined" {
			t.Errorf("failure reason = %q, want card declined", outcome.FailureReason)
		}
	})
}

func TestCardProvider_DecodeWebhook(t *testing.T) {
	body := []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_5","metadata":{"order_reference":"ORD-5","cart_session_id":"sess-5"}}}}`)

	newProvider := func(at time.Time) *CardProvider {
		provider := NewCardProvider("http://card.invalid", "sk_test", "whsec", http.DefaultClient)
		provider.now = func() time.Time { return at }
		return provider
	}

	t.Run("accepts a correctly signed payload", func(t *testing.T) {
		now := time.Now()
		provider := newProvider(now)

		event, err := provider.DecodeWebhook(body, provider.SignWebhook(body, now))
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if event.Type != EventPaymentSucceeded {
			t.Errorf("event type = %v, want success", event.Type)
		}
		if event.OrderReference != "ORD-5" {
			t.Errorf("order reference = %s, want ORD-5", event.OrderReference)
		}
		if event.TransactionID != "pi_5" {
			t.Errorf("transaction id = %s, want pi_5", event.TransactionID)
		}
	})

	t.Run("rejects a signature over different bytes", func(t *testing.T) {
		now := time.Now()
		provider := newProvider(now)

		other := []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_6"}}}`)
		_, err := provider.DecodeWebhook(body, provider.SignWebhook(other, now))
		if !errors.Is(err, domain.ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("rejects a stale timestamp as a possible replay", func(t *testing.T) {
		now := time.Now()
		provider := newProvider(now)

		stale := provider.SignWebhook(body, now.Add(-6*time.Minute))
		_, err := provider.DecodeWebhook(body, stale)
		if !errors.Is(err, domain.ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("rejects a signature signed with another secret", func(t *testing.T) {
		now := time.Now()
		provider := newProvider(now)
		rogue := NewCardProvider("http://card.invalid", "sk_test", "other-secret", http.DefaultClient)

		_, err := provider.DecodeWebhook(body, rogue.SignWebhook(body, now))
		if !errors.Is(err, domain.ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("maps failure events and keeps the provider's reason", func(t *testing.T) {
		now := time.Now()
		provider := newProvider(now)
		failure := []byte(`{"type":"payment_intent.payment_failed","data":{"object":{"id":"pi_7","metadata":{"order_reference":"ORD-7"},"last_payment_error":{"message":"insufficient funds"}}}}`)

		event, err := provider.DecodeWebhook(failure, provider.SignWebhook(failure, now))
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if event.Type != EventPaymentFailed {
			t.Errorf("event type = %v, want failure", event.Type)
		}
		if event.FailureReason != "insufficient funds" {
			t.Errorf("failure reason = %q, want insufficient funds", event.FailureReason)
		}
	})

	t.Run("passes through unrecognized event types as ignored", func(t *testing.T) {
		now := time.Now()
		provider := newProvider(now)
		created := []byte(`{"type":"payment_intent.created","data":{"object":{"id":"pi_8"}}}`)

		event, err := provider.DecodeWebhook(created, provider.SignWebhook(created, now))
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if event.Type != EventIgnored {
			t.Errorf("event type = %v, want ignored", event.Type)
		}
	})
}
