package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/earthman-shop/checkout/internal/domain"
)

// signatureTolerance bounds how stale a webhook timestamp may be before
// the notification is rejected as a possible replay.
const signatureTolerance = 5 * time.Minute

// CardProvider drives a payment-intent style card API: intents are
// created server-side, the client completes them with the client secret,
// and the provider pushes the outcome over a signed webhook.
type CardProvider struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	client        *http.Client

	now func() time.Time
}

func NewCardProvider(baseURL, secretKey, webhookSecret string, client *http.Client) *CardProvider {
	return &CardProvider{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		client:        client,
		now:           time.Now,
	}
}

func (p *CardProvider) Name() string {
	return ProviderCard
}

type paymentIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
	Metadata     struct {
		OrderReference string `json:"order_reference"`
		CartSessionID  string `json:"cart_session_id"`
	} `json:"metadata"`
	LastPaymentError struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

func (p *CardProvider) Initiate(ctx context.Context, amount decimal.Decimal, currency, reference, cartSessionID string) (*InitiateResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(domain.MinorUnits(amount), 10))
	form.Set("currency", strings.ToLower(currency))
	form.Set("description", "Order "+reference)
	form.Set("metadata[order_reference]", reference)
	form.Set("metadata[cart_session_id]", cartSessionID)

	intent, err := p.do(ctx, http.MethodPost, "/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}

	return &InitiateResult{
		ProviderPaymentID: intent.ID,
		ClientSecret:      intent.ClientSecret,
	}, nil
}

// Confirm retrieves the intent from the provider and derives the outcome
// from its authoritative status.
func (p *CardProvider) Confirm(ctx context.Context, providerPaymentID, _ string) (*domain.PaymentOutcome, error) {
	intent, err := p.do(ctx, http.MethodGet, "/v1/payment_intents/"+providerPaymentID, nil)
	if err != nil {
		return nil, err
	}

	outcome := &domain.PaymentOutcome{
		Provider:          ProviderCard,
		ProviderPaymentID: intent.ID,
		TransactionID:     intent.ID,
		Succeeded:         intent.Status == "succeeded",
	}
	if !outcome.Succeeded {
		outcome.FailureReason = "payment status is " + intent.Status
		if intent.LastPaymentError.Message != "" {
			outcome.FailureReason = intent.LastPaymentError.Message
		}
	}

	return outcome, nil
}

type cardWebhookPayload struct {
	Type string `json:"type"`
	Data struct {
		Object paymentIntent `json:"object"`
	} `json:"data"`
}

func (p *CardProvider) DecodeWebhook(body []byte, signature string) (*Event, error) {
	if err := p.verifySignature(body, signature); err != nil {
		return nil, err
	}

	var payload cardWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidOutcome, err)
	}

	intent := payload.Data.Object
	event := &Event{
		ProviderPaymentID: intent.ID,
		OrderReference:    intent.Metadata.OrderReference,
		CartSessionID:     intent.Metadata.CartSessionID,
		TransactionID:     intent.ID,
	}

	switch payload.Type {
	case "payment_intent.succeeded":
		event.Type = EventPaymentSucceeded
	case "payment_intent.payment_failed":
		event.Type = EventPaymentFailed
		event.FailureReason = intent.LastPaymentError.Message
	default:
		event.Type = EventIgnored
	}

	return event, nil
}

// verifySignature checks the `t=<unix>,v1=<hex hmac>` header: the HMAC is
// SHA-256 over "<timestamp>.<body>" keyed with the webhook secret.
func (p *CardProvider) verifySignature(body []byte, header string) error {
	var timestamp, provided string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			provided = v
		}
	}
	if timestamp == "" || provided == "" {
		return domain.ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	age := p.now().Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return domain.ErrInvalidSignature
	}

	return nil
}

// SignWebhook produces a valid signature header for the given body. Used
// by tests and the local provider simulator.
func (p *CardProvider) SignWebhook(body []byte, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func (p *CardProvider) do(ctx context.Context, method, path string, body io.Reader) (*paymentIntent, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrGatewayUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: card provider returned status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("card provider returned status %d: %s", resp.StatusCode, data)
	}

	var intent paymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("decode card provider response: %w", err)
	}

	return &intent, nil
}
