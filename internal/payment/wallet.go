package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/earthman-shop/checkout/internal/domain"
)

// WalletProvider drives an approval-redirect style wallet API: the buyer
// is sent to the provider's approval URL, returns with a payer id, and
// the payment is executed server-side with that id.
type WalletProvider struct {
	baseURL       string
	clientID      string
	clientSecret  string
	webhookSecret string
	returnURL     string
	cancelURL     string
	client        *http.Client
}

func NewWalletProvider(baseURL, clientID, clientSecret, webhookSecret, returnURL, cancelURL string, client *http.Client) *WalletProvider {
	return &WalletProvider{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		clientID:      clientID,
		clientSecret:  clientSecret,
		webhookSecret: webhookSecret,
		returnURL:     returnURL,
		cancelURL:     cancelURL,
		client:        client,
	}
}

func (p *WalletProvider) Name() string {
	return ProviderWallet
}

type walletPayment struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Links []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

type walletAmount struct {
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

func (p *WalletProvider) Initiate(ctx context.Context, amount decimal.Decimal, currency, reference, cartSessionID string) (*InitiateResult, error) {
	payload := map[string]any{
		"intent": "sale",
		"payer":  map[string]string{"payment_method": "wallet"},
		"redirect_urls": map[string]string{
			"return_url": p.returnURL + "?order_ref=" + reference,
			"cancel_url": p.cancelURL + "?order_ref=" + reference,
		},
		"transactions": []map[string]any{{
			"invoice_number": reference,
			"custom":         cartSessionID,
			"amount": walletAmount{
				Total:    domain.FormatAmount(amount),
				Currency: currency,
			},
			"description": "Payment for order " + reference,
		}},
	}

	payment, err := p.do(ctx, http.MethodPost, "/v1/payments", payload)
	if err != nil {
		return nil, err
	}

	result := &InitiateResult{ProviderPaymentID: payment.ID}
	for _, link := range payment.Links {
		if link.Rel == "approval_url" {
			result.ApprovalURL = link.Href
			break
		}
	}
	if result.ApprovalURL == "" {
		return nil, fmt.Errorf("wallet provider returned no approval url for %s", reference)
	}

	return result, nil
}

// Confirm executes the approved payment with the payer id the buyer
// brought back from the approval redirect.
func (p *WalletProvider) Confirm(ctx context.Context, providerPaymentID, payerID string) (*domain.PaymentOutcome, error) {
	payload := map[string]string{"payer_id": payerID}

	payment, err := p.do(ctx, http.MethodPost, "/v1/payments/"+providerPaymentID+"/execute", payload)
	if err != nil {
		return nil, err
	}

	outcome := &domain.PaymentOutcome{
		Provider:          ProviderWallet,
		ProviderPaymentID: providerPaymentID,
		ProviderPayerID:   payerID,
		TransactionID:     providerPaymentID,
		Succeeded:         payment.State == "approved" || payment.State == "completed",
	}
	if !outcome.Succeeded {
		outcome.FailureReason = "payment state is " + payment.State
	}

	return outcome, nil
}

type walletWebhookPayload struct {
	EventType string `json:"event_type"`
	Resource  struct {
		ID            string `json:"id"`
		ParentPayment string `json:"parent_payment"`
		InvoiceNumber string `json:"invoice_number"`
		Custom        string `json:"custom"`
		Reason        string `json:"reason"`
	} `json:"resource"`
}

func (p *WalletProvider) DecodeWebhook(body []byte, signature string) (*Event, error) {
	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, domain.ErrInvalidSignature
	}

	var payload walletWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidOutcome, err)
	}

	paymentID := payload.Resource.ParentPayment
	if paymentID == "" {
		paymentID = payload.Resource.ID
	}

	event := &Event{
		ProviderPaymentID: paymentID,
		OrderReference:    payload.Resource.InvoiceNumber,
		CartSessionID:     payload.Resource.Custom,
		TransactionID:     paymentID,
	}

	switch payload.EventType {
	case "PAYMENT.SALE.COMPLETED":
		event.Type = EventPaymentSucceeded
	case "PAYMENT.SALE.DENIED", "PAYMENT.SALE.REVERSED":
		event.Type = EventPaymentFailed
		event.FailureReason = payload.Resource.Reason
	default:
		event.Type = EventIgnored
	}

	return event, nil
}

// SignWebhook produces a valid signature for the given body, for tests.
func (p *WalletProvider) SignWebhook(body []byte) string {
	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *WalletProvider) do(ctx context.Context, method, path string, payload any) (*walletPayment, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrGatewayUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: wallet provider returned status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("wallet provider returned status %d: %s", resp.StatusCode, data)
	}

	var payment walletPayment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return nil, fmt.Errorf("decode wallet provider response: %w", err)
	}

	return &payment, nil
}
