package orders

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/earthman-shop/checkout/internal/domain"
	"github.com/earthman-shop/checkout/internal/payment"
)

// maxWebhookBody caps how much of an inbound webhook is read before
// signature verification.
const maxWebhookBody = 1 << 20

type Handler struct {
	lifecycle *Lifecycle
	gate      *Gate
	store     OrderStore
	gateways  map[string]payment.Gateway
	logger    *slog.Logger
}

func NewHandler(lifecycle *Lifecycle, gate *Gate, store OrderStore, gateways map[string]payment.Gateway, logger *slog.Logger) *Handler {
	return &Handler{
		lifecycle: lifecycle,
		gate:      gate,
		store:     store,
		gateways:  gateways,
		logger:    logger,
	}
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.lifecycle.CreateFromCart(r.Context(), req)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}

	h.logger.Info("order created", "reference", result.Order.Reference)
	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	reference := r.PathValue("reference")
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, "missing order reference")
		return
	}

	order, err := h.store.GetByReference(r.Context(), reference)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("failed to get order", "error", err, "reference", reference)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "missing user_id")
		return
	}

	orders, err := h.store.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

type updateFulfillmentRequest struct {
	Status         domain.OrderStatus `json:"status"`
	TrackingNumber string             `json:"tracking_number"`
}

func (h *Handler) HandleUpdateFulfillment(w http.ResponseWriter, r *http.Request) {
	reference := r.PathValue("reference")
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, "missing order reference")
		return
	}

	var req updateFulfillmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.lifecycle.UpdateFulfillment(r.Context(), reference, req.Status, req.TrackingNumber)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}

	h.logger.Info("fulfillment updated", "reference", reference, "status", order.OrderStatus)
	h.writeJSON(w, http.StatusOK, order)
}

type confirmCardRequest struct {
	OrderReference    string `json:"order_reference"`
	ProviderPaymentID string `json:"provider_payment_id"`
}

// HandleConfirmCard is the client-confirmation path for card payments.
// The client supplies identifiers only; the payment state is re-verified
// with the provider before anything is reconciled.
func (h *Handler) HandleConfirmCard(w http.ResponseWriter, r *http.Request) {
	var req confirmCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrderReference == "" || req.ProviderPaymentID == "" {
		h.writeError(w, http.StatusBadRequest, "missing order_reference or provider_payment_id")
		return
	}

	h.confirmPayment(r.Context(), w, payment.ProviderCard, req.OrderReference, req.ProviderPaymentID, "")
}

type executeWalletRequest struct {
	OrderReference    string `json:"order_reference"`
	ProviderPaymentID string `json:"provider_payment_id"`
	PayerID           string `json:"payer_id"`
}

// HandleExecuteWallet executes an approved wallet payment with the payer
// id the buyer brought back from the provider redirect.
func (h *Handler) HandleExecuteWallet(w http.ResponseWriter, r *http.Request) {
	var req executeWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrderReference == "" || req.ProviderPaymentID == "" || req.PayerID == "" {
		h.writeError(w, http.StatusBadRequest, "missing payment parameters")
		return
	}

	h.confirmPayment(r.Context(), w, payment.ProviderWallet, req.OrderReference, req.ProviderPaymentID, req.PayerID)
}

func (h *Handler) confirmPayment(ctx context.Context, w http.ResponseWriter, provider, reference, providerPaymentID, proof string) {
	gateway, ok := h.gateways[provider]
	if !ok {
		h.writeError(w, http.StatusBadRequest, "unknown payment provider")
		return
	}

	order, err := h.store.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("failed to load order", "error", err, "reference", reference)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// The claimed payment id must be the one this order was initiated with.
	if order.ProviderPaymentID != providerPaymentID {
		h.writeError(w, http.StatusConflict, "payment id does not belong to this order")
		return
	}

	outcome, err := gateway.Confirm(ctx, providerPaymentID, proof)
	if err != nil {
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			h.writeError(w, http.StatusBadGateway, "payment provider unavailable, retry later")
			return
		}
		h.logger.Error("failed to confirm payment", "error", err, "reference", reference)
		h.writeError(w, http.StatusBadRequest, "payment confirmation failed")
		return
	}

	result, err := h.gate.Reconcile(ctx, reference, *outcome)
	if err != nil {
		h.writeReconcileError(w, err, reference)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":        result.Order.PaymentStatus == domain.PaymentStatusPaid,
		"reference":      result.Order.Reference,
		"payment_status": result.Order.PaymentStatus,
		"total_price":    result.Order.TotalPrice,
	})
}

// HandleWebhook ingests provider notifications. The signature is
// verified over the raw body before any payload parsing; business
// outcomes are acknowledged with 2xx so the provider stops redelivering,
// and only transient failures return a retryable status.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	gateway, ok := h.gateways[provider]
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown payment provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	event, err := gateway.DecodeWebhook(body, r.Header.Get("X-Provider-Signature"))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			h.logger.Warn("webhook signature verification failed", "provider", provider)
			h.writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		h.logger.Warn("malformed webhook payload", "error", err, "provider", provider)
		h.writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	if event.Type == payment.EventIgnored {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	reference := event.OrderReference
	if reference == "" {
		order, err := h.store.GetByProviderPaymentID(r.Context(), provider, event.ProviderPaymentID)
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) {
				// Acknowledge so the provider does not redeliver forever.
				h.logger.Warn("webhook for unknown payment", "provider", provider, "provider_payment_id", event.ProviderPaymentID)
				h.writeJSON(w, http.StatusOK, map[string]string{"status": "unknown_payment"})
				return
			}
			h.logger.Error("failed to resolve order from webhook", "error", err, "provider", provider)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		reference = order.Reference
	}

	outcome := domain.PaymentOutcome{
		Provider:          provider,
		ProviderPaymentID: event.ProviderPaymentID,
		TransactionID:     event.TransactionID,
		Succeeded:         event.Type == payment.EventPaymentSucceeded,
		FailureReason:     event.FailureReason,
	}

	result, err := h.gate.Reconcile(r.Context(), reference, outcome)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			h.logger.Warn("webhook for unknown order", "provider", provider, "reference", reference)
			h.writeJSON(w, http.StatusOK, map[string]string{"status": "unknown_order"})
			return
		}
		h.writeReconcileError(w, err, reference)
		return
	}

	status := "reconciled"
	if !result.Applied {
		status = "already_settled"
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *Handler) writeLifecycleError(w http.ResponseWriter, err error) {
	var validationErr ValidationError
	switch {
	case errors.As(err, &validationErr):
		h.writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, domain.ErrCartNotFound):
		h.writeError(w, http.StatusNotFound, "cart not found")
	case errors.Is(err, domain.ErrCartEmpty):
		h.writeError(w, http.StatusBadRequest, "cart is empty")
	case errors.Is(err, domain.ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, domain.ErrGatewayUnavailable):
		h.logger.Error("payment gateway unavailable", "error", err)
		h.writeError(w, http.StatusBadGateway, "payment provider unavailable, retry later")
	default:
		h.logger.Error("order operation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeReconcileError(w http.ResponseWriter, err error, reference string) {
	switch {
	case errors.Is(err, domain.ErrDuplicateTransaction):
		h.writeError(w, http.StatusConflict, "transaction id already attached to another order")
	case errors.Is(err, domain.ErrInvalidOutcome):
		h.writeError(w, http.StatusBadRequest, "malformed payment outcome")
	case errors.Is(err, domain.ErrGatewayUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "temporarily unable to reconcile, retry later")
	default:
		h.logger.Error("reconciliation failed", "error", err, "reference", reference)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
