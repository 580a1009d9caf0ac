package email

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordingSender struct {
	sent []string
	err  error
}

func (s *recordingSender) Send(to, subject, _ string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, to+": "+subject)
	return nil
}

func TestHandler_HandleSend(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("delivers a well-formed request", func(t *testing.T) {
		sender := &recordingSender{}
		handler := NewHandler(sender, logger)

		body := `{"to":"buyer@example.com","subject":"Order Confirmation - ORD-1","body":"Thanks!"}`
		req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(body))
		rec := httptest.NewRecorder()

		handler.HandleSend(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if len(sender.sent) != 1 {
			t.Fatalf("expected 1 delivery, got %d", len(sender.sent))
		}
	})

	t.Run("rejects a missing recipient", func(t *testing.T) {
		handler := NewHandler(&recordingSender{}, logger)

		req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(`{"subject":"no recipient"}`))
		rec := httptest.NewRecorder()

		handler.HandleSend(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("rejects a malformed body", func(t *testing.T) {
		handler := NewHandler(&recordingSender{}, logger)

		req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader("not json"))
		rec := httptest.NewRecorder()

		handler.HandleSend(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("maps delivery failure to 502", func(t *testing.T) {
		sender := &recordingSender{err: errors.New("smtp: connection refused")}
		handler := NewHandler(sender, logger)

		body := `{"to":"buyer@example.com","subject":"subject","body":"body"}`
		req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(body))
		rec := httptest.NewRecorder()

		handler.HandleSend(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Fatalf("expected status 502, got %d", rec.Code)
		}
	})
}
