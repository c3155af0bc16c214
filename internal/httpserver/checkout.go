package httpserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/keyshop/internal/idempotency"
	"github.com/Skotchmaster/keyshop/internal/models"
	"github.com/Skotchmaster/keyshop/internal/service"
	"github.com/Skotchmaster/keyshop/internal/transport"
	"github.com/Skotchmaster/keyshop/pkg/logging"
)

const (
	signatureHeader = "X-Signature"
	maxWebhookBody  = 64 << 10
)

// CheckoutHTTP serves the gateway callbacks: the browser redirects after
// payment and the server-to-server webhook.
type CheckoutHTTP struct {
	Svc           *service.OrderService
	Deliveries    *idempotency.Store
	WebhookSecret []byte
}

func (h *CheckoutHTTP) Success(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "checkout.success")

	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id required")
	}

	order, err := h.Svc.ConfirmPayment(ctx, sessionID)
	if err != nil {
		return httpError(l, "confirm_payment", err)
	}

	l.Info("confirm_payment_result", "order_id", order.ID, "status", order.Status)
	return c.JSON(http.StatusOK, echo.Map{
		"success": order.Status == models.OrderCompleted,
		"order":   transport.NewOrderResponse(order),
	})
}

func (h *CheckoutHTTP) CancelLanding(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "checkout.cancel")

	raw := c.QueryParam("order_id")
	if raw == "" {
		return c.JSON(http.StatusOK, echo.Map{"cancelled": false})
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order_id")
	}

	order, cancelled, err := h.Svc.AbandonCheckout(ctx, id)
	if err != nil {
		return httpError(l, "cancel_checkout", err)
	}

	if cancelled {
		l.Info("cancel_checkout_success", "order_id", order.ID)
	}
	return c.JSON(http.StatusOK, echo.Map{"cancelled": cancelled, "status": order.Status})
}

// Webhook applies a payment notification once per event id. Redeliveries of
// an event that already resolved its order are answered from the store.
func (h *CheckoutHTTP) Webhook(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "checkout.webhook")

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if !h.validSignature(body, c.Request().Header.Get(signatureHeader)) {
		l.Warn("webhook_error", "status", 401, "reason", "bad signature")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	var ev transport.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.EventID == "" || ev.SessionID == "" {
		l.Warn("webhook_error", "status", 400, "reason", "invalid body", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	l = l.With("event_id", ev.EventID)

	if rec, err := h.Deliveries.Get(ev.EventID); err == nil {
		l.Info("webhook_duplicate", "order_id", rec.OrderID)
		return c.JSON(http.StatusOK, rec)
	} else if !errors.Is(err, idempotency.ErrNotFound) {
		return httpError(l, "webhook", err)
	}

	order, err := h.Svc.ConfirmPayment(ctx, ev.SessionID)
	if err != nil {
		return httpError(l, "webhook", err)
	}

	rec := idempotency.Record{
		EventID:   ev.EventID,
		SessionID: ev.SessionID,
		OrderID:   order.ID.String(),
		Status:    string(order.Status),
	}
	if !order.Status.Terminal() {
		l.Info("webhook_pending", "order_id", order.ID)
		return c.JSON(http.StatusAccepted, rec)
	}

	stored, _, err := h.Deliveries.Remember(rec)
	if err != nil {
		return httpError(l, "webhook", err)
	}

	l.Info("webhook_success", "order_id", order.ID, "status", order.Status)
	return c.JSON(http.StatusOK, stored)
}

func (h *CheckoutHTTP) validSignature(body []byte, sig string) bool {
	if len(h.WebhookSecret) == 0 {
		return true
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(want, Sign(h.WebhookSecret, body))
}

// Sign computes the HMAC-SHA256 of body as the gateway does.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
