package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/keyshop/internal/service"
	"github.com/Skotchmaster/keyshop/internal/transport"
	"github.com/Skotchmaster/keyshop/internal/util"
	"github.com/Skotchmaster/keyshop/pkg/logging"
)

type OrderHTTP struct {
	Svc *service.OrderService
}

func (h *OrderHTTP) Checkout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.checkout")

	uid, err := userID(c)
	if err != nil {
		return err
	}

	var req transport.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("checkout_error", "status", 400, "reason", "invalid body", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	items := make([]service.CheckoutItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, service.CheckoutItem{TitleID: it.TitleID, PlatformID: it.PlatformID})
	}

	res, err := h.Svc.StartCheckout(ctx, uid, items)
	if err != nil {
		if errors.Is(err, service.ErrGateway) && res != nil {
			l.Warn("checkout_error", "status", 502, "reason", "payment gateway", "order_id", res.OrderID, "error", err)
			return c.JSON(http.StatusBadGateway, echo.Map{
				"message":  "payment gateway unavailable, retry payment",
				"order_id": res.OrderID,
			})
		}
		return httpError(l, "checkout", err)
	}

	l.Info("checkout_success", "order_id", res.OrderID)
	return c.JSON(http.StatusCreated, res)
}

func (h *OrderHTTP) RetryPayment(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.retry_payment")

	uid, err := userID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	res, err := h.Svc.RetryPayment(ctx, uid, id)
	if err != nil {
		if errors.Is(err, service.ErrGateway) && res != nil {
			l.Warn("retry_payment_error", "status", 502, "reason", "payment gateway", "error", err)
			return c.JSON(http.StatusBadGateway, echo.Map{
				"message":  "payment gateway unavailable, retry payment",
				"order_id": res.OrderID,
			})
		}
		return httpError(l, "retry_payment", err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *OrderHTTP) Cancel(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.cancel")

	uid, err := userID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	order, err := h.Svc.CancelForUser(ctx, uid, id)
	if err != nil {
		return httpError(l, "cancel_order", err)
	}

	l.Info("cancel_order_success", "order_id", id)
	return c.JSON(http.StatusOK, transport.NewOrderResponse(order))
}

func (h *OrderHTTP) List(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.list")

	uid, err := userID(c)
	if err != nil {
		return err
	}
	page := util.ParseIntDefault(c.QueryParam("page"), 1)
	size := util.ParseIntDefault(c.QueryParam("size"), util.DefaultPageSize)

	total, orders, err := h.Svc.ListOrders(ctx, uid, page, size)
	if err != nil {
		return httpError(l, "list_orders", err)
	}

	out := make([]transport.OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, transport.NewOrderResponse(&orders[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"total": total, "orders": out})
}

func (h *OrderHTTP) Get(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.get")

	uid, err := userID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	order, err := h.Svc.GetOrder(ctx, uid, id)
	if err != nil {
		return httpError(l, "get_order", err)
	}
	return c.JSON(http.StatusOK, transport.NewOrderResponse(order))
}
