package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/keyshop/internal/models"
	"github.com/Skotchmaster/keyshop/internal/repo"
	"github.com/Skotchmaster/keyshop/internal/service"
	"github.com/Skotchmaster/keyshop/internal/transport"
	"github.com/Skotchmaster/keyshop/internal/util"
	"github.com/Skotchmaster/keyshop/pkg/logging"
)

type AdminHTTP struct {
	Keys     *service.KeyStore
	Orders   *service.OrderService
	Reviews  *service.ReviewService
	Ratings  *service.RatingAggregator
	OrderTTL time.Duration
}

func (h *AdminHTTP) ImportKeys(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.import_keys")

	titleID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req transport.ImportKeysRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("import_keys_error", "status", 400, "reason", "invalid body", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	n, err := h.Keys.Import(ctx, titleID, req.PlatformID, req.Codes)
	if err != nil {
		return httpError(l, "import_keys", err)
	}
	h.Orders.RefreshStock(ctx, titleID, req.PlatformID)

	l.Info("import_keys_success", "title_id", titleID, "keys", n)
	return c.JSON(http.StatusCreated, echo.Map{"imported": n})
}

func (h *AdminHTTP) RemoveKey(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.remove_key")

	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	key, err := h.Keys.Remove(ctx, id)
	if err != nil {
		return httpError(l, "remove_key", err)
	}
	h.Orders.RefreshStock(ctx, key.TitleID, key.PlatformID)

	l.Info("remove_key_success", "key_id", id)
	return c.NoContent(http.StatusNoContent)
}

func (h *AdminHTTP) Moderate(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.moderate_review")

	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req transport.ModerationRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("moderate_review_error", "status", 400, "reason", "invalid body", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	review, err := h.Reviews.SetHidden(ctx, id, req.Hidden)
	if err != nil {
		return httpError(l, "moderate_review", err)
	}
	return c.JSON(http.StatusOK, transport.NewReviewResponse(review))
}

func (h *AdminHTTP) RecomputeRating(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.recompute_rating")

	titleID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	avg, err := h.Ratings.Recompute(ctx, titleID)
	if err != nil {
		return httpError(l, "recompute_rating", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"title_id": titleID, "average_rating": avg})
}

func (h *AdminHTTP) ExpireOrders(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.expire_orders")

	olderThan := h.OrderTTL
	var req transport.ExpireOrdersRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("expire_orders_error", "status", 400, "reason", "invalid body", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil || d < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid older_than")
		}
		olderThan = d
	}

	n, err := h.Orders.ExpirePending(ctx, olderThan)
	if err != nil {
		return httpError(l, "expire_orders", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"expired": n})
}

func (h *AdminHTTP) ListKeys(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.list_keys")

	titleID, err := queryID(c, "title_id")
	if err != nil {
		return err
	}
	platformID, err := queryID(c, "platform_id")
	if err != nil {
		return err
	}
	f := repo.KeyFilter{
		TitleID:    titleID,
		PlatformID: platformID,
		State:      models.KeyState(strings.ToUpper(c.QueryParam("state"))),
		Search:     c.QueryParam("search"),
	}
	page := util.ParseIntDefault(c.QueryParam("page"), 1)
	size := util.ParseIntDefault(c.QueryParam("size"), util.DefaultPageSize)

	total, keys, err := h.Keys.List(ctx, f, page, size)
	if err != nil {
		return httpError(l, "list_keys", err)
	}

	out := make([]transport.KeyResponse, 0, len(keys))
	for i := range keys {
		out = append(out, transport.NewKeyResponse(&keys[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"total": total, "keys": out})
}

func (h *AdminHTTP) ListOrders(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.list_orders")

	userID, err := queryID(c, "user_id")
	if err != nil {
		return err
	}
	f := repo.OrderFilter{
		Status: models.OrderStatus(strings.ToUpper(c.QueryParam("status"))),
		UserID: userID,
	}
	page := util.ParseIntDefault(c.QueryParam("page"), 1)
	size := util.ParseIntDefault(c.QueryParam("size"), util.DefaultPageSize)

	total, orders, err := h.Orders.AdminList(ctx, f, page, size)
	if err != nil {
		return httpError(l, "list_orders", err)
	}

	out := make([]transport.OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, transport.NewOrderResponse(&orders[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"total": total, "orders": out})
}

func (h *AdminHTTP) GetOrder(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.get_order")

	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	order, err := h.Orders.AdminGetOrder(ctx, id)
	if err != nil {
		return httpError(l, "get_order", err)
	}
	return c.JSON(http.StatusOK, transport.NewOrderResponse(order))
}

// queryID parses an optional uuid query parameter; absent means uuid.Nil.
func queryID(c echo.Context, name string) (uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}
