package httpserver

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/keyshop/internal/service"
	"github.com/Skotchmaster/keyshop/internal/transport"
	"github.com/Skotchmaster/keyshop/pkg/logging"
)

type StockHTTP struct {
	Keys *service.KeyStore
}

func (h *StockHTTP) Get(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "stock.get")

	titleID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	platformID, err := uuid.Parse(c.QueryParam("platform_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid platform_id")
	}

	n, err := h.Keys.AvailableCount(ctx, titleID, platformID)
	if err != nil {
		return httpError(l, "get_stock", err)
	}
	return c.JSON(http.StatusOK, transport.StockResponse{TitleID: titleID, PlatformID: platformID, Available: n})
}
