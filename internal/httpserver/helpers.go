package httpserver

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/keyshop/internal/service"
	"github.com/Skotchmaster/keyshop/pkg/tokens"
)

var errUnauthorized = echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")

func userID(c echo.Context) (uuid.UUID, error) {
	s, ok := c.Get("user_id").(string)
	if !ok || s == "" {
		return uuid.Nil, errUnauthorized
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errUnauthorized
	}
	return id, nil
}

func isAdmin(c echo.Context) bool {
	role, _ := c.Get("role").(string)
	return role == tokens.RoleAdmin
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// httpError maps a service error to a response and logs it under op.
func httpError(l *slog.Logger, op string, err error) error {
	var oos *service.OutOfStockError
	switch {
	case errors.As(err, &oos):
		l.Info(op+"_error", "status", http.StatusConflict, "reason", "out of stock", "items", len(oos.Items))
		return echo.NewHTTPError(http.StatusConflict, echo.Map{"message": "out of stock", "items": oos.Items})
	case errors.Is(err, service.ErrValidation):
		l.Warn(op+"_error", "status", http.StatusBadRequest, "reason", "invalid request", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForbidden):
		l.Warn(op+"_error", "status", http.StatusForbidden, "reason", "forbidden", "error", err)
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrOrderNotFound):
		l.Info(op+"_error", "status", http.StatusNotFound, "reason", "not found", "error", err)
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrOutOfStock):
		l.Info(op+"_error", "status", http.StatusConflict, "reason", "out of stock")
		return echo.NewHTTPError(http.StatusConflict, "out of stock")
	case errors.Is(err, service.ErrConflict), errors.Is(err, service.ErrInvalidOrderTransition):
		l.Info(op+"_error", "status", http.StatusConflict, "reason", "conflict", "error", err)
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrGateway):
		l.Warn(op+"_error", "status", http.StatusBadGateway, "reason", "payment gateway", "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "payment gateway unavailable")
	case errors.Is(err, service.ErrInvalidKeyTransition):
		l.Error(op+"_error", "status", http.StatusInternalServerError, "reason", "key state inconsistent", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	default:
		l.Error(op+"_error", "status", http.StatusInternalServerError, "reason", "internal error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
