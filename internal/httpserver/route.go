package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	middleware "github.com/Skotchmaster/keyshop/pkg/middleware/auth"
)

type Deps struct {
	OrderHandler    *OrderHTTP
	CheckoutHandler *CheckoutHTTP
	ReviewHandler   *ReviewHTTP
	StockHandler    *StockHTTP
	AdminHandler    *AdminHTTP
	JWTSecret       []byte
	Ready           func() error
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if d.Ready != nil {
			if err := d.Ready(); err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "not ready")
			}
		}
		return c.NoContent(http.StatusOK)
	})

	authMW := middleware.NewAuthMiddleware(d.JWTSecret)

	titles := e.Group("/titles")
	titles.GET("/:id/stock", d.StockHandler.Get)
	titles.GET("/:id/reviews", d.ReviewHandler.List)
	titles.POST("/:id/reviews", d.ReviewHandler.Create, authMW.RequireAuth)

	reviews := e.Group("/reviews", authMW.RequireAuth)
	reviews.PATCH("/:id", d.ReviewHandler.Update)
	reviews.DELETE("/:id", d.ReviewHandler.Delete)

	checkout := e.Group("/checkout")
	checkout.POST("", d.OrderHandler.Checkout, authMW.RequireAuth)
	checkout.GET("/success", d.CheckoutHandler.Success)
	checkout.GET("/cancel", d.CheckoutHandler.CancelLanding)
	checkout.POST("/webhook", d.CheckoutHandler.Webhook)

	orders := e.Group("/orders", authMW.RequireAuth)
	orders.GET("", d.OrderHandler.List)
	orders.GET("/:id", d.OrderHandler.Get)
	orders.POST("/:id/pay", d.OrderHandler.RetryPayment)
	orders.POST("/:id/cancel", d.OrderHandler.Cancel)

	admin := e.Group("/admin", authMW.RequireAdmin)
	admin.POST("/titles/:id/keys", d.AdminHandler.ImportKeys)
	admin.POST("/titles/:id/rating", d.AdminHandler.RecomputeRating)
	admin.GET("/keys", d.AdminHandler.ListKeys)
	admin.DELETE("/keys/:id", d.AdminHandler.RemoveKey)
	admin.PATCH("/reviews/:id/moderation", d.AdminHandler.Moderate)
	admin.GET("/orders", d.AdminHandler.ListOrders)
	admin.GET("/orders/:id", d.AdminHandler.GetOrder)
	admin.POST("/orders/expire", d.AdminHandler.ExpireOrders)
}
