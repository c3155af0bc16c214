package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/keyshop/internal/service"
	"github.com/Skotchmaster/keyshop/internal/transport"
	"github.com/Skotchmaster/keyshop/internal/util"
	"github.com/Skotchmaster/keyshop/pkg/logging"
)

type ReviewHTTP struct {
	Svc *service.ReviewService
}

func (h *ReviewHTTP) List(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "review.list")

	titleID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	page := util.ParseIntDefault(c.QueryParam("page"), 1)
	size := util.ParseIntDefault(c.QueryParam("size"), util.DefaultPageSize)
	offset, limit := util.Calculate(page, size)

	total, reviews, err := h.Svc.ListByTitle(ctx, titleID, false, limit, offset)
	if err != nil {
		return httpError(l, "list_reviews", err)
	}

	out := make([]transport.ReviewResponse, 0, len(reviews))
	for i := range reviews {
		out = append(out, transport.NewReviewResponse(&reviews[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"total": total, "reviews": out})
}

func (h *ReviewHTTP) Create(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "review.create")

	uid, err := userID(c)
	if err != nil {
		return err
	}
	titleID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req transport.ReviewRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("create_review_error", "status", 400, "reason", "invalid body", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	review, err := h.Svc.Create(ctx, titleID, uid, service.ReviewInput{Rating: req.Rating, Comment: req.Comment})
	if err != nil {
		return httpError(l, "create_review", err)
	}
	return c.JSON(http.StatusCreated, transport.NewReviewResponse(review))
}

func (h *ReviewHTTP) Update(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "review.update")

	uid, err := userID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req transport.ReviewPatchRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("update_review_error", "status", 400, "reason", "invalid body", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	review, err := h.Svc.Update(ctx, id, uid, service.ReviewPatch{Rating: req.Rating, Comment: req.Comment})
	if err != nil {
		return httpError(l, "update_review", err)
	}
	return c.JSON(http.StatusOK, transport.NewReviewResponse(review))
}

func (h *ReviewHTTP) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "review.delete")

	uid, err := userID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	if err := h.Svc.Delete(ctx, id, uid, isAdmin(c)); err != nil {
		return httpError(l, "delete_review", err)
	}
	return c.NoContent(http.StatusNoContent)
}
