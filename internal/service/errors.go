package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrValidation = errors.New("validation") // 400
	ErrForbidden  = errors.New("forbidden")  // 403
	ErrNotFound   = errors.New("not found")  // 404
	ErrConflict   = errors.New("conflict")   // 409

	ErrOutOfStock             = errors.New("out of stock")             // 409
	ErrInvalidKeyTransition   = errors.New("invalid key transition")   // 500, consistency fault
	ErrInvalidOrderTransition = errors.New("invalid order transition") // 409
	ErrOrderNotFound          = errors.New("order not found")          // 404
	ErrGateway                = errors.New("payment gateway error")    // 502
)

type CheckoutItem struct {
	TitleID    uuid.UUID `json:"title_id"`
	PlatformID uuid.UUID `json:"platform_id"`
}

// OutOfStockError names every line item of a checkout that could not be
// served. It matches ErrOutOfStock with errors.Is.
type OutOfStockError struct {
	Items []CheckoutItem
}

func (e *OutOfStockError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		parts = append(parts, fmt.Sprintf("%s/%s", it.TitleID, it.PlatformID))
	}
	return fmt.Sprintf("%s: %s", ErrOutOfStock, strings.Join(parts, ", "))
}

func (e *OutOfStockError) Unwrap() error {
	return ErrOutOfStock
}
