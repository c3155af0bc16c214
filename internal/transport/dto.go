package transport

import (
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/keyshop/internal/models"
)

type CheckoutItem struct {
	TitleID    uuid.UUID `json:"title_id"`
	PlatformID uuid.UUID `json:"platform_id"`
}

type CheckoutRequest struct {
	Items []CheckoutItem `json:"items"`
}

type ReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type ReviewPatchRequest struct {
	Rating  *int    `json:"rating"`
	Comment *string `json:"comment"`
}

type ModerationRequest struct {
	Hidden bool `json:"hidden"`
}

type ImportKeysRequest struct {
	PlatformID uuid.UUID `json:"platform_id"`
	Codes      []string  `json:"codes"`
}

type ExpireOrdersRequest struct {
	OlderThan string `json:"older_than"`
}

// WebhookEvent is a payment notification pushed by the gateway.
type WebhookEvent struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type StockResponse struct {
	TitleID    uuid.UUID `json:"title_id"`
	PlatformID uuid.UUID `json:"platform_id"`
	Available  int64     `json:"available"`
}

type KeyResponse struct {
	ID         uuid.UUID  `json:"id"`
	TitleID    uuid.UUID  `json:"title_id"`
	PlatformID uuid.UUID  `json:"platform_id"`
	OrderID    *uuid.UUID `json:"order_id,omitempty"`
	Code       string     `json:"code,omitempty"`
	PriceCents int64      `json:"price_cents"`
	State      string     `json:"state"`
}

type OrderResponse struct {
	ID            uuid.UUID     `json:"id"`
	UserID        uuid.UUID     `json:"user_id"`
	Status        string        `json:"status"`
	OrderedAt     time.Time     `json:"ordered_at"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty"`
	PaymentMethod string        `json:"payment_method,omitempty"`
	TotalCents    int64         `json:"total_cents"`
	Keys          []KeyResponse `json:"keys,omitempty"`
}

func NewOrderResponse(o *models.Order) OrderResponse {
	out := OrderResponse{
		ID:            o.ID,
		UserID:        o.UserID,
		Status:        string(o.Status),
		OrderedAt:     o.OrderedAt,
		ResolvedAt:    o.ResolvedAt,
		PaymentMethod: o.PaymentMethod,
		TotalCents:    o.TotalCents,
	}
	for i := range o.Keys {
		out.Keys = append(out.Keys, NewKeyResponse(&o.Keys[i]))
	}
	return out
}

func NewKeyResponse(k *models.LicenseKey) KeyResponse {
	return KeyResponse{
		ID:         k.ID,
		TitleID:    k.TitleID,
		PlatformID: k.PlatformID,
		OrderID:    k.OrderID,
		Code:       k.Code,
		PriceCents: k.PriceCents,
		State:      string(k.State),
	}
}

type ReviewResponse struct {
	ID        uuid.UUID `json:"id"`
	TitleID   uuid.UUID `json:"title_id"`
	UserID    uuid.UUID `json:"user_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	Hidden    bool      `json:"hidden,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewReviewResponse(r *models.Review) ReviewResponse {
	return ReviewResponse{
		ID:        r.ID,
		TitleID:   r.TitleID,
		UserID:    r.UserID,
		Rating:    r.Rating,
		Comment:   r.Comment,
		Hidden:    r.Hidden,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
