package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/keyshop/pkg/logging"
)

// EventPublisher delivers domain events to downstream consumers (mailer,
// analytics). Implementations must be safe for concurrent use.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, event any) error
}

// Indexer keeps the storefront projection of stock and ratings fresh.
type Indexer interface {
	IndexStock(ctx context.Context, titleID, platformID uuid.UUID, available int64) error
	IndexRating(ctx context.Context, titleID uuid.UUID, averageRating float64) error
}

type OrderEvent struct {
	Type          string      `json:"type"`
	OrderID       uuid.UUID   `json:"order_id"`
	UserID        uuid.UUID   `json:"user_id"`
	Status        string      `json:"status"`
	TotalCents    int64       `json:"total_cents"`
	PaymentMethod string      `json:"payment_method,omitempty"`
	Keys          []KeyDetail `json:"keys,omitempty"`
	At            time.Time   `json:"at"`
}

type KeyDetail struct {
	KeyID      uuid.UUID `json:"key_id"`
	TitleID    uuid.UUID `json:"title_id"`
	PlatformID uuid.UUID `json:"platform_id"`
	Code       string    `json:"code"`
	PriceCents int64     `json:"price_cents"`
}

type ReviewEvent struct {
	Type          string    `json:"type"`
	ReviewID      uuid.UUID `json:"review_id"`
	TitleID       uuid.UUID `json:"title_id"`
	UserID        uuid.UUID `json:"user_id"`
	Rating        int       `json:"rating"`
	AverageRating float64   `json:"average_rating"`
}

func publish(ctx context.Context, p EventPublisher, topic, key string, event any) {
	if p == nil {
		return
	}
	if err := p.PublishEvent(ctx, topic, key, event); err != nil {
		logging.FromContext(ctx).Warn("publish_event_error", "topic", topic, "key", key, "error", err)
	}
}
