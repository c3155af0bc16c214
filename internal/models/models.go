package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type KeyState string

const (
	KeyAvailable KeyState = "AVAILABLE"
	KeyReserved  KeyState = "RESERVED"
	KeySold      KeyState = "SOLD"
)

// CanTransition reports whether from -> to is a legal key transition.
// SOLD is terminal; RESERVED -> AVAILABLE is the only backward edge.
func (from KeyState) CanTransition(to KeyState) bool {
	switch from {
	case KeyAvailable:
		return to == KeyReserved
	case KeyReserved:
		return to == KeySold || to == KeyAvailable
	default:
		return false
	}
}

func (s KeyState) Valid() bool {
	return s == KeyAvailable || s == KeyReserved || s == KeySold
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderFailed    OrderStatus = "FAILED"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderFailed
}

func (s OrderStatus) Valid() bool {
	return s == OrderPending || s.Terminal()
}

type Title struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"                         json:"id"`
	Name            string    `gorm:"not null"                                     json:"name"`
	Description     string    `gorm:"type:text"                                    json:"description"`
	ImageURL        string    `json:"image_url"`
	PriceCents      int64     `gorm:"not null;check:price_cents >= 0"              json:"price_cents"`
	DiscountPercent int       `gorm:"not null;default:0;check:discount_percent >= 0 AND discount_percent <= 100" json:"discount_percent"`
	AverageRating   float64   `gorm:"not null;default:0"                           json:"average_rating"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type LicenseKey struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"                               json:"id"`
	Code       string     `gorm:"uniqueIndex;not null"                               json:"code"`
	TitleID    uuid.UUID  `gorm:"type:uuid;not null;index:idx_key_pool,priority:1"  json:"title_id"`
	PlatformID uuid.UUID  `gorm:"type:uuid;not null;index:idx_key_pool,priority:2"  json:"platform_id"`
	State      KeyState   `gorm:"type:varchar(16);not null;index:idx_key_pool,priority:3" json:"state"`
	OrderID    *uuid.UUID `gorm:"type:uuid;index"                                    json:"order_id,omitempty"`
	PriceCents int64      `gorm:"not null;default:0"                                 json:"price_cents"`
	Version    int64      `gorm:"not null;default:0"                                 json:"-"`
	ReservedAt *time.Time `json:"reserved_at,omitempty"`
	SoldAt     *time.Time `json:"sold_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type Order struct {
	ID            uuid.UUID    `gorm:"type:uuid;primaryKey"            json:"id"`
	UserID        uuid.UUID    `gorm:"type:uuid;index;not null"        json:"user_id"`
	OrderedAt     time.Time    `gorm:"not null;index"                  json:"ordered_at"`
	Status        OrderStatus  `gorm:"type:varchar(16);index;not null" json:"status"`
	SessionID     *string      `gorm:"uniqueIndex"                     json:"session_id,omitempty"`
	PaymentURL    string       `gorm:"type:text"                       json:"-"`
	PaymentMethod string       `json:"payment_method,omitempty"`
	TotalCents    int64        `gorm:"not null"                        json:"total_cents"`
	ResolvedAt    *time.Time   `json:"resolved_at,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
	Keys          []LicenseKey `gorm:"-"                               json:"keys,omitempty"`
}

type Review struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey"                       json:"id"`
	TitleID   uuid.UUID      `gorm:"type:uuid;index;not null"                   json:"title_id"`
	UserID    uuid.UUID      `gorm:"type:uuid;index;not null"                   json:"user_id"`
	Rating    int            `gorm:"not null;check:rating >= 1 AND rating <= 5" json:"rating"`
	Comment   string         `gorm:"type:text"                                  json:"comment"`
	Hidden    bool           `gorm:"not null;default:false"                     json:"hidden"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index"                                      json:"-"`
}

func (t *Title) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (k *LicenseKey) BeforeCreate(tx *gorm.DB) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	if k.State == "" {
		k.State = KeyAvailable
	}
	return nil
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

func (r *Review) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (LicenseKey) TableName() string {
	return "license_keys"
}

func All() []any {
	return []any{&Title{}, &LicenseKey{}, &Order{}, &Review{}}
}
