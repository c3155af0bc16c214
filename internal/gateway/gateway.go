// Package gateway talks to the external payment processor. The processor owns
// the checkout page; this side only opens sessions and asks how they ended.
package gateway

import "unicode/utf8"

type PaymentStatus string

const (
	StatusPaid    PaymentStatus = "paid"
	StatusUnpaid  PaymentStatus = "unpaid"
	StatusExpired PaymentStatus = "expired"
)

// MaxDescriptionLen bounds the product description shown on the payment page.
const MaxDescriptionLen = 100

type LineItem struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
	ImageRef       string `json:"image_ref,omitempty"`
}

type Session struct {
	ID          string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

type SessionStatus struct {
	Status        PaymentStatus `json:"payment_status"`
	PaymentMethod string        `json:"payment_method,omitempty"`
}

func TruncateDescription(s string) string {
	if utf8.RuneCountInString(s) <= MaxDescriptionLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxDescriptionLen]) + "..."
}
