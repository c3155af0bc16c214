package service

import (
	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/keyshop/internal/models"
)

var hundred = decimal.NewFromInt(100)

// DiscountedPriceCents applies the title discount and truncates to whole cents.
func DiscountedPriceCents(priceCents int64, discountPercent int) int64 {
	if discountPercent <= 0 {
		return priceCents
	}
	if discountPercent >= 100 {
		return 0
	}
	keep := hundred.Sub(decimal.NewFromInt(int64(discountPercent)))
	return decimal.NewFromInt(priceCents).Mul(keep).Div(hundred).Truncate(0).IntPart()
}

func UnitPrice(t *models.Title) int64 {
	return DiscountedPriceCents(t.PriceCents, t.DiscountPercent)
}
