package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/keyshop/internal/models"
)

// ClaimAvailableKey moves the first AVAILABLE key of the pair to RESERVED for
// orderID. The candidate row is locked with SKIP LOCKED where the dialect
// supports it and the update is conditional on state and version, so a key
// taken by a concurrent writer between select and update is skipped and the
// next candidate is tried. Returns gorm.ErrRecordNotFound when the pool is empty.
func (r *GormRepo) ClaimAvailableKey(ctx context.Context, titleID, platformID, orderID uuid.UUID, priceCents int64, now time.Time) (*models.LicenseKey, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var cand models.LicenseKey
		err := r.DB.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("title_id = ? AND platform_id = ? AND state = ?", titleID, platformID, models.KeyAvailable).
			Order("created_at ASC").Order("id ASC").
			Take(&cand).Error
		if err != nil {
			return nil, err
		}

		res := r.DB.WithContext(ctx).
			Model(&models.LicenseKey{}).
			Where("id = ? AND state = ? AND version = ?", cand.ID, models.KeyAvailable, cand.Version).
			Updates(map[string]any{
				"state":       models.KeyReserved,
				"order_id":    orderID,
				"price_cents": priceCents,
				"reserved_at": now,
				"version":     gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			cand.State = models.KeyReserved
			cand.OrderID = &orderID
			cand.PriceCents = priceCents
			cand.ReservedAt = &now
			cand.Version++
			return &cand, nil
		}
	}
}

// KeysByOrder returns every key currently bound to orderID. With lock set the
// rows are held FOR UPDATE until the enclosing transaction ends.
func (r *GormRepo) KeysByOrder(ctx context.Context, orderID uuid.UUID, lock bool) ([]models.LicenseKey, error) {
	q := r.DB.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var keys []models.LicenseKey
	if err := q.Where("order_id = ?", orderID).Order("id ASC").Find(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *GormRepo) MarkKeysSold(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).
		Model(&models.LicenseKey{}).
		Where("order_id = ? AND state = ?", orderID, models.KeyReserved).
		Updates(map[string]any{
			"state":   models.KeySold,
			"sold_at": now,
			"version": gorm.Expr("version + 1"),
		})
	return res.RowsAffected, res.Error
}

func (r *GormRepo) MarkKeysAvailable(ctx context.Context, orderID uuid.UUID) (int64, error) {
	res := r.DB.WithContext(ctx).
		Model(&models.LicenseKey{}).
		Where("order_id = ? AND state = ?", orderID, models.KeyReserved).
		Updates(map[string]any{
			"state":       models.KeyAvailable,
			"order_id":    nil,
			"price_cents": 0,
			"reserved_at": nil,
			"version":     gorm.Expr("version + 1"),
		})
	return res.RowsAffected, res.Error
}

func (r *GormRepo) CountAvailable(ctx context.Context, titleID, platformID uuid.UUID) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).
		Model(&models.LicenseKey{}).
		Where("title_id = ? AND platform_id = ? AND state = ?", titleID, platformID, models.KeyAvailable).
		Count(&n).Error
	return n, err
}

func (r *GormRepo) CountExistingCodes(ctx context.Context, codes []string) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).
		Model(&models.LicenseKey{}).
		Where("code IN ?", codes).
		Count(&n).Error
	return n, err
}

func (r *GormRepo) CreateKeys(ctx context.Context, keys []models.LicenseKey) error {
	return r.DB.WithContext(ctx).CreateInBatches(&keys, 200).Error
}

func (r *GormRepo) GetKey(ctx context.Context, id uuid.UUID) (*models.LicenseKey, error) {
	var key models.LicenseKey
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&key).Error; err != nil {
		return nil, err
	}
	return &key, nil
}

// DeleteAvailableKey removes the key only while nobody holds it.
func (r *GormRepo) DeleteAvailableKey(ctx context.Context, id uuid.UUID) (int64, error) {
	res := r.DB.WithContext(ctx).
		Where("id = ? AND state = ?", id, models.KeyAvailable).
		Delete(&models.LicenseKey{})
	return res.RowsAffected, res.Error
}

type KeyFilter struct {
	TitleID    uuid.UUID
	PlatformID uuid.UUID
	State      models.KeyState
	// Search matches a substring of the code or of the title name, ignoring case.
	Search string
}

func (r *GormRepo) ListKeys(ctx context.Context, f KeyFilter, limit, offset int) (int64, []models.LicenseKey, error) {
	query := func() *gorm.DB {
		q := r.DB.WithContext(ctx).Model(&models.LicenseKey{})
		if f.TitleID != uuid.Nil {
			q = q.Where("title_id = ?", f.TitleID)
		}
		if f.PlatformID != uuid.Nil {
			q = q.Where("platform_id = ?", f.PlatformID)
		}
		if f.State != "" {
			q = q.Where("state = ?", f.State)
		}
		if s := strings.TrimSpace(f.Search); s != "" {
			like := "%" + strings.ToLower(s) + "%"
			q = q.Where("(LOWER(code) LIKE ? OR title_id IN (?))", like,
				r.DB.WithContext(ctx).Model(&models.Title{}).Select("id").Where("LOWER(name) LIKE ?", like))
		}
		return q
	}

	var total int64
	if err := query().Count(&total).Error; err != nil {
		return 0, nil, err
	}

	var keys []models.LicenseKey
	if err := query().Order("created_at ASC").Order("id ASC").Limit(limit).Offset(offset).Find(&keys).Error; err != nil {
		return 0, nil, err
	}
	return total, keys, nil
}
