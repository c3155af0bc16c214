package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/keyshop/internal/models"
)

func (r *GormRepo) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.DB.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *GormRepo) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *GormRepo) GetOrderBySession(ctx context.Context, sessionID string) (*models.Order, error) {
	var order models.Order
	if err := r.DB.WithContext(ctx).Where("session_id = ?", sessionID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// AttachSession records the gateway session and its payment page on a still
// PENDING order.
func (r *GormRepo) AttachSession(ctx context.Context, id uuid.UUID, sessionID, paymentURL string) (bool, error) {
	res := r.DB.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, models.OrderPending).
		Updates(map[string]any{"session_id": sessionID, "payment_url": paymentURL})
	return res.RowsAffected == 1, res.Error
}

// TransitionOrder moves the order from -> to only if it is still in from.
// The boolean is false when another writer got there first.
func (r *GormRepo) TransitionOrder(ctx context.Context, id uuid.UUID, from, to models.OrderStatus, paymentMethod string, now time.Time) (bool, error) {
	updates := map[string]any{
		"status":      to,
		"resolved_at": now,
	}
	if paymentMethod != "" {
		updates["payment_method"] = paymentMethod
	}

	res := r.DB.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *GormRepo) ListOrders(ctx context.Context, userID uuid.UUID, limit, offset int) (int64, []models.Order, error) {
	query := func() *gorm.DB {
		return r.DB.WithContext(ctx).Model(&models.Order{}).Where("user_id = ?", userID)
	}

	var total int64
	if err := query().Count(&total).Error; err != nil {
		return 0, nil, err
	}

	var orders []models.Order
	if err := query().Order("ordered_at DESC").Limit(limit).Offset(offset).Find(&orders).Error; err != nil {
		return 0, nil, err
	}
	return total, orders, nil
}

// StalePendingOrders returns ids of PENDING orders placed before the cutoff.
func (r *GormRepo) StalePendingOrders(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.DB.WithContext(ctx).
		Model(&models.Order{}).
		Where("status = ? AND ordered_at < ?", models.OrderPending, before).
		Order("ordered_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

type OrderFilter struct {
	Status models.OrderStatus
	UserID uuid.UUID
}

// ListAllOrders pages through every order matching f, newest first.
func (r *GormRepo) ListAllOrders(ctx context.Context, f OrderFilter, limit, offset int) (int64, []models.Order, error) {
	query := func() *gorm.DB {
		q := r.DB.WithContext(ctx).Model(&models.Order{})
		if f.Status != "" {
			q = q.Where("status = ?", f.Status)
		}
		if f.UserID != uuid.Nil {
			q = q.Where("user_id = ?", f.UserID)
		}
		return q
	}

	var total int64
	if err := query().Count(&total).Error; err != nil {
		return 0, nil, err
	}

	var orders []models.Order
	if err := query().Order("ordered_at DESC").Order("id ASC").Limit(limit).Offset(offset).Find(&orders).Error; err != nil {
		return 0, nil, err
	}
	return total, orders, nil
}
