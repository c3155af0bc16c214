package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/keyshop/internal/models"
	"github.com/Skotchmaster/keyshop/internal/repo"
	"github.com/Skotchmaster/keyshop/internal/util"
	"github.com/Skotchmaster/keyshop/pkg/logging"
)

// KeyStore is the only writer of license key state. Every transition runs in
// a transaction against locked rows; see repo.ClaimAvailableKey for how
// concurrent reservations of one pool are kept exclusive.
type KeyStore struct {
	Repo *repo.GormRepo
	Now  func() time.Time
}

func NewKeyStore(r *repo.GormRepo) *KeyStore {
	return &KeyStore{Repo: r, Now: func() time.Time { return time.Now().UTC() }}
}

// WithTx binds the store to an enclosing transaction. Its own transactions
// become savepoints of tx.
func (s *KeyStore) WithTx(tx *gorm.DB) *KeyStore {
	return &KeyStore{Repo: s.Repo.WithTx(tx), Now: s.Now}
}

func (s *KeyStore) Reserve(ctx context.Context, titleID, platformID, orderID uuid.UUID, priceCents int64) (*models.LicenseKey, error) {
	l := logging.FromContext(ctx).With("svc", "keystore.reserve")

	var key *models.LicenseKey
	err := s.Repo.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		k, err := s.Repo.WithTx(tx).ClaimAvailableKey(ctx, titleID, platformID, orderID, priceCents, s.Now())
		if err != nil {
			return err
		}
		key = k
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			l.Info("reserve_out_of_stock", "title_id", titleID, "platform_id", platformID, "order_id", orderID)
			return nil, fmt.Errorf("%w: title %s platform %s", ErrOutOfStock, titleID, platformID)
		}
		l.Error("reserve_error", "reason", "cannot claim key", "error", err)
		return nil, err
	}

	l.Debug("reserve_success", "key_id", key.ID, "order_id", orderID)
	return key, nil
}

// Commit marks every key held by the order SOLD and returns them.
func (s *KeyStore) Commit(ctx context.Context, orderID uuid.UUID) ([]models.LicenseKey, error) {
	l := logging.FromContext(ctx).With("svc", "keystore.commit", "order_id", orderID)

	var keys []models.LicenseKey
	err := s.Repo.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.Repo.WithTx(tx)

		held, err := r.KeysByOrder(ctx, orderID, true)
		if err != nil {
			return err
		}
		if len(held) == 0 {
			return fmt.Errorf("%w: order %s holds no keys", ErrInvalidKeyTransition, orderID)
		}
		if err := checkTransition(held, models.KeySold); err != nil {
			return err
		}

		now := s.Now()
		n, err := r.MarkKeysSold(ctx, orderID, now)
		if err != nil {
			return err
		}
		if n != int64(len(held)) {
			return fmt.Errorf("%w: sold %d of %d keys for order %s", ErrInvalidKeyTransition, n, len(held), orderID)
		}

		for i := range held {
			held[i].State = models.KeySold
			held[i].SoldAt = &now
			held[i].Version++
		}
		keys = held
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidKeyTransition) {
			l.Error("commit_inconsistent", "reason", "held keys not all reserved", "error", err)
		} else {
			l.Error("commit_error", "error", err)
		}
		return nil, err
	}

	l.Info("commit_success", "keys", len(keys))
	return keys, nil
}

// Release returns the order's RESERVED keys to the pool and returns them as
// they were before release. An order that holds nothing is a no-op; an order
// holding a SOLD key is refused, SOLD never goes back to stock.
func (s *KeyStore) Release(ctx context.Context, orderID uuid.UUID) ([]models.LicenseKey, error) {
	l := logging.FromContext(ctx).With("svc", "keystore.release", "order_id", orderID)

	var released []models.LicenseKey
	err := s.Repo.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.Repo.WithTx(tx)

		held, err := r.KeysByOrder(ctx, orderID, true)
		if err != nil {
			return err
		}
		if len(held) == 0 {
			return nil
		}
		if err := checkTransition(held, models.KeyAvailable); err != nil {
			return err
		}

		n, err := r.MarkKeysAvailable(ctx, orderID)
		if err != nil {
			return err
		}
		if n != int64(len(held)) {
			return fmt.Errorf("%w: released %d of %d keys for order %s", ErrInvalidKeyTransition, n, len(held), orderID)
		}
		released = held
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidKeyTransition) {
			l.Error("release_inconsistent", "error", err)
		} else {
			l.Error("release_error", "error", err)
		}
		return nil, err
	}

	if len(released) > 0 {
		l.Info("release_success", "keys", len(released))
	}
	return released, nil
}

func (s *KeyStore) AvailableCount(ctx context.Context, titleID, platformID uuid.UUID) (int64, error) {
	return s.Repo.CountAvailable(ctx, titleID, platformID)
}

// List pages through keys matching f, oldest first. Codes are included.
func (s *KeyStore) List(ctx context.Context, f repo.KeyFilter, page, size int) (int64, []models.LicenseKey, error) {
	if f.State != "" && !f.State.Valid() {
		return 0, nil, fmt.Errorf("%w: unknown key state %q", ErrValidation, f.State)
	}
	offset, limit := util.Calculate(page, size)
	return s.Repo.ListKeys(ctx, f, limit, offset)
}

func (s *KeyStore) OrderKeys(ctx context.Context, orderID uuid.UUID) ([]models.LicenseKey, error) {
	return s.Repo.KeysByOrder(ctx, orderID, false)
}

// Import adds codes to the (title, platform) pool as AVAILABLE keys.
func (s *KeyStore) Import(ctx context.Context, titleID, platformID uuid.UUID, codes []string) (int, error) {
	l := logging.FromContext(ctx).With("svc", "keystore.import", "title_id", titleID, "platform_id", platformID)

	if titleID == uuid.Nil || platformID == uuid.Nil {
		return 0, fmt.Errorf("%w: title_id and platform_id required", ErrValidation)
	}
	clean, err := normalizeCodes(codes)
	if err != nil {
		return 0, err
	}

	err = s.Repo.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.Repo.WithTx(tx)

		if _, err := r.GetTitle(ctx, titleID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: title %s", ErrNotFound, titleID)
			}
			return err
		}

		n, err := r.CountExistingCodes(ctx, clean)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %d codes already stored", ErrConflict, n)
		}

		keys := make([]models.LicenseKey, 0, len(clean))
		for _, code := range clean {
			keys = append(keys, models.LicenseKey{
				Code:       code,
				TitleID:    titleID,
				PlatformID: platformID,
				State:      models.KeyAvailable,
			})
		}
		return r.CreateKeys(ctx, keys)
	})
	if err != nil {
		l.Warn("import_error", "error", err)
		return 0, err
	}

	l.Info("import_success", "keys", len(clean))
	return len(clean), nil
}

// Remove deletes a key that is not bound to any order and returns it.
func (s *KeyStore) Remove(ctx context.Context, keyID uuid.UUID) (*models.LicenseKey, error) {
	var removed *models.LicenseKey
	err := s.Repo.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.Repo.WithTx(tx)

		key, err := r.GetKey(ctx, keyID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: key %s", ErrNotFound, keyID)
			}
			return err
		}

		n, err := r.DeleteAvailableKey(ctx, keyID)
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("%w: key %s is %s", ErrInvalidKeyTransition, keyID, key.State)
		}
		removed = key
		return nil
	})
	if err != nil {
		logging.FromContext(ctx).Warn("remove_key_error", "key_id", keyID, "error", err)
		return nil, err
	}
	return removed, nil
}

func checkTransition(keys []models.LicenseKey, to models.KeyState) error {
	for _, k := range keys {
		if !k.State.CanTransition(to) {
			return fmt.Errorf("%w: key %s %s -> %s", ErrInvalidKeyTransition, k.ID, k.State, to)
		}
	}
	return nil
}

func normalizeCodes(codes []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: codes required", ErrValidation)
	}
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, fmt.Errorf("%w: blank code", ErrValidation)
		}
		if _, dup := seen[c]; dup {
			return nil, fmt.Errorf("%w: duplicate code %q", ErrValidation, c)
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}
