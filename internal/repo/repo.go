package repo

import (
	"gorm.io/gorm"

	"github.com/Skotchmaster/keyshop/internal/models"
)

type GormRepo struct {
	DB *gorm.DB
}

// WithTx returns a repo whose queries run inside tx.
func (r *GormRepo) WithTx(tx *gorm.DB) *GormRepo {
	return &GormRepo{DB: tx}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(models.All()...)
}
