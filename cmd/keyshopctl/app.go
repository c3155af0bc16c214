package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/viper"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Skotchmaster/keyshop/internal/repo"
	"github.com/Skotchmaster/keyshop/internal/service"
	pkgconfig "github.com/Skotchmaster/keyshop/pkg/config"
	pkgdb "github.com/Skotchmaster/keyshop/pkg/db"
	"github.com/Skotchmaster/keyshop/pkg/logging"
)

// app is the set of services one command runs against.
type app struct {
	db      *gorm.DB
	keys    *service.KeyStore
	orders  *service.OrderService
	ratings *service.RatingAggregator
}

func openApp(ctx context.Context, v *viper.Viper) (context.Context, *app, error) {
	l := logging.NewWithWriter(os.Stderr, v.GetString("LOG_LEVEL"))
	ctx = logging.IntoContext(ctx, l)

	db, err := openDB(ctx, v)
	if err != nil {
		return ctx, nil, err
	}
	if err := repo.Migrate(db); err != nil {
		_ = pkgdb.Close(db)
		return ctx, nil, fmt.Errorf("migrate: %w", err)
	}

	r := &repo.GormRepo{DB: db}
	keys := service.NewKeyStore(r)
	return ctx, &app{
		db:      db,
		keys:    keys,
		orders:  service.NewOrderService(r, keys, nil),
		ratings: &service.RatingAggregator{Repo: r},
	}, nil
}

func (a *app) Close() {
	_ = pkgdb.Close(a.db)
}

func openDB(ctx context.Context, v *viper.Viper) (*gorm.DB, error) {
	if path := v.GetString("SQLITE_PATH"); path != "" {
		db, err := gorm.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)"), &gorm.Config{
			Logger:  logger.Default.LogMode(logger.Silent),
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", path, err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}

	dsn := v.GetString("DATABASE_URL")
	pkgconfig.MustNonEmpty(dsn, "DATABASE_URL")

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return pkgdb.Open(openCtx, dsn, v.GetString("DATABASE_DRIVER"))
}
