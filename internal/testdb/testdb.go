// Package testdb opens a migrated SQLite database for package tests.
package testdb

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Skotchmaster/keyshop/internal/repo"
)

var seq atomic.Int64

// Open returns a fresh in-memory database private to t. A single connection is
// shared by the pool so concurrent transactions queue on it instead of failing
// with SQLITE_BUSY; row locks are a no-op on SQLite and the conditional updates
// in the repo carry exclusivity on their own.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	return open(t, fmt.Sprintf("file:keyshop_test_%d?mode=memory&cache=shared&_pragma=busy_timeout(5000)", seq.Add(1)))
}

// OpenFile is Open backed by a file in t.TempDir. The data outlives the
// connection, so tests may cancel a transaction's context, which makes
// database/sql drop the connection.
func OpenFile(t testing.TB) *gorm.DB {
	t.Helper()
	return open(t, filepath.Join(t.TempDir(), "keyshop.db")+"?_pragma=busy_timeout(5000)")
}

func open(t testing.TB, dsn string) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect to test db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := repo.Migrate(db); err != nil {
		t.Fatalf("failed to migrate tables: %v", err)
	}

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}
