// Package dbtest opens isolated in-memory sqlite databases carrying the full schema.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/pkg/db"
	"github.com/threadline/shopfront-backend/pkg/db/models"
)

// Open returns a client over a fresh in-memory database migrated with models.Schema.
func Open(t testing.TB) *db.Client {
	t.Helper()
	dsn := "file:shopfront_" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=1"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	// a single connection serialises transactions the way row locks would
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.Schema()...); err != nil {
		t.Fatalf("migrate schema: %v", err)
	}
	return db.NewWithConn(conn)
}
