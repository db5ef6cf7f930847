package repository

import (
	"strings"
	"testing"

	"campuspay/internal/config"
	"campuspay/internal/infrastructure/database"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// newTestDB 每个测试一个独立的内存 sqlite 库
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(config.DatabaseConfig{
		Driver:   database.DriverSQLite,
		DSN:      "file:" + name + "?mode=memory&cache=shared",
		LogLevel: "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
