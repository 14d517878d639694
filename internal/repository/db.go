package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/castdeck/api/internal/config"
	"github.com/castdeck/api/internal/model"
)

// The partial index is what keeps at most one open entry per layer.
const openLayerIndex = `CREATE UNIQUE INDEX IF NOT EXISTS uq_playout_log_open_layer
	ON playout_log (channel_id, layer_index) WHERE ended_at IS NULL`

// OpenDB opens the log database for the configured driver.
func OpenDB(cfg config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	level := logger.Warn
	if debug {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if cfg.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// Migrate creates the log tables and their indexes.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.PlayoutLogEntry{}, &model.CommandLogEntry{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := db.Exec(openLayerIndex).Error; err != nil {
		return fmt.Errorf("migrate open layer index: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
