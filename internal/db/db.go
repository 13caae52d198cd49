// internal/db/db.go
package db

import (
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/safarypto/safarypto/internal/logging"
)

const connectAttempts = 30

// Open connects to Postgres with a bounded retry loop (the database may
// still be starting when the service comes up) and applies file migrations.
func Open(databaseURL, migrationsPath string) (*gorm.DB, error) {
	var (
		gdb *gorm.DB
		err error
	)

	for i := 0; i < connectAttempts; i++ {
		gdb, err = gorm.Open(postgres.Open(databaseURL), &gorm.Config{TranslateError: true})
		if err == nil {
			break
		}
		logging.Warn("database connection attempt failed",
			zap.Int("attempt", i+1),
			zap.Int("maxAttempts", connectAttempts),
			zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the database after %d attempts: %w", connectAttempts, err)
	}

	if err := runMigrations(databaseURL, migrationsPath); err != nil {
		return nil, fmt.Errorf("error running migrations: %w", err)
	}

	return gdb, nil
}

func Close(gdb *gorm.DB) error {
	if gdb == nil {
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return fmt.Errorf("error getting sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func runMigrations(databaseURL, migrationsPath string) error {
	logging.Info("running migrations", zap.String("path", migrationsPath))

	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return fmt.Errorf("error initializing migrations: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("error applying migrations: %w", err)
	}

	logging.Info("migrations completed")
	return nil
}
