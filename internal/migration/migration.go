package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	anomalydomain "github.com/smallbiznis/costwatch/internal/anomaly/domain"
	connectiondomain "github.com/smallbiznis/costwatch/internal/connection/domain"
	costdomain "github.com/smallbiznis/costwatch/internal/cost/domain"
	notificationdomain "github.com/smallbiznis/costwatch/internal/notification/domain"
	"github.com/smallbiznis/costwatch/internal/runlock"
	"github.com/smallbiznis/costwatch/pkg/db"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table the pipeline owns, in creation order.
func Models() []any {
	return []any{
		&connectiondomain.Connection{},
		&costdomain.CostPoint{},
		&anomalydomain.Anomaly{},
		&notificationdomain.Reservation{},
		&notificationdomain.Preference{},
		&runlock.RunLock{},
	}
}

// Bootstrap brings the schema up to date. Postgres runs the embedded SQL
// migrations; sqlite, used for local runs, is auto-migrated from the models.
// Both paths are safe to repeat.
func Bootstrap(conn *gorm.DB, dbType string) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case db.TypeSQLite:
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	default:
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}
}

func RunMigrations(sqlDB *sql.DB) error {
	if sqlDB == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}
