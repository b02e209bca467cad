package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	apikeydomain "github.com/smallbiznis/orderguard/internal/apikey/domain"
	"github.com/smallbiznis/orderguard/internal/currency"
	guarddomain "github.com/smallbiznis/orderguard/internal/guard/domain"
	idempotencydomain "github.com/smallbiznis/orderguard/internal/idempotency/domain"
	queuedomain "github.com/smallbiznis/orderguard/internal/queue/domain"
	settingsdomain "github.com/smallbiznis/orderguard/internal/settings/domain"
	statsdomain "github.com/smallbiznis/orderguard/internal/stats/domain"
	subscriptiondomain "github.com/smallbiznis/orderguard/internal/subscription/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table owned by the service. Non-postgres databases
// are migrated from these definitions.
func Models() []interface{} {
	return []interface{}{
		&idempotencydomain.ProcessedEvent{},
		&queuedomain.QueueItem{},
		&guarddomain.Order{},
		&settingsdomain.RiskSettings{},
		&statsdomain.RiskStats{},
		&subscriptiondomain.MerchantSubscription{},
		&apikeydomain.APIKey{},
		&currency.ExchangeRate{},
	}
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
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

	driver, err := postgres.WithInstance(db, &postgres.Config{})
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
	// migrator.Close would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the tables from the gorm models.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
