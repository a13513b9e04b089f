package storage

import (
	"fmt"
	"time"

	"github.com/averix/toolgate/internal/config"
	"github.com/averix/toolgate/internal/models"
	"golang.org/x/net/context"
	"gorm.io/gorm"
)

type Database struct {
	DB     *gorm.DB
	driver string
}

// Open connects to the configured database. Postgres for real
// deployments, sqlite for local development and the dev stack.
func Open(cfg *config.DatabaseConfig) (*Database, error) {
	var (
		db  *gorm.DB
		err error
	)

	switch cfg.Driver {
	case "postgres":
		db, err = openPostgres(cfg.DSN())
	case "sqlite":
		db, err = openSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)

	return &Database{DB: db, driver: cfg.Driver}, nil
}

// Driver returns the driver name the connection was opened with
func (d *Database) Driver() string {
	return d.driver
}

func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.PingContext(ctx)
}

func (d *Database) AutoMigrate() error {
	return d.DB.AutoMigrate(
		&models.User{},
		&models.ServiceToken{},
		&models.ToolOverride{},
		&models.UsageRecord{},
	)
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

func (d *Database) Transaction(fn func(*gorm.DB) error) error {
	return d.DB.Transaction(fn)
}
