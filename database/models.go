// Package database persists the history of retraining cycles and publish
// webhook deliveries in PostgreSQL.
//
// The connection pool is opened with lib/pq and handed to GORM, which owns
// the schema (AutoMigrate) and all queries. Data models live in the
// models_pkg package so API handlers can use them without pulling in GORM
// connection management.
package database

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	models "agripredict/database/models_pkg"
	"agripredict/logger"
)

// Database holds the GORM connection.
type Database struct {
	db *gorm.DB
}

// Connect opens the pool and wraps it with GORM
func Connect(ctx context.Context, cfg Config) (*Database, error) {
	conn, err := openPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d, err := FromConn(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

// FromConn wraps an already opened *sql.DB
func FromConn(conn *sql.DB) (*Database, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	logger.Info().Msg("📡 Closing database connection...")
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Data models re-exported for callers of this package.
type TrainingRun = models.TrainingRun
type PublishWebhookLog = models.PublishWebhookLog

// Run outcomes.
const (
	OutcomeSuccess = models.OutcomeSuccess
	OutcomeFailed  = models.OutcomeFailed
)
