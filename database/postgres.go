package database

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// DBClient wraps the relational system of record.
type DBClient struct {
	DB  *sqlx.DB
	log *zap.Logger
}

// NewPostgresDB opens and pings the PostgreSQL database at dbURL.
func NewPostgresDB(dbURL string, log *zap.Logger) (*DBClient, error) {
	db, err := sqlx.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("error opening database connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database (ping failed): %w", err)
	}

	log.Info("Connected to PostgreSQL")
	return &DBClient{DB: db, log: log}, nil
}

func (c *DBClient) Close() {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.log.Error("Error closing database connection", zap.Error(err))
		} else {
			c.log.Info("PostgreSQL connection closed")
		}
	}
}
