package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"webability/analytics/config"
)

// ClickHouseClient wraps the columnar analytics store.
type ClickHouseClient struct {
	Conn driver.Conn
	log  *zap.Logger
}

// NewClickHouseDB connects over the native protocol and pings the server.
func NewClickHouseDB(cfg config.ClickHouseConfig, log *zap.Logger) (*ClickHouseClient, error) {
	options := &clickhouse.Options{
		Addr: []string{cfg.Addr()},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "webability-api", Version: "1.0.0"}},
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: time.Second * 5,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse via Native TCP: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Info("Connected to ClickHouse", zap.String("addr", cfg.Addr()), zap.String("database", cfg.Database))
	return &ClickHouseClient{Conn: conn, log: log}, nil
}

// clickHouseSchema creates the analytics tables. unique_visitors collapses
// rows with the same (site_id, ip_address), so racing inserts of the same
// visitor converge to one row after merges; reads use FINAL.
var clickHouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS impressions (
		id Int64,
		site_id Int64,
		visitor_id Int64,
		widget_opened UInt8 DEFAULT 0,
		widget_closed UInt8 DEFAULT 0,
		created_at DateTime('UTC'),
		profileCounts Nullable(String)
	) ENGINE = MergeTree
	ORDER BY (site_id, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS unique_visitors (
		id Int64,
		site_id Int64,
		ip_address String,
		city String DEFAULT '',
		country String DEFAULT '',
		zipcode String DEFAULT '',
		continent String DEFAULT '',
		first_visit DateTime('UTC')
	) ENGINE = ReplacingMergeTree
	ORDER BY (site_id, ip_address)`,
}

// EnsureSchema creates the analytics tables when they are missing.
func (c *ClickHouseClient) EnsureSchema(ctx context.Context) error {
	for _, ddl := range clickHouseSchema {
		if err := c.Conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to apply ClickHouse schema: %w", err)
		}
	}
	return nil
}

func (c *ClickHouseClient) Close() {
	if c.Conn != nil {
		if err := c.Conn.Close(); err != nil {
			c.log.Error("Error closing ClickHouse connection", zap.Error(err))
			return
		}
		c.log.Info("ClickHouse connection closed")
	}
}
