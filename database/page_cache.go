package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// PageCacheSchema is the page_cache layout written by the scanning pipeline.
// Local databases get it created so development and tests have a table.
const PageCacheSchema = `
CREATE TABLE IF NOT EXISTS page_cache (
	url_hash TEXT NOT NULL,
	url TEXT NOT NULL,
	domain TEXT NOT NULL DEFAULT '',
	html_compressed BLOB,
	fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	expires_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_page_cache_url_hash ON page_cache(url_hash);
CREATE INDEX IF NOT EXISTS idx_page_cache_url ON page_cache(url);
CREATE INDEX IF NOT EXISTS idx_page_cache_domain ON page_cache(domain);
`

// NewPageCacheDB opens the page cache store. libsql:// and wss:// URLs go to
// Turso; anything else is treated as a local SQLite DSN.
func NewPageCacheDB(dbURL, authToken string, log *zap.Logger) (*sql.DB, error) {
	driverName := "sqlite"
	remote := strings.HasPrefix(dbURL, "libsql://") || strings.HasPrefix(dbURL, "wss://") || strings.HasPrefix(dbURL, "https://")
	if remote {
		driverName = "libsql"
		dbURL = withAuthToken(dbURL, authToken)
	}

	db, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, fmt.Errorf("open page cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping page cache database: %w", err)
	}

	if !remote {
		if _, err := db.Exec(PageCacheSchema); err != nil {
			db.Close()
			return nil, fmt.Errorf("create page cache schema: %w", err)
		}
	}

	log.Info("Connected to page cache database", zap.String("driver", driverName))
	return db, nil
}

func withAuthToken(dbURL, token string) string {
	if token == "" {
		return dbURL
	}
	u, err := url.Parse(dbURL)
	if err != nil {
		return dbURL
	}
	q := u.Query()
	if q.Get("authToken") == "" {
		q.Set("authToken", token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
