package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewPageCacheDB_LocalCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page_cache.db")
	db, err := NewPageCacheDB(path, "", zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM page_cache`).Scan(&n))
	assert.Zero(t, n)
}

func TestWithAuthToken(t *testing.T) {
	assert.Equal(t, "libsql://db.turso.io?authToken=tok", withAuthToken("libsql://db.turso.io", "tok"))
	assert.Equal(t, "libsql://db.turso.io?authToken=keep", withAuthToken("libsql://db.turso.io?authToken=keep", "tok"))
	assert.Equal(t, "libsql://db.turso.io", withAuthToken("libsql://db.turso.io", ""))
}
