package pagecache

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"
)

// probe logs what the table holds after a total miss. It never fails the
// lookup: every query error is logged and skipped.
func (e *Engine) probe(ctx context.Context, key Key) {
	fields := []zap.Field{
		zap.String("lookup_key", key.Trimmed),
		zap.String("url_hash", key.URLHash),
		zap.String("domain", key.Domain),
	}

	var total int64
	if err := e.scanOne(ctx, []any{&total}, `SELECT COUNT(*) FROM page_cache`); err == nil {
		fields = append(fields, zap.Int64("total_rows", total))
	}

	if samples, err := e.sampleURLs(ctx, `SELECT url FROM page_cache ORDER BY fetched_at DESC LIMIT 3`); err == nil {
		fields = append(fields, zap.Strings("recent_urls", samples))
	}

	if key.Domain != "" {
		if samples, err := e.sampleURLs(ctx,
			`SELECT url FROM page_cache WHERE domain = ? OR domain = ? ORDER BY fetched_at DESC LIMIT 5`,
			key.Domain, "www."+key.Domain,
		); err == nil {
			fields = append(fields, zap.Strings("domain_urls", samples))
		}
	}

	var (
		byteLen  sql.NullInt64
		blobType sql.NullString
	)
	err := e.scanOne(ctx, []any{&byteLen, &blobType},
		`SELECT length(html_compressed), typeof(html_compressed) FROM page_cache WHERE url = ? LIMIT 1`, key.Trimmed)
	switch {
	case err == nil:
		fields = append(fields, zap.Int64("exact_byte_length", byteLen.Int64), zap.String("exact_storage_type", blobType.String))
	case errors.Is(err, sql.ErrNoRows):
		fields = append(fields, zap.Bool("exact_row", false))
	}

	e.log.Warn("Page cache miss after all strategies", fields...)
}

func (e *Engine) scanOne(ctx context.Context, dest []any, query string, args ...any) error {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		e.log.Debug("Page cache probe query failed", zap.String("query", query), zap.Error(err))
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	if err := rows.Scan(dest...); err != nil {
		e.log.Debug("Page cache probe scan failed", zap.String("query", query), zap.Error(err))
		return err
	}
	return nil
}

func (e *Engine) sampleURLs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		e.log.Debug("Page cache probe query failed", zap.String("query", query), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}
