// Package pagecache retrieves gzip-compressed HTML snapshots written by the
// scanning pipeline. Keys in page_cache are loose, so a lookup walks an
// ordered list of matching strategies until a row decodes to valid gzip.
package pagecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"webability/analytics/metrics"
	"webability/analytics/models"
)

// ErrNotFound is returned when no strategy yields a usable payload.
var ErrNotFound = errors.New("page html not found in cache")

// DecompressError reports a row that had the gzip magic but a corrupt stream.
type DecompressError struct {
	Strategy string
	URL      string
	Err      error
}

func (e *DecompressError) Error() string {
	return fmt.Sprintf("decompress page cache row for %s (strategy %s): %v", e.URL, e.Strategy, e.Err)
}

func (e *DecompressError) Unwrap() error { return e.Err }

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const defaultCandidateLimit = 5

const selectEntry = `SELECT rowid, url_hash, url, domain, html_compressed, fetched_at, expires_at FROM page_cache WHERE `

// Engine looks up page HTML in the page_cache table.
type Engine struct {
	db             Querier
	strategies     []Strategy
	cache          HTMLCache
	log            *zap.Logger
	metrics        *metrics.Metrics
	candidateLimit int
	maxHTMLBytes   int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTMLCache memoizes decoded HTML in front of the database.
func WithHTMLCache(c HTMLCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithStrategies replaces the default strategy order.
func WithStrategies(s []Strategy) Option {
	return func(e *Engine) { e.strategies = s }
}

// WithMaxHTMLBytes caps the inflated size of a cached page.
func WithMaxHTMLBytes(n int64) Option {
	return func(e *Engine) { e.maxHTMLBytes = n }
}

// WithMetrics counts lookup outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(db Querier, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		db:             db,
		strategies:     DefaultStrategies(),
		log:            log.With(zap.String("component", "page_cache")),
		candidateLimit: defaultCandidateLimit,
		maxHTMLBytes:   MaxHTMLBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetPageHTML returns the decompressed HTML cached for url. urlHash is
// optional. A miss, including store errors along the way, is ErrNotFound;
// a corrupt or oversized gzip stream is a *DecompressError.
func (e *Engine) GetPageHTML(ctx context.Context, url, urlHash string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", ErrNotFound
	}
	key := NewKey(url, urlHash)
	memoKey := key.Trimmed + "|" + key.URLHash

	if e.cache != nil {
		html, ok, err := e.cache.Get(ctx, memoKey)
		if err != nil {
			e.log.Warn("Page HTML cache read failed", zap.String("url", key.Trimmed), zap.Error(err))
		} else if ok {
			e.observe("memo")
			return html, nil
		}
	}

	rejected := make(map[int64]struct{})
	for _, strategy := range e.strategies {
		where, args, ok := strategy.Build(key)
		if !ok {
			continue
		}
		entries, err := e.candidates(ctx, where, args)
		if err != nil {
			e.log.Warn("Page cache strategy query failed",
				zap.String("strategy", strategy.Name),
				zap.String("url", key.Trimmed),
				zap.Error(err),
			)
			continue
		}

		for _, c := range entries {
			if _, seen := rejected[c.rowID]; seen {
				continue
			}
			buf, kind, err := DecodePayload(c.entry.HTMLCompressed)
			if err != nil {
				rejected[c.rowID] = struct{}{}
				e.log.Warn("Page cache row has no valid gzip payload",
					zap.String("strategy", strategy.Name),
					zap.String("lookup_key", key.Trimmed),
					zap.String("row_url", c.entry.URL),
					zap.Int("byte_length", payloadLen(c.entry.HTMLCompressed)),
					zap.Stringer("encoding", kind),
					zap.Error(err),
				)
				continue
			}

			html, err := decompressLimit(buf, e.maxHTMLBytes)
			if err != nil {
				e.observe("corrupt")
				e.log.Error("Page cache row failed to decompress",
					zap.String("strategy", strategy.Name),
					zap.String("lookup_key", key.Trimmed),
					zap.Int("byte_length", len(buf)),
					zap.Error(err),
				)
				return "", &DecompressError{Strategy: strategy.Name, URL: key.Trimmed, Err: err}
			}

			e.observe(strategy.Name)
			e.log.Debug("Page cache hit",
				zap.String("strategy", strategy.Name),
				zap.String("lookup_key", key.Trimmed),
				zap.String("row_url", c.entry.URL),
				zap.Stringer("encoding", kind),
			)
			if e.cache != nil {
				if err := e.cache.Set(ctx, memoKey, html); err != nil {
					e.log.Warn("Page HTML cache write failed", zap.String("url", key.Trimmed), zap.Error(err))
				}
			}
			return html, nil
		}
	}

	e.observe("miss")
	e.probe(ctx, key)
	return "", ErrNotFound
}

type candidate struct {
	rowID int64
	entry models.PageCacheEntry
}

func (e *Engine) candidates(ctx context.Context, where string, args []any) ([]candidate, error) {
	query := selectEntry + where + ` ORDER BY fetched_at DESC LIMIT ?`
	rows, err := e.db.QueryContext(ctx, query, append(args, e.candidateLimit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var (
			c                  candidate
			hash, dom          sql.NullString
			fetched, expiresAt sql.NullString
		)
		if err := rows.Scan(&c.rowID, &hash, &c.entry.URL, &dom, &c.entry.HTMLCompressed, &fetched, &expiresAt); err != nil {
			return nil, err
		}
		c.entry.URLHash = hash.String
		c.entry.Domain = dom.String
		c.entry.FetchedAt = fetched.String
		c.entry.ExpiresAt = expiresAt.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func (e *Engine) observe(outcome string) {
	if e.metrics != nil {
		e.metrics.PageCacheLookups.WithLabelValues(outcome).Inc()
	}
}

func payloadLen(raw any) int {
	switch v := raw.(type) {
	case []byte:
		return len(v)
	case string:
		return len(v)
	default:
		return 0
	}
}
