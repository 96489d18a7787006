package models

// PageCacheEntry is a stored gzip snapshot of a scanned page.
// HTMLCompressed holds whatever the ingestion path wrote: raw bytes, hex or base64 text.
// Timestamps are kept as the text the cache database returns.
type PageCacheEntry struct {
	URLHash        string
	URL            string
	Domain         string
	HTMLCompressed any
	FetchedAt      string
	ExpiresAt      string
}
