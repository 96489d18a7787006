package store

import "errors"

var (
	// ErrVisitorExists reports that (site_id, ip) was already recorded.
	// It is an expected outcome of RecordVisitor, not a failure.
	ErrVisitorExists = errors.New("visitor already exists")
	// ErrNoRowsUpdated reports an update that matched no row.
	ErrNoRowsUpdated = errors.New("no rows were updated")
	// ErrSiteNotFound reports that no monitored site matches a domain.
	ErrSiteNotFound = errors.New("site not found")
)
