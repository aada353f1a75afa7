package ports

import "context"

// PendingRepository keeps digests that could not be written before shutdown
// so the next run can retry them.
type PendingRepository interface {
	// Load returns the spilled digests for table, or nil and no error if none exist.
	Load(ctx context.Context, table string) ([]string, error)

	// Save replaces the spilled digests for table atomically.
	// Saving an empty slice removes any previous spill.
	Save(ctx context.Context, table string, digests []string) error
}

// RecentSet remembers digests that were already persisted by this process.
type RecentSet interface {
	// Contains reports whether digest was recently persisted.
	Contains(digest string) bool

	// Add records persisted digests.
	Add(digests ...string)
}
