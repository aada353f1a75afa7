package ports

import (
	"context"

	"github.com/bft-labs/digestship/internal/domain"
)

// DigestStore persists digests into a relational table.
type DigestStore interface {
	// InsertIgnore writes every digest of the batch into table in one statement,
	// silently skipping digests that already exist. It returns the number of rows
	// actually inserted. Failures should be returned as *domain.StoreError.
	InsertIgnore(ctx context.Context, table string, batch *domain.Batch) (int64, error)
}
