package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bft-labs/digestship/internal/ports"
)

const spillSuffix = ".pending.json"

// spillFile is the on-disk shape of one table's undelivered digests.
type spillFile struct {
	Table   string    `json:"table"`
	SavedAt time.Time `json:"saved_at"`
	Digests []string  `json:"digests"`
}

// SpillRepository implements ports.PendingRepository with one JSON file per
// table under a directory.
type SpillRepository struct {
	dir string
	now func() time.Time
}

// NewSpillRepository creates a repository rooted at dir. The directory is
// created on first Save.
func NewSpillRepository(dir string) *SpillRepository {
	return &SpillRepository{dir: dir, now: time.Now}
}

// Load returns the digests spilled for table, or nil if there are none.
func (r *SpillRepository) Load(ctx context.Context, table string) ([]string, error) {
	data, err := os.ReadFile(r.Path(table))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var f spillFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.Path(table), err)
	}
	return f.Digests, nil
}

// Save replaces the spill for table atomically. An empty slice removes it.
func (r *SpillRepository) Save(ctx context.Context, table string, digests []string) error {
	path := r.Path(table)
	if len(digests) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(spillFile{
		Table:   table,
		SavedAt: r.now().UTC(),
		Digests: digests,
	}, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file, then rename
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Path returns the spill file path for table.
func (r *SpillRepository) Path(table string) string {
	return filepath.Join(r.dir, table+spillSuffix)
}

var _ ports.PendingRepository = (*SpillRepository)(nil)
