package domain

// Batch is a snapshot of pending digests written to the store in one statement.
// It maintains the invariant that Digests holds distinct, trimmed, non-empty values.
type Batch struct {
	// Digests in first-seen order
	Digests []Digest
}

// NewBatch builds a batch from raw values, trimming them and dropping blanks
// and duplicates.
func NewBatch(values []string) *Batch {
	seen := make(map[Digest]struct{}, len(values))
	out := make([]Digest, 0, len(values))
	for _, v := range values {
		d, ok := NormalizeDigest(v)
		if !ok {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return &Batch{Digests: out}
}

// Size returns the number of digests in the batch.
func (b *Batch) Size() int {
	return len(b.Digests)
}

// Empty returns true if the batch has no digests.
func (b *Batch) Empty() bool {
	return len(b.Digests) == 0
}
