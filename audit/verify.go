package audit

import (
	"context"
	"fmt"
)

// Discrepancy describes one point where the stored chain fails to match
// its own hash commitments.
type Discrepancy struct {
	Seq    int64
	Reason string
}

// Verify walks the entire journal in Seq order, recomputing each entry's
// Hash from its PrevHash and content and comparing it against what is
// stored. Any mismatch, gap, or broken link is reported as a Discrepancy;
// a nil/empty return means the chain is intact from genesis to tip.
func Verify(ctx context.Context, store *Store) ([]Discrepancy, error) {
	total, err := store.Count(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	const pageSize = 1000
	var discrepancies []Discrepancy
	prevHash := GenesisHash
	wantSeq := int64(0)

	for from := int64(0); from < total+pageSize; from += pageSize {
		entries, err := store.Range(ctx, from, from+pageSize)
		if err != nil {
			return nil, fmt.Errorf("audit: verify range [%d,%d): %w", from, from+pageSize, err)
		}
		for _, e := range entries {
			if e.Seq != wantSeq {
				discrepancies = append(discrepancies, Discrepancy{
					Seq: e.Seq, Reason: fmt.Sprintf("expected seq %d, found %d", wantSeq, e.Seq),
				})
			}
			if e.PrevHash != prevHash {
				discrepancies = append(discrepancies, Discrepancy{
					Seq: e.Seq, Reason: "prev_hash does not match preceding entry's hash",
				})
			}
			if want := computeHash(e.PrevHash, e); want != e.Hash {
				discrepancies = append(discrepancies, Discrepancy{
					Seq: e.Seq, Reason: "stored hash does not match recomputed hash",
				})
			}
			prevHash = e.Hash
			wantSeq = e.Seq + 1
		}
	}
	return discrepancies, nil
}
