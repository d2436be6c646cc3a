package audit

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func buildChain(kinds []string) []Entry {
	entries := make([]Entry, len(kinds))
	prev := GenesisHash
	for i, k := range kinds {
		e := Entry{
			Seq: int64(i), Kind: k, WalletID: "w1", AmountUnits: int64(i + 1),
			OccurredAt: time.Unix(int64(i)*60, 0), PrevHash: prev,
		}
		e.Hash = computeHash(prev, e)
		entries[i] = e
		prev = e.Hash
	}
	return entries
}

func TestHashChainLinksSequentially(t *testing.T) {
	entries := buildChain([]string{"reserve", "settle", "refund"})

	assert.Equal(t, GenesisHash, entries[0].PrevHash)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].Hash, entries[i].PrevHash)
	}

	// Recomputing every hash from scratch must reproduce what was stored.
	prev := GenesisHash
	for _, e := range entries {
		assert.Equal(t, e.Hash, computeHash(prev, e))
		prev = e.Hash
	}
}

func TestHashChainDetectsTamperedAmount(t *testing.T) {
	entries := buildChain([]string{"reserve", "settle", "refund"})

	tampered := entries[1]
	tampered.AmountUnits += 1000

	assert.NotEqual(t, tampered.Hash, computeHash(tampered.PrevHash, tampered),
		"mutating any field must invalidate that entry's own hash commitment")

	// And the chain link to the next entry breaks too: the next entry's
	// PrevHash was computed against the untampered hash.
	assert.NotEqual(t, entries[2].PrevHash, computeHash(tampered.PrevHash, tampered))
}

func TestCanonicalBytesDeterministic(t *testing.T) {
	e := Entry{
		Seq: 5, Kind: "transfer_debit", WalletID: "w9", CounterID: "w10",
		AmountUnits: 42, RequestID: "req-1", Reason: "rebalance",
		OccurredAt: time.Unix(100, 0), PrevHash: "abc",
	}
	a := canonicalBytes(e)
	b := canonicalBytes(e)
	assert.Equal(t, a, b, "canonical encoding must be stable across calls for the same entry")
}

// TestProperty_HashChainTamperDetection is spec testable property 3: for
// any prefix of the journal, recomputed hash equals stored hash; mutating
// any entry breaks verification from that entry onward.
func TestProperty_HashChainTamperDetection(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	kindGen := gen.OneConstOf("reserve", "settle", "refund", "transfer_debit", "transfer_credit")

	properties.Property("untampered chain always verifies", prop.ForAll(
		func(kinds []string) bool {
			if len(kinds) == 0 {
				return true
			}
			entries := buildChain(kinds)
			prev := GenesisHash
			for _, e := range entries {
				if computeHash(prev, e) != e.Hash {
					return false
				}
				prev = e.Hash
			}
			return true
		},
		gen.SliceOfN(6, kindGen),
	))

	properties.Property("mutating any single entry breaks its own hash", prop.ForAll(
		func(kinds []string, mutateIdx int, delta int64) bool {
			if len(kinds) == 0 {
				return true
			}
			entries := buildChain(kinds)
			idx := mutateIdx % len(entries)
			if idx < 0 {
				idx += len(entries)
			}
			if delta == 0 {
				delta = 1
			}
			mutated := entries[idx]
			mutated.AmountUnits += delta
			return computeHash(mutated.PrevHash, mutated) != mutated.Hash
		},
		gen.SliceOfN(6, kindGen),
		gen.IntRange(0, 5),
		gen.Int64Range(-1000, 1000),
	))

	properties.TestingRun(t)
}
