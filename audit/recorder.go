package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AlfredDev/alfred/wallet"
)

// Recorder is the single writer for the audit chain: Seq assignment and
// Hash computation must happen in one serialized place or two concurrent
// writers could both compute a hash over the same PrevHash and fork the
// chain. It batches entries in memory and flushes them to Store on an
// interval or when the batch fills, trading a small durability window
// (entries not yet flushed are lost on crash) for not making every wallet
// operation wait on a Mongo round-trip — the same tradeoff the reference
// metering logger makes for its own high-volume usage events.
type Recorder struct {
	store *Store
	log   *zap.Logger

	mu       sync.Mutex
	nextSeq  int64
	lastHash string

	pending chan Entry
	done    chan struct{}
}

// NewRecorder creates a Recorder resuming from store's current chain tip.
func NewRecorder(ctx context.Context, store *Store, logger *zap.Logger) (*Recorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		store:    store,
		log:      logger,
		lastHash: GenesisHash,
		pending:  make(chan Entry, 4096),
		done:     make(chan struct{}),
	}
	if last, ok, err := store.LastEntry(ctx); err != nil {
		return nil, err
	} else if ok {
		r.nextSeq = last.Seq + 1
		r.lastHash = last.Hash
	}
	return r, nil
}

// Record implements wallet.Journal. It assigns Seq/Hash synchronously
// (cheap, in-memory) and hands the finished entry to the async flush loop.
func (r *Recorder) Record(ctx context.Context, je wallet.JournalEntry) error {
	r.mu.Lock()
	e := Entry{
		Seq: r.nextSeq, Kind: je.Kind, WalletID: je.WalletID, CounterID: je.CounterID,
		AmountUnits: je.AmountUnits, RequestID: je.RequestID, Reason: je.Reason,
		OccurredAt: je.OccurredAt, PrevHash: r.lastHash,
	}
	e.Hash = computeHash(r.lastHash, e)
	r.nextSeq++
	r.lastHash = e.Hash
	r.mu.Unlock()

	select {
	case r.pending <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the batch-flush loop until ctx is cancelled. One Recorder,
// one Run goroutine: this is what makes Recorder the single writer.
func (r *Recorder) Run(ctx context.Context, flushInterval time.Duration, maxBatch int) {
	defer close(r.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, maxBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.store.AppendBatch(context.Background(), batch); err != nil {
			r.log.Error("audit: batch flush failed", zap.Error(err), zap.Int("batch_size", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Drain whatever is already queued before exiting.
			for {
				select {
				case e := <-r.pending:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-r.pending:
			batch = append(batch, e)
			if len(batch) >= maxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Wait blocks until Run has drained its queue and exited, which happens
// once the context passed to Run is cancelled.
func (r *Recorder) Wait() { <-r.done }
