package wallet

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// JournalEntry is what Manager hands to a Journal after every
// balance-affecting operation. The audit package's Recorder implements
// Journal and hash-chains these entries; wallet depends only on this
// narrow interface to avoid importing audit.
type JournalEntry struct {
	Kind        string // reserve | settle | refund | transfer | rollover | expire
	WalletID    string
	CounterID   string // other wallet in a transfer, empty otherwise
	AmountUnits int64
	RequestID   string
	Reason      string
	OccurredAt  time.Time
}

// Journal records a completed wallet operation for the append-only audit
// trail. Implementations must not block Manager's lock for long: the
// typical implementation enqueues onto an async batch writer.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
}

// Manager is the business-logic layer over Store: it owns per-wallet
// locking, lock ordering for multi-wallet operations, and emits
// JournalEntry records for every state change.
type Manager struct {
	store   *Store
	journal Journal

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewManager creates a Manager over store, recording every operation to
// journal.
func NewManager(store *Store, journal Journal) *Manager {
	return &Manager{store: store, journal: journal, locks: make(map[string]*sync.Mutex)}
}

// lockFor returns (creating if needed) the mutex guarding a single wallet.
// Wallet mutexes are process-local; the optimistic version column in Store
// is what protects against concurrent writers across multiple gateway
// instances.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// lockAll locks every id in sorted order and returns an unlock func. Sorting
// is the deadlock-avoidance discipline: any two operations that need the
// same set of wallets always acquire them in the same order, so Transfer(A,B)
// and Transfer(B,A) racing each other can never deadlock.
func (m *Manager) lockAll(ids ...string) func() {
	unique := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	sorted := make([]string, 0, len(unique))
	for id := range unique {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	locks := make([]*sync.Mutex, len(sorted))
	for i, id := range sorted {
		locks[i] = m.lockFor(id)
	}
	for _, l := range locks {
		l.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

const withTxRetries = 3

func (m *Manager) withRetryingTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 0; attempt < withTxRetries; attempt++ {
		err := m.store.pool.WithTransaction(ctx, fn)
		if err == nil {
			return nil
		}
		if err != ErrOptimisticLock {
			return err
		}
		lastErr = err
		time.Sleep(time.Duration(1<<attempt) * 5 * time.Millisecond)
	}
	return lastErr
}

// Reserve places a hold of amount credit units against walletID and every
// ancestor on its path. The hold expires at ttl if never settled or
// refunded; a background janitor (see Manager.ExpireStale) reclaims it.
func (m *Manager) Reserve(ctx context.Context, walletID string, amount int64, requestID string, ttl time.Duration) (*Reservation, error) {
	path, err := m.store.Ancestors(ctx, walletID)
	if err != nil {
		return nil, err
	}
	unlock := m.lockAll(path...)
	defer unlock()

	res := &Reservation{
		ID:          uuid.NewString(),
		WalletID:    walletID,
		WalletPath:  path,
		AmountUnits: amount,
		Status:      ReservationOpen,
		RequestID:   requestID,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(ttl),
	}

	err = m.withRetryingTx(ctx, func(tx *gorm.DB) error {
		if err := reserveTx(tx, path, amount); err != nil {
			return err
		}
		return tx.Create(res).Error
	})
	if err != nil {
		return nil, err
	}

	m.emit(ctx, JournalEntry{Kind: "reserve", WalletID: walletID, AmountUnits: amount, RequestID: requestID, OccurredAt: res.CreatedAt})
	return res, nil
}

// getOpenReservationTx loads a reservation inside tx and fails unless it is
// still open.
func getOpenReservationTx(tx *gorm.DB, id string) (*Reservation, error) {
	var r Reservation
	if err := tx.First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	if r.Status != ReservationOpen {
		return nil, fmt.Errorf("wallet: reservation %s is not open (status=%s)", id, r.Status)
	}
	return &r, nil
}

// getReservationTx loads a reservation inside tx regardless of its status,
// so callers that must tolerate an already-resolved reservation (Settle,
// Refund) can decide what to do themselves instead of erroring.
func getReservationTx(tx *gorm.DB, id string) (*Reservation, error) {
	var r Reservation
	if err := tx.First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// Settle finalizes a reservation at its true cost, which may be less than
// (refunding the remainder) or equal to the held amount, but never more:
// callers that discover a higher true cost mid-stream must Reserve
// additional headroom before Settle, since settling above the hold would
// let a request exceed its approved budget.
//
// Idempotent on reservationID: a repeat call against a reservation already
// settled, refunded or expired is a no-op success rather than an error,
// since the balance mutation and journal entry for it already happened.
func (m *Manager) Settle(ctx context.Context, reservationID string, actualAmount int64) error {
	var path []string
	var walletID string
	var alreadyResolved bool

	err := m.withRetryingTx(ctx, func(tx *gorm.DB) error {
		r, err := getReservationTx(tx, reservationID)
		if err != nil {
			return err
		}
		if r.Status != ReservationOpen {
			alreadyResolved = true
			return nil
		}
		if actualAmount > r.AmountUnits {
			actualAmount = r.AmountUnits
		}
		path, walletID = r.WalletPath, r.WalletID

		if err := releaseTx(tx, path, r.AmountUnits, actualAmount); err != nil {
			return err
		}
		now := time.Now()
		return tx.Model(&Reservation{}).Where("id = ?", reservationID).Updates(map[string]any{
			"status":        ReservationSettled,
			"settled_units": actualAmount,
			"resolved_at":   &now,
		}).Error
	})
	if err != nil {
		return err
	}
	if alreadyResolved {
		return nil
	}

	m.emit(ctx, JournalEntry{Kind: "settle", WalletID: walletID, AmountUnits: actualAmount, OccurredAt: time.Now()})
	return nil
}

// Refund releases an open reservation's hold in full without charging
// anything, e.g. after a provider call failed before producing any usage.
//
// Idempotent on reservationID: a repeat call against a reservation already
// settled, refunded or expired is a no-op success.
func (m *Manager) Refund(ctx context.Context, reservationID string) error {
	var walletID string
	var held int64
	var alreadyResolved bool

	err := m.withRetryingTx(ctx, func(tx *gorm.DB) error {
		r, err := getReservationTx(tx, reservationID)
		if err != nil {
			return err
		}
		if r.Status != ReservationOpen {
			alreadyResolved = true
			return nil
		}
		walletID, held = r.WalletID, r.AmountUnits

		if err := releaseTx(tx, r.WalletPath, held, 0); err != nil {
			return err
		}
		now := time.Now()
		return tx.Model(&Reservation{}).Where("id = ?", reservationID).Updates(map[string]any{
			"status":      ReservationRefunded,
			"resolved_at": &now,
		}).Error
	})
	if err != nil {
		return err
	}
	if alreadyResolved {
		return nil
	}

	m.emit(ctx, JournalEntry{Kind: "refund", WalletID: walletID, AmountUnits: held, OccurredAt: time.Now()})
	return nil
}

// Transfer atomically moves amount credit units from one wallet directly
// to another (not through their ancestor chains): both wallets are locked
// in sorted-ID order to match lockAll's global ordering discipline.
func (m *Manager) Transfer(ctx context.Context, fromID, toID string, amount int64, reason string) error {
	if fromID == toID {
		return fmt.Errorf("wallet: cannot transfer to self")
	}
	unlock := m.lockAll(fromID, toID)
	defer unlock()

	err := m.withRetryingTx(ctx, func(tx *gorm.DB) error {
		from, err := loadWalletTx(tx, fromID)
		if err != nil {
			return err
		}
		if from.Available() < amount {
			return ErrInsufficientFunds
		}
		if err := tx.Model(&Wallet{}).Where("id = ? AND version = ?", fromID, from.Version).
			Updates(map[string]any{
				"balance_units": gorm.Expr("balance_units - ?", amount),
				"version":       gorm.Expr("version + 1"),
				"updated_at":    time.Now(),
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&Wallet{}).Where("id = ?", toID).
			Updates(map[string]any{
				"balance_units": gorm.Expr("balance_units + ?", amount),
				"version":       gorm.Expr("version + 1"),
				"updated_at":    time.Now(),
			}).Error; err != nil {
			return err
		}
		return tx.Create(&TransferRecord{
			ID: uuid.NewString(), FromWallet: fromID, ToWallet: toID,
			AmountUnits: amount, Reason: reason, CreatedAt: time.Now(),
		}).Error
	})
	if err != nil {
		return err
	}

	m.emit(ctx, JournalEntry{Kind: "transfer", WalletID: fromID, CounterID: toID, AmountUnits: amount, Reason: reason, OccurredAt: time.Now()})
	return nil
}

// Rollover applies a wallet's RolloverPolicy at period boundary: resets,
// carries forward uncapped, or carries forward up to CarryCapUnits. It also
// advances the wallet's CycleEnd by its CyclePeriod so the next sweep
// doesn't re-fire on the same wallet immediately.
func (m *Manager) Rollover(ctx context.Context, walletID string) error {
	unlock := m.lockAll(walletID)
	defer unlock()

	var newBalance int64
	err := m.withRetryingTx(ctx, func(tx *gorm.DB) error {
		w, err := loadWalletTx(tx, walletID)
		if err != nil {
			return err
		}
		unspent := w.BalanceUnits
		switch w.RolloverPolicy {
		case RolloverCarry:
			newBalance = w.AllowanceUnits + unspent
		case RolloverCappedCarry:
			carry := unspent
			if carry > w.CarryCapUnits {
				carry = w.CarryCapUnits
			}
			newBalance = w.AllowanceUnits + carry
		default: // RolloverNone
			newBalance = w.AllowanceUnits
		}

		period := w.CyclePeriod
		if period <= 0 {
			period = DefaultCyclePeriod
		}
		now := time.Now()

		return tx.Model(&Wallet{}).Where("id = ? AND version = ?", walletID, w.Version).Updates(map[string]any{
			"balance_units":     newBalance,
			"period_started_at": now,
			"cycle_end":         now.Add(period),
			"version":           gorm.Expr("version + 1"),
			"updated_at":        now,
		}).Error
	})
	if err != nil {
		return err
	}

	m.emit(ctx, JournalEntry{Kind: "rollover", WalletID: walletID, AmountUnits: newBalance, OccurredAt: time.Now()})
	return nil
}

// DueForRollover returns IDs of wallets whose CycleEnd has passed and that
// are configured for rollover handling (even RolloverNone wallets still
// need their period reset and CycleEnd advanced at the boundary).
func (s *Store) DueForRollover(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := s.pool.DB().WithContext(ctx).Model(&Wallet{}).
		Where("cycle_end <= ? AND cycle_end > ?", now, time.Time{}).
		Pluck("id", &ids).Error
	return ids, err
}

// RunRollover polls DueForRollover on interval until ctx is cancelled,
// applying each due wallet's RolloverPolicy and advancing its cycle.
func RunRollover(ctx context.Context, m *Manager, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := m.store.DueForRollover(ctx, time.Now())
			if err != nil {
				logger.Warn("wallet rollover sweep query failed", zap.Error(err))
				continue
			}
			for _, id := range ids {
				if err := m.Rollover(ctx, id); err != nil {
					logger.Warn("wallet rollover failed", zap.String("wallet_id", id), zap.Error(err))
				}
			}
			if len(ids) > 0 {
				logger.Info("wallet rollover swept wallets", zap.Int("count", len(ids)))
			}
		}
	}
}

// loadWalletTx is a package-private alias kept distinct from
// Store.getWalletTx so Manager can load a wallet row inside its own
// transaction without re-exporting Store's unexported helper.
func loadWalletTx(tx *gorm.DB, id string) (*Wallet, error) {
	var w Wallet
	if err := tx.First(&w, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (m *Manager) emit(ctx context.Context, e JournalEntry) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Record(ctx, e); err != nil {
		// Journal failures must never roll back a committed financial
		// transaction; the audit trail is best-effort durability on top
		// of balances that are already correct.
		_ = err
	}
}
