package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/AlfredDev/alfred/internal/database"
)

// ErrNotFound is returned when a wallet or reservation lookup misses.
var ErrNotFound = errors.New("wallet: not found")

// ErrInsufficientFunds is returned when a reservation would exceed the
// available balance of the wallet or any ancestor on its path.
var ErrInsufficientFunds = errors.New("wallet: insufficient funds")

// ErrOptimisticLock is returned when a wallet row was modified between
// read and write inside a transaction, signalling the caller should retry.
var ErrOptimisticLock = errors.New("wallet: concurrent modification, retry")

// Store is the gorm-backed persistence layer for wallets, reservations
// and transfer history. It wraps database.PoolManager the same way every
// other relational consumer in this codebase does, rather than holding a
// raw *gorm.DB, so pool health checks and retryable transactions are free.
type Store struct {
	pool *database.PoolManager
}

// NewStore creates a Store and migrates its tables.
func NewStore(pool *database.PoolManager) (*Store, error) {
	if err := pool.DB().AutoMigrate(&Wallet{}, &Reservation{}, &TransferRecord{}); err != nil {
		return nil, fmt.Errorf("wallet: automigrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) getWalletTx(tx *gorm.DB, id string) (*Wallet, error) {
	var w Wallet
	if err := tx.First(&w, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

// GetWallet fetches a wallet by ID outside of any transaction.
func (s *Store) GetWallet(ctx context.Context, id string) (*Wallet, error) {
	return s.getWalletTx(s.pool.DB().WithContext(ctx), id)
}

// Ancestors returns id followed by every ancestor wallet up to the root,
// in child-to-root order. Used to build a reservation's WalletPath.
func (s *Store) Ancestors(ctx context.Context, id string) ([]string, error) {
	var path []string
	cur := id
	for cur != "" {
		w, err := s.GetWallet(ctx, cur)
		if err != nil {
			return nil, err
		}
		path = append(path, w.ID)
		if w.ParentID == nil {
			break
		}
		cur = *w.ParentID
	}
	return path, nil
}

// DefaultCyclePeriod is the billing-cycle length applied to a new wallet
// that doesn't specify its own CyclePeriod.
const DefaultCyclePeriod = 30 * 24 * time.Hour

// CreateWallet inserts a new wallet.
func (s *Store) CreateWallet(ctx context.Context, w *Wallet) error {
	now := time.Now()
	w.CreatedAt, w.UpdatedAt, w.PeriodStartedAt = now, now, now
	if w.CyclePeriod <= 0 {
		w.CyclePeriod = DefaultCyclePeriod
	}
	if w.CycleEnd.IsZero() {
		w.CycleEnd = now.Add(w.CyclePeriod)
	}
	return s.pool.DB().WithContext(ctx).Create(w).Error
}

// reserveTx applies a reservation hold to every wallet on the path inside
// an existing transaction, checking available balance at each level
// (a request must fit under its own AND every ancestor's remaining budget).
func reserveTx(tx *gorm.DB, path []string, amount int64) error {
	for _, id := range path {
		var w Wallet
		if err := tx.Clauses().First(&w, "id = ?", id).Error; err != nil {
			return err
		}
		if w.Available() < amount {
			return ErrInsufficientFunds
		}
		res := tx.Model(&Wallet{}).
			Where("id = ? AND version = ?", id, w.Version).
			Updates(map[string]any{
				"reserved_units": gorm.Expr("reserved_units + ?", amount),
				"version":        gorm.Expr("version + 1"),
				"updated_at":     time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrOptimisticLock
		}
	}
	return nil
}

// releaseTx undoes a reservation hold on every wallet in path, optionally
// also debiting settledAmount from BalanceUnits (a real charge) rather
// than just releasing the hold (a refund).
func releaseTx(tx *gorm.DB, path []string, heldAmount, settledAmount int64) error {
	for _, id := range path {
		updates := map[string]any{
			"reserved_units": gorm.Expr("reserved_units - ?", heldAmount),
			"version":        gorm.Expr("version + 1"),
			"updated_at":     time.Now(),
		}
		if settledAmount != 0 {
			updates["balance_units"] = gorm.Expr("balance_units - ?", settledAmount)
		}
		if err := tx.Model(&Wallet{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
	}
	return nil
}
