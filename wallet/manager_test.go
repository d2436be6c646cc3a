package wallet

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/AlfredDev/alfred/internal/database"
)

func newTestManager(t *testing.T) (*Manager, *Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	pool, err := database.NewPoolManager(db, database.PoolConfig{MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	store, err := NewStore(pool)
	require.NoError(t, err)

	return NewManager(store, nil), store
}

func createWallet(t *testing.T, store *Store, id string, parent *string, balance int64) *Wallet {
	t.Helper()
	w := &Wallet{ID: id, ParentID: parent, TenantID: "tenant-1", BalanceUnits: balance, AllowanceUnits: balance}
	require.NoError(t, store.CreateWallet(context.Background(), w))
	return w
}

func TestReserveSettleRoundTrip(t *testing.T) {
	mgr, store := newTestManager(t)
	createWallet(t, store, "w1", nil, 100)

	res, err := mgr.Reserve(context.Background(), "w1", 30, "req-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationOpen, res.Status)

	w, err := store.GetWallet(context.Background(), "w1")
	require.NoError(t, err)
	assert.EqualValues(t, 30, w.ReservedUnits)
	assert.EqualValues(t, 100, w.BalanceUnits)
	assert.EqualValues(t, 70, w.Available())

	require.NoError(t, mgr.Settle(context.Background(), res.ID, 20))

	w, err = store.GetWallet(context.Background(), "w1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, w.ReservedUnits)
	assert.EqualValues(t, 80, w.BalanceUnits, "only the settled amount is debited, the unused 10 is released")
}

func TestSettleClampsAboveReservedAmount(t *testing.T) {
	mgr, store := newTestManager(t)
	createWallet(t, store, "w1", nil, 100)

	res, err := mgr.Reserve(context.Background(), "w1", 30, "req-1", time.Minute)
	require.NoError(t, err)

	// Settling for more than was reserved must clamp to the held amount,
	// never letting a request exceed its approved budget.
	require.NoError(t, mgr.Settle(context.Background(), res.ID, 1000))

	w, err := store.GetWallet(context.Background(), "w1")
	require.NoError(t, err)
	assert.EqualValues(t, 70, w.BalanceUnits)
}

func TestSettleIsIdempotent(t *testing.T) {
	mgr, store := newTestManager(t)
	createWallet(t, store, "w1", nil, 100)

	res, err := mgr.Reserve(context.Background(), "w1", 30, "req-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, mgr.Settle(context.Background(), res.ID, 10))

	// A second Settle against an already-settled reservation is a no-op
	// success: it must not post a second debit.
	err = mgr.Settle(context.Background(), res.ID, 10)
	assert.NoError(t, err)

	w, err := store.GetWallet(context.Background(), "w1")
	require.NoError(t, err)
	assert.EqualValues(t, 90, w.BalanceUnits)
}

func TestRefundReleasesFullHold(t *testing.T) {
	mgr, store := newTestManager(t)
	createWallet(t, store, "w1", nil, 100)

	res, err := mgr.Reserve(context.Background(), "w1", 30, "req-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, mgr.Refund(context.Background(), res.ID))

	w, err := store.GetWallet(context.Background(), "w1")
	require.NoError(t, err)
	assert.EqualValues(t, 100, w.BalanceUnits)
	assert.EqualValues(t, 0, w.ReservedUnits)
}

func TestRefundIsIdempotent(t *testing.T) {
	mgr, store := newTestManager(t)
	createWallet(t, store, "w1", nil, 100)

	res, err := mgr.Reserve(context.Background(), "w1", 30, "req-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, mgr.Refund(context.Background(), res.ID))

	// A second Refund against an already-refunded reservation is a no-op
	// success: it must not release the hold twice.
	require.NoError(t, mgr.Refund(context.Background(), res.ID))

	w, err := store.GetWallet(context.Background(), "w1")
	require.NoError(t, err)
	assert.EqualValues(t, 100, w.BalanceUnits)
	assert.EqualValues(t, 0, w.ReservedUnits)
}

func TestReserveInsufficientFunds(t *testing.T) {
	mgr, store := newTestManager(t)
	createWallet(t, store, "w1", nil, 10)

	_, err := mgr.Reserve(context.Background(), "w1", 50, "req-1", time.Minute)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	w, err := store.GetWallet(context.Background(), "w1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, w.ReservedUnits, "a refused reservation must not leave a partial hold")
}

// TestReserveEnforcesAncestorChain verifies spec invariant 4: a child's
// effective cap never exceeds the chain of ancestors' available amounts.
func TestReserveEnforcesAncestorChain(t *testing.T) {
	mgr, store := newTestManager(t)
	org := "org"
	createWallet(t, store, org, nil, 50)
	team := "team"
	createWallet(t, store, team, &org, 1000) // team's own budget is generous

	// The org ancestor only has 50 available, so a 100-unit reservation
	// against the child must fail even though the child's own balance
	// would otherwise cover it.
	_, err := mgr.Reserve(context.Background(), team, 100, "req-1", time.Minute)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	res, err := mgr.Reserve(context.Background(), team, 50, "req-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, mgr.Settle(context.Background(), res.ID, 50))

	orgWallet, err := store.GetWallet(context.Background(), org)
	require.NoError(t, err)
	assert.EqualValues(t, 0, orgWallet.BalanceUnits, "the ancestor is debited on a descendant's settle")
}

// TestReserveConcurrencyOversell is spec testable property 2: with N
// concurrent Reserve(amount) against a wallet with balance B, exactly
// floor(B/amount) succeed and none oversell.
func TestReserveConcurrencyOversell(t *testing.T) {
	mgr, store := newTestManager(t)
	createWallet(t, store, "w1", nil, 100)

	const amount = 7
	const attempts = 40
	want := 100 / amount

	var succeeded int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := mgr.Reserve(context.Background(), "w1", amount, fmt.Sprintf("req-%d", i), time.Minute)
			if err == nil {
				atomic.AddInt64(&succeeded, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, want, succeeded)

	w, err := store.GetWallet(context.Background(), "w1")
	require.NoError(t, err)
	assert.LessOrEqual(t, w.ReservedUnits, w.BalanceUnits, "reserved must never exceed balance")
}

func TestTransferMovesBalanceAtomically(t *testing.T) {
	mgr, store := newTestManager(t)
	createWallet(t, store, "a", nil, 100)
	createWallet(t, store, "b", nil, 0)

	require.NoError(t, mgr.Transfer(context.Background(), "a", "b", 40, "budget reallocation"))

	a, err := store.GetWallet(context.Background(), "a")
	require.NoError(t, err)
	b, err := store.GetWallet(context.Background(), "b")
	require.NoError(t, err)
	assert.EqualValues(t, 60, a.BalanceUnits)
	assert.EqualValues(t, 40, b.BalanceUnits)
}

func TestTransferRejectsSelfTransfer(t *testing.T) {
	mgr, store := newTestManager(t)
	createWallet(t, store, "a", nil, 100)

	err := mgr.Transfer(context.Background(), "a", "a", 10, "noop")
	assert.Error(t, err)
}

func TestTransferInsufficientFunds(t *testing.T) {
	mgr, store := newTestManager(t)
	createWallet(t, store, "a", nil, 10)
	createWallet(t, store, "b", nil, 0)

	err := mgr.Transfer(context.Background(), "a", "b", 50, "too much")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestRolloverPolicies(t *testing.T) {
	cases := []struct {
		name     string
		policy   RolloverPolicy
		balance  int64
		carryCap int64
		allow    int64
		want     int64
	}{
		{"none resets to allowance", RolloverNone, 80, 0, 50, 50},
		{"carry adds uncapped unused balance", RolloverCarry, 80, 0, 50, 130},
		{"capped_carry caps the carried amount", RolloverCappedCarry, 80, 20, 50, 70},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mgr, store := newTestManager(t)
			w := &Wallet{
				ID: "w1", TenantID: "t1", BalanceUnits: tc.balance, AllowanceUnits: tc.allow,
				RolloverPolicy: tc.policy, CarryCapUnits: tc.carryCap,
			}
			require.NoError(t, store.CreateWallet(context.Background(), w))

			require.NoError(t, mgr.Rollover(context.Background(), "w1"))

			got, err := store.GetWallet(context.Background(), "w1")
			require.NoError(t, err)
			assert.EqualValues(t, tc.want, got.BalanceUnits)
		})
	}
}

// fakeJournal records JournalEntry calls for assertion without needing the
// audit package's MongoDB-backed Recorder.
type fakeJournal struct {
	mu      sync.Mutex
	entries []JournalEntry
}

func (f *fakeJournal) Record(ctx context.Context, e JournalEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func TestManagerEmitsJournalEntryPerOperation(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	pool, err := database.NewPoolManager(db, database.PoolConfig{MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	store, err := NewStore(pool)
	require.NoError(t, err)

	journal := &fakeJournal{}
	mgr := NewManager(store, journal)
	createWallet(t, store, "w1", nil, 100)

	res, err := mgr.Reserve(context.Background(), "w1", 30, "req-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, mgr.Settle(context.Background(), res.ID, 20))

	journal.mu.Lock()
	defer journal.mu.Unlock()
	require.Len(t, journal.entries, 2)
	assert.Equal(t, "reserve", journal.entries[0].Kind)
	assert.Equal(t, "settle", journal.entries[1].Kind)
}

func TestExpireStaleReclaimsAbandonedReservations(t *testing.T) {
	mgr, store := newTestManager(t)
	createWallet(t, store, "w1", nil, 100)

	res, err := mgr.Reserve(context.Background(), "w1", 30, "req-1", time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	n, err := mgr.ExpireStale(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	w, err := store.GetWallet(context.Background(), "w1")
	require.NoError(t, err)
	assert.EqualValues(t, 100, w.BalanceUnits)
	assert.EqualValues(t, 0, w.ReservedUnits)

	var reloaded Reservation
	require.NoError(t, store.pool.DB().First(&reloaded, "id = ?", res.ID).Error)
	assert.Equal(t, ReservationExpired, reloaded.Status)
}

func TestDueForRolloverAndSweep(t *testing.T) {
	mgr, store := newTestManager(t)

	past := &Wallet{
		ID: "due", TenantID: "t1", BalanceUnits: 80, AllowanceUnits: 50,
		RolloverPolicy: RolloverNone, CyclePeriod: time.Hour,
	}
	require.NoError(t, store.CreateWallet(context.Background(), past))
	// Force the cycle into the past so the sweep picks it up.
	require.NoError(t, store.pool.DB().Model(&Wallet{}).Where("id = ?", "due").
		Update("cycle_end", time.Now().Add(-time.Minute)).Error)

	future := &Wallet{
		ID: "not-due", TenantID: "t1", BalanceUnits: 80, AllowanceUnits: 50,
		RolloverPolicy: RolloverNone, CyclePeriod: time.Hour,
	}
	require.NoError(t, store.CreateWallet(context.Background(), future))

	ids, err := store.DueForRollover(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"due"}, ids)

	for _, id := range ids {
		require.NoError(t, mgr.Rollover(context.Background(), id))
	}

	w, err := store.GetWallet(context.Background(), "due")
	require.NoError(t, err)
	assert.EqualValues(t, 50, w.BalanceUnits, "rollover reset the due wallet to its allowance")
	assert.True(t, w.CycleEnd.After(time.Now()), "rollover advanced CycleEnd into the future")
}
