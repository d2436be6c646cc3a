// Package wallet implements hierarchical credit budgets with two-phase
// reservation (Reserve -> Settle|Refund), atomic multi-wallet transfers,
// and periodic rollover. All amounts are int64 fixed-point credit units
// (see metering.Scale) persisted via gorm.
package wallet

import "time"

// RolloverPolicy controls what happens to an unspent budget at period end.
type RolloverPolicy string

const (
	// RolloverNone resets the wallet's period budget to its configured
	// allowance; unused credits are forfeited.
	RolloverNone RolloverPolicy = "none"
	// RolloverCarry adds the previous period's unused balance onto the
	// next period's allowance, uncapped.
	RolloverCarry RolloverPolicy = "carry"
	// RolloverCappedCarry behaves like RolloverCarry but caps the carried
	// amount at CarryCapUnits.
	RolloverCappedCarry RolloverPolicy = "capped_carry"
)

// WalletKind classifies a wallet's position in the org -> team -> user ->
// project hierarchy. Purely descriptive: enforcement walks ParentID links
// regardless of Kind.
type WalletKind string

const (
	KindOrg     WalletKind = "org"
	KindTeam    WalletKind = "team"
	KindUser    WalletKind = "user"
	KindProject WalletKind = "project"
)

// Wallet is a node in the hierarchical budget tree: org -> team ->
// user -> project, or any depth the operator configures. A request is
// charged against its own wallet and implicitly bounded by every ancestor's
// remaining budget.
type Wallet struct {
	ID              string         `gorm:"primaryKey;size:64" json:"id"`
	ParentID        *string        `gorm:"size:64;index" json:"parent_id,omitempty"`
	TenantID        string         `gorm:"size:64;index;not null" json:"tenant_id"`
	Kind            WalletKind     `gorm:"size:16;default:'user'" json:"kind"`
	Name            string         `gorm:"size:256" json:"name"`
	BalanceUnits    int64          `gorm:"not null" json:"balance_units"`
	ReservedUnits   int64          `gorm:"not null;default:0" json:"reserved_units"`
	AllowanceUnits  int64          `gorm:"not null;default:0" json:"allowance_units"`
	HardCap         bool           `gorm:"not null;default:false" json:"hard_cap"`
	OverdraftBps    int            `gorm:"not null;default:0" json:"overdraft_bps"`
	RolloverPolicy  RolloverPolicy `gorm:"size:32;default:'none'" json:"rollover_policy"`
	CarryCapUnits   int64          `gorm:"default:0" json:"carry_cap_units,omitempty"`
	CyclePeriod     time.Duration  `gorm:"not null;default:0" json:"cycle_period"`
	PeriodStartedAt time.Time      `json:"period_started_at"`
	CycleEnd        time.Time      `json:"cycle_end"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Version         int64          `gorm:"not null;default:0" json:"-"` // optimistic-lock guard alongside the mutex
}

// OverdraftUnits returns how far BalanceUnits may go negative before Reserve
// refuses a hold: a fixed fraction (OverdraftBps, in basis points) of the
// wallet's configured allowance. A HardCap wallet never overdrafts
// regardless of OverdraftBps, matching spec's "hard_cap: bool" field.
func (w *Wallet) OverdraftUnits() int64 {
	if w.HardCap || w.OverdraftBps <= 0 {
		return 0
	}
	return w.AllowanceUnits * int64(w.OverdraftBps) / 10000
}

// Available returns the spendable balance: what's left after subtracting
// funds already held by open reservations, plus any overdraft headroom
// the wallet is configured to allow. This is the concrete form of the
// invariant balance_credits <= limit_credits*(1+overdraft_bps/10000): a
// reservation is admitted as long as it fits within balance plus overdraft.
func (w *Wallet) Available() int64 {
	return w.BalanceUnits - w.ReservedUnits + w.OverdraftUnits()
}

// ReservationStatus is the lifecycle state of a two-phase reservation.
type ReservationStatus string

const (
	ReservationOpen     ReservationStatus = "open"
	ReservationSettled  ReservationStatus = "settled"
	ReservationRefunded ReservationStatus = "refunded"
	ReservationExpired  ReservationStatus = "expired"
)

// Reservation is a hold placed against a wallet (and every ancestor wallet
// on the path to the root) at request-admission time, before the true
// cost is known. Settle converts it into a final charge; Refund releases
// it unspent.
type Reservation struct {
	ID            string            `gorm:"primaryKey;size:64" json:"id"`
	WalletID      string            `gorm:"size:64;index;not null" json:"wallet_id"`
	WalletPath    []string          `gorm:"serializer:json" json:"wallet_path"` // wallet + every ancestor, root last
	AmountUnits   int64             `gorm:"not null" json:"amount_units"`
	SettledUnits  int64             `json:"settled_units,omitempty"`
	Status        ReservationStatus `gorm:"size:16;index" json:"status"`
	RequestID     string            `gorm:"size:128;index" json:"request_id"`
	CreatedAt     time.Time         `json:"created_at"`
	ExpiresAt     time.Time         `gorm:"index" json:"expires_at"`
	ResolvedAt    *time.Time        `json:"resolved_at,omitempty"`
}

// TransferRecord is a completed wallet-to-wallet credit transfer, kept for
// balance reconstruction and operator-facing history independent of the
// hash-chained audit journal.
type TransferRecord struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	FromWallet  string    `gorm:"size:64;index" json:"from_wallet"`
	ToWallet    string    `gorm:"size:64;index" json:"to_wallet"`
	AmountUnits int64     `gorm:"not null" json:"amount_units"`
	Reason      string    `gorm:"size:256" json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
