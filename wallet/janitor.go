package wallet

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ExpireStale reclaims holds from reservations whose ExpiresAt has passed
// without a Settle or Refund ever arriving — the caller crashed, a stream
// died mid-flight, whatever the cause. It is safe to call repeatedly; an
// already-resolved reservation found expired is simply skipped.
func (m *Manager) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	var stale []Reservation
	if err := m.store.pool.DB().WithContext(ctx).
		Where("status = ? AND expires_at < ?", ReservationOpen, now).
		Find(&stale).Error; err != nil {
		return 0, err
	}

	count := 0
	for _, r := range stale {
		unlock := m.lockAll(r.WalletPath...)
		err := m.withRetryingTx(ctx, func(tx *gorm.DB) error {
			cur, err := getOpenReservationTx(tx, r.ID)
			if err != nil {
				if err == gorm.ErrRecordNotFound {
					return nil
				}
				return err
			}
			if err := releaseTx(tx, cur.WalletPath, cur.AmountUnits, 0); err != nil {
				return err
			}
			resolvedAt := time.Now()
			return tx.Model(&Reservation{}).Where("id = ?", cur.ID).Updates(map[string]any{
				"status":      ReservationExpired,
				"resolved_at": &resolvedAt,
			}).Error
		})
		unlock()
		if err != nil {
			continue
		}
		count++
		m.emit(ctx, JournalEntry{Kind: "expire", WalletID: r.WalletID, AmountUnits: r.AmountUnits, RequestID: r.RequestID, OccurredAt: now})
	}
	return count, nil
}

// RunJanitor polls ExpireStale on interval until ctx is cancelled. One
// instance should run per gateway deployment; duplicate runners are
// harmless since ExpireStale is idempotent per reservation.
func RunJanitor(ctx context.Context, m *Manager, interval time.Duration, logger *zap.Logger) {
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
			n, err := m.ExpireStale(ctx, time.Now())
			if err != nil {
				logger.Warn("wallet janitor sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("wallet janitor reclaimed stale reservations", zap.Int("count", n))
			}
		}
	}
}
