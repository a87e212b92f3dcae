package reputation

import (
	"context"
	"fmt"
	"time"

	"validator-backend/internal/database"
	"validator-backend/pkg/protocol"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrganicPenalties tracks organic-round failures until the next synthetic
// round consumes them. Consumption is decrement-on-read: a pending count is
// handed out exactly once.
type OrganicPenalties struct {
	db        *gorm.DB
	retention time.Duration
}

func NewOrganicPenalties(db *gorm.DB, retention time.Duration) *OrganicPenalties {
	return &OrganicPenalties{db: db, retention: retention}
}

func (o *OrganicPenalties) Increment(ctx context.Context, miner protocol.MinerID) error {
	err := o.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "miner_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"pending":    gorm.Expr("pending + 1"),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&database.OrganicPenalty{
		MinerId:   string(miner),
		Pending:   1,
		UpdatedAt: time.Now().UTC(),
	}).Error
	if err != nil {
		return fmt.Errorf("error incrementing organic penalty for %s: %w", miner, err)
	}
	return nil
}

// Consume returns all pending counts and zeroes them in the same
// transaction, purging rows past the retention window first so stale
// failures no longer count.
func (o *OrganicPenalties) Consume(ctx context.Context) (map[protocol.MinerID]int, error) {
	pending := make(map[protocol.MinerID]int)

	err := o.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		cutoff := time.Now().UTC().Add(-o.retention)
		if err := txn.Where("updated_at < ?", cutoff).Delete(&database.OrganicPenalty{}).Error; err != nil {
			return fmt.Errorf("error purging stale organic penalties: %w", err)
		}

		var rows []database.OrganicPenalty
		if err := txn.Where("pending > 0").Find(&rows).Error; err != nil {
			return fmt.Errorf("error reading organic penalties: %w", err)
		}

		for _, row := range rows {
			pending[protocol.MinerID(row.MinerId)] = row.Pending
		}

		if len(rows) > 0 {
			if err := txn.Model(&database.OrganicPenalty{}).Where("pending > 0").Update("pending", 0).Error; err != nil {
				return fmt.Errorf("error consuming organic penalties: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return pending, nil
}
