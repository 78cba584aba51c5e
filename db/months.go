package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"blogdash/logger"
	"blogdash/models"
)

// EnsureMonths makes sure a month row exists for every month from the month
// of from through the month of to. It returns how many rows were created.
func (db *DB) EnsureMonths(ctx context.Context, from, to time.Time) (int, error) {
	var created int
	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		_, created, err = ensureMonths(ctx, tx, from, to)
		return err
	})
	if err != nil {
		return 0, err
	}

	if created > 0 {
		logger.Info("Backfilled months",
			zap.Time("from", models.MonthOf(from)),
			zap.Time("to", models.MonthOf(to)),
			zap.Int("created", created))
	}
	return created, nil
}

// ensureMonths returns the ids of every stored month keyed by month start
// in unix seconds, inserting the missing ones in [from, to].
func ensureMonths(ctx context.Context, tx *sqlx.Tx, from, to time.Time) (map[int64]int64, int, error) {
	var existing []models.Month
	if err := tx.SelectContext(ctx, &existing, `SELECT id, month FROM months`); err != nil {
		return nil, 0, fmt.Errorf("failed to load months: %w", err)
	}

	ids := make(map[int64]int64, len(existing))
	for _, m := range existing {
		ids[models.MonthOf(m.Month).Unix()] = m.ID
	}

	insert := tx.Rebind(`INSERT INTO months (month) VALUES (?) RETURNING id`)
	created := 0
	for _, m := range models.MonthRange(from, to) {
		if _, ok := ids[m.Unix()]; ok {
			continue
		}
		var id int64
		if err := tx.QueryRowxContext(ctx, insert, m).Scan(&id); err != nil {
			return nil, 0, fmt.Errorf("failed to insert month %s: %w", m.Format("2006-01"), err)
		}
		ids[m.Unix()] = id
		created++
	}
	return ids, created, nil
}
