package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"blogdash/logger"
	"blogdash/models"
)

// NeverSynced is returned by LastSyncTime for a source with no sync_log row
var NeverSynced = time.Unix(0, 0).UTC()

// LastSyncTime returns when source was last synced successfully, or
// NeverSynced when it never was.
func (db *DB) LastSyncTime(ctx context.Context, source string) (time.Time, error) {
	if source == "" {
		return time.Time{}, fmt.Errorf("%w: source cannot be empty", ErrInvalidInput)
	}

	stmt, err := db.getStmt(ctx, `SELECT synced_at FROM sync_log WHERE source = ?`)
	if err != nil {
		return time.Time{}, err
	}

	var syncedAt sql.NullTime
	if err := stmt.QueryRowxContext(ctx, source).Scan(&syncedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NeverSynced, nil
		}
		return time.Time{}, fmt.Errorf("failed to read last sync of %s: %w", source, err)
	}
	if !syncedAt.Valid {
		return NeverSynced, nil
	}
	return syncedAt.Time.UTC(), nil
}

// MarkSynced records at as the last successful sync of source. There is
// never more than one row per source.
func (db *DB) MarkSynced(ctx context.Context, source string, at time.Time) error {
	if source == "" {
		return fmt.Errorf("%w: source cannot be empty", ErrInvalidInput)
	}

	query := db.conn.Rebind(`
		INSERT INTO sync_log (source, synced_at)
		VALUES (?, ?)
		ON CONFLICT (source) DO UPDATE SET synced_at = EXCLUDED.synced_at
	`)
	if _, err := db.conn.ExecContext(ctx, query, source, at.UTC()); err != nil {
		return fmt.Errorf("failed to mark %s synced: %w", source, err)
	}

	logger.Info("Marked source synced", zap.String("source", source), zap.Time("at", at.UTC()))
	return nil
}

// SyncLog lists the last successful sync of every source that has one
func (db *DB) SyncLog(ctx context.Context) ([]models.SyncLog, error) {
	var entries []models.SyncLog
	query := `SELECT source, synced_at FROM sync_log ORDER BY source`
	if err := db.conn.SelectContext(ctx, &entries, query); err != nil {
		return nil, fmt.Errorf("failed to list sync log: %w", err)
	}
	for i := range entries {
		entries[i].SyncedAt = entries[i].SyncedAt.UTC()
	}
	return entries, nil
}
