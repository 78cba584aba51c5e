package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"blogdash/models"
)

// Stats returns store-wide counts and the publish date range of posts
func (db *DB) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{}
	query := `
		SELECT
			(SELECT COUNT(*) FROM authors) AS authors,
			(SELECT COUNT(*) FROM authors WHERE first_published IS NOT NULL) AS published_authors,
			(SELECT COUNT(*) FROM posts) AS posts,
			(SELECT COUNT(*) FROM issues) AS issues,
			(SELECT COUNT(*) FROM issues WHERE state = 'open') AS open_issues
	`
	if err := db.conn.GetContext(ctx, stats, query); err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}

	var err error
	if stats.FirstPost, err = db.postDate(ctx, "ASC"); err != nil {
		return nil, err
	}
	if stats.LastPost, err = db.postDate(ctx, "DESC"); err != nil {
		return nil, err
	}
	return stats, nil
}

// postDate returns the first post date in the given order, nil without posts.
// Aggregates lose the column type on sqlite, so the row is ordered instead.
func (db *DB) postDate(ctx context.Context, order string) (*time.Time, error) {
	var date time.Time
	query := `SELECT post_date FROM posts ORDER BY post_date ` + order + ` LIMIT 1`
	if err := db.conn.GetContext(ctx, &date, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get post date: %w", err)
	}
	date = date.UTC()
	return &date, nil
}
