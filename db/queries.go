package db

import (
	"context"
	"fmt"

	"blogdash/models"
)

// AuthorCountsByMonth returns, for every month with at least one active
// author, how many authors had published by then
func (db *DB) AuthorCountsByMonth(ctx context.Context) ([]models.MonthCount, error) {
	counts := []models.MonthCount{}
	query := `
		SELECT m.month, COUNT(ma.author_id) AS author_count
		FROM months m
		JOIN month_authors ma ON ma.month_id = m.id
		GROUP BY m.id, m.month
		ORDER BY m.month
	`
	if err := db.conn.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("failed to count authors by month: %w", err)
	}
	for i := range counts {
		counts[i].Month = models.MonthOf(counts[i].Month)
	}
	return counts, nil
}

// AuthorCountsByLocation splits AuthorCountsByMonth by location bucket.
// Authors without a known duty station count as OTHER.
func (db *DB) AuthorCountsByLocation(ctx context.Context) ([]models.BucketCount, error) {
	counts := []models.BucketCount{}
	query := fmt.Sprintf(`
		SELECT m.month, COALESCE(ds.bucket, '%[1]s') AS bucket, COUNT(ma.author_id) AS author_count
		FROM months m
		JOIN month_authors ma ON ma.month_id = m.id
		JOIN authors a ON a.id = ma.author_id
		LEFT JOIN duty_stations ds ON ds.code = a.duty_station_code
		GROUP BY m.id, m.month, COALESCE(ds.bucket, '%[1]s')
		ORDER BY m.month, bucket
	`, models.BucketOther)
	if err := db.conn.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("failed to count authors by location: %w", err)
	}
	for i := range counts {
		counts[i].Month = models.MonthOf(counts[i].Month)
	}
	return counts, nil
}

// AuthorCountsByTeam returns the number of roster members per team. Members
// without a team are counted under the empty name.
func (db *DB) AuthorCountsByTeam(ctx context.Context) ([]models.TeamCount, error) {
	counts := []models.TeamCount{}
	query := `
		SELECT COALESCE(t.name, '') AS team, COUNT(a.id) AS author_count
		FROM authors a
		LEFT JOIN teams t ON t.id = a.team_id
		GROUP BY t.name
		ORDER BY author_count DESC, team
	`
	if err := db.conn.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("failed to count authors by team: %w", err)
	}
	return counts, nil
}
