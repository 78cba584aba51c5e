package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"blogdash/logger"
	"blogdash/models"
)

// schema is written once for both dialects; dialect tokens are expanded
// by schemaFor.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS duty_stations (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		bucket TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS teams (
		id {{serial}},
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS authors (
		id {{serial}},
		username TEXT NOT NULL UNIQUE,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		full_name TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		pronouns TEXT NOT NULL DEFAULT '',
		duty_station_code TEXT REFERENCES duty_stations(code),
		team_id INTEGER REFERENCES teams(id),
		first_published {{timestamp}}
	)`,
	`CREATE TABLE IF NOT EXISTS posts (
		id {{serial}},
		url TEXT NOT NULL UNIQUE,
		download_url TEXT NOT NULL DEFAULT '',
		post_date {{timestamp}} NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		tumblr_url TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS post_authors (
		post_id INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		author_id INTEGER NOT NULL REFERENCES authors(id) ON DELETE CASCADE,
		PRIMARY KEY (post_id, author_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_post_authors_author ON post_authors(author_id)`,
	`CREATE TABLE IF NOT EXISTS months (
		id {{serial}},
		month {{timestamp}} NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS month_authors (
		month_id INTEGER NOT NULL REFERENCES months(id) ON DELETE CASCADE,
		author_id INTEGER NOT NULL REFERENCES authors(id) ON DELETE CASCADE,
		PRIMARY KEY (month_id, author_id)
	)`,
	`CREATE TABLE IF NOT EXISTS issues (
		id {{serial}},
		number INTEGER NOT NULL UNIQUE,
		remote_id BIGINT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		locked BOOLEAN NOT NULL DEFAULT FALSE,
		html_url TEXT NOT NULL DEFAULT '',
		creator_id INTEGER REFERENCES authors(id),
		assignee_id INTEGER REFERENCES authors(id),
		created_at {{timestamp}} NOT NULL,
		updated_at {{timestamp}} NOT NULL,
		closed_at {{timestamp}}
	)`,
	`CREATE TABLE IF NOT EXISTS milestones (
		id BIGINT PRIMARY KEY,
		issue_id INTEGER NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		commit_id TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		created_at {{timestamp}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_milestones_issue ON milestones(issue_id)`,
	`CREATE TABLE IF NOT EXISTS events (
		id BIGINT PRIMARY KEY,
		issue_id INTEGER NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
		actor TEXT NOT NULL DEFAULT '',
		event TEXT NOT NULL,
		created_at {{timestamp}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_issue ON events(issue_id)`,
	`CREATE TABLE IF NOT EXISTS labels (
		id {{serial}},
		name TEXT NOT NULL UNIQUE,
		color TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS issue_labels (
		issue_id INTEGER NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
		label_id INTEGER NOT NULL REFERENCES labels(id) ON DELETE CASCADE,
		PRIMARY KEY (issue_id, label_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_log (
		source TEXT PRIMARY KEY,
		synced_at {{timestamp}} NOT NULL
	)`,
}

var dialects = map[string]*strings.Replacer{
	DriverPostgres: strings.NewReplacer(
		"{{serial}}", "SERIAL PRIMARY KEY",
		"{{timestamp}}", "TIMESTAMPTZ",
	),
	DriverSQLite: strings.NewReplacer(
		"{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{timestamp}}", "TIMESTAMP",
	),
}

func schemaFor(driver string) ([]string, error) {
	r, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("%w: no schema for driver %q", ErrInvalidInput, driver)
	}
	stmts := make([]string, len(schema))
	for i, s := range schema {
		stmts[i] = r.Replace(s)
	}
	return stmts, nil
}

const upsertDutyStation = `
	INSERT INTO duty_stations (code, name, bucket)
	VALUES (?, ?, ?)
	ON CONFLICT (code) DO UPDATE SET
		name = EXCLUDED.name,
		bucket = EXCLUDED.bucket
`

// Migrate creates missing tables and seeds the duty station reference data
func (db *DB) Migrate(ctx context.Context) error {
	stmts, err := schemaFor(db.Driver())
	if err != nil {
		return err
	}

	return db.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
		}

		seed := tx.Rebind(upsertDutyStation)
		for _, ds := range models.DefaultDutyStations {
			if _, err := tx.ExecContext(ctx, seed, ds.Code, ds.Name, ds.Bucket); err != nil {
				return fmt.Errorf("failed to seed duty station %s: %w", ds.Code, err)
			}
		}

		logger.Info("Schema migrated",
			zap.String("driver", db.Driver()),
			zap.Int("statements", len(stmts)),
			zap.Int("duty_stations", len(models.DefaultDutyStations)))
		return nil
	})
}
