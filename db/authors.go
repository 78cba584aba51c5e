package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"blogdash/logger"
	"blogdash/models"
)

const selectAuthor = `
	SELECT id, username, first_name, last_name, full_name, url, pronouns,
		duty_station_code, team_id, first_published
	FROM authors
	WHERE username = ?
`

// UpsertAuthors merges roster records into the stored authors in one
// transaction. Existing authors only take the fields present in their
// record; authors are never deleted.
func (db *DB) UpsertAuthors(ctx context.Context, records []models.RosterRecord) (models.UpsertResult, error) {
	var result models.UpsertResult
	if len(records) == 0 {
		return result, nil
	}

	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		stations, err := dutyStationCodes(ctx, tx)
		if err != nil {
			return err
		}
		teams := make(map[string]int64)

		for _, rec := range records {
			if rec.Username == "" {
				return fmt.Errorf("%w: roster record without username", ErrInvalidInput)
			}

			// scan into a scratch value: a miss may still have allocated its pointer fields
			var author, found models.Author
			err := tx.GetContext(ctx, &found, tx.Rebind(selectAuthor), rec.Username)
			isNew := errors.Is(err, sql.ErrNoRows)
			if err != nil && !isNew {
				return fmt.Errorf("failed to look up author %s: %w", rec.Username, err)
			}
			if isNew {
				author.Username = rec.Username
			} else {
				author = found
			}

			changed := author.Merge(rec)

			if loc, ok := rec.Location.Get(); ok {
				code := resolveStation(stations, loc)
				if code == nil && loc != "" {
					logger.Warn("Unknown duty station",
						zap.String("username", rec.Username),
						zap.String("location", loc))
				}
				if !equalStr(author.DutyStationCode, code) {
					author.DutyStationCode = code
					changed = true
				}
			}

			if name, ok := rec.Team.Get(); ok {
				var teamID *int64
				if name != "" {
					id, err := resolveTeam(ctx, tx, teams, name)
					if err != nil {
						return err
					}
					teamID = &id
				}
				if !equalInt(author.TeamID, teamID) {
					author.TeamID = teamID
					changed = true
				}
			}

			switch {
			case isNew:
				if err := insertAuthor(ctx, tx, &author); err != nil {
					return err
				}
				result.Created++
			case changed:
				if err := updateAuthor(ctx, tx, author); err != nil {
					return err
				}
				result.Updated++
			default:
				result.Unchanged++
			}
		}
		return nil
	})
	if err != nil {
		return models.UpsertResult{}, err
	}

	logger.Info("Authors upserted",
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("unchanged", result.Unchanged))
	return result, nil
}

func insertAuthor(ctx context.Context, tx *sqlx.Tx, a *models.Author) error {
	query := tx.Rebind(`
		INSERT INTO authors (
			username, first_name, last_name, full_name, url, pronouns,
			duty_station_code, team_id
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)
	err := tx.QueryRowxContext(ctx, query,
		a.Username, a.FirstName, a.LastName, a.FullName, a.URL, a.Pronouns,
		a.DutyStationCode, a.TeamID,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to insert author %s: %w", a.Username, err)
	}
	return nil
}

func updateAuthor(ctx context.Context, tx *sqlx.Tx, a models.Author) error {
	query := tx.Rebind(`
		UPDATE authors SET
			first_name = ?, last_name = ?, full_name = ?, url = ?, pronouns = ?,
			duty_station_code = ?, team_id = ?
		WHERE id = ?
	`)
	_, err := tx.ExecContext(ctx, query,
		a.FirstName, a.LastName, a.FullName, a.URL, a.Pronouns,
		a.DutyStationCode, a.TeamID, a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update author %s: %w", a.Username, err)
	}
	return nil
}

func dutyStationCodes(ctx context.Context, tx *sqlx.Tx) (map[string]string, error) {
	var codes []string
	if err := tx.SelectContext(ctx, &codes, `SELECT code FROM duty_stations`); err != nil {
		return nil, fmt.Errorf("failed to load duty stations: %w", err)
	}
	byUpper := make(map[string]string, len(codes))
	for _, c := range codes {
		byUpper[strings.ToUpper(c)] = c
	}
	return byUpper, nil
}

func resolveStation(stations map[string]string, location string) *string {
	code, ok := stations[strings.ToUpper(strings.TrimSpace(location))]
	if !ok {
		return nil
	}
	return &code
}

// resolveTeam returns the id of the named team, creating it on first use
func resolveTeam(ctx context.Context, tx *sqlx.Tx, cache map[string]int64, name string) (int64, error) {
	if id, ok := cache[name]; ok {
		return id, nil
	}

	var id int64
	err := tx.GetContext(ctx, &id, tx.Rebind(`SELECT id FROM teams WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowxContext(ctx, tx.Rebind(`INSERT INTO teams (name) VALUES (?) RETURNING id`), name).Scan(&id)
		if err == nil {
			logger.Info("Created team", zap.String("team", name))
		}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve team %s: %w", name, err)
	}

	cache[name] = id
	return id, nil
}

// authorIDByUsername matches usernames case-insensitively. A missing author
// is not an error: the reference is dropped.
func authorIDByUsername(ctx context.Context, tx *sqlx.Tx, username string) (*int64, error) {
	if strings.TrimSpace(username) == "" {
		return nil, nil
	}
	var id int64
	err := tx.GetContext(ctx, &id,
		tx.Rebind(`SELECT id FROM authors WHERE LOWER(username) = LOWER(?) ORDER BY id LIMIT 1`),
		strings.TrimSpace(username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up author %s: %w", username, err)
	}
	return &id, nil
}

func equalStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
