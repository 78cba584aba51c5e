package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"blogdash/logger"
	"blogdash/models"
)

// ReplaceIssues stores each bundle in place of any stored issue with the same
// number. The stored issue and everything it owns is deleted first; nothing
// is merged. All bundles share one transaction, so a failure leaves every
// stored issue as it was.
func (db *DB) ReplaceIssues(ctx context.Context, bundles []models.IssueBundle) (models.UpsertResult, error) {
	var result models.UpsertResult
	if len(bundles) == 0 {
		return result, nil
	}

	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		labels := make(map[string]int64)
		for _, b := range bundles {
			replaced, err := replaceIssue(ctx, tx, b, labels)
			if err != nil {
				return err
			}
			if replaced {
				result.Updated++
			} else {
				result.Created++
			}
		}
		return nil
	})
	if err != nil {
		return models.UpsertResult{}, err
	}

	logger.Info("Issues replaced",
		zap.Int("created", result.Created),
		zap.Int("replaced", result.Updated))
	return result, nil
}

// deleteIssueChildren removes what an issue owns, children first
var deleteIssueChildren = []string{
	`DELETE FROM issue_labels WHERE issue_id = ?`,
	`DELETE FROM milestones WHERE issue_id = ?`,
	`DELETE FROM events WHERE issue_id = ?`,
}

func replaceIssue(ctx context.Context, tx *sqlx.Tx, b models.IssueBundle, labels map[string]int64) (bool, error) {
	issue := b.Issue
	if issue.Number <= 0 {
		return false, fmt.Errorf("%w: issue number must be positive", ErrInvalidInput)
	}

	var oldID int64
	err := tx.GetContext(ctx, &oldID, tx.Rebind(`SELECT id FROM issues WHERE number = ?`), issue.Number)
	replaced := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to look up issue #%d: %w", issue.Number, err)
	}

	if replaced {
		for _, q := range deleteIssueChildren {
			if _, err := tx.ExecContext(ctx, tx.Rebind(q), oldID); err != nil {
				return false, fmt.Errorf("failed to clear issue #%d: %w", issue.Number, err)
			}
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM issues WHERE id = ?`), oldID); err != nil {
			return false, fmt.Errorf("failed to delete issue #%d: %w", issue.Number, err)
		}
	}

	if issue.CreatorID, err = authorIDByUsername(ctx, tx, b.Creator); err != nil {
		return false, err
	}
	if issue.AssigneeID, err = authorIDByUsername(ctx, tx, b.Assignee); err != nil {
		return false, err
	}

	var closedAt any
	if issue.ClosedAt != nil {
		closedAt = issue.ClosedAt.UTC()
	}

	var issueID int64
	err = tx.QueryRowxContext(ctx, tx.Rebind(`
		INSERT INTO issues (
			number, remote_id, title, body, state, locked, html_url,
			creator_id, assignee_id, created_at, updated_at, closed_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`),
		issue.Number, issue.RemoteID, issue.Title, issue.Body, issue.State, issue.Locked, issue.HTMLURL,
		issue.CreatorID, issue.AssigneeID, issue.CreatedAt.UTC(), issue.UpdatedAt.UTC(), closedAt,
	).Scan(&issueID)
	if err != nil {
		return false, fmt.Errorf("failed to insert issue #%d: %w", issue.Number, err)
	}

	if err := attachLabels(ctx, tx, issueID, b.Labels, labels); err != nil {
		return false, err
	}
	if err := insertMilestones(ctx, tx, issueID, b.Milestones); err != nil {
		return false, err
	}
	if err := insertEvents(ctx, tx, issueID, b.Events); err != nil {
		return false, err
	}

	logger.Debug("Stored issue",
		zap.Int("number", issue.Number),
		zap.Bool("replaced", replaced),
		zap.Int("labels", len(b.Labels)),
		zap.Int("milestones", len(b.Milestones)),
		zap.Int("events", len(b.Events)))
	return replaced, nil
}

func attachLabels(ctx context.Context, tx *sqlx.Tx, issueID int64, labels []models.Label, cache map[string]int64) error {
	link := tx.Rebind(`INSERT INTO issue_labels (issue_id, label_id) VALUES (?, ?) ON CONFLICT DO NOTHING`)
	for _, l := range labels {
		if l.Name == "" {
			continue
		}
		labelID, ok := cache[l.Name]
		if !ok {
			err := tx.GetContext(ctx, &labelID, tx.Rebind(`SELECT id FROM labels WHERE name = ?`), l.Name)
			if errors.Is(err, sql.ErrNoRows) {
				err = tx.QueryRowxContext(ctx,
					tx.Rebind(`INSERT INTO labels (name, color) VALUES (?, ?) RETURNING id`),
					l.Name, l.Color).Scan(&labelID)
			}
			if err != nil {
				return fmt.Errorf("failed to resolve label %s: %w", l.Name, err)
			}
			cache[l.Name] = labelID
		}
		if _, err := tx.ExecContext(ctx, link, issueID, labelID); err != nil {
			return fmt.Errorf("failed to attach label %s: %w", l.Name, err)
		}
	}
	return nil
}

func insertMilestones(ctx context.Context, tx *sqlx.Tx, issueID int64, milestones []models.Milestone) error {
	ordered := make([]models.Milestone, len(milestones))
	copy(ordered, milestones)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	insert := tx.Rebind(`
		INSERT INTO milestones (id, issue_id, title, commit_id, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	seen := make(map[int64]bool, len(ordered))
	for _, m := range ordered {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		if _, err := tx.ExecContext(ctx, insert, m.ID, issueID, m.Title, m.CommitID, m.URL, m.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("failed to insert milestone %d: %w", m.ID, err)
		}
	}
	return nil
}

func insertEvents(ctx context.Context, tx *sqlx.Tx, issueID int64, events []models.Event) error {
	ordered := make([]models.Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	insert := tx.Rebind(`
		INSERT INTO events (id, issue_id, actor, event, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	seen := make(map[int64]bool, len(ordered))
	for _, e := range ordered {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		if _, err := tx.ExecContext(ctx, insert, e.ID, issueID, e.Actor, e.Event, e.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("failed to insert event %d: %w", e.ID, err)
		}
	}
	return nil
}

const selectIssues = `
	SELECT id, number, remote_id, title, body, state, locked, html_url,
		creator_id, assignee_id, created_at, updated_at, closed_at
	FROM issues
`

type issueLabel struct {
	IssueID int64  `db:"issue_id"`
	Name    string `db:"name"`
}

// IssueBoard returns every stored issue with its labels and milestones,
// most recently updated first
func (db *DB) IssueBoard(ctx context.Context) ([]models.IssueCard, error) {
	var issues []models.Issue
	if err := db.conn.SelectContext(ctx, &issues, selectIssues+` ORDER BY updated_at DESC, number DESC`); err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}

	var milestones []models.Milestone
	if err := db.conn.SelectContext(ctx, &milestones, `
		SELECT id, issue_id, title, commit_id, url, created_at
		FROM milestones
		ORDER BY issue_id, created_at, id
	`); err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}

	var labels []issueLabel
	if err := db.conn.SelectContext(ctx, &labels, `
		SELECT il.issue_id, l.name
		FROM issue_labels il
		JOIN labels l ON l.id = il.label_id
		ORDER BY l.name
	`); err != nil {
		return nil, fmt.Errorf("failed to list issue labels: %w", err)
	}

	byIssue := make(map[int64][]models.Milestone)
	for _, m := range milestones {
		byIssue[m.IssueID] = append(byIssue[m.IssueID], m)
	}
	labelsByIssue := make(map[int64][]string)
	for _, l := range labels {
		labelsByIssue[l.IssueID] = append(labelsByIssue[l.IssueID], l.Name)
	}

	cards := make([]models.IssueCard, 0, len(issues))
	for _, issue := range issues {
		cards = append(cards, models.IssueCard{
			Issue:      issue,
			Labels:     labelsByIssue[issue.ID],
			Milestones: byIssue[issue.ID],
		})
	}
	return cards, nil
}

// IssueByNumber returns a stored issue with its labels, milestones and events
func (db *DB) IssueByNumber(ctx context.Context, number int) (*models.IssueCard, error) {
	if number <= 0 {
		return nil, fmt.Errorf("%w: issue number must be positive", ErrInvalidInput)
	}

	var issue models.Issue
	if err := db.conn.GetContext(ctx, &issue, db.conn.Rebind(selectIssues+` WHERE number = ?`), number); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: issue #%d", ErrNotFound, number)
		}
		return nil, fmt.Errorf("failed to get issue #%d: %w", number, err)
	}

	card := &models.IssueCard{Issue: issue}
	if err := db.conn.SelectContext(ctx, &card.Milestones, db.conn.Rebind(`
		SELECT id, issue_id, title, commit_id, url, created_at
		FROM milestones
		WHERE issue_id = ?
		ORDER BY created_at, id
	`), issue.ID); err != nil {
		return nil, fmt.Errorf("failed to list milestones of issue #%d: %w", number, err)
	}
	if err := db.conn.SelectContext(ctx, &card.Labels, db.conn.Rebind(`
		SELECT l.name
		FROM issue_labels il
		JOIN labels l ON l.id = il.label_id
		WHERE il.issue_id = ?
		ORDER BY l.name
	`), issue.ID); err != nil {
		return nil, fmt.Errorf("failed to list labels of issue #%d: %w", number, err)
	}
	if err := db.conn.SelectContext(ctx, &card.Events, db.conn.Rebind(`
		SELECT id, issue_id, actor, event, created_at
		FROM events
		WHERE issue_id = ?
		ORDER BY created_at, id
	`), issue.ID); err != nil {
		return nil, fmt.Errorf("failed to list events of issue #%d: %w", number, err)
	}
	return card, nil
}
