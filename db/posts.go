package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"blogdash/logger"
	"blogdash/models"
)

// PostExists reports whether a post with url is stored
func (db *DB) PostExists(ctx context.Context, url string) (bool, error) {
	if url == "" {
		return false, fmt.Errorf("%w: post url cannot be empty", ErrInvalidInput)
	}

	stmt, err := db.getStmt(ctx, `SELECT COUNT(*) FROM posts WHERE url = ?`)
	if err != nil {
		return false, err
	}

	var count int
	if err := stmt.GetContext(ctx, &count, url); err != nil {
		return false, fmt.Errorf("failed to check post %s: %w", url, err)
	}
	return count > 0, nil
}

// SavePosts stores new posts with their authors in one transaction, then
// recomputes every author's first publication and month links through now.
// Posts already stored are left untouched. Author names that match no
// roster member are dropped. It returns how many posts were created.
func (db *DB) SavePosts(ctx context.Context, posts []models.PostRecord, now time.Time) (int, error) {
	created := 0
	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, p := range posts {
			ok, err := insertPost(ctx, tx, p)
			if err != nil {
				return err
			}
			if ok {
				created++
			}
		}
		return refreshAuthorMonths(ctx, tx, now)
	})
	if err != nil {
		return 0, err
	}

	logger.Info("Posts saved",
		zap.Int("candidates", len(posts)),
		zap.Int("created", created))
	return created, nil
}

func insertPost(ctx context.Context, tx *sqlx.Tx, p models.PostRecord) (bool, error) {
	if p.URL == "" {
		return false, fmt.Errorf("%w: post url cannot be empty", ErrInvalidInput)
	}

	var existing int64
	err := tx.GetContext(ctx, &existing, tx.Rebind(`SELECT id FROM posts WHERE url = ?`), p.URL)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to check post %s: %w", p.URL, err)
	}

	var postID int64
	err = tx.QueryRowxContext(ctx, tx.Rebind(`
		INSERT INTO posts (url, download_url, post_date, title, description, tumblr_url)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`), p.URL, p.DownloadURL, p.PostDate.UTC(), p.Title, p.Description, p.TumblrURL).Scan(&postID)
	if err != nil {
		return false, fmt.Errorf("failed to insert post %s: %w", p.URL, err)
	}

	link := tx.Rebind(`INSERT INTO post_authors (post_id, author_id) VALUES (?, ?) ON CONFLICT DO NOTHING`)
	attached := 0
	for _, username := range p.Authors {
		authorID, err := authorIDByUsername(ctx, tx, username)
		if err != nil {
			return false, err
		}
		if authorID == nil {
			logger.Debug("Dropping unknown post author",
				zap.String("url", p.URL),
				zap.String("username", username))
			continue
		}
		if _, err := tx.ExecContext(ctx, link, postID, *authorID); err != nil {
			return false, fmt.Errorf("failed to attach author %s to %s: %w", username, p.URL, err)
		}
		attached++
	}

	logger.Debug("Stored post",
		zap.String("url", p.URL),
		zap.String("authors", strings.Join(p.Authors, ",")),
		zap.Int("attached", attached))
	return true, nil
}

type authorPostDate struct {
	AuthorID int64     `db:"author_id"`
	PostDate time.Time `db:"post_date"`
}

type authorFirstPublished struct {
	ID             int64        `db:"id"`
	FirstPublished sql.NullTime `db:"first_published"`
}

type monthLink struct {
	MonthID  int64 `db:"month_id"`
	AuthorID int64 `db:"author_id"`
}

// refreshAuthorMonths sets first_published to each author's earliest post
// date (NULL without posts) and links authors to every month from their
// first publication through now.
func refreshAuthorMonths(ctx context.Context, tx *sqlx.Tx, now time.Time) error {
	var dates []authorPostDate
	if err := tx.SelectContext(ctx, &dates, `
		SELECT pa.author_id, p.post_date
		FROM post_authors pa
		JOIN posts p ON p.id = pa.post_id
	`); err != nil {
		return fmt.Errorf("failed to load post dates: %w", err)
	}

	first := make(map[int64]time.Time)
	for _, d := range dates {
		date := d.PostDate.UTC()
		if cur, ok := first[d.AuthorID]; !ok || date.Before(cur) {
			first[d.AuthorID] = date
		}
	}

	var authors []authorFirstPublished
	if err := tx.SelectContext(ctx, &authors, `SELECT id, first_published FROM authors`); err != nil {
		return fmt.Errorf("failed to load authors: %w", err)
	}

	update := tx.Rebind(`UPDATE authors SET first_published = ? WHERE id = ?`)
	var earliest time.Time
	for _, a := range authors {
		want, has := first[a.ID]
		if has && (earliest.IsZero() || want.Before(earliest)) {
			earliest = want
		}

		same := a.FirstPublished.Valid == has &&
			(!has || a.FirstPublished.Time.Equal(want))
		if same {
			continue
		}

		var value any
		if has {
			value = want
		}
		if _, err := tx.ExecContext(ctx, update, value, a.ID); err != nil {
			return fmt.Errorf("failed to update first publication of author %d: %w", a.ID, err)
		}
	}

	if len(first) == 0 {
		return nil
	}

	months, _, err := ensureMonths(ctx, tx, earliest, now)
	if err != nil {
		return err
	}

	var links []monthLink
	if err := tx.SelectContext(ctx, &links, `SELECT month_id, author_id FROM month_authors`); err != nil {
		return fmt.Errorf("failed to load month links: %w", err)
	}
	linked := make(map[monthLink]bool, len(links))
	for _, l := range links {
		linked[l] = true
	}

	insert := tx.Rebind(`INSERT INTO month_authors (month_id, author_id) VALUES (?, ?)`)
	added := 0
	for authorID, published := range first {
		for _, m := range models.MonthRange(published, now) {
			l := monthLink{MonthID: months[m.Unix()], AuthorID: authorID}
			if linked[l] {
				continue
			}
			if _, err := tx.ExecContext(ctx, insert, l.MonthID, l.AuthorID); err != nil {
				return fmt.Errorf("failed to link author %d to month %s: %w", authorID, m.Format("2006-01"), err)
			}
			linked[l] = true
			added++
		}
	}

	logger.Debug("Refreshed author months",
		zap.Int("authors", len(first)),
		zap.Int("links_added", added))
	return nil
}

// PostCountsByMonth returns the number of posts published in each month that
// has at least one post, oldest first
func (db *DB) PostCountsByMonth(ctx context.Context) ([]models.MonthCount, error) {
	var dates []time.Time
	if err := db.conn.SelectContext(ctx, &dates, `SELECT post_date FROM posts ORDER BY post_date`); err != nil {
		return nil, fmt.Errorf("failed to load post dates: %w", err)
	}

	counts := []models.MonthCount{}
	for _, d := range dates {
		m := models.MonthOf(d)
		if n := len(counts); n > 0 && counts[n-1].Month.Equal(m) {
			counts[n-1].Count++
			continue
		}
		counts = append(counts, models.MonthCount{Month: m, Count: 1})
	}
	return counts, nil
}
