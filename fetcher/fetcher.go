package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"blogdash/github"
	"blogdash/logger"
	"blogdash/models"
	"blogdash/status"
)

// Fetcher errors
var (
	ErrUnknownSource = errors.New("unknown sync source")
	ErrNoCommits     = errors.New("no commits in range")
)

// DBInterface defines the store operations needed by the fetcher
type DBInterface interface {
	UpsertAuthors(ctx context.Context, records []models.RosterRecord) (models.UpsertResult, error)
	PostExists(ctx context.Context, url string) (bool, error)
	SavePosts(ctx context.Context, posts []models.PostRecord, now time.Time) (int, error)
	ReplaceIssues(ctx context.Context, bundles []models.IssueBundle) (models.UpsertResult, error)
	EnsureMonths(ctx context.Context, from, to time.Time) (int, error)
	LastSyncTime(ctx context.Context, source string) (time.Time, error)
	MarkSynced(ctx context.Context, source string, at time.Time) error
}

// GitHubClientInterface defines the GitHub client operations needed by the fetcher
type GitHubClientInterface interface {
	FetchCommits(ctx context.Context, repo string, since, until time.Time) ([]github.Commit, error)
	FetchIssuesSince(ctx context.Context, repo string, since time.Time) ([]github.Issue, error)
	FetchIssueEvents(ctx context.Context, repo string, number int, kind string) ([]github.IssueEvent, error)
	FetchRawFile(ctx context.Context, repo, path, ref string) ([]byte, error)
	ListDirectory(ctx context.Context, repo, path, ref string) ([]github.Entry, error)
}

// Options locates the remote data and bounds the month rollup
type Options struct {
	SiteRepo   string
	DraftsRepo string
	Ref        string
	RosterPath string
	PostsPath  string
	// Launch is the first month of the blog
	Launch time.Time
	Now    func() time.Time
}

// Syncer reconciles remote data into the store, one routine per source.
// Every routine writes in a single transaction and marks its source synced
// only after the write succeeds.
type Syncer struct {
	db     DBInterface
	client GitHubClientInterface
	opts   Options
}

// NewSyncer creates a Syncer
func NewSyncer(database DBInterface, client GitHubClientInterface, opts Options) *Syncer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{db: database, client: client, opts: opts}
}

// Sync runs the routine for source
func (s *Syncer) Sync(ctx context.Context, source string) error {
	var err error
	switch source {
	case models.SourceRoster:
		_, err = s.SyncRoster(ctx)
	case models.SourcePosts:
		_, err = s.SyncPosts(ctx)
	case models.SourceIssues:
		_, err = s.SyncIssues(ctx)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	return err
}

// SyncRoster merges the published roster into the stored authors
func (s *Syncer) SyncRoster(ctx context.Context) (models.UpsertResult, error) {
	start := s.opts.Now()
	logger.Info("Syncing roster",
		zap.String("repo", s.opts.SiteRepo),
		zap.String("path", s.opts.RosterPath))

	raw, err := s.client.FetchRawFile(ctx, s.opts.SiteRepo, s.opts.RosterPath, s.opts.Ref)
	if err != nil {
		return models.UpsertResult{}, fmt.Errorf("failed to fetch roster: %w", err)
	}

	records, err := ParseRosterFile(raw)
	if err != nil {
		return models.UpsertResult{}, err
	}

	result, err := s.db.UpsertAuthors(ctx, records)
	if err != nil {
		return models.UpsertResult{}, fmt.Errorf("failed to store roster: %w", err)
	}

	if err := s.db.MarkSynced(ctx, models.SourceRoster, start); err != nil {
		return result, err
	}

	logger.Info("Roster synced",
		zap.Int("records", len(records)),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Duration("duration", s.opts.Now().Sub(start)))
	return result, nil
}

// SyncPosts stores posts that are not stored yet. A post is a file in the
// posts directory whose name starts with its publish date.
func (s *Syncer) SyncPosts(ctx context.Context) (int, error) {
	start := s.opts.Now()
	logger.Info("Syncing posts",
		zap.String("repo", s.opts.SiteRepo),
		zap.String("path", s.opts.PostsPath))

	entries, err := s.client.ListDirectory(ctx, s.opts.SiteRepo, s.opts.PostsPath, s.opts.Ref)
	if err != nil {
		return 0, fmt.Errorf("failed to list posts: %w", err)
	}

	var records []models.PostRecord
	for _, entry := range entries {
		date, ok := models.PostDateFromName(entry.Name)
		if !ok {
			continue
		}

		url := entry.HTMLURL
		if url == "" {
			url = entry.Path
		}
		exists, err := s.db.PostExists(ctx, url)
		if err != nil {
			return 0, err
		}
		if exists {
			continue
		}

		raw, err := s.client.FetchRawFile(ctx, s.opts.SiteRepo, entry.Path, s.opts.Ref)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch post %s: %w", entry.Name, err)
		}
		fm, err := ParseFrontMatter(raw)
		if err != nil {
			logger.Warn("Skipping post with unreadable front matter",
				zap.String("post", entry.Name),
				zap.Error(err))
			continue
		}

		records = append(records, models.PostRecord{
			Post: models.Post{
				URL:         url,
				DownloadURL: entry.DownloadURL,
				PostDate:    date,
				Title:       fm.Title,
				Description: fm.Description,
				TumblrURL:   fm.TumblrURL,
			},
			Authors: fm.Authors,
		})
	}

	created, err := s.db.SavePosts(ctx, records, start)
	if err != nil {
		return 0, fmt.Errorf("failed to store posts: %w", err)
	}

	if err := s.db.MarkSynced(ctx, models.SourcePosts, start); err != nil {
		return created, err
	}

	logger.Info("Posts synced",
		zap.Int("listed", len(entries)),
		zap.Int("created", created),
		zap.Duration("duration", s.opts.Now().Sub(start)))
	return created, nil
}

// SyncIssues replaces every issue updated since the last issue sync with
// its current remote state, history included
func (s *Syncer) SyncIssues(ctx context.Context) (models.UpsertResult, error) {
	start := s.opts.Now()

	since, err := s.db.LastSyncTime(ctx, models.SourceIssues)
	if err != nil {
		return models.UpsertResult{}, err
	}

	logger.Info("Syncing issues",
		zap.String("repo", s.opts.DraftsRepo),
		zap.Time("since", since))

	issues, err := s.client.FetchIssuesSince(ctx, s.opts.DraftsRepo, since)
	if err != nil {
		return models.UpsertResult{}, fmt.Errorf("failed to fetch issues: %w", err)
	}
	sort.Slice(issues, func(i, j int) bool {
		if !issues[i].UpdatedAt.Equal(issues[j].UpdatedAt) {
			return issues[i].UpdatedAt.Before(issues[j].UpdatedAt)
		}
		return issues[i].Number < issues[j].Number
	})

	bundles := make([]models.IssueBundle, 0, len(issues))
	for _, issue := range issues {
		events, err := s.client.FetchIssueEvents(ctx, s.opts.DraftsRepo, issue.Number, "")
		if err != nil {
			return models.UpsertResult{}, fmt.Errorf("failed to fetch events of issue #%d: %w", issue.Number, err)
		}
		bundles = append(bundles, bundleIssue(issue, events))
	}

	result, err := s.db.ReplaceIssues(ctx, bundles)
	if err != nil {
		return models.UpsertResult{}, fmt.Errorf("failed to store issues: %w", err)
	}

	if err := s.db.MarkSynced(ctx, models.SourceIssues, start); err != nil {
		return result, err
	}

	logger.Info("Issues synced",
		zap.Int("fetched", len(issues)),
		zap.Int("created", result.Created),
		zap.Int("replaced", result.Updated),
		zap.Duration("duration", s.opts.Now().Sub(start)))
	return result, nil
}

// bundleIssue builds the stored aggregate of an issue. Milestones are the
// milestoned events; titles outside the status vocabulary are kept and logged.
func bundleIssue(issue github.Issue, events []github.IssueEvent) models.IssueBundle {
	b := models.IssueBundle{
		Issue: models.Issue{
			Number:    issue.Number,
			RemoteID:  issue.ID,
			Title:     issue.Title,
			Body:      issue.Body,
			State:     issue.State,
			Locked:    issue.Locked,
			HTMLURL:   issue.HTMLURL,
			CreatedAt: issue.CreatedAt,
			UpdatedAt: issue.UpdatedAt,
			ClosedAt:  issue.ClosedAt,
		},
		Creator:  issue.User,
		Assignee: issue.Assignee,
	}

	for _, l := range issue.Labels {
		b.Labels = append(b.Labels, models.Label{Name: l.Name, Color: l.Color})
	}

	for _, e := range events {
		b.Events = append(b.Events, models.Event{
			ID:        e.ID,
			Actor:     e.Actor,
			Event:     e.Event,
			CreatedAt: e.CreatedAt,
		})
	}

	for _, e := range github.FilterEvents(events, github.EventMilestoned) {
		if _, ok := status.Parse(e.MilestoneTitle); !ok {
			logger.Warn("Unknown milestone title",
				zap.Int("issue", issue.Number),
				zap.Int64("event_id", e.ID),
				zap.String("title", e.MilestoneTitle))
		}
		b.Milestones = append(b.Milestones, models.Milestone{
			ID:        e.ID,
			Title:     e.MilestoneTitle,
			CommitID:  e.CommitID,
			URL:       e.URL,
			CreatedAt: e.CreatedAt,
		})
	}
	return b
}

// BackfillMonths ensures a month row exists from the launch month through now
func (s *Syncer) BackfillMonths(ctx context.Context) (int, error) {
	return s.db.EnsureMonths(ctx, s.opts.Launch, s.opts.Now())
}

// RosterAt returns the roster as published at the end of month: the roster
// file at the latest commit made during that month
func (s *Syncer) RosterAt(ctx context.Context, month time.Time) ([]models.RosterRecord, error) {
	since, until := models.MonthOf(month), models.MonthEnd(month)
	commits, err := s.client.FetchCommits(ctx, s.opts.SiteRepo, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch commits: %w", err)
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCommits, since.Format("2006-01"))
	}

	// the API lists newest first
	latest := commits[0]
	for _, c := range commits[1:] {
		if c.Date.After(latest.Date) {
			latest = c
		}
	}

	raw, err := s.client.FetchRawFile(ctx, s.opts.SiteRepo, s.opts.RosterPath, latest.SHA)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roster at %s: %w", latest.SHA, err)
	}

	logger.Info("Loaded historical roster",
		zap.String("month", since.Format("2006-01")),
		zap.String("sha", latest.SHA))
	return ParseRosterFile(raw)
}
