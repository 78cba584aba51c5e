package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"blogdash/logger"

	gh "github.com/google/go-github/v57/github"
	"go.uber.org/zap"
)

// ErrNoData is returned, wrapped, for every failed remote call. An empty
// result is never an error.
var ErrNoData = errors.New("no data from remote")

// DateFormat is the timestamp layout exchanged with the remote API
const DateFormat = "2006-01-02T15:04:05Z"

// PageSize is the per_page value sent on every list request. Issue events
// are read from a single page, so events past the first PageSize are dropped.
const PageSize = 100

// EventMilestoned is the issue event kind that records a status change
const EventMilestoned = "milestoned"

// BeginningOfTime is the since value used when nothing has been synced yet
var BeginningOfTime = time.Unix(0, 0).UTC()

// Options configures a Client
type Options struct {
	BaseURL         string
	Owner           string
	User            string
	Token           string
	RateLimit       float64
	RetryMaxElapsed time.Duration
	// Transport is the base round tripper; http.DefaultTransport when nil
	Transport http.RoundTripper
}

// Client reads repositories of a single owner
type Client struct {
	gh    *gh.Client
	owner string
}

// Commit is a repository commit
type Commit struct {
	SHA        string
	Message    string
	AuthorName string
	Date       time.Time
	HTMLURL    string
}

// Label is an issue label
type Label struct {
	Name  string
	Color string
}

// Issue is a remote issue with the fields the store keeps
type Issue struct {
	ID        int64
	Number    int
	Title     string
	Body      string
	State     string
	Locked    bool
	HTMLURL   string
	User      string
	Assignee  string
	Labels    []Label
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// IssueEvent is one entry of an issue's event history
type IssueEvent struct {
	ID             int64
	Event          string
	Actor          string
	CommitID       string
	URL            string
	MilestoneTitle string
	CreatedAt      time.Time
}

// Entry is one item of a repository directory listing
type Entry struct {
	Name        string
	Path        string
	Type        string
	HTMLURL     string
	DownloadURL string
}

// NewClient creates a client for the configured owner
func NewClient(opts Options) (*Client, error) {
	if opts.Owner == "" {
		return nil, fmt.Errorf("owner is required")
	}

	httpClient := &http.Client{
		Timeout:   clientTimeout(opts.RetryMaxElapsed),
		Transport: newTransport(opts, opts.Transport),
	}
	client := gh.NewClient(httpClient)

	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL %q: %w", opts.BaseURL, err)
		}
		client.BaseURL = u
	}

	logger.Info("Initializing GitHub client",
		zap.String("base_url", client.BaseURL.String()),
		zap.String("owner", opts.Owner),
		zap.Bool("basic_auth", opts.User != ""))

	return &Client{gh: client, owner: opts.Owner}, nil
}

func noData(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNoData, op, err)
}

// FetchCommits returns every commit in repo with since <= date <= until
func (c *Client) FetchCommits(ctx context.Context, repo string, since, until time.Time) ([]Commit, error) {
	opts := &gh.CommitsListOptions{
		Since:       since.UTC().Truncate(time.Second),
		Until:       until.UTC().Truncate(time.Second),
		ListOptions: gh.ListOptions{PerPage: PageSize},
	}

	commits := []Commit{}
	for {
		page, resp, err := c.gh.Repositories.ListCommits(ctx, c.owner, repo, opts)
		if err != nil {
			return nil, noData(fmt.Sprintf("list commits of %s", repo), err)
		}
		for _, rc := range page {
			commits = append(commits, Commit{
				SHA:        rc.GetSHA(),
				Message:    rc.GetCommit().GetMessage(),
				AuthorName: rc.GetCommit().GetAuthor().GetName(),
				Date:       rc.GetCommit().GetAuthor().GetDate().Time,
				HTMLURL:    rc.GetHTMLURL(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	logger.Debug("Fetched commits",
		zap.String("repo", repo),
		zap.Time("since", since),
		zap.Time("until", until),
		zap.Int("count", len(commits)))
	return commits, nil
}

// FetchIssuesSince returns every issue updated at or after since.
//
// The server does not reliably honour the requested sort order, so pages are
// not trusted for completeness. Each request advances since to the latest
// updated_at seen on the previous page and results are keyed by number, last
// write winning. The loop stops on the first page that brings no new number.
// There is no page cap: heavily overlapping updates cost extra round trips.
// A failed page fails the whole call and nothing accumulated is returned.
func (c *Client) FetchIssuesSince(ctx context.Context, repo string, since time.Time) ([]Issue, error) {
	if since.IsZero() {
		since = BeginningOfTime
	}
	cursor := since.UTC().Truncate(time.Second)

	byNumber := make(map[int]Issue)
	requests := 0
	for {
		opts := &gh.IssueListByRepoOptions{
			State:       "all",
			Sort:        "updated",
			Direction:   "asc",
			Since:       cursor,
			ListOptions: gh.ListOptions{PerPage: PageSize},
		}
		page, _, err := c.gh.Issues.ListByRepo(ctx, c.owner, repo, opts)
		requests++
		if err != nil {
			return nil, noData(fmt.Sprintf("list issues of %s since %s", repo, cursor.Format(DateFormat)), err)
		}

		added := 0
		latest := cursor
		for _, raw := range page {
			issue := convertIssue(raw)
			if _, seen := byNumber[issue.Number]; !seen {
				added++
			}
			byNumber[issue.Number] = issue
			if issue.UpdatedAt.After(latest) {
				latest = issue.UpdatedAt
			}
		}

		logger.Debug("Fetched issue page",
			zap.String("repo", repo),
			zap.String("since", cursor.Format(DateFormat)),
			zap.Int("items", len(page)),
			zap.Int("new", added))

		if added == 0 {
			break
		}
		cursor = latest.UTC().Truncate(time.Second)
	}

	issues := make([]Issue, 0, len(byNumber))
	for _, issue := range byNumber {
		issues = append(issues, issue)
	}

	logger.Info("Fetched issues",
		zap.String("repo", repo),
		zap.String("since", since.UTC().Format(DateFormat)),
		zap.Int("count", len(issues)),
		zap.Int("requests", requests))
	return issues, nil
}

// FetchIssueEvents returns the first page of an issue's events. A non-empty
// kind keeps only events of that kind.
func (c *Client) FetchIssueEvents(ctx context.Context, repo string, number int, kind string) ([]IssueEvent, error) {
	page, _, err := c.gh.Issues.ListIssueEvents(ctx, c.owner, repo, number, &gh.ListOptions{PerPage: PageSize})
	if err != nil {
		return nil, noData(fmt.Sprintf("list events of %s#%d", repo, number), err)
	}

	events := make([]IssueEvent, 0, len(page))
	for _, e := range page {
		events = append(events, IssueEvent{
			ID:             e.GetID(),
			Event:          e.GetEvent(),
			Actor:          e.GetActor().GetLogin(),
			CommitID:       e.GetCommitID(),
			URL:            e.GetURL(),
			MilestoneTitle: e.GetMilestone().GetTitle(),
			CreatedAt:      e.GetCreatedAt().Time,
		})
	}
	return FilterEvents(events, kind), nil
}

// FetchMilestones returns the status-change events of an issue
func (c *Client) FetchMilestones(ctx context.Context, repo string, number int) ([]IssueEvent, error) {
	return c.FetchIssueEvents(ctx, repo, number, EventMilestoned)
}

// FilterEvents keeps the events whose kind equals kind. An empty kind keeps all.
func FilterEvents(events []IssueEvent, kind string) []IssueEvent {
	if kind == "" {
		return events
	}
	filtered := make([]IssueEvent, 0, len(events))
	for _, e := range events {
		if e.Event == kind {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// FetchRawFile returns the content of path in repo at ref
func (c *Client) FetchRawFile(ctx context.Context, repo, path, ref string) ([]byte, error) {
	op := fmt.Sprintf("get %s/%s@%s", repo, path, ref)
	file, _, _, err := c.gh.Repositories.GetContents(ctx, c.owner, repo, path, &gh.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, noData(op, err)
	}
	if file == nil {
		return nil, noData(op, fmt.Errorf("path is a directory"))
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, noData(op, err)
	}
	return []byte(content), nil
}

// ListDirectory returns the entries of the directory at path in repo at ref
func (c *Client) ListDirectory(ctx context.Context, repo, path, ref string) ([]Entry, error) {
	op := fmt.Sprintf("list %s/%s@%s", repo, path, ref)
	_, dir, _, err := c.gh.Repositories.GetContents(ctx, c.owner, repo, path, &gh.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, noData(op, err)
	}
	if dir == nil {
		return nil, noData(op, fmt.Errorf("path is a file"))
	}

	entries := make([]Entry, 0, len(dir))
	for _, item := range dir {
		entries = append(entries, Entry{
			Name:        item.GetName(),
			Path:        item.GetPath(),
			Type:        item.GetType(),
			HTMLURL:     item.GetHTMLURL(),
			DownloadURL: item.GetDownloadURL(),
		})
	}
	return entries, nil
}

func convertIssue(raw *gh.Issue) Issue {
	issue := Issue{
		ID:        raw.GetID(),
		Number:    raw.GetNumber(),
		Title:     raw.GetTitle(),
		Body:      raw.GetBody(),
		State:     raw.GetState(),
		Locked:    raw.GetLocked(),
		HTMLURL:   raw.GetHTMLURL(),
		User:      raw.GetUser().GetLogin(),
		Assignee:  raw.GetAssignee().GetLogin(),
		CreatedAt: raw.GetCreatedAt().Time,
		UpdatedAt: raw.GetUpdatedAt().Time,
	}
	if raw.ClosedAt != nil {
		closed := raw.ClosedAt.Time
		issue.ClosedAt = &closed
	}
	for _, l := range raw.Labels {
		issue.Labels = append(issue.Labels, Label{Name: l.GetName(), Color: l.GetColor()})
	}
	return issue
}
