// Package models defines the core data structures used throughout the application.
package models

import "time"

// Sync sources tracked in the sync log
const (
	SourceRoster = "roster"
	SourcePosts  = "posts"
	SourceIssues = "issues"
)

// Sources lists the sync sources in refresh order. Posts resolve authors
// from the roster, so the roster must come first.
var Sources = []string{SourceRoster, SourcePosts, SourceIssues}

// DutyStation is a location an author works from
type DutyStation struct {
	Code   string `db:"code" json:"code"`
	Name   string `db:"name" json:"name"`
	Bucket string `db:"bucket" json:"bucket"`
}

// Location buckets used by the dashboard
const (
	BucketDC    = "DC"
	BucketSF    = "SF"
	BucketCHI   = "CHI"
	BucketOther = "OTHER"
)

// Buckets lists the location buckets in display order.
var Buckets = []string{BucketDC, BucketSF, BucketCHI, BucketOther}

// DefaultDutyStations is the static duty station reference data seeded on migrate.
var DefaultDutyStations = []DutyStation{
	{Code: "DC", Name: "Washington, DC", Bucket: BucketDC},
	{Code: "SF", Name: "San Francisco, CA", Bucket: BucketSF},
	{Code: "CHI", Name: "Chicago, IL", Bucket: BucketCHI},
	{Code: "NYC", Name: "New York, NY", Bucket: BucketOther},
	{Code: "TUC", Name: "Tucson, AZ", Bucket: BucketOther},
	{Code: "DEN", Name: "Denver, CO", Bucket: BucketOther},
	{Code: "DAY", Name: "Dayton, OH", Bucket: BucketOther},
	{Code: "ATL", Name: "Atlanta, GA", Bucket: BucketOther},
	{Code: "AUS", Name: "Austin, TX", Bucket: BucketOther},
	{Code: "SEA", Name: "Seattle, WA", Bucket: BucketOther},
	{Code: "PHL", Name: "Philadelphia, PA", Bucket: BucketOther},
	{Code: "REMOTE", Name: "Remote", Bucket: BucketOther},
}

// Team groups authors
type Team struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Author is a tracked blog contributor (roster member)
type Author struct {
	ID              int64      `db:"id" json:"id"`
	Username        string     `db:"username" json:"username"`
	FirstName       string     `db:"first_name" json:"first_name"`
	LastName        string     `db:"last_name" json:"last_name"`
	FullName        string     `db:"full_name" json:"full_name"`
	URL             string     `db:"url" json:"url"`
	Pronouns        string     `db:"pronouns" json:"pronouns"`
	DutyStationCode *string    `db:"duty_station_code" json:"duty_station_code,omitempty"`
	TeamID          *int64     `db:"team_id" json:"team_id,omitempty"`
	FirstPublished  *time.Time `db:"first_published" json:"first_published,omitempty"`
}

// Post is a published blog post. Posts are never updated once stored.
type Post struct {
	ID          int64     `db:"id" json:"id"`
	URL         string    `db:"url" json:"url"`
	DownloadURL string    `db:"download_url" json:"download_url"`
	PostDate    time.Time `db:"post_date" json:"post_date"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	TumblrURL   string    `db:"tumblr_url" json:"tumblr_url"`
}

// PostRecord is a post discovered remotely, ready to be stored
type PostRecord struct {
	Post
	Authors []string
}

// Month is a first-of-month rollup bucket
type Month struct {
	ID    int64     `db:"id" json:"id"`
	Month time.Time `db:"month" json:"month"`
}

// Issue is a draft-post tracking ticket. Number is the remote issue number
// and is the identity used for replacement.
type Issue struct {
	ID         int64      `db:"id" json:"id"`
	Number     int        `db:"number" json:"number"`
	RemoteID   int64      `db:"remote_id" json:"remote_id"`
	Title      string     `db:"title" json:"title"`
	Body       string     `db:"body" json:"body"`
	State      string     `db:"state" json:"state"`
	Locked     bool       `db:"locked" json:"locked"`
	HTMLURL    string     `db:"html_url" json:"html_url"`
	CreatorID  *int64     `db:"creator_id" json:"creator_id,omitempty"`
	AssigneeID *int64     `db:"assignee_id" json:"assignee_id,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
	ClosedAt   *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}

// IsClosed reports whether the issue has been closed upstream
func (i Issue) IsClosed() bool {
	return i.State == "closed" || i.ClosedAt != nil
}

// Milestone is a status change event on an issue (StatusEvent). ID is the
// remote event id.
type Milestone struct {
	ID        int64     `db:"id" json:"id"`
	IssueID   int64     `db:"issue_id" json:"issue_id"`
	Title     string    `db:"title" json:"title"`
	CommitID  string    `db:"commit_id" json:"commit_id"`
	URL       string    `db:"url" json:"url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Event is a raw issue history record kept for audit display
type Event struct {
	ID        int64     `db:"id" json:"id"`
	IssueID   int64     `db:"issue_id" json:"issue_id"`
	Actor     string    `db:"actor" json:"actor"`
	Event     string    `db:"event" json:"event"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Label is shared across issues and reused by name
type Label struct {
	ID    int64  `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Color string `db:"color" json:"color"`
}

// IssueBundle is an issue aggregate as fetched remotely: the issue plus
// everything it owns. It replaces any stored issue with the same number.
type IssueBundle struct {
	Issue      Issue
	Creator    string
	Assignee   string
	Labels     []Label
	Milestones []Milestone
	Events     []Event
}

// IssueCard is a stored issue with its children, for display
type IssueCard struct {
	Issue
	Labels     []string    `json:"labels"`
	Milestones []Milestone `json:"milestones"`
	Events     []Event     `json:"events,omitempty"`
}

// SyncLog records the last successful sync of a source
type SyncLog struct {
	Source   string    `db:"source" json:"source"`
	SyncedAt time.Time `db:"synced_at" json:"synced_at"`
}

// UpsertResult counts what an upsert did
type UpsertResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// MonthCount is the number of authors active in a month
type MonthCount struct {
	Month time.Time `db:"month" json:"month"`
	Count int       `db:"author_count" json:"count"`
}

// BucketCount is the number of authors active in a month for a location bucket
type BucketCount struct {
	Month  time.Time `db:"month" json:"month"`
	Bucket string    `db:"bucket" json:"bucket"`
	Count  int       `db:"author_count" json:"count"`
}

// TeamCount is the number of authors in a team
type TeamCount struct {
	Team  string `db:"team" json:"team"`
	Count int    `db:"author_count" json:"count"`
}

// Stats summarises the store for the dashboard header
type Stats struct {
	Authors          int        `db:"authors" json:"authors"`
	PublishedAuthors int        `db:"published_authors" json:"published_authors"`
	Posts            int        `db:"posts" json:"posts"`
	Issues           int        `db:"issues" json:"issues"`
	OpenIssues       int        `db:"open_issues" json:"open_issues"`
	FirstPost        *time.Time `db:"-" json:"first_post,omitempty"`
	LastPost         *time.Time `db:"-" json:"last_post,omitempty"`
}
