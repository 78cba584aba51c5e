package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"blogdash/github"
	"blogdash/logger"
	"blogdash/models"
)

func init() {
	logger.Initialize("debug", true)
}

// MockDB is a mock implementation of the store
type MockDB struct {
	mock.Mock
}

func (m *MockDB) UpsertAuthors(ctx context.Context, records []models.RosterRecord) (models.UpsertResult, error) {
	args := m.Called(ctx, records)
	return args.Get(0).(models.UpsertResult), args.Error(1)
}

func (m *MockDB) PostExists(ctx context.Context, url string) (bool, error) {
	args := m.Called(ctx, url)
	return args.Bool(0), args.Error(1)
}

func (m *MockDB) SavePosts(ctx context.Context, posts []models.PostRecord, now time.Time) (int, error) {
	args := m.Called(ctx, posts, now)
	return args.Int(0), args.Error(1)
}

func (m *MockDB) ReplaceIssues(ctx context.Context, bundles []models.IssueBundle) (models.UpsertResult, error) {
	args := m.Called(ctx, bundles)
	return args.Get(0).(models.UpsertResult), args.Error(1)
}

func (m *MockDB) EnsureMonths(ctx context.Context, from, to time.Time) (int, error) {
	args := m.Called(ctx, from, to)
	return args.Int(0), args.Error(1)
}

func (m *MockDB) LastSyncTime(ctx context.Context, source string) (time.Time, error) {
	args := m.Called(ctx, source)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockDB) MarkSynced(ctx context.Context, source string, at time.Time) error {
	args := m.Called(ctx, source, at)
	return args.Error(0)
}

// MockGitHubClient is a mock implementation of the GitHub client
type MockGitHubClient struct {
	mock.Mock
}

func (m *MockGitHubClient) FetchCommits(ctx context.Context, repo string, since, until time.Time) ([]github.Commit, error) {
	args := m.Called(ctx, repo, since, until)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]github.Commit), args.Error(1)
}

func (m *MockGitHubClient) FetchIssuesSince(ctx context.Context, repo string, since time.Time) ([]github.Issue, error) {
	args := m.Called(ctx, repo, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]github.Issue), args.Error(1)
}

func (m *MockGitHubClient) FetchIssueEvents(ctx context.Context, repo string, number int, kind string) ([]github.IssueEvent, error) {
	args := m.Called(ctx, repo, number, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]github.IssueEvent), args.Error(1)
}

func (m *MockGitHubClient) FetchRawFile(ctx context.Context, repo, path, ref string) ([]byte, error) {
	args := m.Called(ctx, repo, path, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockGitHubClient) ListDirectory(ctx context.Context, repo, path, ref string) ([]github.Entry, error) {
	args := m.Called(ctx, repo, path, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]github.Entry), args.Error(1)
}

var syncStart = time.Date(2015, time.May, 20, 12, 0, 0, 0, time.UTC)

func newTestSyncer(db *MockDB, client *MockGitHubClient) *Syncer {
	return NewSyncer(db, client, Options{
		SiteRepo:   "18f.gsa.gov",
		DraftsRepo: "blog-drafts",
		Ref:        "staging",
		RosterPath: "_data/authors.yml",
		PostsPath:  "_posts",
		Launch:     time.Date(2014, time.March, 1, 0, 0, 0, 0, time.UTC),
		Now:        func() time.Time { return syncStart },
	})
}

const rosterYAML = `
alice:
  first_name: Alice
  full_name: Alice A
  location: DC
bob:
  first_name: Bob
  private:
    location: SF
`

func TestSyncRoster(t *testing.T) {
	remoteErr := errors.New("boom")

	testCases := []struct {
		name          string
		setupMocks    func(*MockDB, *MockGitHubClient)
		expected      models.UpsertResult
		expectedError error
	}{
		{
			name: "successful sync",
			setupMocks: func(db *MockDB, client *MockGitHubClient) {
				client.On("FetchRawFile", mock.Anything, "18f.gsa.gov", "_data/authors.yml", "staging").
					Return([]byte(rosterYAML), nil)
				db.On("UpsertAuthors", mock.Anything, mock.MatchedBy(func(records []models.RosterRecord) bool {
					return len(records) == 2
				})).Return(models.UpsertResult{Created: 1, Updated: 1}, nil)
				db.On("MarkSynced", mock.Anything, models.SourceRoster, syncStart).Return(nil)
			},
			expected: models.UpsertResult{Created: 1, Updated: 1},
		},
		{
			name: "remote failure writes nothing",
			setupMocks: func(db *MockDB, client *MockGitHubClient) {
				client.On("FetchRawFile", mock.Anything, "18f.gsa.gov", "_data/authors.yml", "staging").
					Return(nil, remoteErr)
			},
			expectedError: remoteErr,
		},
		{
			name: "store failure is not marked synced",
			setupMocks: func(db *MockDB, client *MockGitHubClient) {
				client.On("FetchRawFile", mock.Anything, "18f.gsa.gov", "_data/authors.yml", "staging").
					Return([]byte(rosterYAML), nil)
				db.On("UpsertAuthors", mock.Anything, mock.Anything).
					Return(models.UpsertResult{}, remoteErr)
			},
			expectedError: remoteErr,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			db := new(MockDB)
			client := new(MockGitHubClient)
			tc.setupMocks(db, client)

			result, err := newTestSyncer(db, client).SyncRoster(context.Background())
			if tc.expectedError != nil {
				assert.ErrorIs(t, err, tc.expectedError)
				db.AssertNotCalled(t, "MarkSynced", mock.Anything, mock.Anything, mock.Anything)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.expected, result)
			}
			db.AssertExpectations(t)
			client.AssertExpectations(t)
		})
	}
}

func TestSyncPosts(t *testing.T) {
	db := new(MockDB)
	client := new(MockGitHubClient)

	entries := []github.Entry{
		{Name: "2015-03-09-hello.md", Path: "_posts/2015-03-09-hello.md", Type: "file",
			HTMLURL: "https://github.com/18F/18f.gsa.gov/blob/staging/_posts/2015-03-09-hello.md"},
		{Name: "2015-03-10-old.md", Path: "_posts/2015-03-10-old.md", Type: "file",
			HTMLURL: "https://github.com/18F/18f.gsa.gov/blob/staging/_posts/2015-03-10-old.md"},
		{Name: "2015-04-01-broken.md", Path: "_posts/2015-04-01-broken.md", Type: "file",
			HTMLURL: "https://github.com/18F/18f.gsa.gov/blob/staging/_posts/2015-04-01-broken.md"},
		{Name: "README.md", Path: "_posts/README.md", Type: "file"},
	}
	client.On("ListDirectory", mock.Anything, "18f.gsa.gov", "_posts", "staging").Return(entries, nil)

	db.On("PostExists", mock.Anything, entries[0].HTMLURL).Return(false, nil)
	db.On("PostExists", mock.Anything, entries[1].HTMLURL).Return(true, nil)
	db.On("PostExists", mock.Anything, entries[2].HTMLURL).Return(false, nil)

	client.On("FetchRawFile", mock.Anything, "18f.gsa.gov", entries[0].Path, "staging").
		Return([]byte("---\ntitle: Hello\nauthors:\n\t- Alice\n\t- bob\n---\nBody"), nil)
	client.On("FetchRawFile", mock.Anything, "18f.gsa.gov", entries[2].Path, "staging").
		Return([]byte("no header here"), nil)

	db.On("SavePosts", mock.Anything, mock.MatchedBy(func(posts []models.PostRecord) bool {
		if len(posts) != 1 {
			return false
		}
		p := posts[0]
		return p.Title == "Hello" &&
			p.PostDate.Equal(time.Date(2015, time.March, 9, 0, 0, 0, 0, time.UTC)) &&
			assert.ObjectsAreEqual([]string{"Alice", "bob"}, p.Authors)
	}), syncStart).Return(1, nil)
	db.On("MarkSynced", mock.Anything, models.SourcePosts, syncStart).Return(nil)

	created, err := newTestSyncer(db, client).SyncPosts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	db.AssertExpectations(t)
	client.AssertExpectations(t)
	client.AssertNotCalled(t, "FetchRawFile", mock.Anything, "18f.gsa.gov", entries[1].Path, "staging")
}

func TestSyncPostsAbortsOnFetchFailure(t *testing.T) {
	db := new(MockDB)
	client := new(MockGitHubClient)

	entries := []github.Entry{{Name: "2015-03-09-hello.md", Path: "_posts/2015-03-09-hello.md", HTMLURL: "u"}}
	client.On("ListDirectory", mock.Anything, "18f.gsa.gov", "_posts", "staging").Return(entries, nil)
	db.On("PostExists", mock.Anything, "u").Return(false, nil)
	client.On("FetchRawFile", mock.Anything, "18f.gsa.gov", entries[0].Path, "staging").
		Return(nil, github.ErrNoData)

	_, err := newTestSyncer(db, client).SyncPosts(context.Background())
	assert.ErrorIs(t, err, github.ErrNoData)
	db.AssertNotCalled(t, "SavePosts", mock.Anything, mock.Anything, mock.Anything)
	db.AssertNotCalled(t, "MarkSynced", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncIssues(t *testing.T) {
	lastSync := time.Date(2015, time.May, 1, 0, 0, 0, 0, time.UTC)
	created := time.Date(2015, time.May, 2, 0, 0, 0, 0, time.UTC)

	issues := []github.Issue{
		{ID: 2002, Number: 12, Title: "Second", State: "open", User: "bob", UpdatedAt: created.Add(2 * time.Hour)},
		{ID: 2001, Number: 11, Title: "First", State: "open", User: "alice",
			Labels: []github.Label{{Name: "blog", Color: "00ff00"}}, UpdatedAt: created.Add(time.Hour)},
	}
	events := []github.IssueEvent{
		{ID: 1, Event: "labeled", Actor: "alice", CreatedAt: created},
		{ID: 2, Event: "milestoned", Actor: "alice", MilestoneTitle: "draft", CreatedAt: created.Add(time.Minute)},
		{ID: 3, Event: "milestoned", Actor: "alice", MilestoneTitle: "Someday", CreatedAt: created.Add(2 * time.Minute)},
	}

	db := new(MockDB)
	client := new(MockGitHubClient)
	db.On("LastSyncTime", mock.Anything, models.SourceIssues).Return(lastSync, nil)
	client.On("FetchIssuesSince", mock.Anything, "blog-drafts", lastSync).Return(issues, nil)
	client.On("FetchIssueEvents", mock.Anything, "blog-drafts", 11, "").Return(events, nil)
	client.On("FetchIssueEvents", mock.Anything, "blog-drafts", 12, "").Return([]github.IssueEvent{}, nil)

	var stored []models.IssueBundle
	db.On("ReplaceIssues", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { stored = args.Get(1).([]models.IssueBundle) }).
		Return(models.UpsertResult{Created: 2}, nil)
	db.On("MarkSynced", mock.Anything, models.SourceIssues, syncStart).Return(nil)

	result, err := newTestSyncer(db, client).SyncIssues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.UpsertResult{Created: 2}, result)

	require.Len(t, stored, 2)
	first := stored[0]
	assert.Equal(t, 11, first.Issue.Number)
	assert.Equal(t, "alice", first.Creator)
	assert.Equal(t, []models.Label{{Name: "blog", Color: "00ff00"}}, first.Labels)
	assert.Len(t, first.Events, 3)
	require.Len(t, first.Milestones, 2)
	assert.Equal(t, "draft", first.Milestones[0].Title)
	// unknown titles are kept
	assert.Equal(t, "Someday", first.Milestones[1].Title)
	assert.Empty(t, stored[1].Milestones)

	db.AssertExpectations(t)
	client.AssertExpectations(t)
}

func TestSyncIssuesFailureLeavesCursor(t *testing.T) {
	db := new(MockDB)
	client := new(MockGitHubClient)
	db.On("LastSyncTime", mock.Anything, models.SourceIssues).Return(time.Unix(0, 0).UTC(), nil)
	client.On("FetchIssuesSince", mock.Anything, "blog-drafts", mock.Anything).Return(nil, github.ErrNoData)

	_, err := newTestSyncer(db, client).SyncIssues(context.Background())
	assert.ErrorIs(t, err, github.ErrNoData)
	db.AssertNotCalled(t, "ReplaceIssues", mock.Anything, mock.Anything)
	db.AssertNotCalled(t, "MarkSynced", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncUnknownSource(t *testing.T) {
	err := newTestSyncer(new(MockDB), new(MockGitHubClient)).Sync(context.Background(), "tweets")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestBackfillMonths(t *testing.T) {
	db := new(MockDB)
	db.On("EnsureMonths", mock.Anything, time.Date(2014, time.March, 1, 0, 0, 0, 0, time.UTC), syncStart).Return(15, nil)

	created, err := newTestSyncer(db, new(MockGitHubClient)).BackfillMonths(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15, created)
	db.AssertExpectations(t)
}

func TestRosterAt(t *testing.T) {
	month := time.Date(2015, time.March, 14, 0, 0, 0, 0, time.UTC)
	since := time.Date(2015, time.March, 1, 0, 0, 0, 0, time.UTC)

	t.Run("uses the latest commit of the month", func(t *testing.T) {
		client := new(MockGitHubClient)
		client.On("FetchCommits", mock.Anything, "18f.gsa.gov", since, mock.Anything).Return([]github.Commit{
			{SHA: "newest", Date: since.Add(20 * 24 * time.Hour)},
			{SHA: "older", Date: since.Add(24 * time.Hour)},
		}, nil)
		client.On("FetchRawFile", mock.Anything, "18f.gsa.gov", "_data/authors.yml", "newest").
			Return([]byte(rosterYAML), nil)

		records, err := newTestSyncer(new(MockDB), client).RosterAt(context.Background(), month)
		require.NoError(t, err)
		assert.Len(t, records, 2)
		client.AssertExpectations(t)
	})

	t.Run("no commits", func(t *testing.T) {
		client := new(MockGitHubClient)
		client.On("FetchCommits", mock.Anything, "18f.gsa.gov", since, mock.Anything).Return([]github.Commit{}, nil)

		_, err := newTestSyncer(new(MockDB), client).RosterAt(context.Background(), month)
		assert.ErrorIs(t, err, ErrNoCommits)
	})
}

func TestParseFrontMatter(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		want    FrontMatter
		wantErr bool
	}{
		{
			name: "author list",
			raw:  "---\ntitle: \"Hello\"\nauthors:\n- alice\n- bob\ntumblr_url: http://t/1\n---\nbody",
			want: FrontMatter{Title: "Hello", Authors: stringList{"alice", "bob"}, TumblrURL: "http://t/1"},
		},
		{
			name: "single author",
			raw:  "---\ntitle: Hi\nauthors: alice\n---\n",
			want: FrontMatter{Title: "Hi", Authors: stringList{"alice"}},
		},
		{
			name: "tab indentation",
			raw:  "---\ntitle: Tabs\nauthors:\n\t- carol\n---\n",
			want: FrontMatter{Title: "Tabs", Authors: stringList{"carol"}},
		},
		{
			name: "null authors",
			raw:  "---\ntitle: Nobody\nauthors:\n---\n",
			want: FrontMatter{Title: "Nobody"},
		},
		{
			name:    "missing header",
			raw:     "just text",
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			raw:     "---\ntitle: [unclosed\n---\n",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseFrontMatter([]byte(tc.raw))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseRosterFile(t *testing.T) {
	records, err := ParseRosterFile([]byte(rosterYAML))
	require.NoError(t, err)
	require.Len(t, records, 2)

	byName := map[string]models.RosterRecord{}
	for _, r := range records {
		byName[r.Username] = r
	}
	loc, ok := byName["bob"].Location.Get()
	assert.True(t, ok)
	assert.Equal(t, "SF", loc)

	_, err = ParseRosterFile([]byte("alice: [1, 2"))
	assert.Error(t, err)
}
