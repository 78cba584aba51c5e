// Package web serves the dashboard read surface over HTTP.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"blogdash/metrics"
	"blogdash/models"
)

const (
	requestTimeout = 2 * time.Minute
	authRealm      = "blogdash"
)

// Queries are the store reads behind the dashboard views
type Queries interface {
	AuthorCountsByMonth(ctx context.Context) ([]models.MonthCount, error)
	AuthorCountsByLocation(ctx context.Context) ([]models.BucketCount, error)
	AuthorCountsByTeam(ctx context.Context) ([]models.TeamCount, error)
	PostCountsByMonth(ctx context.Context) ([]models.MonthCount, error)
	IssueBoard(ctx context.Context) ([]models.IssueCard, error)
	IssueByNumber(ctx context.Context, number int) (*models.IssueCard, error)
	SyncLog(ctx context.Context) ([]models.SyncLog, error)
	Stats(ctx context.Context) (*models.Stats, error)
	Ping(ctx context.Context) error
}

// RefreshFunc brings stale data up to date before a view is rendered
type RefreshFunc func(ctx context.Context) error

// Options configures the router. Empty User disables basic auth.
type Options struct {
	Queries  Queries
	Refresh  RefreshFunc
	User     string
	Password string
}

// NewRouter returns the dashboard handler
func NewRouter(opts Options) http.Handler {
	h := NewHandler(opts.Queries, opts.Refresh)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(instrument)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if opts.User != "" {
			r.Use(chimiddleware.BasicAuth(authRealm, map[string]string{opts.User: opts.Password}))
		}
		r.Use(chimiddleware.Timeout(requestTimeout))

		r.Get("/stats", h.Stats)
		r.Get("/sync", h.SyncLog)

		// views refresh stale sources before reading
		r.Group(func(r chi.Router) {
			r.Use(h.refreshFirst)
			r.Get("/authors/months", h.AuthorMonths)
			r.Get("/authors/locations", h.AuthorLocations)
			r.Get("/authors/teams", h.AuthorTeams)
			r.Get("/posts/histogram", h.PostHistogram)
			r.Get("/issues", h.Issues)
			r.Get("/issues/{number}", h.Issue)
		})
	})

	return r
}

// instrument records request counts and latency by route pattern
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordRequest(route, status, time.Since(start))
	})
}
