package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"blogdash/db"
	"blogdash/logger"
	"blogdash/models"
	"blogdash/status"
)

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes an API error
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IssueView is an issue card with its encoded status timeline. Fields are
// named rather than embedded; go-json cannot encode the nested embedding.
type IssueView struct {
	Issue      models.Issue       `json:"issue"`
	Labels     []string           `json:"labels"`
	Milestones []models.Milestone `json:"milestones"`
	Events     []models.Event     `json:"events,omitempty"`
	Timeline   []TimelineStep     `json:"timeline"`
	Current    *status.Step       `json:"current,omitempty"`
}

// TimelineStep is a timeline step and the step that follows it
type TimelineStep struct {
	Step status.Step  `json:"step"`
	Next *status.Step `json:"next,omitempty"`
}

// Handler serves the dashboard endpoints
type Handler struct {
	queries Queries
	refresh RefreshFunc
}

// NewHandler creates a Handler. A nil refresh never refreshes.
func NewHandler(queries Queries, refresh RefreshFunc) *Handler {
	return &Handler{queries: queries, refresh: refresh}
}

// refreshFirst runs the refresh before the view. A failed refresh is logged
// and the stored data is served.
func (h *Handler) refreshFirst(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.refresh != nil {
			if err := h.refresh(r.Context()); err != nil {
				logger.Warn("Refresh failed, serving stored data",
					zap.String("path", r.URL.Path),
					zap.Error(err))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Health reports whether the store is reachable
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.queries.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AuthorMonths serves the cumulative author count per month
func (h *Handler) AuthorMonths(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queries.AuthorCountsByMonth(r.Context())
	if err != nil {
		internalError(w, "author counts by month", err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// AuthorLocations serves the author count per month and location bucket
func (h *Handler) AuthorLocations(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queries.AuthorCountsByLocation(r.Context())
	if err != nil {
		internalError(w, "author counts by location", err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// AuthorTeams serves the author count per team
func (h *Handler) AuthorTeams(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queries.AuthorCountsByTeam(r.Context())
	if err != nil {
		internalError(w, "author counts by team", err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// PostHistogram serves the number of posts per month
func (h *Handler) PostHistogram(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queries.PostCountsByMonth(r.Context())
	if err != nil {
		internalError(w, "post histogram", err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// Issues serves the issue board
func (h *Handler) Issues(w http.ResponseWriter, r *http.Request) {
	cards, err := h.queries.IssueBoard(r.Context())
	if err != nil {
		internalError(w, "issue board", err)
		return
	}
	views := make([]IssueView, 0, len(cards))
	for _, card := range cards {
		views = append(views, newIssueView(card))
	}
	writeJSON(w, http.StatusOK, views)
}

// Issue serves one issue with its history
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_NUMBER", "issue number must be a positive integer")
		return
	}

	card, err := h.queries.IssueByNumber(r.Context(), number)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "issue not found")
			return
		}
		internalError(w, "issue", err)
		return
	}
	writeJSON(w, http.StatusOK, newIssueView(*card))
}

// SyncLog serves the last sync time of every source
func (h *Handler) SyncLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queries.SyncLog(r.Context())
	if err != nil {
		internalError(w, "sync log", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Stats serves store-wide counts
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queries.Stats(r.Context())
	if err != nil {
		internalError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func newIssueView(card models.IssueCard) IssueView {
	steps := status.Timeline(card.Issue, card.Milestones)
	view := IssueView{
		Issue:      card.Issue,
		Labels:     card.Labels,
		Milestones: card.Milestones,
		Events:     card.Events,
		Timeline:   make([]TimelineStep, len(steps)),
	}
	for i, step := range steps {
		view.Timeline[i].Step = step
		if next, ok := status.Next(steps, i); ok {
			view.Timeline[i].Next = &next
		}
	}
	if cur, ok := status.Current(steps); ok {
		view.Current = &cur
	}
	return view
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		logger.Error("Failed to encode JSON response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, ErrorResponse{Error: ErrorDetail{Code: errCode, Message: message}})
}

func internalError(w http.ResponseWriter, view string, err error) {
	logger.Error("Failed to read view", zap.String("view", view), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}
