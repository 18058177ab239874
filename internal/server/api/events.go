package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/cameramouse/internal/store"
	"github.com/ayusman/cameramouse/internal/supervisor"
)

// MaxEventLimit caps the limit query parameter.
const MaxEventLimit = 1000

// EventHandler serves the stored tracking events.
type EventHandler struct {
	store *store.Store
}

// NewEventHandler creates a new EventHandler with the given store.
func NewEventHandler(s *store.Store) *EventHandler {
	return &EventHandler{store: s}
}

type eventResponse struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Kind      string         `json:"kind"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Point     *pointResponse `json:"point"`
	Remaining *int           `json:"remaining,omitempty"`
	CreatedAt string         `json:"created_at"`
}

type listEventsResponse struct {
	Events []eventResponse `json:"events"`
}

type countsResponse struct {
	Counts map[string]int `json:"counts"`
}

type sessionResponse struct {
	ID        string  `json:"id"`
	StartedAt string  `json:"started_at"`
	EndedAt   *string `json:"ended_at"`
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func toEventResponse(e *store.Event) eventResponse {
	resp := eventResponse{
		ID:        e.ID,
		SessionID: e.SessionID,
		Kind:      e.Kind,
		From:      e.FromState,
		To:        e.ToState,
		CreatedAt: e.CreatedAt.Format(timeLayout),
	}
	if e.ToState == supervisor.LossCountdown.String() {
		n := e.Remaining
		resp.Remaining = &n
	}
	if e.X != nil && e.Y != nil {
		resp.Point = &pointResponse{X: *e.X, Y: *e.Y}
	}
	return resp
}

// ServeHTTP routes /api/events, /api/events/counts and
// /api/events/sessions/{id}.
func (h *EventHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/events")
	path = strings.TrimPrefix(path, "/")

	switch {
	case path == "":
		h.list(w, r)
	case path == "counts":
		h.counts(w)
	case strings.HasPrefix(path, "sessions/"):
		h.session(w, strings.TrimPrefix(path, "sessions/"))
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// list handles GET /api/events?limit=N&session=ID.
func (h *EventHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxEventLimit)
	}

	var (
		events []*store.Event
		err    error
	)
	if session := r.URL.Query().Get("session"); session != "" {
		events, err = h.store.Events().ListBySession(session)
		if len(events) > limit {
			events = events[len(events)-limit:]
		}
	} else {
		events, err = h.store.Events().List(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}

	response := listEventsResponse{Events: make([]eventResponse, 0, len(events))}
	for _, e := range events {
		response.Events = append(response.Events, toEventResponse(e))
	}
	writeJSON(w, http.StatusOK, response)
}

// counts handles GET /api/events/counts.
func (h *EventHandler) counts(w http.ResponseWriter) {
	counts, err := h.store.Events().CountByKind()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count events")
		return
	}
	writeJSON(w, http.StatusOK, countsResponse{Counts: counts})
}

// session handles GET /api/events/sessions/{id}.
func (h *EventHandler) session(w http.ResponseWriter, id string) {
	sess, err := h.store.Events().GetSession(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	resp := sessionResponse{ID: sess.ID, StartedAt: sess.StartedAt.Format(timeLayout)}
	if sess.EndedAt != nil {
		ended := sess.EndedAt.Format(timeLayout)
		resp.EndedAt = &ended
	}
	writeJSON(w, http.StatusOK, resp)
}
