package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/ayusman/cameramouse/internal/app"
	"github.com/ayusman/cameramouse/internal/geom"
)

// Controller is the running camera mouse as seen by the HTTP API.
type Controller interface {
	Status() app.Status
	Click(p geom.Point) error
	Recenter() error
	SetEnabled(enabled bool)
}

// ControlHandler serves status and accepts manual feature selection.
type ControlHandler struct {
	ctrl Controller
}

// NewControlHandler creates a ControlHandler for ctrl.
func NewControlHandler(ctrl Controller) *ControlHandler {
	return &ControlHandler{ctrl: ctrl}
}

type clickRequest struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

// Status handles GET /api/status.
func (h *ControlHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// Click handles POST /api/click with a frame position.
func (h *ControlHandler) Click(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req clickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.X == nil || req.Y == nil {
		writeError(w, http.StatusBadRequest, "x and y are required")
		return
	}
	if *req.X < 0 || *req.Y < 0 || math.IsInf(*req.X, 0) || math.IsInf(*req.Y, 0) {
		writeError(w, http.StatusBadRequest, "x and y must be non-negative")
		return
	}

	h.accepted(w, h.ctrl.Click(geom.Pt(*req.X, *req.Y)))
}

// Recenter handles POST /api/recenter.
func (h *ControlHandler) Recenter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.accepted(w, h.ctrl.Recenter())
}

// Enabled handles PUT /api/enabled.
func (h *ControlHandler) Enabled(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.ctrl.SetEnabled(req.Enabled)
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

func (h *ControlHandler) accepted(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, app.ErrBusy):
		writeError(w, http.StatusServiceUnavailable, "Control loop busy, try again")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
