package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ayusman/cameramouse/internal/settings"
)

// SettingsHandler serves and updates the live control settings.
type SettingsHandler struct {
	settings *settings.ControlSettings
	repo     settings.Repository
	logger   *slog.Logger
}

// NewSettingsHandler creates a SettingsHandler. A nil repo keeps updates in
// memory only.
func NewSettingsHandler(cs *settings.ControlSettings, repo settings.Repository, logger *slog.Logger) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsHandler{settings: cs, repo: repo, logger: logger}
}

// ServeHTTP handles GET and PUT /api/settings.
func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.settings.Snapshot())
	case http.MethodPut:
		h.update(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// update applies a full or partial settings document. Fields missing from
// the body keep their current values.
func (h *SettingsHandler) update(w http.ResponseWriter, r *http.Request) {
	v := h.settings.Snapshot()
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := v.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.repo != nil {
		if err := settings.Save(h.repo, v); err != nil {
			h.logger.Error("failed to persist settings", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to save settings")
			return
		}
	}
	if err := h.settings.Apply(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("control settings updated", "auto_detect", v.AutoDetectNose, "gain_x", v.GainX, "gain_y", v.GainY)
	writeJSON(w, http.StatusOK, h.settings.Snapshot())
}
