package admin

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// EnvironmentStatus is the admin view of one publishing environment
type EnvironmentStatus struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Kinds      []string `json:"kinds"`
	Programs   int      `json:"programs"`
	Remote     bool     `json:"remote"`
	Refreshing bool     `json:"refreshing"`
}

// StatusProvider exposes publisher state to the admin endpoints
type StatusProvider interface {
	Environments() []EnvironmentStatus
	// AllowlistPrograms returns base58 program ids, false if no such environment
	AllowlistPrograms(name string) ([]string, bool)
}

// AdminHandlers handles admin API endpoints
type AdminHandlers struct {
	status StatusProvider
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(status StatusProvider) *AdminHandlers {
	return &AdminHandlers{status: status}
}

func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]interface{}{"status": "ok"})
}

func (h *AdminHandlers) handleEnvironments(w http.ResponseWriter, r *http.Request) {
	envs := h.status.Environments()
	sort.Slice(envs, func(i, j int) bool { return envs[i].Name < envs[j].Name })
	writeJSONResponse(w, envs)
}

func (h *AdminHandlers) handleAllowlist(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	programs, ok := h.status.AllowlistPrograms(name)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "environment '"+name+"' not found")
		return
	}
	sort.Strings(programs)
	writeJSONResponse(w, map[string]interface{}{
		"environment": name,
		"programs":    programs,
	})
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	response := map[string]interface{}{
		"data": data,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
