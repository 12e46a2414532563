// internal/server/handler.go
package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/signalnine/vmktriage/internal/protocol"
	"github.com/signalnine/vmktriage/internal/store"
)

const (
	defaultLimit = 50
	maxLimit     = 5000
	topModules   = 20
)

// RunsHandler serves the read-only /runs API
type RunsHandler struct {
	db     *store.DB
	apiKey string
	logger *zap.Logger
}

// NewRunsHandler creates a new runs handler. An empty apiKey disables auth.
func NewRunsHandler(db *store.DB, apiKey string, logger *zap.Logger) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunsHandler{
		db:     db,
		apiKey: apiKey,
		logger: logger,
	}
}

// Register mounts the handler's routes on mux
func (h *RunsHandler) Register(mux *http.ServeMux) {
	mux.Handle("GET /runs", h.authorized(h.list))
	mux.Handle("GET /runs/{id}", h.authorized(h.get))
	mux.Handle("GET /runs/{id}/categories/{category}", h.authorized(h.category))
}

func (h *RunsHandler) authorized(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.apiKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	})
}

func (h *RunsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	runs, err := h.db.ListRuns(r.Context(), limit)
	if err != nil {
		h.internalError(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []protocol.Run{}
	}
	writeJSON(w, runs)
}

func (h *RunsHandler) get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.db.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.internalError(w, "get run", err)
		return
	}

	detail := protocol.RunDetail{Run: *run}
	if detail.Categories, err = h.db.CategoryCounts(r.Context(), id); err != nil {
		h.internalError(w, "category counts", err)
		return
	}
	if detail.Modules, err = h.db.ModuleCounts(r.Context(), id, topModules); err != nil {
		h.internalError(w, "module counts", err)
		return
	}
	writeJSON(w, detail)
}

func (h *RunsHandler) category(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	if _, err := h.db.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		h.internalError(w, "get run", err)
		return
	}

	records, err := h.db.QueryByCategory(r.Context(), id, r.PathValue("category"), limit)
	if err != nil {
		h.internalError(w, "query category", err)
		return
	}
	if records == nil {
		records = []protocol.StoredRecord{}
	}
	writeJSON(w, records)
}

func (h *RunsHandler) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	http.Error(w, "Internal error", http.StatusInternalServerError)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		http.Error(w, "Invalid limit", http.StatusBadRequest)
		return 0, false
	}
	return min(limit, maxLimit), true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
