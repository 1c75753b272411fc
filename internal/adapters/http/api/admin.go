package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// AdminDependencies runs operator actions.
type AdminDependencies interface {
	Flush(ctx context.Context, prefix string) (int, error)
	TriggerJob(ctx context.Context, job string) error
}

type flushResponse struct {
	Prefix  string `json:"prefix"`
	Deleted int    `json:"deleted"`
}

type jobResponse struct {
	Job    string `json:"job"`
	Status string `json:"status"`
}

// AdminHandler handles operator requests.
type AdminHandler struct {
	deps AdminDependencies
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(deps AdminDependencies) *AdminHandler {
	return &AdminHandler{deps: deps}
}

// HandleFlush handles POST /admin/cache/flush?prefix=P. An empty prefix
// flushes everything.
func (h *AdminHandler) HandleFlush(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	n, err := h.deps.Flush(r.Context(), prefix)
	if err != nil {
		writeError(w, Wrap("api.flush", err))
		return
	}
	writeJSON(w, http.StatusOK, flushResponse{Prefix: prefix, Deleted: n})
}

// HandleRunJob handles POST /admin/jobs/{name}.
func (h *AdminHandler) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.deps.TriggerJob(r.Context(), name); err != nil {
		writeError(w, Wrap("api.run_job", err))
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{Job: name, Status: "queued"})
}
