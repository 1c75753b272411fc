package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HookDependencies reacts to catalog and user changes.
type HookDependencies interface {
	OnDestinationChanged(ctx context.Context) error
	OnCategoryChanged(ctx context.Context) error
	OnUserSignal(ctx context.Context, userID string) error
}

// HooksHandler exposes invalidation hooks to the CMS.
type HooksHandler struct {
	deps HookDependencies
}

// NewHooksHandler creates a new hooks handler.
func NewHooksHandler(deps HookDependencies) *HooksHandler {
	return &HooksHandler{deps: deps}
}

// HandleDestinationChanged handles POST /hooks/destination-changed.
func (h *HooksHandler) HandleDestinationChanged(w http.ResponseWriter, r *http.Request) {
	h.respond(w, "api.hook_destination", h.deps.OnDestinationChanged(r.Context()))
}

// HandleCategoryChanged handles POST /hooks/category-changed.
func (h *HooksHandler) HandleCategoryChanged(w http.ResponseWriter, r *http.Request) {
	h.respond(w, "api.hook_category", h.deps.OnCategoryChanged(r.Context()))
}

// HandleUserSignal handles POST /hooks/user-signal/{userID}.
func (h *HooksHandler) HandleUserSignal(w http.ResponseWriter, r *http.Request) {
	h.respond(w, "api.hook_user", h.deps.OnUserSignal(r.Context(), chi.URLParam(r, "userID")))
}

func (h *HooksHandler) respond(w http.ResponseWriter, op string, err error) {
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
