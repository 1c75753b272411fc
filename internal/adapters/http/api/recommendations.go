package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/voyage/internal/domain/model"
	"github.com/okian/voyage/internal/domain/types"
)

// RecommendationDependencies serves cached rankings.
type RecommendationDependencies interface {
	ParseLimit(raw string) int
	GetRecommendations(ctx context.Context, kind model.Kind, actor model.Actor, limit int) (types.Recommendations, error)
}

// RecommendationsHandler handles recommendation reads.
type RecommendationsHandler struct {
	deps RecommendationDependencies
}

// NewRecommendationsHandler creates a new recommendations handler.
func NewRecommendationsHandler(deps RecommendationDependencies) *RecommendationsHandler {
	return &RecommendationsHandler{deps: deps}
}

// HandleGetRecommendations handles GET /api/recommendations/{kind}?limit=N.
// The list is never computed here; a user miss returns empty lists.
func (h *RecommendationsHandler) HandleGetRecommendations(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_recommendations"
	kind, err := model.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	limit := h.deps.ParseLimit(r.URL.Query().Get("limit"))
	recs, err := h.deps.GetRecommendations(r.Context(), kind, actorFrom(r), limit)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, recs)
}
