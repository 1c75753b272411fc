package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/okian/voyage/internal/domain/types"
)

// TrendingDependencies serves the trending index.
type TrendingDependencies interface {
	Trending(ctx context.Context, limit int) ([]types.TrendingEntry, error)
}

// TrendingHandler handles trending reads.
type TrendingHandler struct {
	deps TrendingDependencies
}

// NewTrendingHandler creates a new trending handler.
func NewTrendingHandler(deps TrendingDependencies) *TrendingHandler {
	return &TrendingHandler{deps: deps}
}

// HandleGetTrending handles GET /api/trending?limit=N. A missing or invalid
// limit uses the service default.
func (h *TrendingHandler) HandleGetTrending(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_trending"
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 1 {
		n = 0
	}
	entries, err := h.deps.Trending(r.Context(), n)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	if entries == nil {
		entries = []types.TrendingEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
