package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/okian/voyage/internal/adapters/repository"
)

// ListingDependencies serves listing pages through the listing cache.
type ListingDependencies interface {
	DestinationListing(ctx context.Context, query url.Values) (repository.Page, error)
	CategoryListing(ctx context.Context, slug string, query url.Values) (repository.Page, error)
}

// ListingsHandler handles listing reads.
type ListingsHandler struct {
	deps ListingDependencies
}

// NewListingsHandler creates a new listings handler.
func NewListingsHandler(deps ListingDependencies) *ListingsHandler {
	return &ListingsHandler{deps: deps}
}

// HandleDestinations handles GET /api/destinations/.
func (h *ListingsHandler) HandleDestinations(w http.ResponseWriter, r *http.Request) {
	page, err := h.deps.DestinationListing(r.Context(), r.URL.Query())
	if err != nil {
		writeError(w, Wrap("api.list_destinations", err))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleCategory handles GET /api/categories/type/{slug}/.
func (h *ListingsHandler) HandleCategory(w http.ResponseWriter, r *http.Request) {
	page, err := h.deps.CategoryListing(r.Context(), chi.URLParam(r, "slug"), r.URL.Query())
	if err != nil {
		writeError(w, Wrap("api.list_category", err))
		return
	}
	writeJSON(w, http.StatusOK, page)
}
