package api

import (
	"context"
	"net/http"

	"github.com/okian/voyage/internal/domain/model"
)

// RatingDependencies stores ratings.
type RatingDependencies interface {
	Rate(ctx context.Context, r model.Rating) error
}

type ratingRequest struct {
	ObjectType string `json:"object_type" validate:"required,oneof=itinerary attraction restaurant experience"`
	ObjectID   string `json:"object_id"   validate:"required,max=128"`
	Rating     int    `json:"rating"      validate:"required,min=1,max=5"`
	Review     string `json:"review"      validate:"omitempty,max=2000"`
}

// RatingsHandler handles rating writes.
type RatingsHandler struct {
	deps RatingDependencies
}

// NewRatingsHandler creates a new ratings handler.
func NewRatingsHandler(deps RatingDependencies) *RatingsHandler {
	return &RatingsHandler{deps: deps}
}

// HandlePostRating handles POST /api/ratings. Only authenticated users rate.
func (h *RatingsHandler) HandlePostRating(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_rating"
	actor := actorFrom(r)
	if !actor.IsUser() {
		writeError(w, NewKind(op, ErrUnauthorized))
		return
	}
	var req ratingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	err := h.deps.Rate(r.Context(), model.Rating{
		UserID:     actor.UserID,
		ObjectType: req.ObjectType,
		ObjectID:   req.ObjectID,
		Value:      req.Rating,
		Review:     req.Review,
	})
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, ackResponse{Status: "created"})
}
