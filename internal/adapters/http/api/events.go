package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/okian/voyage/internal/domain/model"
	"github.com/okian/voyage/pkg/logger"
)

// TrackingDependencies records interactions.
type TrackingDependencies interface {
	Track(ctx context.Context, e model.InteractionEvent) (bool, error)
}

var errMissingDwell = errors.New("missing dwell_time")

// eventRequest is the optional body of a tracking call. DwellTime is
// required for dwell and ignored otherwise.
type eventRequest struct {
	EventID     string   `json:"event_id"     validate:"omitempty,max=128"`
	DwellTime   *float64 `json:"dwell_time"   validate:"omitempty,gte=0"`
	ClickTarget string   `json:"click_target" validate:"omitempty,max=255"`
}

// EventsHandler handles tracking requests.
type EventsHandler struct {
	deps TrackingDependencies
	log  logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps TrackingDependencies, l logger.Logger) *EventsHandler {
	if l == nil {
		l = logger.Nop()
	}
	return &EventsHandler{deps: deps, log: l}
}

// HandlePostEvent handles POST /api/destinations/{id}/{view|dwell|click}.
// Callers without an identity get a fresh session id back in X-Session-ID.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	action, err := model.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		writeError(w, WrapKind(op, ErrNotFound, err))
		return
	}
	var req eventRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	e := model.InteractionEvent{
		ID:         req.EventID,
		SubjectID:  chi.URLParam(r, "id"),
		Actor:      actorFrom(r),
		Action:     action,
		ClientAddr: clientAddr(r),
	}
	switch action {
	case model.ActionDwell:
		if req.DwellTime == nil {
			writeError(w, WrapKind(op, ErrBadRequest, errMissingDwell))
			return
		}
		e.Magnitude = *req.DwellTime
	case model.ActionClick:
		e.ClickTarget = req.ClickTarget
	}
	if e.Actor.IsZero() {
		e.Actor.SessionID = uuid.NewString()
		w.Header().Set(HeaderSessionID, e.Actor.SessionID)
	}

	duplicate, err := h.deps.Track(r.Context(), e)
	if err != nil {
		h.log.Debug(r.Context(), "tracking rejected", logger.String("destination", e.SubjectID), logger.Error(err))
		writeError(w, Wrap(op, err))
		return
	}
	if duplicate {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", Duplicate: false})
}
