// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"time"
)

// Action is the kind of interaction a visitor had with a destination.
type Action string

// Supported actions.
const (
	ActionView  Action = "view"
	ActionDwell Action = "dwell"
	ActionClick Action = "click"
)

// ParseAction maps a wire value to an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionView, ActionDwell, ActionClick:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Actor identifies who produced an interaction: an authenticated user or an
// anonymous browser session. When both are present the user wins.
type Actor struct {
	UserID    string
	SessionID string
}

// Normalize drops the session when a user is known.
func (a Actor) Normalize() Actor {
	if a.UserID != "" {
		return Actor{UserID: a.UserID}
	}
	return Actor{SessionID: a.SessionID}
}

// IsUser reports whether the actor is authenticated.
func (a Actor) IsUser() bool { return a.UserID != "" }

// IsZero reports whether neither identity is set.
func (a Actor) IsZero() bool { return a.UserID == "" && a.SessionID == "" }

func (a Actor) String() string {
	if a.UserID != "" {
		return "user:" + a.UserID
	}
	if a.SessionID != "" {
		return "session:" + a.SessionID
	}
	return "anonymous"
}

// InteractionEvent is one immutable row of the interaction log.
type InteractionEvent struct {
	ID          string    // client supplied or generated, used for idempotent ingest
	SubjectID   string    // destination id
	Actor       Actor     // user xor session after Normalize
	Action      Action    // view, dwell or click
	Magnitude   float64   // dwell seconds, zero for view and click
	ClickTarget string    // optional click target label
	ClientAddr  string    // client network address
	TS          time.Time // event time
}

// Validate checks the event before it is appended to the log.
func (e InteractionEvent) Validate() error {
	if e.SubjectID == "" {
		return ErrMissingSubject
	}
	if e.Actor.IsZero() {
		return ErrMissingActor
	}
	if _, err := ParseAction(string(e.Action)); err != nil {
		return err
	}
	if e.Magnitude < 0 {
		return ErrNegativeDwell
	}
	return nil
}

// EventFilter narrows a read of the interaction log. Zero fields match all.
type EventFilter struct {
	SubjectID string
	Actor     *Actor
	Action    Action
	Since     time.Time
}

// Match reports whether e passes the filter. Used by in-memory logs.
func (f EventFilter) Match(e InteractionEvent) bool {
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if f.Actor != nil {
		want := f.Actor.Normalize()
		if want.UserID != "" && e.Actor.UserID != want.UserID {
			return false
		}
		if want.UserID == "" && (e.Actor.UserID != "" || e.Actor.SessionID != want.SessionID) {
			return false
		}
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.Since.IsZero() && e.TS.Before(f.Since) {
		return false
	}
	return true
}
