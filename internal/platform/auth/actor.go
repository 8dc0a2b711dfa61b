// Package auth resolves the acting clinician from a request and answers
// whether that actor may see a given patient or visit. The field services
// treat both as opaque collaborators: a token that parses yields an Actor, and
// any non-ok access check surfaces as ErrAccessDenied unchanged.
package auth

import (
	"context"

	"github.com/google/uuid"
)

// Roles recognised by the clinic.
const (
	RoleAdmin     = "admin"
	RolePhysician = "physician"
	RoleNurse     = "nurse"
)

// Actor is the already-authenticated caller of an engine operation.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Role string    `json:"role"`
}

// IsAdmin reports whether the actor holds the administrator role.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

type contextKey string

const actorKey contextKey = "actor"

// WithActor returns a child context carrying the actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the actor attached to the context, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}
