// Package identity carries the authenticated actor through request contexts.
package identity

import (
	"context"

	"github.com/wolfman30/vetcare-platform/internal/policy"
)

type ctxKey string

const actorKey ctxKey = "vetcare.actor"

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role policy.Role
}

// WithActor stores the actor in context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext extracts the actor if present.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok && actor.ID != ""
}
