package access

import (
	"context"
	"strings"
)

type actorContextKey struct{}

// Actor is the authenticated identity attached to a request. All engine
// operations take explicit IDs; the context carries the caller only so the
// HTTP layer can enforce who may query or mutate whom.
type Actor struct {
	UserID string
	Role   Role
}

// ContextWithActor stores the authenticated caller in the context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	actor.UserID = strings.TrimSpace(actor.UserID)
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the authenticated caller from the context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	v, ok := ctx.Value(actorContextKey{}).(Actor)
	if !ok || v.UserID == "" {
		return Actor{}, false
	}
	return v, true
}
