package shared

import "context"

// Actor is the tenant and user a request runs as. Both are resolved by the
// upstream gateway and trusted as given.
type Actor struct {
	TenantID string
	UserID   string
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok && actor.TenantID != ""
}
