package shared

import "context"

// ActorKind distinguishes administrative users from partner-portal users.
type ActorKind string

const (
	// ActorKindAdmin marks requests made by back-office administrators.
	ActorKindAdmin ActorKind = "ADMIN"
	// ActorKindPartner marks requests made through the partner portal.
	ActorKindPartner ActorKind = "PARTNER"
)

// Actor identifies who is performing an operation.
type Actor struct {
	Kind      ActorKind
	PartnerID string
}

// IsAdmin reports whether the actor is an administrator.
func (a Actor) IsAdmin() bool {
	return a.Kind == ActorKindAdmin
}

type actorContextKey struct{}

// ContextWithActor stores the resolved actor on the context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the actor stored on the context, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
