// Package auth carries the acting principal through request contexts and
// verifies the HS256 bearer tokens that establish it.
package auth

import (
	"context"
	"slices"
)

// Roles understood by the API.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// SystemActor names the actor of work not triggered by a request.
const SystemActor = "system"

// Principal is the authenticated caller.
type Principal struct {
	Subject  string
	Username string
	Roles    []string
}

// HasRole reports whether the principal holds role.
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// IsAdmin reports whether the principal may use administrative operations.
func (p Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin)
}

// Name returns the most readable identifier of the principal.
func (p Principal) Name() string {
	if p.Username != "" {
		return p.Username
	}
	return p.Subject
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ActorName returns the name of the principal in ctx, or SystemActor.
func ActorName(ctx context.Context) string {
	if p, ok := FromContext(ctx); ok && p.Name() != "" {
		return p.Name()
	}
	return SystemActor
}
