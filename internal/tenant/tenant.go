// Package tenant carries the multi-tenant org scope through the pipeline as
// an explicit context value. Every per-message task binds the org once; the
// binding lives and dies with the task's context, so it can never leak into
// another message's processing.
package tenant

import "context"

type contextKey struct{}

// NewContext returns a copy of parent scoped to the given org.
func NewContext(parent context.Context, orgID string) context.Context {
	return context.WithValue(parent, contextKey{}, orgID)
}

// FromContext returns the org bound to ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	orgID, ok := ctx.Value(contextKey{}).(string)
	return orgID, ok && orgID != ""
}

// OrgID returns the org bound to ctx or the empty string.
func OrgID(ctx context.Context) string {
	orgID, _ := FromContext(ctx)
	return orgID
}
