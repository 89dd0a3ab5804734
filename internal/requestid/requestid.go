// Package requestid carries the X-Correlation-Id of a request through its context.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

// Header is the HTTP header the correlation ID travels in.
const Header = "X-Correlation-Id"

type contextKey struct{}

// New returns a fresh correlation ID.
func New() string { return uuid.New().String() }

// With returns ctx carrying id.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// From returns the correlation ID in ctx, or "" when none was set.
func From(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}
