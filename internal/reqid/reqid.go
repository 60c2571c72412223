package reqid

import "context"

// key is an unexported type to avoid collisions in context values.
type key struct{}

// With returns a new context carrying the request ID.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key{}, id)
}

// From extracts a non-empty request ID from ctx.
func From(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	s, ok := ctx.Value(key{}).(string)
	return s, ok && s != ""
}
