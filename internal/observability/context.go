package observability

import "context"

type requestMetaKey struct{}

// RequestMeta describes the inbound request an operation runs on behalf of
type RequestMeta struct {
	ID        string
	Route     string
	IP        string
	UserAgent string
}

// WithRequestMeta stores meta in ctx
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom returns the request metadata stored in ctx, if any
func RequestMetaFrom(ctx context.Context) (RequestMeta, bool) {
	meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta, ok
}
