package port

import (
	"context"

	"github.com/anthanhphan/go-docsync/internal/node/domain"
)

// RequestHandler produces a response for one request. Implementations report
// failures through the response status, never through panics or transport errors.
type RequestHandler interface {
	Handle(ctx context.Context, req domain.Request) domain.Response
}

// HandlerFunc adapts a function to RequestHandler.
type HandlerFunc func(ctx context.Context, req domain.Request) domain.Response

func (f HandlerFunc) Handle(ctx context.Context, req domain.Request) domain.Response {
	return f(ctx, req)
}
