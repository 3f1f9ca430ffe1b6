package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/anthanhphan/go-docsync/internal/node/domain"
	"github.com/anthanhphan/go-docsync/internal/node/metrics"
	"github.com/anthanhphan/go-docsync/internal/node/port"
	"github.com/anthanhphan/gosdk/logger"
)

// Dispatcher routes requests to the handler registered for their routing id.
// Every response it returns carries a header derived from the request, the
// request's finger, and a SUCCESS or FAILURE status.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]port.RequestHandler
	metrics  *metrics.Metrics
}

var _ port.RequestHandler = (*Dispatcher)(nil)

func NewDispatcher(m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]port.RequestHandler),
		metrics:  m,
	}
}

// Register binds routingID to h, replacing any previous handler.
func (d *Dispatcher) Register(routingID string, h port.RequestHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[routingID] = h
}

func (d *Dispatcher) Handle(ctx context.Context, req domain.Request) (resp domain.Response) {
	d.mu.RLock()
	h, ok := d.handlers[req.Header.RoutingID]
	d.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("Handler panicked", "route", req.Header.RoutingID, "panic", fmt.Sprint(r))
			resp = domain.ResponseFor(req, domain.StatusFailure, "internal error")
		}
		d.metrics.RequestHandled(req.Header.RoutingID, resp.Header.Status.String())
	}()

	if !ok {
		logger.Warnw("Unknown routing id", "route", req.Header.RoutingID, "originator", req.Header.Originator)
		return domain.ResponseFor(req, domain.StatusFailure, fmt.Sprintf("%v: %q", domain.ErrUnknownRoute, req.Header.RoutingID))
	}

	out := h.Handle(ctx, req)

	resp = domain.ResponseFor(req, out.Header.Status, out.Header.ReplyMsg)
	if resp.Header.Status == domain.StatusUnset {
		resp.Header.Status = domain.StatusFailure
		if resp.Header.ReplyMsg == "" {
			resp.Header.ReplyMsg = "handler left status unset"
		}
	}
	for k, v := range out.Header.Metadata {
		resp.SetMeta(k, v)
	}
	resp.Body.Document = out.Body.Document
	return resp
}
