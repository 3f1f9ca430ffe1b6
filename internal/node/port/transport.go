package port

import (
	"context"

	"github.com/anthanhphan/go-docsync/internal/node/domain"
)

//go:generate mockgen -destination=../service/mocks/transport_mock.go -package=mocks -source=transport.go

// ResponseObserver is invoked once per response received on a Connection.
type ResponseObserver func(resp domain.Response)

// Connection is a live outbound link to one neighbor.
type Connection interface {
	// Neighbor returns the peer this connection points at.
	Neighbor() domain.Neighbor

	// Send transmits the request without waiting for the reply. The returned
	// channel receives the reply whose finger matches the request, or is closed
	// without a value when the connection dies first. Once ctx ends the
	// request is forgotten and a late reply is dropped.
	Send(ctx context.Context, req domain.Request) (<-chan domain.Response, error)

	// AddObserver registers a callback for every received response.
	AddObserver(o ResponseObserver)

	// IsAlive reports whether the transport is still open.
	IsAlive() bool

	// Done is closed as soon as the transport is closed or fails.
	Done() <-chan struct{}

	// Close tears the transport down. Safe to call more than once.
	Close() error
}

// Dialer opens Connections. A returned error means the neighbor is currently
// unreachable; callers treat it as "no connection" and retry later.
type Dialer interface {
	Dial(ctx context.Context, neighbor domain.Neighbor) (Connection, error)
}
