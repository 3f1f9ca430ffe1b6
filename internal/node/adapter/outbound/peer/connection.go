package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/anthanhphan/go-docsync/internal/node/adapter/convert"
	"github.com/anthanhphan/go-docsync/internal/node/domain"
	"github.com/anthanhphan/go-docsync/internal/node/port"
	nodev1 "github.com/anthanhphan/go-docsync/proto/node/v1"
	"github.com/anthanhphan/gosdk/logger"
	"google.golang.org/grpc"
)

// Connection is one Exchange stream to a neighbor. Replies are matched to their
// requests by finger; observers see every reply.
type Connection struct {
	neighbor domain.Neighbor
	cc       *grpc.ClientConn
	stream   nodev1.Comm_ExchangeClient
	cancel   context.CancelFunc

	sendMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	pending   map[domain.Finger]pendingReply
	observers []port.ResponseObserver

	done      chan struct{}
	closeOnce sync.Once
}

// pendingReply is the reply slot of one request. stop detaches the cleanup
// bound to the sender's context.
type pendingReply struct {
	ch   chan domain.Response
	stop func() bool
}

var _ port.Connection = (*Connection)(nil)

func newConnection(nb domain.Neighbor, cc *grpc.ClientConn, stream nodev1.Comm_ExchangeClient, cancel context.CancelFunc) *Connection {
	c := &Connection{
		neighbor: nb,
		cc:       cc,
		stream:   stream,
		cancel:   cancel,
		pending:  make(map[domain.Finger]pendingReply),
		done:     make(chan struct{}),
	}
	go c.recvLoop()
	return c
}

func (c *Connection) Neighbor() domain.Neighbor {
	return c.neighbor
}

// Send transmits req without waiting for its reply. The returned channel
// receives the reply with the same finger, or is closed if the connection dies
// first. When ctx ends before the reply arrives the request is forgotten and a
// late reply is dropped.
func (c *Connection) Send(ctx context.Context, req domain.Request) (<-chan domain.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	finger := req.Body.Finger
	ch := make(chan domain.Response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, domain.ErrConnectionClosed
	}
	if _, dup := c.pending[finger]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("finger %s/%d already in flight", finger.Tag, finger.Number)
	}
	stop := context.AfterFunc(ctx, func() { c.forget(finger, ch) })
	c.pending[finger] = pendingReply{ch: ch, stop: stop}
	c.mu.Unlock()

	c.sendMu.Lock()
	err := c.stream.Send(convert.ToWireRequest(req))
	c.sendMu.Unlock()
	if err != nil {
		stop()
		c.forget(finger, ch)
		c.shutdown()
		return nil, fmt.Errorf("send to %s: %w", c.neighbor.Key(), err)
	}
	return ch, nil
}

// forget drops the pending slot of finger if it still belongs to ch.
func (c *Connection) forget(finger domain.Finger, ch chan domain.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[finger]; ok && p.ch == ch {
		delete(c.pending, finger)
	}
}

func (c *Connection) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Connection) AddObserver(o port.ResponseObserver) {
	if o == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Connection) IsAlive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) Close() error {
	c.sendMu.Lock()
	_ = c.stream.CloseSend()
	c.sendMu.Unlock()
	c.shutdown()
	return nil
}

func (c *Connection) recvLoop() {
	defer c.shutdown()

	for {
		msg, err := c.stream.Recv()
		if err != nil {
			if c.IsAlive() {
				logger.Debugw("Neighbor stream ended", "neighbor", c.neighbor.Key(), "error", err.Error())
			}
			return
		}

		resp := convert.FromWireResponse(msg)

		c.mu.Lock()
		p, ok := c.pending[resp.Body.Finger]
		if ok {
			delete(c.pending, resp.Body.Finger)
		}
		observers := c.observers
		c.mu.Unlock()

		for _, o := range observers {
			o(resp)
		}
		if ok {
			p.stop()
			p.ch <- resp
		} else {
			logger.Debugw("Uncorrelated response dropped",
				"neighbor", c.neighbor.Key(),
				"tag", resp.Body.Finger.Tag,
				"number", resp.Body.Finger.Number)
		}
	}
}

// shutdown marks the connection dead, releases every waiting sender and tears
// the transport down.
func (c *Connection) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		pending := c.pending
		c.pending = nil
		c.mu.Unlock()

		close(c.done)
		for _, p := range pending {
			p.stop()
			close(p.ch)
		}

		c.cancel()
		_ = c.cc.Close()
	})
}
