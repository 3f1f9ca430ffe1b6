package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anthanhphan/go-docsync/internal/node/domain"
	"github.com/anthanhphan/go-docsync/internal/node/port"
	"github.com/anthanhphan/go-docsync/pkg/resilience"
	"github.com/anthanhphan/go-docsync/pkg/zstdgrpc"
	nodev1 "github.com/anthanhphan/go-docsync/proto/node/v1"
	"github.com/anthanhphan/gosdk/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
)

// Documents travel whole in one message.
const maxMsgSize = 64 * 1024 * 1024

var ErrHandshake = errors.New("handshake failed")

// FingerSource issues finger numbers for handshake pokes.
type FingerSource interface {
	Next() (int64, error)
}

type Config struct {
	NodeID string
	// Compression is "" or "zstd".
	Compression string
	// BreakerOpenTimeout is how long a neighbor that failed repeatedly is not
	// dialed at all.
	BreakerOpenTimeout time.Duration
	BreakerThreshold   int
}

// Dialer opens Exchange streams to neighbors. Each neighbor address has its own
// circuit breaker, and a connection is only returned after the neighbor has
// echoed a poke.
type Dialer struct {
	cfg     Config
	fingers FingerSource

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
}

var _ port.Dialer = (*Dialer)(nil)

func NewDialer(cfg Config, fingers FingerSource) *Dialer {
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 3
	}
	return &Dialer{
		cfg:      cfg,
		fingers:  fingers,
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
}

func (d *Dialer) Dial(ctx context.Context, nb domain.Neighbor) (port.Connection, error) {
	var conn *Connection
	err := d.getBreaker(nb.Key()).Execute(ctx, func(ctx context.Context) error {
		c, err := d.open(ctx, nb)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (d *Dialer) open(ctx context.Context, nb domain.Neighbor) (*Connection, error) {
	callOpts := []grpc.CallOption{
		grpc.MaxCallRecvMsgSize(maxMsgSize),
		grpc.MaxCallSendMsgSize(maxMsgSize),
	}
	if d.cfg.Compression == zstdgrpc.Name {
		callOpts = append(callOpts, grpc.UseCompressor(zstdgrpc.Name))
	}

	cc, err := grpc.NewClient(nb.Key(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(callOpts...),
	)
	if err != nil {
		return nil, err
	}

	if err := waitReady(ctx, cc); err != nil {
		_ = cc.Close()
		return nil, fmt.Errorf("connect %s: %w", nb.Key(), err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := nodev1.NewCommClient(cc).Exchange(streamCtx)
	if err != nil {
		cancel()
		_ = cc.Close()
		return nil, fmt.Errorf("open stream to %s: %w", nb.Key(), err)
	}

	conn := newConnection(nb, cc, stream, cancel)
	if err := d.handshake(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// waitReady blocks until cc is connected, fails, or ctx ends.
func waitReady(ctx context.Context, cc *grpc.ClientConn) error {
	cc.Connect()
	for {
		state := cc.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure, connectivity.Shutdown:
			return fmt.Errorf("transport %s", state)
		}
		if !cc.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}

func (d *Dialer) handshake(ctx context.Context, conn *Connection) error {
	number, err := d.fingers.Next()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	finger := domain.Finger{Tag: domain.FingerTagPoke, Number: number}

	replies, err := conn.Send(ctx, domain.Request{
		Header: domain.Header{
			RoutingID:  domain.RoutePoke,
			Originator: d.cfg.NodeID,
			Time:       time.Now().UnixMilli(),
		},
		Body: domain.Body{Finger: finger},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	select {
	case resp, ok := <-replies:
		if !ok {
			return fmt.Errorf("%w: %v", ErrHandshake, domain.ErrConnectionClosed)
		}
		if resp.Header.Status != domain.StatusSuccess || resp.Body.Finger != finger {
			return fmt.Errorf("%w: poke answered with %s %s/%d",
				ErrHandshake, resp.Header.Status, resp.Body.Finger.Tag, resp.Body.Finger.Number)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrHandshake, ctx.Err())
	}
}

func (d *Dialer) getBreaker(addr string) *resilience.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cb, ok := d.breakers[addr]; ok {
		return cb
	}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:              addr,
		FailureThreshold:  d.cfg.BreakerThreshold,
		SuccessThreshold:  1,
		OpenTimeout:       d.cfg.BreakerOpenTimeout,
		HalfOpenMaxFlight: 1,
		OnStateChange: func(name string, from, to resilience.CircuitBreakerState) {
			logger.Infow("Neighbor circuit changed", "neighbor", name, "from", string(from), "to", string(to))
		},
	})
	d.breakers[addr] = cb
	return cb
}
