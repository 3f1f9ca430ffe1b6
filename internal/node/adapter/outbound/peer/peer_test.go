package peer

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	grpc_handler "github.com/anthanhphan/go-docsync/internal/node/adapter/inbound/grpc"
	"github.com/anthanhphan/go-docsync/internal/node/domain"
	"github.com/anthanhphan/go-docsync/internal/node/port"
	"github.com/anthanhphan/go-docsync/internal/node/service"
	"github.com/anthanhphan/go-docsync/pkg/idgen"
	"github.com/anthanhphan/go-docsync/pkg/resilience"
	nodev1 "github.com/anthanhphan/go-docsync/proto/node/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type testNode struct {
	neighbor domain.Neighbor
	server   *grpc.Server
	pool     *resilience.WorkerPool
}

func (n *testNode) Stop() {
	n.server.Stop()
	n.pool.Close()
	n.pool.Wait()
}

func startNode(t *testing.T, handler port.RequestHandler) *testNode {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	pool := resilience.NewWorkerPool("test", 4, 16, nil)
	srv := grpc.NewServer()
	nodev1.RegisterCommServer(srv, grpc_handler.NewServer(handler, pool))
	go func() { _ = srv.Serve(lis) }()

	addr := lis.Addr().(*net.TCPAddr)
	n := &testNode{
		neighbor: domain.Neighbor{NodeID: "node-b", Host: "127.0.0.1", Port: addr.Port},
		server:   srv,
		pool:     pool,
	}
	t.Cleanup(n.Stop)
	return n
}

func defaultHandler() *service.Dispatcher {
	d := service.NewDispatcher(nil)
	d.Register(domain.RoutePoke, service.PokeHandler())
	d.Register(domain.RouteDocAdd, port.HandlerFunc(func(_ context.Context, req domain.Request) domain.Response {
		if req.Body.Document != nil && req.Body.Document.Name == "bad.txt" {
			return domain.ResponseFor(req, domain.StatusFailure, "refused")
		}
		return domain.ResponseFor(req, domain.StatusSuccess, "")
	}))
	return d
}

func newDialer(t *testing.T, cfg Config) *Dialer {
	t.Helper()
	fingers, err := idgen.New(3, nil)
	require.NoError(t, err)
	if cfg.NodeID == "" {
		cfg.NodeID = "node-a"
	}
	return NewDialer(cfg, fingers)
}

func dial(t *testing.T, d *Dialer, nb domain.Neighbor) port.Connection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := d.Dial(ctx, nb)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func docRequest(name string, number int64) domain.Request {
	return domain.Request{
		Header: domain.Header{RoutingID: domain.RouteDocAdd, Originator: "node-a"},
		Body: domain.Body{
			Finger:   domain.Finger{Tag: domain.FingerTagReplicate, Number: number},
			Document: &domain.Document{Name: name, Content: []byte("x")},
		},
	}
}

func await(t *testing.T, ch <-chan domain.Response) domain.Response {
	t.Helper()
	select {
	case resp, ok := <-ch:
		require.True(t, ok, "reply channel closed")
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
		return domain.Response{}
	}
}

func TestDialer_SendCorrelatesByFinger(t *testing.T) {
	for _, compression := range []string{"", "zstd"} {
		t.Run("compression="+compression, func(t *testing.T) {
			node := startNode(t, defaultHandler())
			conn := dial(t, newDialer(t, Config{Compression: compression}), node.neighbor)

			var observed atomic.Int32
			conn.AddObserver(func(domain.Response) { observed.Add(1) })

			ctx := context.Background()
			const n = 20
			replies := make([]<-chan domain.Response, n)
			for i := 0; i < n; i++ {
				name := "doc-" + strconv.Itoa(i) + ".txt"
				if i == 7 {
					name = "bad.txt"
				}
				ch, err := conn.Send(ctx, docRequest(name, int64(1000+i)))
				require.NoError(t, err)
				replies[i] = ch
			}

			for i, ch := range replies {
				resp := await(t, ch)
				assert.Equal(t, domain.Finger{Tag: domain.FingerTagReplicate, Number: int64(1000 + i)}, resp.Body.Finger)
				if i == 7 {
					assert.Equal(t, domain.StatusFailure, resp.Header.Status)
					assert.Equal(t, "refused", resp.Header.ReplyMsg)
				} else {
					assert.Equal(t, domain.StatusSuccess, resp.Header.Status)
				}
			}
			assert.Eventually(t, func() bool { return observed.Load() == n }, time.Second, 5*time.Millisecond)
		})
	}
}

func TestDialer_UnknownRouteKeepsStreamOpen(t *testing.T) {
	node := startNode(t, defaultHandler())
	conn := dial(t, newDialer(t, Config{}), node.neighbor)
	ctx := context.Background()

	req := docRequest("a.txt", 1)
	req.Header.RoutingID = "DOCDEL"
	ch, err := conn.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailure, await(t, ch).Header.Status)

	ch, err = conn.Send(ctx, docRequest("a.txt", 2))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, await(t, ch).Header.Status)
	assert.True(t, conn.IsAlive())
}

func TestDialer_UnreachableNeighbor(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedPort := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())

	d := newDialer(t, Config{BreakerThreshold: 2, BreakerOpenTimeout: time.Minute})
	nb := domain.Neighbor{NodeID: "node-b", Host: "127.0.0.1", Port: closedPort}

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		conn, err := d.Dial(ctx, nb)
		cancel()
		assert.Error(t, err)
		assert.Nil(t, conn)
	}

	_, err = d.Dial(context.Background(), nb)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestDialer_HandshakeRequiresPoke(t *testing.T) {
	// A node that answers pokes with FAILURE is not accepted as a neighbor.
	node := startNode(t, service.NewDispatcher(nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := newDialer(t, Config{}).Dial(ctx, node.neighbor)
	assert.ErrorIs(t, err, ErrHandshake)
	assert.Nil(t, conn)
}

func TestConnection_ServerGoneClosesConnection(t *testing.T) {
	block := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(block) }) }

	h := defaultHandler()
	h.Register("SLOW", port.HandlerFunc(func(_ context.Context, req domain.Request) domain.Response {
		<-block
		return domain.ResponseFor(req, domain.StatusSuccess, "")
	}))
	node := startNode(t, h)
	conn := dial(t, newDialer(t, Config{}), node.neighbor)
	t.Cleanup(release)

	req := docRequest("a.txt", 5)
	req.Header.RoutingID = "SLOW"
	ch, err := conn.Send(context.Background(), req)
	require.NoError(t, err)

	go node.server.Stop()

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not notice the server going away")
	}
	assert.False(t, conn.IsAlive())

	_, ok := <-ch
	assert.False(t, ok, "pending reply must be released without a value")

	_, err = conn.Send(context.Background(), docRequest("b.txt", 6))
	assert.ErrorIs(t, err, domain.ErrConnectionClosed)
}

func TestConnection_DuplicateFingerRejected(t *testing.T) {
	block := make(chan struct{})

	h := defaultHandler()
	h.Register("SLOW", port.HandlerFunc(func(_ context.Context, req domain.Request) domain.Response {
		<-block
		return domain.ResponseFor(req, domain.StatusSuccess, "")
	}))
	node := startNode(t, h)
	conn := dial(t, newDialer(t, Config{}), node.neighbor)
	t.Cleanup(func() { close(block) })

	req := docRequest("a.txt", 11)
	req.Header.RoutingID = "SLOW"
	_, err := conn.Send(context.Background(), req)
	require.NoError(t, err)
	_, err = conn.Send(context.Background(), req)
	assert.Error(t, err)
}

func TestConnection_AbandonedSendsAreForgotten(t *testing.T) {
	block := make(chan struct{})

	h := defaultHandler()
	h.Register("SLOW", port.HandlerFunc(func(_ context.Context, req domain.Request) domain.Response {
		<-block
		return domain.ResponseFor(req, domain.StatusSuccess, "")
	}))
	node := startNode(t, h)
	conn := dial(t, newDialer(t, Config{}), node.neighbor).(*Connection)
	t.Cleanup(func() { close(block) })

	// fewer stalls than the node has workers, so a fresh request still gets served
	for i := 0; i < 3; i++ {
		req := docRequest("a.txt", int64(100+i))
		req.Header.RoutingID = "SLOW"

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		ch, err := conn.Send(ctx, req)
		require.NoError(t, err)
		select {
		case <-ch:
			t.Fatal("stalled request answered")
		case <-ctx.Done():
		}
		cancel()
	}

	require.Eventually(t, func() bool { return conn.pendingCount() == 0 },
		time.Second, 5*time.Millisecond)
	assert.True(t, conn.IsAlive())

	// the connection still correlates fresh requests
	ch, err := conn.Send(context.Background(), docRequest("b.txt", 200))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, await(t, ch).Header.Status)
	assert.Equal(t, 0, conn.pendingCount())
}
