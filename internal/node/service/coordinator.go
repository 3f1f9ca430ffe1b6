package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthanhphan/go-docsync/internal/node/domain"
	"github.com/anthanhphan/go-docsync/internal/node/metrics"
	"github.com/anthanhphan/go-docsync/internal/node/port"
	"github.com/anthanhphan/gosdk/logger"
	"golang.org/x/sync/errgroup"
)

// FingerSource issues finger numbers for outgoing requests.
type FingerSource interface {
	Next() (int64, error)
}

type CoordinatorConfig struct {
	NodeID          string
	Interval        time.Duration
	ConnectTimeout  time.Duration
	ReplyTimeout    time.Duration
	SendConcurrency int
}

// Coordinator keeps every neighbor connected and holding a copy of every local
// document. Each pass connects neighbors that have no live connection and
// replicates the full document set to every neighbor that is not yet synced.
type Coordinator struct {
	cfg      CoordinatorConfig
	registry *Registry
	dialer   port.Dialer
	repo     port.DocumentRepository
	fingers  FingerSource
	metrics  *metrics.Metrics

	trigger chan struct{}

	mu       sync.Mutex
	inFlight map[string]struct{}
	attempts sync.WaitGroup
	watchers sync.WaitGroup
}

var _ port.ReplicationService = (*Coordinator)(nil)

func NewCoordinator(
	cfg CoordinatorConfig,
	registry *Registry,
	dialer port.Dialer,
	repo port.DocumentRepository,
	fingers FingerSource,
	m *metrics.Metrics,
) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 3 * time.Second
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 10 * time.Second
	}
	if cfg.SendConcurrency <= 0 {
		cfg.SendConcurrency = 1
	}

	return &Coordinator{
		cfg:      cfg,
		registry: registry,
		dialer:   dialer,
		repo:     repo,
		fingers:  fingers,
		metrics:  m,
		trigger:  make(chan struct{}, 1),
		inFlight: make(map[string]struct{}),
	}
}

// Run performs the initial pass, then reconciles every interval and on every
// Trigger until ctx is canceled. It waits for in-flight attempts before returning.
func (c *Coordinator) Run(ctx context.Context) {
	defer c.attempts.Wait()

	c.reconcile(ctx)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reconcile(ctx)
		case <-c.trigger:
			c.reconcile(ctx)
		}
	}
}

// ReconcileOnce runs one pass and waits for the attempts it started. Neighbors
// with an attempt already in flight are skipped.
func (c *Coordinator) ReconcileOnce(ctx context.Context) {
	c.reconcile(ctx).Wait()
}

// Trigger requests an immediate pass from Run. It never blocks.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Resync forces a full replication to every neighbor on the next pass.
func (c *Coordinator) Resync() {
	c.registry.MarkUnsynced()
	c.Trigger()
}

// NeighborUp is called when the heartbeat sees nodeID come alive.
func (c *Coordinator) NeighborUp(nodeID string) {
	if _, ok := c.registry.KeyForNode(nodeID); !ok {
		logger.Debugw("Heartbeat from unconfigured node ignored", "node_id", nodeID)
		return
	}
	c.Trigger()
}

// NeighborDown is called when the heartbeat loses nodeID. Its connection is
// dropped so the next pass starts over once it is back.
func (c *Coordinator) NeighborDown(nodeID string) {
	key, ok := c.registry.KeyForNode(nodeID)
	if !ok {
		return
	}
	entry, err := c.registry.Get(key)
	if err != nil || entry.Conn == nil {
		return
	}
	c.invalidate(key, entry.Conn, errors.New("heartbeat lost"))
}

func (c *Coordinator) Neighbors() []port.NeighborStatus {
	return c.registry.Snapshot()
}

// Stop closes every neighbor connection. Call it after Run has returned.
func (c *Coordinator) Stop() {
	c.attempts.Wait()
	for _, key := range c.registry.Keys() {
		entry, err := c.registry.Get(key)
		if err != nil || entry.Conn == nil {
			continue
		}
		c.registry.Clear(key, entry.Conn)
		_ = entry.Conn.Close()
	}
	c.watchers.Wait()
}

func (c *Coordinator) reconcile(ctx context.Context) *sync.WaitGroup {
	var pass sync.WaitGroup

	for _, key := range c.registry.Keys() {
		entry, err := c.registry.Get(key)
		if err != nil {
			continue
		}
		if entry.State == domain.StateSynced && entry.Conn != nil && entry.Conn.IsAlive() {
			continue
		}
		if !c.begin(key) {
			continue
		}

		pass.Add(1)
		c.attempts.Add(1)
		go func(key string) {
			defer c.attempts.Done()
			defer pass.Done()
			defer c.end(key)

			start := time.Now()
			c.syncNeighbor(ctx, key)
			c.metrics.ObservePass(time.Since(start).Seconds())
		}(key)
	}
	return &pass
}

func (c *Coordinator) begin(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[key]; busy {
		return false
	}
	c.inFlight[key] = struct{}{}
	return true
}

func (c *Coordinator) end(key string) {
	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()
}

// syncNeighbor connects key if needed and replicates every local document to it.
func (c *Coordinator) syncNeighbor(ctx context.Context, key string) {
	entry, err := c.registry.Get(key)
	if err != nil {
		return
	}

	conn := entry.Conn
	if conn != nil && !conn.IsAlive() {
		c.registry.Clear(key, conn)
		conn = nil
	}
	if conn == nil {
		conn, err = c.connect(ctx, entry.Neighbor)
		if err != nil {
			return
		}
	}

	c.replicateAll(ctx, key, conn)
}

func (c *Coordinator) connect(ctx context.Context, nb domain.Neighbor) (port.Connection, error) {
	key := nb.Key()
	c.registry.MarkState(key, domain.StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	conn, err := c.dialer.Dial(dialCtx, nb)
	cancel()
	if err != nil {
		c.metrics.ConnectAttempt(key, "unreachable")
		c.registry.RecordFailure(key, err)
		c.registry.MarkState(key, domain.StateDisconnected)
		logger.Debugw("Neighbor unreachable", "neighbor", key, "node_id", nb.NodeID, "error", err.Error())
		return nil, err
	}

	c.metrics.ConnectAttempt(key, "connected")
	conn.AddObserver(func(resp domain.Response) {
		if resp.Header.Status != domain.StatusSuccess {
			logger.Debugw("Neighbor replied with failure",
				"neighbor", key,
				"route", resp.Header.RoutingID,
				"finger", resp.Body.Finger.Number,
				"reply", resp.Header.ReplyMsg)
		}
	})

	prev, err := c.registry.Set(key, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if prev != nil && prev != conn {
		_ = prev.Close()
	}

	c.watchers.Add(1)
	go c.watch(ctx, key, conn)

	logger.Infow("Connected to neighbor", "neighbor", key, "node_id", nb.NodeID)
	return conn, nil
}

// watch clears the registry entry as soon as conn's transport closes.
func (c *Coordinator) watch(ctx context.Context, key string, conn port.Connection) {
	defer c.watchers.Done()

	select {
	case <-conn.Done():
		if c.registry.Clear(key, conn) {
			logger.Infow("Neighbor connection lost", "neighbor", key)
		}
	case <-ctx.Done():
	}
}

func (c *Coordinator) invalidate(key string, conn port.Connection, cause error) {
	c.registry.Clear(key, conn)
	c.registry.RecordFailure(key, cause)
	_ = conn.Close()
	logger.Warnw("Neighbor connection invalidated", "neighbor", key, "error", cause.Error())
}

// replicateAll sends every local document to key. A transport failure
// invalidates the connection. Documents that were refused or not acknowledged
// leave the neighbor unsynced, so the whole set is sent again next pass.
func (c *Coordinator) replicateAll(ctx context.Context, key string, conn port.Connection) {
	names, err := c.repo.List(ctx)
	if err != nil {
		c.registry.RecordFailure(key, err)
		logger.Errorw("Failed to list local documents", "error", err.Error())
		return
	}

	var pending atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.SendConcurrency)
	for _, name := range names {
		g.Go(func() error {
			acked, err := c.sendDocument(gctx, key, conn, name)
			if err != nil {
				return err
			}
			if !acked {
				pending.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.invalidate(key, conn, err)
		return
	}

	if n := pending.Load(); n > 0 {
		c.registry.RecordFailure(key, fmt.Errorf("%d of %d documents not acknowledged", n, len(names)))
		logger.Warnw("Replication incomplete, retrying next pass", "neighbor", key, "pending", n, "total", len(names))
		return
	}

	if c.registry.MarkSynced(key, conn, time.Now()) {
		logger.Infow("Neighbor synced", "neighbor", key, "documents", len(names))
	}
}

// sendDocument reports whether the neighbor acknowledged the document with
// SUCCESS. An error means the connection is unusable.
func (c *Coordinator) sendDocument(ctx context.Context, key string, conn port.Connection, name string) (bool, error) {
	doc, err := c.repo.Read(ctx, name)
	if err != nil {
		if errors.Is(err, port.ErrDocumentNotFound) {
			return true, nil
		}
		logger.Warnw("Failed to read local document", "doc", name, "error", err.Error())
		return false, nil
	}

	resp, err := c.roundTrip(ctx, conn, domain.RouteDocAdd, domain.FingerTagReplicate, &doc)
	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		c.metrics.DocumentSent(key, "timeout")
		return false, nil
	case err != nil:
		c.metrics.DocumentSent(key, "send_error")
		return false, fmt.Errorf("send %s: %w", name, err)
	}

	c.metrics.DocumentSent(key, resp.Header.Status.String())
	return resp.Header.Status == domain.StatusSuccess, nil
}

// roundTrip sends one request and waits up to the reply timeout for its reply.
// A reply timeout surfaces as context.DeadlineExceeded while the caller's ctx
// is still live.
func (c *Coordinator) roundTrip(ctx context.Context, conn port.Connection, route, tag string, doc *domain.Document) (domain.Response, error) {
	number, err := c.fingers.Next()
	if err != nil {
		return domain.Response{}, fmt.Errorf("finger: %w", err)
	}

	req := domain.Request{
		Header: domain.Header{
			RoutingID:  route,
			Originator: c.cfg.NodeID,
			Time:       time.Now().UnixMilli(),
		},
		Body: domain.Body{
			Finger:   domain.Finger{Tag: tag, Number: number},
			Document: doc,
		},
	}

	// Ending ctx also releases the connection's pending slot for this finger.
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReplyTimeout)
	defer cancel()

	replies, err := conn.Send(ctx, req)
	if err != nil {
		return domain.Response{}, err
	}

	select {
	case resp, ok := <-replies:
		if !ok {
			return domain.Response{}, domain.ErrConnectionClosed
		}
		return resp, nil
	case <-ctx.Done():
		return domain.Response{}, ctx.Err()
	}
}

// QueryDigest asks the neighbor at key for the digest of its document set.
func (c *Coordinator) QueryDigest(ctx context.Context, key string) (port.Digest, error) {
	entry, err := c.registry.Get(key)
	if err != nil {
		return port.Digest{}, err
	}
	if entry.Conn == nil || !entry.Conn.IsAlive() {
		return port.Digest{}, fmt.Errorf("%w: %s", domain.ErrNotConnected, key)
	}

	resp, err := c.roundTrip(ctx, entry.Conn, domain.RouteDocDigest, domain.FingerTagDigest, nil)
	if err != nil {
		return port.Digest{}, fmt.Errorf("digest from %s: %w", key, err)
	}
	if resp.Header.Status != domain.StatusSuccess {
		return port.Digest{}, fmt.Errorf("digest from %s: %s", key, resp.Header.ReplyMsg)
	}

	count, _ := strconv.Atoi(resp.Header.Metadata[domain.MetaDocCount])
	return port.Digest{
		Root:  resp.Header.Metadata[domain.MetaDigest],
		Count: count,
	}, nil
}

// LocalDigest summarises this node's own document set.
func (c *Coordinator) LocalDigest(ctx context.Context) (port.Digest, error) {
	return ComputeDigest(ctx, c.repo)
}
