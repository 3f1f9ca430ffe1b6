package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	grpcHandler "github.com/anthanhphan/go-docsync/internal/node/adapter/inbound/grpc"
	httpHandler "github.com/anthanhphan/go-docsync/internal/node/adapter/inbound/http"
	"github.com/anthanhphan/go-docsync/internal/node/adapter/outbound/fsstore"
	"github.com/anthanhphan/go-docsync/internal/node/adapter/outbound/peer"
	"github.com/anthanhphan/go-docsync/internal/node/config"
	"github.com/anthanhphan/go-docsync/internal/node/domain"
	"github.com/anthanhphan/go-docsync/internal/node/metrics"
	"github.com/anthanhphan/go-docsync/internal/node/service"
	"github.com/anthanhphan/go-docsync/pkg/gossip"
	"github.com/anthanhphan/go-docsync/pkg/idgen"
	"github.com/anthanhphan/go-docsync/pkg/resilience"
	nodev1 "github.com/anthanhphan/go-docsync/proto/node/v1"
	"github.com/anthanhphan/gosdk/logger"
)

// ErrStartup wraps failures to bind the node's listeners.
var ErrStartup = errors.New("node startup failed")

const (
	maxMsgSize      = 64 * 1024 * 1024
	gracefulTimeout = 5 * time.Second
	leaveTimeout    = time.Second
)

type App struct {
	cfg         *config.Config
	repo        *fsstore.Store
	registry    *service.Registry
	coordinator *service.Coordinator
	pool        *resilience.WorkerPool
	server      *grpc.Server
	admin       *httpHandler.Server
	redis       *redis.Client

	listener  net.Listener
	adminLis  net.Listener
	heartbeat *gossip.Heartbeat

	serveErrCh      chan error
	backgroundStop  context.CancelFunc
	coordinatorDone chan struct{}
	shutdownOnce    sync.Once
}

// New wires a node from an already validated configuration. Nothing is bound
// until Start.
func New(cfg *config.Config) (*App, error) {
	logger.InitLogger(&cfg.Logger)

	nodeID := cfg.Server.NodeID

	repo, err := fsstore.New(cfg.DocumentRoot(), cfg.Storage.FSync)
	if err != nil {
		return nil, fmt.Errorf("failed to init document store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var (
		clock       idgen.Clock = &idgen.SystemClock{}
		redisClient *redis.Client
	)
	if cfg.IDGen.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.IDGen.RedisAddr})
		rc := idgen.NewRedisClock(redisClient, 200*time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := rc.Ping(ctx); err != nil {
			logger.Warnw("Redis clock unreachable, falling back to local time per call", "addr", cfg.IDGen.RedisAddr, "error", err.Error())
		}
		cancel()
		clock = rc
	}
	fingers, err := idgen.New(idgen.NodeIDFromName(nodeID), clock)
	if err != nil {
		return nil, fmt.Errorf("failed to init finger generator: %w", err)
	}

	registry := service.NewRegistry(m)
	loaded := registry.Load(cfg.NeighborList())

	dispatcher := service.NewDispatcher(m)
	dispatcher.Register(domain.RouteDocAdd, service.NewDocumentHandler(repo, m))
	dispatcher.Register(domain.RoutePoke, service.PokeHandler())
	dispatcher.Register(domain.RouteDocDigest, service.NewDigestHandler(repo))

	pool := resilience.NewWorkerPool("dispatch", cfg.Workers.Count, cfg.Workers.QueueSize, func(name string, recovered any) {
		logger.Errorw("Request job panicked", "pool", name, "panic", fmt.Sprint(recovered))
	})

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	nodev1.RegisterCommServer(grpcServer, grpcHandler.NewServer(dispatcher, pool))

	interval := cfg.Replication.Interval()
	dialer := peer.NewDialer(peer.Config{
		NodeID:             nodeID,
		Compression:        cfg.Replication.Compression,
		BreakerOpenTimeout: interval / 2,
	}, fingers)

	coordinator := service.NewCoordinator(service.CoordinatorConfig{
		NodeID:          nodeID,
		Interval:        interval,
		ConnectTimeout:  cfg.Replication.ConnectTimeout(),
		ReplyTimeout:    cfg.Replication.ReplyTimeout(),
		SendConcurrency: cfg.Replication.SendConcurrency,
	}, registry, dialer, repo, fingers, m)

	a := &App{
		cfg:             cfg,
		repo:            repo,
		registry:        registry,
		coordinator:     coordinator,
		pool:            pool,
		server:          grpcServer,
		redis:           redisClient,
		serveErrCh:      make(chan error, 2),
		coordinatorDone: make(chan struct{}),
	}

	if cfg.Admin.Addr != "" {
		deps := httpHandler.Deps{
			NodeID:          nodeID,
			Replication:     coordinator,
			Documents:       repo,
			Gatherer:        reg,
			MaxDocumentSize: maxMsgSize,
		}
		a.admin = httpHandler.NewServer(deps)
	}

	logger.Infow("Node initialised",
		"node_id", nodeID,
		"root", repo.Root(),
		"neighbors", loaded)

	return a, nil
}

// Start binds the data-plane listener, joins the heartbeat cluster, starts the
// admin API and launches the replication loop. Bind failures wrap ErrStartup;
// Shutdown releases whatever was started before the failure.
func (a *App) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", net.JoinHostPort(a.cfg.Server.Hostname, strconv.Itoa(a.cfg.Server.Port)))
	if err != nil {
		return fmt.Errorf("%w: listen on port %d: %w", ErrStartup, a.cfg.Server.Port, err)
	}
	a.listener = lis

	go func() {
		if err := a.server.Serve(lis); err != nil {
			a.serveErrCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	if a.cfg.Heartbeat.Enabled {
		hb, err := gossip.Start(a.heartbeatConfig(), heartbeatBridge{coordinator: a.coordinator})
		if err != nil {
			return fmt.Errorf("%w: heartbeat on port %d: %w", ErrStartup, a.cfg.Server.MgmtPort, err)
		}
		a.heartbeat = hb
	}

	if a.admin != nil {
		if a.heartbeat != nil {
			a.admin.SetMembers(a.heartbeat)
		}
		adminLis, err := net.Listen("tcp", a.cfg.Admin.Addr)
		if err != nil {
			return fmt.Errorf("%w: admin on %s: %w", ErrStartup, a.cfg.Admin.Addr, err)
		}
		a.adminLis = adminLis
		go func() {
			if err := a.admin.Serve(adminLis); err != nil {
				a.serveErrCh <- fmt.Errorf("admin server: %w", err)
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.backgroundStop = cancel
	go func() {
		defer close(a.coordinatorDone)
		a.coordinator.Run(runCtx)
	}()

	logger.Infow("Node started",
		"node_id", a.cfg.Server.NodeID,
		"port", a.cfg.Server.Port,
		"mgmt_port", a.cfg.Server.MgmtPort,
		"heartbeat", a.cfg.Heartbeat.Enabled,
		"admin", a.cfg.Admin.Addr)
	return nil
}

// Run starts the node and blocks until SIGINT/SIGTERM or a server failure,
// then shuts down.
func (a *App) Run() error {
	if err := a.Start(context.Background()); err != nil {
		a.Shutdown()
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	case err := <-a.serveErrCh:
		if !isClosedErr(err) {
			runErr = err
			logger.Errorw("Server exited unexpectedly", "error", err.Error())
		}
	}

	a.Shutdown()
	return runErr
}

// Shutdown stops the replication loop, closes neighbor connections, leaves the
// heartbeat cluster, stops the servers and drains the worker pool. It is safe
// to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		logger.Info("Shutting down node")

		if a.backgroundStop != nil {
			a.backgroundStop()
			<-a.coordinatorDone
		}
		a.coordinator.Stop()

		a.stopNetwork()

		a.pool.Close()
		a.pool.Wait()

		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				logger.Warnw("Redis client close failed", "error", err.Error())
			}
		}
	})
}

func (a *App) stopNetwork() {
	if a.heartbeat != nil {
		if err := a.heartbeat.Leave(leaveTimeout); err != nil {
			logger.Warnw("Heartbeat leave failed", "error", err.Error())
		}
	}

	// Neighbors keep their streams open, so a graceful stop is bounded.
	stopped := make(chan struct{})
	go func() {
		a.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(gracefulTimeout):
		a.server.Stop()
		<-stopped
	}

	if a.admin != nil && a.adminLis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
		defer cancel()
		if err := a.admin.Stop(ctx); err != nil {
			logger.Warnw("Admin server stop failed", "error", err.Error())
		}
	}
}

// Addr returns the bound data-plane address, nil before Start.
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

func (a *App) Coordinator() *service.Coordinator {
	return a.coordinator
}

func (a *App) heartbeatConfig() gossip.Config {
	neighbors := a.cfg.NeighborList()
	seeds := make([]string, 0, len(neighbors))
	for _, nb := range neighbors {
		seeds = append(seeds, nb.MgmtAddr())
	}
	return gossip.Config{
		NodeID:         a.cfg.Server.NodeID,
		BindAddr:       a.cfg.Server.Hostname,
		BindPort:       a.cfg.Server.MgmtPort,
		DataPort:       a.cfg.Server.Port,
		Seeds:          seeds,
		ProbeInterval:  a.cfg.Heartbeat.ProbeInterval(),
		RejoinInterval: a.cfg.Heartbeat.RejoinInterval(),
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, grpc.ErrServerStopped) ||
		errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "use of closed network connection")
}

// heartbeatBridge turns heartbeat membership events into coordinator signals.
type heartbeatBridge struct {
	coordinator *service.Coordinator
}

func (b heartbeatBridge) PeerJoined(nodeID string) {
	b.coordinator.NeighborUp(nodeID)
}

func (b heartbeatBridge) PeerLeft(nodeID string) {
	b.coordinator.NeighborDown(nodeID)
}
