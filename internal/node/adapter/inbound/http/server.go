package http_handler

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/anthanhphan/go-docsync/internal/node/domain"
	"github.com/anthanhphan/go-docsync/internal/node/port"
	"github.com/anthanhphan/go-docsync/pkg/gossip"
	sdklogger "github.com/anthanhphan/gosdk/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MemberLister exposes the heartbeat view of the cluster.
type MemberLister interface {
	Members() []gossip.Member
}

type Deps struct {
	NodeID      string
	Replication port.ReplicationService
	Documents   port.DocumentRepository
	// Members is optional; nil when the heartbeat is disabled.
	Members  MemberLister
	Gatherer prometheus.Gatherer
	// MaxDocumentSize bounds PUT /documents bodies.
	MaxDocumentSize int
}

// Server is the node's admin HTTP API.
type Server struct {
	app  *fiber.App
	deps Deps
}

func NewServer(deps Deps) *Server {
	limit := deps.MaxDocumentSize
	if limit <= 0 {
		limit = 64 * 1024 * 1024
	}
	app := fiber.New(fiber.Config{
		BodyLimit:             limit,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[admin] ${status} ${method} ${path} ${latency}\n",
	}))

	s := &Server{
		app:  app,
		deps: deps,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/neighbors", s.handleNeighbors)
	s.app.Get("/neighbors/:key/digest", s.handleNeighborDigest)
	s.app.Get("/documents", s.handleListDocuments)
	s.app.Put("/documents/:name", s.handlePutDocument)
	s.app.Get("/digest", s.handleDigest)
	s.app.Post("/reconcile", s.handleReconcile)

	if s.deps.Gatherer != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}
}

// SetMembers attaches the heartbeat view reported by /health. Call before Serve.
func (s *Server) SetMembers(m MemberLister) {
	s.deps.Members = m
}

// Serve blocks serving the admin API on ln.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) sendJSONError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	neighbors := s.deps.Replication.Neighbors()
	connected := 0
	for _, n := range neighbors {
		if n.Connected {
			connected++
		}
	}

	body := fiber.Map{
		"status":    "ok",
		"node_id":   s.deps.NodeID,
		"neighbors": len(neighbors),
		"connected": connected,
	}
	if s.deps.Members != nil {
		body["heartbeat_members"] = s.deps.Members.Members()
	}
	return c.JSON(body)
}

func (s *Server) handleNeighbors(c *fiber.Ctx) error {
	return c.JSON(s.deps.Replication.Neighbors())
}

func (s *Server) handleNeighborDigest(c *fiber.Ctx) error {
	key, err := url.PathUnescape(c.Params("key"))
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Invalid neighbor key")
	}

	digest, err := s.deps.Replication.QueryDigest(c.UserContext(), key)
	switch {
	case errors.Is(err, domain.ErrUnknownNeighbor):
		return s.sendJSONError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotConnected):
		return s.sendJSONError(c, fiber.StatusConflict, err.Error())
	case err != nil:
		sdklogger.Warnw("Neighbor digest failed", "neighbor", key, "error", err.Error())
		return s.sendJSONError(c, fiber.StatusBadGateway, err.Error())
	}

	local, err := s.deps.Replication.LocalDigest(c.UserContext())
	if err != nil {
		return s.sendJSONError(c, fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{
		"neighbor": key,
		"remote":   digest,
		"local":    local,
		"in_sync":  digest == local,
	})
}

func (s *Server) handleListDocuments(c *fiber.Ctx) error {
	names, err := s.deps.Documents.List(c.UserContext())
	if err != nil {
		return s.sendJSONError(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"documents": names,
		"count":     len(names),
	})
}

// handlePutDocument stores a document locally with write-if-absent semantics
// and schedules replication of the new document set.
func (s *Server) handlePutDocument(c *fiber.Ctx) error {
	name, err := url.PathUnescape(c.Params("name"))
	if err != nil || domain.ValidateName(name) != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Invalid document name")
	}

	content := append([]byte(nil), c.Body()...)
	if len(content) == 0 {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Empty document")
	}

	created, err := s.deps.Documents.WriteIfAbsent(c.UserContext(), domain.Document{Name: name, Content: content})
	if err != nil {
		sdklogger.Errorw("Document write failed", "doc", name, "error", err.Error())
		return s.sendJSONError(c, fiber.StatusInternalServerError, err.Error())
	}

	if !created {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"name": name, "created": false})
	}

	s.deps.Replication.Resync()
	sdklogger.Infow("Document added", "doc", name, "bytes", len(content))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"name": name, "created": true})
}

func (s *Server) handleDigest(c *fiber.Ctx) error {
	digest, err := s.deps.Replication.LocalDigest(c.UserContext())
	if err != nil {
		return s.sendJSONError(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(digest)
}

func (s *Server) handleReconcile(c *fiber.Ctx) error {
	s.deps.Replication.Trigger()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "scheduled"})
}
