package grpc_handler

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/anthanhphan/go-docsync/internal/node/adapter/convert"
	"github.com/anthanhphan/go-docsync/internal/node/domain"
	"github.com/anthanhphan/go-docsync/internal/node/port"
	"github.com/anthanhphan/go-docsync/pkg/resilience"
	nodev1 "github.com/anthanhphan/go-docsync/proto/node/v1"
	"github.com/anthanhphan/gosdk/logger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server implements the nodev1 Comm service. Requests read from a stream are
// handled on the worker pool so a slow handler never stalls the stream's
// reader; replies go back on the same stream in completion order.
type Server struct {
	handler port.RequestHandler
	pool    *resilience.WorkerPool
}

var _ nodev1.CommServer = (*Server)(nil)

func NewServer(handler port.RequestHandler, pool *resilience.WorkerPool) *Server {
	return &Server{
		handler: handler,
		pool:    pool,
	}
}

func (s *Server) Exchange(stream nodev1.Comm_ExchangeServer) error {
	ctx := stream.Context()

	var (
		sendMu   sync.Mutex
		inFlight sync.WaitGroup
	)
	defer inFlight.Wait()

	reply := func(resp domain.Response) {
		sendMu.Lock()
		defer sendMu.Unlock()
		if err := stream.Send(convert.ToWireResponse(resp)); err != nil {
			logger.Debugw("Failed to send response", "route", resp.Header.RoutingID, "error", err.Error())
		}
	}

	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
				return nil
			}
			return err
		}

		req := convert.FromWireRequest(msg)

		inFlight.Add(1)
		job := func() {
			defer inFlight.Done()
			reply(s.handler.Handle(ctx, req))
		}
		if err := s.pool.Submit(ctx, job); err != nil {
			inFlight.Done()
			logger.Warnw("Request rejected", "route", req.Header.RoutingID, "error", err.Error())
			reply(domain.ResponseFor(req, domain.StatusFailure, err.Error()))
		}
	}
}
