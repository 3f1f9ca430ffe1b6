package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/anthanhphan/go-docsync/internal/node/domain"
	"github.com/anthanhphan/go-docsync/internal/node/port"
	"github.com/anthanhphan/go-docsync/pkg/merkle"
	"github.com/anthanhphan/gosdk/logger"
)

// ComputeDigest summarises the repository's documents as a Merkle root.
func ComputeDigest(ctx context.Context, repo port.DocumentRepository) (port.Digest, error) {
	names, err := repo.List(ctx)
	if err != nil {
		return port.Digest{}, err
	}

	set := merkle.NewSetDigest(merkle.DefaultBuckets)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return port.Digest{}, err
		}
		doc, err := repo.Read(ctx, name)
		if errors.Is(err, port.ErrDocumentNotFound) {
			continue
		}
		if err != nil {
			return port.Digest{}, fmt.Errorf("digest %s: %w", name, err)
		}
		set.Add(doc.Name, doc.Content)
	}

	root, err := set.Root()
	if err != nil {
		return port.Digest{}, err
	}
	return port.Digest{Root: root, Count: set.Count()}, nil
}

// DigestHandler answers DOCDIGEST requests with the local document digest in
// the response metadata.
type DigestHandler struct {
	repo port.DocumentRepository
}

func NewDigestHandler(repo port.DocumentRepository) *DigestHandler {
	return &DigestHandler{repo: repo}
}

func (h *DigestHandler) Handle(ctx context.Context, req domain.Request) domain.Response {
	d, err := ComputeDigest(ctx, h.repo)
	if err != nil {
		logger.Warnw("Failed to compute digest", "error", err.Error())
		return domain.ResponseFor(req, domain.StatusFailure, err.Error())
	}

	resp := domain.ResponseFor(req, domain.StatusSuccess, "")
	resp.SetMeta(domain.MetaDigest, d.Root)
	resp.SetMeta(domain.MetaDocCount, strconv.Itoa(d.Count))
	return resp
}

// PokeHandler answers liveness pokes. The dispatcher echoes the finger.
func PokeHandler() port.RequestHandler {
	return port.HandlerFunc(func(_ context.Context, req domain.Request) domain.Response {
		return domain.ResponseFor(req, domain.StatusSuccess, "")
	})
}
