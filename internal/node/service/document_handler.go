package service

import (
	"context"

	"github.com/anthanhphan/go-docsync/internal/node/domain"
	"github.com/anthanhphan/go-docsync/internal/node/metrics"
	"github.com/anthanhphan/go-docsync/internal/node/port"
	"github.com/anthanhphan/gosdk/logger"
)

// DocumentHandler stores documents pushed by neighbors (routing id DOCADD)
// with write-if-absent semantics.
type DocumentHandler struct {
	repo    port.DocumentRepository
	metrics *metrics.Metrics
}

func NewDocumentHandler(repo port.DocumentRepository, m *metrics.Metrics) *DocumentHandler {
	return &DocumentHandler{repo: repo, metrics: m}
}

// Handle writes the request's document unless it is already present. A request
// without a document name or content has nothing to do and succeeds.
func (h *DocumentHandler) Handle(ctx context.Context, req domain.Request) domain.Response {
	doc := req.Body.Document
	if doc == nil || doc.IsEmpty() {
		h.metrics.DocumentWritten("ignored")
		return domain.ResponseFor(req, domain.StatusSuccess, "")
	}

	status, msg := h.WriteIfAbsent(ctx, *doc)

	resp := domain.ResponseFor(req, status, msg)
	resp.Body.Document = &domain.Document{Name: doc.Name}
	return resp
}

// WriteIfAbsent stores doc and maps the outcome onto a reply status. An existing
// document is left untouched and reported as SUCCESS.
func (h *DocumentHandler) WriteIfAbsent(ctx context.Context, doc domain.Document) (domain.ReplyStatus, string) {
	if doc.IsEmpty() {
		h.metrics.DocumentWritten("ignored")
		return domain.StatusSuccess, ""
	}

	created, err := h.repo.WriteIfAbsent(ctx, doc)
	if err != nil {
		h.metrics.DocumentWritten("failed")
		logger.Errorw("Failed to store document", "doc", doc.Name, "error", err.Error())
		return domain.StatusFailure, err.Error()
	}

	if created {
		h.metrics.DocumentWritten("created")
		logger.Debugw("Document stored", "doc", doc.Name, "bytes", len(doc.Content))
	} else {
		h.metrics.DocumentWritten("present")
	}
	return domain.StatusSuccess, ""
}
