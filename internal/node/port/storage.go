package port

import (
	"context"
	"errors"

	"github.com/anthanhphan/go-docsync/internal/node/domain"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
)

//go:generate mockgen -destination=../service/mocks/storage_mock.go -package=mocks -source=storage.go

// DocumentRepository defines the node's document root.
type DocumentRepository interface {
	// WriteIfAbsent stores the document unless a document with the same name exists.
	// It reports whether this call created the file. It must be safe for concurrent
	// writers of the same name: exactly one of them creates the file.
	WriteIfAbsent(ctx context.Context, doc domain.Document) (bool, error)

	// Read returns a stored document or ErrDocumentNotFound.
	Read(ctx context.Context, name string) (domain.Document, error)

	// List returns the names of all replicable documents, hidden files excluded.
	List(ctx context.Context) ([]string, error)

	// Root returns the directory backing the repository.
	Root() string
}
