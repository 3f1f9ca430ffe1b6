package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anthanhphan/go-docsync/internal/node/domain"
	"github.com/anthanhphan/go-docsync/internal/node/port"
	"github.com/anthanhphan/gosdk/logger"
)

// tempPrefix marks in-progress writes. It is hidden, so List never returns it.
const tempPrefix = ".incoming-"

// Store keeps documents as plain files in one directory.
//
// A document is written to a temp file and then hard-linked to its final name.
// os.Link fails when the name already exists, which makes creation exclusive:
// of several concurrent writers exactly one wins, and no reader ever sees a
// partially written file under the final name.
type Store struct {
	dir   string
	fsync bool
}

var _ port.DocumentRepository = (*Store)(nil)

// New opens (creating if needed) the document root and removes temp files
// left behind by a previous crash.
func New(dir string, fsync bool) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create document root: %w", err)
	}

	s := &Store{
		dir:   filepath.Clean(dir),
		fsync: fsync,
	}

	stale, err := filepath.Glob(filepath.Join(s.dir, tempPrefix+"*"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan document root: %w", err)
	}
	for _, p := range stale {
		if err := os.Remove(p); err != nil {
			logger.Warnw("failed to remove stale temp file", "path", p, "error", err.Error())
		}
	}

	return s, nil
}

func (s *Store) Root() string {
	return s.dir
}

func (s *Store) WriteIfAbsent(ctx context.Context, doc domain.Document) (bool, error) {
	if err := domain.ValidateName(doc.Name); err != nil {
		return false, fmt.Errorf("%w: %q", err, doc.Name)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	final := filepath.Join(s.dir, doc.Name)
	if _, err := os.Lstat(final); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to stat %s: %w", doc.Name, err)
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return false, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(doc.Content); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("failed to write %s: %w", doc.Name, err)
	}
	if s.fsync {
		if err := tmp.Sync(); err != nil {
			_ = tmp.Close()
			return false, fmt.Errorf("failed to sync %s: %w", doc.Name, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("failed to close %s: %w", doc.Name, err)
	}

	if err := os.Link(tmpName, final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to publish %s: %w", doc.Name, err)
	}
	return true, nil
}

func (s *Store) Read(ctx context.Context, name string) (domain.Document, error) {
	if err := domain.ValidateName(name); err != nil {
		return domain.Document{}, fmt.Errorf("%w: %q", err, name)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Document{}, port.ErrDocumentNotFound
		}
		return domain.Document{}, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return domain.Document{Name: name, Content: data}, nil
}

// List returns regular, non-hidden files in name order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list document root: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || domain.IsHidden(e.Name()) || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
