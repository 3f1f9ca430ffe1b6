package domain

import (
	"errors"
	"strings"
)

var (
	ErrInvalidDocumentName = errors.New("invalid document name")
	ErrUnknownNeighbor     = errors.New("unknown neighbor")
	ErrUnknownRoute        = errors.New("unknown routing id")
	ErrConnectionClosed    = errors.New("connection closed")
	ErrNotConnected        = errors.New("neighbor not connected")
)

// Document is a named file payload transferred between nodes.
type Document struct {
	Name    string
	Content []byte
}

// IsEmpty reports whether the document lacks a name or content.
// Such documents are accepted and ignored by the transfer path.
func (d Document) IsEmpty() bool {
	return d.Name == "" || len(d.Content) == 0
}

// ValidateName rejects names that would escape the document root or collide
// with the store's hidden temp files.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return ErrInvalidDocumentName
	case strings.HasPrefix(name, "."):
		return ErrInvalidDocumentName
	case strings.ContainsAny(name, "/\\\x00"):
		return ErrInvalidDocumentName
	}
	return nil
}

// IsHidden reports whether a file in the document root is a system or temp file
// that must not be replicated.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
