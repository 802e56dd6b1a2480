// Package storage defines the flat object store primitives the media
// filesystem is built on. Concrete backends live in the local and s3
// subpackages.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrAlreadyExists is returned when a write or move targets a key that is taken.
	ErrAlreadyExists = errors.New("object already exists")

	// ErrNotFound is returned when the source of a move does not exist.
	ErrNotFound = errors.New("object not found")
)

// Delimiter separates path segments inside object keys.
const Delimiter = "/"

// Object is one immediate child returned by ListChildren. A container is a
// common prefix (it has no bytes of its own); everything else is a leaf.
type Object struct {
	Name        string
	IsContainer bool
	Size        int64
	MimeType    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Backend is the interface for flat, prefix-listable object stores.
// Keys are opaque strings; the only structure assumed is the "/" delimiter.
type Backend interface {
	// Put stores body under key. It never overwrites: an existing key
	// yields ErrAlreadyExists. Returns an identifier for the stored object.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)

	// ListChildren returns the immediate children under prefix (non-recursive).
	// prefix must end with the delimiter.
	ListChildren(ctx context.Context, prefix string) ([]Object, error)

	// DeleteMany removes keys and returns the subset that could not be deleted.
	// A non-nil error means nothing was attempted.
	DeleteMany(ctx context.Context, keys []string) ([]string, error)

	// MoveOne relocates a single key. Fails with ErrAlreadyExists when newKey
	// is taken and ErrNotFound when oldKey is missing; oldKey is untouched on failure.
	MoveOne(ctx context.Context, oldKey, newKey string) error

	// Type returns the backend type identifier ("s3", "local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}
