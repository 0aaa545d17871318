package resource

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/davgate/davcore/internal/davpath"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrExists       = errors.New("resource already exists")
	ErrConflict     = errors.New("parent collection missing")
	ErrIsCollection = errors.New("resource is a collection")
	ErrNotEmpty     = errors.New("collection not empty")
)

// Adapter maps resource operations onto a backing store. Predicates never
// fail: an adapter that cannot answer reports the path as absent.
//
// Mutators report ErrNotFound, ErrExists, ErrConflict or ErrNotEmpty
// (wrapped) so callers can map them with errors.Is.
type Adapter interface {
	Exists(ctx context.Context, p davpath.Path) bool
	IsCollection(ctx context.Context, p davpath.Path) bool
	IsObject(ctx context.Context, p davpath.Path) bool
	Size(ctx context.Context, p davpath.Path) (int64, error)
	// ListChildren returns the names of the immediate children of a
	// collection in a stable order.
	ListChildren(ctx context.Context, p davpath.Path) ([]string, error)
	CreateCollection(ctx context.Context, p davpath.Path) error
	// Delete removes a single object or an empty collection.
	Delete(ctx context.Context, p davpath.Path) error
	Open(ctx context.Context, p davpath.Path) (io.ReadCloser, error)
	// Create writes the object at p, replacing any existing object, and
	// returns the number of bytes written.
	Create(ctx context.Context, p davpath.Path, r io.Reader) (int64, error)
	Timestamps(ctx context.Context, p davpath.Path) (created, modified time.Time, err error)
}

// ContentTyper is implemented by adapters able to report a media type.
type ContentTyper interface {
	ContentType(ctx context.Context, p davpath.Path) (string, error)
}
