// Package resource exposes the entities of the served namespace.
//
// A Resource is a plain value bound to an adapter, a base URL and a path.
// It memoizes nothing: every accessor asks the adapter again, so two calls
// may disagree when the store changes in between.
package resource

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/davgate/davcore/internal/davpath"
)

type Kind int

const (
	Missing Kind = iota
	Collection
	Object
)

func (k Kind) String() string {
	switch k {
	case Collection:
		return "collection"
	case Object:
		return "object"
	default:
		return "missing"
	}
}

const defaultContentType = "application/octet-stream"

type Resource struct {
	fs   Adapter
	base string
	path davpath.Path
}

func New(fs Adapter, base string, p davpath.Path) Resource {
	return Resource{fs: fs, base: base, path: p}
}

// Segments returns a copy of the resource path.
func (r Resource) Segments() davpath.Path {
	return append(davpath.Path{}, r.path...)
}

func (r Resource) Base() string {
	return r.base
}

// Kind dispatches on the current backing state.
func (r Resource) Kind(ctx context.Context) Kind {
	switch {
	case r.fs.IsCollection(ctx, r.path):
		return Collection
	case r.fs.IsObject(ctx, r.path):
		return Object
	default:
		return Missing
	}
}

func (r Resource) Exists(ctx context.Context) bool {
	return r.fs.Exists(ctx, r.path)
}

func (r Resource) IsDir(ctx context.Context) bool {
	return r.fs.IsCollection(ctx, r.path)
}

func (r Resource) IsFile(ctx context.Context) bool {
	return r.fs.IsObject(ctx, r.path)
}

// Size is the byte length of an object and 0 for anything else.
func (r Resource) Size(ctx context.Context) int64 {
	if !r.IsFile(ctx) {
		return 0
	}
	size, err := r.fs.Size(ctx, r.path)
	if err != nil {
		return 0
	}
	return size
}

func (r Resource) Name() string {
	return davpath.Basename(r.path)
}

// Dirname is the parent path with a trailing separator, e.g. "/path/to/".
func (r Resource) Dirname() string {
	dir := davpath.Dirname(r.path)
	if strings.HasSuffix(dir, davpath.Separator) {
		return dir
	}
	return dir + davpath.Separator
}

// Path joins the segments without a leading separator and with a trailing
// one iff the resource is a collection. The root renders as "".
func (r Resource) Path(ctx context.Context) string {
	if r.path.IsRoot() {
		return ""
	}
	p := strings.Join(r.path, davpath.Separator)
	if r.IsDir(ctx) {
		p += davpath.Separator
	}
	return p
}

func (r Resource) URL(ctx context.Context) string {
	return davpath.URL(r.base, r.path, r.IsDir(ctx))
}

func (r Resource) Child(name string) Resource {
	return New(r.fs, r.base, davpath.Join(r.path, name))
}

func (r Resource) Parent() Resource {
	return New(r.fs, r.base, r.path.Parent())
}

// Timestamps returns zero times when the store has none.
func (r Resource) Timestamps(ctx context.Context) (created, modified time.Time) {
	if !r.Exists(ctx) {
		return time.Time{}, time.Time{}
	}
	created, modified, err := r.fs.Timestamps(ctx, r.path)
	if err != nil {
		return time.Time{}, time.Time{}
	}
	return created, modified
}

func (r Resource) ContentType(ctx context.Context) string {
	if ct, ok := r.fs.(ContentTyper); ok {
		if v, err := ct.ContentType(ctx, r.path); err == nil && v != "" {
			return v
		}
	}
	if v := mime.TypeByExtension(path.Ext(r.Name())); v != "" {
		return v
	}
	return defaultContentType
}

func (r Resource) CreateCollection(ctx context.Context) error {
	if r.Exists(ctx) {
		return fmt.Errorf("mkcol %s: %w", r.path, ErrExists)
	}
	if !r.Parent().IsDir(ctx) {
		return fmt.Errorf("mkcol %s: %w", r.path, ErrConflict)
	}
	return r.fs.CreateCollection(ctx, r.path)
}

// Delete removes this single resource. Collections must already be empty.
func (r Resource) Delete(ctx context.Context) error {
	if !r.Exists(ctx) {
		return fmt.Errorf("delete %s: %w", r.path, ErrNotFound)
	}
	return r.fs.Delete(ctx, r.path)
}

func (r Resource) Open(ctx context.Context) (io.ReadCloser, error) {
	if !r.IsFile(ctx) {
		return nil, fmt.Errorf("open %s: %w", r.path, ErrNotFound)
	}
	return r.fs.Open(ctx, r.path)
}

// Write stores the content of body as this object. created reports whether
// the object did not exist before.
func (r Resource) Write(ctx context.Context, body io.Reader) (created bool, err error) {
	if r.path.IsRoot() || r.IsDir(ctx) {
		return false, fmt.Errorf("write %s: %w", r.path, ErrIsCollection)
	}
	if !r.Parent().IsDir(ctx) {
		return false, fmt.Errorf("write %s: %w", r.path, ErrConflict)
	}
	created = !r.Exists(ctx)
	if _, err := r.fs.Create(ctx, r.path, body); err != nil {
		return false, err
	}
	return created, nil
}
