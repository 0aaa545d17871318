// Package storage holds the resource adapters: a local filesystem tree and
// an in-memory tree.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/davgate/davcore/internal/davpath"
	"github.com/davgate/davcore/internal/resource"
)

const tempPrefix = ".davcore-"

// Service serves a directory of the local filesystem.
type Service struct {
	root string
}

var (
	_ resource.Adapter      = (*Service)(nil)
	_ resource.ContentTyper = (*Service)(nil)
)

func NewService(root string) (*Service, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat storage root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage root %s is not a directory", abs)
	}
	return &Service{root: abs}, nil
}

func (s *Service) Root() string {
	return s.root
}

func (s *Service) Exists(_ context.Context, p davpath.Path) bool {
	_, err := s.stat(p)
	return err == nil
}

func (s *Service) IsCollection(_ context.Context, p davpath.Path) bool {
	info, err := s.stat(p)
	return err == nil && info.IsDir()
}

func (s *Service) IsObject(_ context.Context, p davpath.Path) bool {
	info, err := s.stat(p)
	return err == nil && info.Mode().IsRegular()
}

func (s *Service) Size(_ context.Context, p davpath.Path) (int64, error) {
	info, err := s.stat(p)
	if err != nil {
		return 0, fmt.Errorf("stat object: %w", mapError(err))
	}
	return info.Size(), nil
}

func (s *Service) ListChildren(_ context.Context, p davpath.Path) ([]string, error) {
	full, err := s.resolve(p)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", mapError(err))
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && !entry.Type().IsRegular() {
			continue
		}
		if strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

func (s *Service) CreateCollection(_ context.Context, p davpath.Path) error {
	full, err := s.resolve(p)
	if err != nil {
		return fmt.Errorf("create folder: %w", err)
	}
	if err := os.Mkdir(full, 0o755); err != nil {
		return fmt.Errorf("create folder: %w", mapError(err))
	}
	return nil
}

func (s *Service) Delete(_ context.Context, p davpath.Path) error {
	if p.IsRoot() {
		return fmt.Errorf("delete root: %w", resource.ErrConflict)
	}
	full, err := s.resolve(p)
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	if err := os.Remove(full); err != nil {
		if isNotEmpty(full) {
			return fmt.Errorf("delete folder: %w", resource.ErrNotEmpty)
		}
		return fmt.Errorf("delete object: %w", mapError(err))
	}
	return nil
}

func (s *Service) Open(_ context.Context, p davpath.Path) (io.ReadCloser, error) {
	full, err := s.resolve(p)
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("get object: %w", mapError(err))
	}
	return f, nil
}

// Create writes into a temporary sibling and renames it over the target,
// so readers never observe a partial object.
func (s *Service) Create(ctx context.Context, p davpath.Path, r io.Reader) (int64, error) {
	full, err := s.resolve(p)
	if err != nil {
		return 0, fmt.Errorf("put object: %w", err)
	}
	if s.IsCollection(ctx, p) {
		return 0, fmt.Errorf("put object: %w", resource.ErrIsCollection)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), tempPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("put object: %w", mapError(err))
	}
	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("put object: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("put object: %w", mapError(err))
	}
	return n, nil
}

// Timestamps reports the modification time for both values; the
// filesystem API exposes no portable birth time.
func (s *Service) Timestamps(_ context.Context, p davpath.Path) (time.Time, time.Time, error) {
	info, err := s.stat(p)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("stat object: %w", mapError(err))
	}
	mod := info.ModTime()
	return mod, mod, nil
}

func (s *Service) ContentType(_ context.Context, p davpath.Path) (string, error) {
	if ct := mime.TypeByExtension(path.Ext(davpath.Basename(p))); ct != "" {
		return ct, nil
	}
	full, err := s.resolve(p)
	if err != nil {
		return "", err
	}
	mt, err := mimetype.DetectFile(full)
	if err != nil {
		return "", fmt.Errorf("detect content type: %w", mapError(err))
	}
	return mt.String(), nil
}

func (s *Service) stat(p davpath.Path) (fs.FileInfo, error) {
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	return os.Stat(full)
}

// resolve maps p below the root. Segments that would escape the root are
// rejected, and so are symlinks, which are not served.
func (s *Service) resolve(p davpath.Path) (string, error) {
	full := s.root
	missing := false
	for _, seg := range p {
		if seg == "." || seg == ".." || filepath.Base(seg) != seg {
			return "", fmt.Errorf("invalid segment %q: %w", seg, resource.ErrNotFound)
		}
		full = filepath.Join(full, seg)
		if missing {
			continue
		}
		info, err := os.Lstat(full)
		if err != nil {
			missing = true
			continue
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return "", fmt.Errorf("symlink %q: %w", seg, resource.ErrNotFound)
		}
	}
	return full, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", resource.ErrNotFound, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %v", resource.ErrExists, err)
	}
	return err
}

func isNotEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
