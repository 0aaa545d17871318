package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/davgate/davcore/internal/davpath"
	"github.com/davgate/davcore/internal/resource"
)

type memNode struct {
	dir      bool
	data     []byte
	created  time.Time
	modified time.Time
}

// Memory is a process-local tree. The root collection always exists.
type Memory struct {
	mu    sync.RWMutex
	nodes map[string]*memNode
	now   func() time.Time
}

var _ resource.Adapter = (*Memory)(nil)

func NewMemory() *Memory {
	m := &Memory{
		nodes: make(map[string]*memNode),
		now:   time.Now,
	}
	now := m.now()
	m.nodes[davpath.Path{}.Key()] = &memNode{dir: true, created: now, modified: now}
	return m
}

// SetClock replaces the time source used for new timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// MkdirAll creates p and any missing parents.
func (m *Memory) MkdirAll(p davpath.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 1; i <= len(p); i++ {
		key := p[:i].Key()
		if n, ok := m.nodes[key]; ok {
			if !n.dir {
				return fmt.Errorf("mkdir %s: %w", key, resource.ErrConflict)
			}
			continue
		}
		now := m.now()
		m.nodes[key] = &memNode{dir: true, created: now, modified: now}
	}
	return nil
}

// WriteFile creates parents as needed and stores data at p.
func (m *Memory) WriteFile(p davpath.Path, data []byte) error {
	if err := m.MkdirAll(p.Parent()); err != nil {
		return err
	}
	_, err := m.Create(context.Background(), p, bytes.NewReader(data))
	return err
}

func (m *Memory) get(p davpath.Path) (*memNode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[p.Key()]
	return n, ok
}

func (m *Memory) Exists(_ context.Context, p davpath.Path) bool {
	_, ok := m.get(p)
	return ok
}

func (m *Memory) IsCollection(_ context.Context, p davpath.Path) bool {
	n, ok := m.get(p)
	return ok && n.dir
}

func (m *Memory) IsObject(_ context.Context, p davpath.Path) bool {
	n, ok := m.get(p)
	return ok && !n.dir
}

func (m *Memory) Size(_ context.Context, p davpath.Path) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[p.Key()]
	if !ok {
		return 0, fmt.Errorf("size %s: %w", p, resource.ErrNotFound)
	}
	return int64(len(n.data)), nil
}

func (m *Memory) ListChildren(_ context.Context, p davpath.Path) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[p.Key()]
	if !ok || !n.dir {
		return nil, fmt.Errorf("list %s: %w", p, resource.ErrNotFound)
	}

	var names []string
	for key := range m.nodes {
		child := davpath.Parse(key)
		if len(child) == len(p)+1 && child.HasPrefix(p) {
			names = append(names, davpath.Basename(child))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) CreateCollection(_ context.Context, p davpath.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[p.Key()]; ok {
		return fmt.Errorf("mkcol %s: %w", p, resource.ErrExists)
	}
	if parent, ok := m.nodes[p.Parent().Key()]; !ok || !parent.dir {
		return fmt.Errorf("mkcol %s: %w", p, resource.ErrConflict)
	}
	now := m.now()
	m.nodes[p.Key()] = &memNode{dir: true, created: now, modified: now}
	return nil
}

func (m *Memory) Delete(_ context.Context, p davpath.Path) error {
	if p.IsRoot() {
		return fmt.Errorf("delete root: %w", resource.ErrConflict)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[p.Key()]
	if !ok {
		return fmt.Errorf("delete %s: %w", p, resource.ErrNotFound)
	}
	if n.dir {
		for key := range m.nodes {
			if child := davpath.Parse(key); len(child) > len(p) && child.HasPrefix(p) {
				return fmt.Errorf("delete %s: %w", p, resource.ErrNotEmpty)
			}
		}
	}
	delete(m.nodes, p.Key())
	return nil
}

func (m *Memory) Open(_ context.Context, p davpath.Path) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[p.Key()]
	if !ok || n.dir {
		return nil, fmt.Errorf("open %s: %w", p, resource.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(n.data))), nil
}

func (m *Memory) Create(ctx context.Context, p davpath.Path, r io.Reader) (int64, error) {
	data, err := io.ReadAll(contextReader{ctx: ctx, r: r})
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", p, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if parent, ok := m.nodes[p.Parent().Key()]; p.IsRoot() || !ok || !parent.dir {
		return 0, fmt.Errorf("put %s: %w", p, resource.ErrConflict)
	}
	now := m.now()
	n, ok := m.nodes[p.Key()]
	switch {
	case ok && n.dir:
		return 0, fmt.Errorf("put %s: %w", p, resource.ErrIsCollection)
	case ok:
		n.data = data
		n.modified = now
	default:
		m.nodes[p.Key()] = &memNode{data: data, created: now, modified: now}
	}
	return int64(len(data)), nil
}

func (m *Memory) Timestamps(_ context.Context, p davpath.Path) (time.Time, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[p.Key()]
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("stat %s: %w", p, resource.ErrNotFound)
	}
	return n.created, n.modified, nil
}
