package webdav

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davgate/davcore/internal/davpath"
	"github.com/davgate/davcore/internal/resource"
	"github.com/davgate/davcore/internal/types"
)

// LockScope 定义锁定范围
type LockScope string

const (
	LockScopeExclusive LockScope = "exclusive"
	LockScopeShared    LockScope = "shared"
)

const (
	DefaultLockTimeout = time.Hour
	MaxLockTimeout     = 24 * time.Hour
)

// Lock 锁定信息结构
type Lock struct {
	Token     string         `json:"token"`
	Root      davpath.Path   `json:"root"`
	Scope     LockScope      `json:"scope"`
	Depth     resource.Depth `json:"depth"` // 0 或 infinity (用-1表示)
	Owner     string         `json:"owner"` // 原样保存的owner XML
	Timeout   time.Duration  `json:"timeout"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Covers 判断锁是否覆盖路径p
func (l *Lock) Covers(p davpath.Path) bool {
	if l.Root.Equal(p) {
		return true
	}
	return l.Depth != 0 && p.HasPrefix(l.Root)
}

func (l *Lock) conflictsWith(scope LockScope) bool {
	return l.Scope == LockScopeExclusive || scope == LockScopeExclusive
}

// LockManager 锁定管理器。所有读改写操作都在同一把互斥锁下完成。
type LockManager struct {
	mu             sync.Mutex
	locks          map[string]*Lock   // token -> Lock
	locksByPath    map[string][]*Lock // path -> []*Lock
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	now            func() time.Time
}

// LockOption 锁管理器选项
type LockOption func(*LockManager)

// WithClock 替换时间源，测试用
func WithClock(now func() time.Time) LockOption {
	return func(lm *LockManager) {
		lm.now = now
	}
}

// WithTimeouts 设置默认和最大超时
func WithTimeouts(def, limit time.Duration) LockOption {
	return func(lm *LockManager) {
		if def > 0 {
			lm.defaultTimeout = def
		}
		if limit > 0 {
			lm.maxTimeout = limit
		}
	}
}

// NewLockManager 创建新的锁定管理器
func NewLockManager(opts ...LockOption) *LockManager {
	lm := &LockManager{
		locks:          make(map[string]*Lock),
		locksByPath:    make(map[string][]*Lock),
		defaultTimeout: DefaultLockTimeout,
		maxTimeout:     MaxLockTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(lm)
	}
	if lm.defaultTimeout > lm.maxTimeout {
		lm.defaultTimeout = lm.maxTimeout
	}
	return lm
}

// generateLockToken 生成唯一的锁定令牌
func generateLockToken() string {
	return "opaquelocktoken:" + uuid.NewString()
}

func (lm *LockManager) clampTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = lm.defaultTimeout
	}
	if timeout > lm.maxTimeout {
		timeout = lm.maxTimeout
	}
	return timeout
}

// Acquire 创建锁定。覆盖该路径的不兼容锁，或新深度锁之下的不兼容锁，都会导致ErrLockConflict。
func (lm *LockManager) Acquire(root davpath.Path, scope LockScope, depth resource.Depth, owner string, timeout time.Duration) (*Lock, error) {
	if depth < 0 {
		depth = resource.DepthInfinity
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	for _, lock := range lm.locks {
		if lm.expiredUnsafe(lock, now) {
			continue
		}
		if !lock.conflictsWith(scope) {
			continue
		}
		if lock.Covers(root) {
			return nil, &LockConflictError{Root: lock.Root}
		}
		if depth != 0 && lock.Root.HasPrefix(root) {
			return nil, &LockConflictError{Root: lock.Root}
		}
	}

	timeout = lm.clampTimeout(timeout)
	lock := &Lock{
		Token:     generateLockToken(),
		Root:      append(davpath.Path{}, root...),
		Scope:     scope,
		Depth:     depth,
		Owner:     owner,
		Timeout:   timeout,
		CreatedAt: now,
		ExpiresAt: now.Add(timeout),
	}
	lm.locks[lock.Token] = lock
	key := root.Key()
	lm.locksByPath[key] = append(lm.locksByPath[key], lock)

	snapshot := *lock
	return &snapshot, nil
}

// Refresh 刷新锁定
func (lm *LockManager) Refresh(token string, timeout time.Duration) (*Lock, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	lock, ok := lm.locks[token]
	if !ok || lm.expiredUnsafe(lock, now) {
		return nil, fmt.Errorf("refresh %s: %w", token, ErrLockNotFound)
	}

	lock.Timeout = lm.clampTimeout(timeout)
	lock.ExpiresAt = now.Add(lock.Timeout)

	snapshot := *lock
	return &snapshot, nil
}

// Release 移除锁定，其他锁不受影响
func (lm *LockManager) Release(token string) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lock, ok := lm.locks[token]
	if !ok || lm.expiredUnsafe(lock, lm.now()) {
		return fmt.Errorf("release %s: %w", token, ErrLockNotFound)
	}
	lm.removeLockUnsafe(token)
	return nil
}

// ReleaseTree 移除根位于p或其下的所有锁，返回移除数量
func (lm *LockManager) ReleaseTree(p davpath.Path) int {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var tokens []string
	for token, lock := range lm.locks {
		if lock.Root.HasPrefix(p) {
			tokens = append(tokens, token)
		}
	}
	for _, token := range tokens {
		lm.removeLockUnsafe(token)
	}
	return len(tokens)
}

// Lookup 获取锁定信息
func (lm *LockManager) Lookup(token string) (*Lock, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lock, ok := lm.locks[token]
	if !ok || lm.expiredUnsafe(lock, lm.now()) {
		return nil, false
	}
	snapshot := *lock
	return &snapshot, true
}

// Covering 返回覆盖路径p的所有有效锁，按创建时间排序
func (lm *LockManager) Covering(p davpath.Path) []*Lock {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	var out []*Lock
	for i := 0; i <= len(p); i++ {
		for _, lock := range slices.Clone(lm.locksByPath[p[:i].Key()]) {
			if lm.expiredUnsafe(lock, now) || !lock.Covers(p) {
				continue
			}
			snapshot := *lock
			out = append(out, &snapshot)
		}
	}
	slices.SortStableFunc(out, func(a, b *Lock) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// Check 检查对路径p的写操作是否被锁阻止。recursive为true时同时检查p之下的锁。
// tokens中提交的锁令牌视为持有者。
func (lm *LockManager) Check(p davpath.Path, recursive bool, tokens []string) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	for _, lock := range lm.locks {
		if lm.expiredUnsafe(lock, now) {
			continue
		}
		blocks := lock.Covers(p) || (recursive && lock.Root.HasPrefix(p))
		if !blocks || slices.Contains(tokens, lock.Token) {
			continue
		}
		return &LockedError{Root: append(davpath.Path{}, lock.Root...), Path: p}
	}
	return nil
}

// Discover 生成lockdiscovery属性内容
func (lm *LockManager) Discover(p davpath.Path, rootURL func(davpath.Path) string) []types.ActiveLock {
	locks := lm.Covering(p)
	out := make([]types.ActiveLock, 0, len(locks))
	for _, lock := range locks {
		out = append(out, CreateActiveLockResponse(lock, rootURL(lock.Root), lm.now()))
	}
	return out
}

// CleanExpired 清理过期的锁定
func (lm *LockManager) CleanExpired() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	var expired []string
	for token, lock := range lm.locks {
		if !now.Before(lock.ExpiresAt) {
			expired = append(expired, token)
		}
	}
	for _, token := range expired {
		lm.removeLockUnsafe(token)
	}
	return len(expired)
}

// Run 后台定期清理，直到ctx结束
func (lm *LockManager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			lm.CleanExpired()
		}
	}
}

// Count 获取活动锁定数量
func (lm *LockManager) Count() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	n := 0
	for _, lock := range lm.locks {
		if now.Before(lock.ExpiresAt) {
			n++
		}
	}
	return n
}

// expiredUnsafe 判断并惰性移除过期锁（调用方持有mu）
func (lm *LockManager) expiredUnsafe(lock *Lock, now time.Time) bool {
	if now.Before(lock.ExpiresAt) {
		return false
	}
	lm.removeLockUnsafe(lock.Token)
	return true
}

// removeLockUnsafe 不加锁的移除锁定（内部使用）
func (lm *LockManager) removeLockUnsafe(token string) {
	lock, ok := lm.locks[token]
	if !ok {
		return
	}
	delete(lm.locks, token)

	key := lock.Root.Key()
	remaining := slices.DeleteFunc(lm.locksByPath[key], func(l *Lock) bool {
		return l.Token == token
	})
	if len(remaining) == 0 {
		delete(lm.locksByPath, key)
	} else {
		lm.locksByPath[key] = remaining
	}
}
