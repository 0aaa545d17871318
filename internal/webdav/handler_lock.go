package webdav

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/davgate/davcore/internal/resource"
	"github.com/davgate/davcore/internal/types"
)

// ========================================
// LOCK / UNLOCK
// ========================================

func (h *Handler) handleLock(ctx context.Context, rq *davRequest) (*Response, error) {
	info, err := h.parser.ParseLockInfo(rq.Body)
	if err != nil {
		return nil, err
	}
	timeout := ParseTimeout(rq.Header.Get("Timeout"))

	if info == nil {
		return h.refreshLock(ctx, rq, timeout)
	}

	depth, err := ParseDepth(rq.Header.Get("Depth"), resource.DepthInfinity)
	if err != nil {
		return nil, err
	}
	if depth == 1 {
		return nil, fmt.Errorf("%w: LOCK supports Depth 0 or infinity", ErrInvalidDepth)
	}

	scope := LockScopeExclusive
	if info.Shared != nil {
		scope = LockScopeShared
	}
	var owner string
	if info.Owner != nil {
		owner = strings.TrimSpace(info.Owner.InnerXML)
	}

	exists := rq.target.Exists(ctx)
	if !exists {
		// 创建空对象会给父集合添加成员
		if err := h.checkWrite(rq, rq.path, false, true); err != nil {
			return nil, err
		}
	}

	lock, err := h.lockManager.Acquire(rq.path, scope, depth, owner, timeout)
	if err != nil {
		return nil, err
	}

	status := http.StatusOK
	if !exists {
		// 锁定不存在的资源时创建空对象
		if _, err := rq.target.Write(ctx, http.NoBody); err != nil {
			if rerr := h.lockManager.Release(lock.Token); rerr != nil {
				h.logger.WithFields(logrus.Fields{"path": rq.path.String(), "token": lock.Token, "error": rerr}).Warn("release lock after failed create failed")
			}
			return nil, err
		}
		status = http.StatusCreated
	}

	resp, err := h.lockResponse(rq, lock, status)
	if err != nil {
		return nil, err
	}
	resp.Header.Set("Lock-Token", "<"+lock.Token+">")
	return resp, nil
}

// refreshLock 无请求体的LOCK：刷新If头中覆盖该资源的锁
func (h *Handler) refreshLock(ctx context.Context, rq *davRequest, timeout time.Duration) (*Response, error) {
	if len(rq.tokens) == 0 {
		return nil, fmt.Errorf("%w: lock refresh requires an If header", ErrBadRequest)
	}
	if !rq.target.Exists(ctx) {
		return nil, fmt.Errorf("refresh %s: %w", rq.path, resource.ErrNotFound)
	}
	for _, token := range rq.tokens {
		current, ok := h.lockManager.Lookup(token)
		if !ok || !current.Covers(rq.path) {
			continue
		}
		lock, err := h.lockManager.Refresh(token, timeout)
		if err != nil {
			return nil, err
		}
		return h.lockResponse(rq, lock, http.StatusOK)
	}
	return nil, fmt.Errorf("%w: no submitted lock covers %s", ErrPreconditionFailed, rq.path)
}

func (h *Handler) lockResponse(rq *davRequest, lock *Lock, status int) (*Response, error) {
	active := CreateActiveLockResponse(lock, rq.href(lock.Root), h.lockManager.now())
	body, err := h.serializer.LockDiscovery([]types.ActiveLock{active})
	if err != nil {
		return nil, err
	}
	resp := newResponse(status)
	resp.Header.Set("Content-Type", xmlContentType)
	resp.Body = body
	return resp, nil
}

func (h *Handler) handleUnlock(_ context.Context, rq *davRequest) (*Response, error) {
	header := rq.Header.Get("Lock-Token")
	if header == "" {
		return nil, fmt.Errorf("%w: missing Lock-Token header", ErrBadRequest)
	}
	token, err := ParseLockToken(header)
	if err != nil {
		return nil, err
	}

	lock, ok := h.lockManager.Lookup(token)
	if !ok {
		return nil, fmt.Errorf("unlock %s: %w", token, ErrLockNotFound)
	}
	if !lock.Covers(rq.path) {
		return nil, fmt.Errorf("unlock %s: %w", rq.path, ErrLockTokenMismatch)
	}
	if err := h.lockManager.Release(token); err != nil {
		return nil, err
	}
	return newResponse(http.StatusNoContent), nil
}
