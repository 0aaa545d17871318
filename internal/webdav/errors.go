package webdav

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/davgate/davcore/internal/davpath"
	"github.com/davgate/davcore/internal/resource"
	"github.com/davgate/davcore/internal/types"
	davxml "github.com/davgate/davcore/internal/webdav/xml"
)

var (
	ErrLockConflict        = errors.New("conflicting lock exists")
	ErrLocked              = errors.New("resource is locked")
	ErrLockNotFound        = errors.New("lock token not found")
	ErrInvalidDepth        = errors.New("invalid depth")
	ErrBadRequest          = errors.New("bad request")
	ErrForbidden           = errors.New("forbidden")
	ErrBadGateway          = errors.New("destination outside served namespace")
	ErrPreconditionFailed  = errors.New("precondition failed")
	ErrMethodNotAllowed    = errors.New("method not allowed")
	ErrUnsupportedMedia    = errors.New("unsupported media type")
	ErrLockTokenMismatch   = errors.New("lock token does not cover request uri")
	ErrInfiniteDepthDenied = errors.New("infinite depth propfind not allowed")
)

// LockConflictError 新锁与已有锁冲突
type LockConflictError struct {
	Root davpath.Path
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("conflicting lock rooted at %s", e.Root)
}

func (e *LockConflictError) Unwrap() error {
	return ErrLockConflict
}

// LockedError 写操作被锁阻止，Root为阻止它的锁根
type LockedError struct {
	Root davpath.Path
	Path davpath.Path
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s is locked by lock rooted at %s", e.Path, e.Root)
}

func (e *LockedError) Unwrap() error {
	return ErrLocked
}

// statusFromError maps every error the dispatcher can see onto one status code.
func statusFromError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, resource.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, resource.ErrConflict),
		errors.Is(err, resource.ErrNotEmpty),
		errors.Is(err, ErrLockNotFound),
		errors.Is(err, ErrLockTokenMismatch):
		return http.StatusConflict
	case errors.Is(err, resource.ErrExists),
		errors.Is(err, resource.ErrIsCollection),
		errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, ErrLockConflict), errors.Is(err, ErrLocked):
		return http.StatusLocked
	case errors.Is(err, ErrInvalidDepth),
		errors.Is(err, ErrBadRequest),
		errors.Is(err, davxml.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, davxml.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrInfiniteDepthDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrBadGateway):
		return http.StatusBadGateway
	case errors.Is(err, ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// conditionFromError returns the DAV:error body for errors that carry a
// precondition, or nil. href resolves a path to its URL.
func conditionFromError(err error, href func(davpath.Path) string) *types.ErrorCondition {
	var locked *LockedError
	var conflict *LockConflictError
	switch {
	case errors.As(err, &locked):
		return &types.ErrorCondition{LockTokenSubmitted: &types.HrefList{Href: []string{href(locked.Root)}}}
	case errors.As(err, &conflict):
		return &types.ErrorCondition{NoConflictingLock: &types.HrefList{Href: []string{href(conflict.Root)}}}
	case errors.Is(err, ErrLockTokenMismatch):
		return &types.ErrorCondition{LockTokenMismatch: &struct{}{}}
	case errors.Is(err, ErrInfiniteDepthDenied):
		return &types.ErrorCondition{PropfindFiniteDepth: &struct{}{}}
	}
	return nil
}
