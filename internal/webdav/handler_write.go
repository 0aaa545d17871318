package webdav

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/davgate/davcore/internal/davpath"
	"github.com/davgate/davcore/internal/resource"
	davxml "github.com/davgate/davcore/internal/webdav/xml"
)

// ========================================
// PUT / MKCOL
// ========================================

func (h *Handler) handlePut(ctx context.Context, rq *davRequest) (*Response, error) {
	if rq.path.IsRoot() || rq.target.IsDir(ctx) {
		return nil, fmt.Errorf("put %s: %w", rq.path, resource.ErrIsCollection)
	}
	if err := h.checkWrite(rq, rq.path, false, !rq.target.Exists(ctx)); err != nil {
		return nil, err
	}

	body := rq.Body
	if body == nil {
		body = http.NoBody
	}
	created, err := rq.target.Write(ctx, body)
	if err != nil {
		return nil, err
	}

	status := http.StatusNoContent
	if created {
		status = http.StatusCreated
	}
	resp := newResponse(status)
	resp.Header.Set("ETag", ETag(ctx, rq.target))
	return resp, nil
}

func (h *Handler) handleMkcol(ctx context.Context, rq *davRequest) (*Response, error) {
	body, err := h.parser.ReadBody(rq.Body)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		return nil, fmt.Errorf("mkcol %s: %w", rq.path, ErrUnsupportedMedia)
	}
	if rq.target.Exists(ctx) {
		return nil, fmt.Errorf("mkcol %s: %w", rq.path, ErrMethodNotAllowed)
	}
	if err := h.checkWrite(rq, rq.path, false, true); err != nil {
		return nil, err
	}
	if err := rq.target.CreateCollection(ctx); err != nil {
		return nil, err
	}
	return newResponse(http.StatusCreated), nil
}

// ========================================
// DELETE
// ========================================

func (h *Handler) handleDelete(ctx context.Context, rq *davRequest) (*Response, error) {
	depth, err := ParseDepth(rq.Header.Get("Depth"), resource.DepthInfinity)
	if err != nil {
		return nil, err
	}
	if depth != resource.DepthInfinity {
		return nil, fmt.Errorf("%w: DELETE requires Depth infinity", ErrInvalidDepth)
	}
	if rq.path.IsRoot() {
		return nil, fmt.Errorf("delete root: %w", ErrForbidden)
	}
	if err := h.checkWrite(rq, rq.path, false, true); err != nil {
		return nil, err
	}

	failures, err := h.deleteTree(ctx, rq, rq.target)
	if err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		return h.multistatus(failures)
	}
	return newResponse(http.StatusNoContent), nil
}

// deleteTree 先删除子资源再删除集合。单个资源失败时记录失败条目，其祖先被跳过。
func (h *Handler) deleteTree(ctx context.Context, rq *davRequest, root resource.Resource) ([]davxml.Entry, error) {
	rootPath := root.Segments()
	blocked := make(map[string]bool)
	block := func(p davpath.Path) {
		for len(p) > len(rootPath) {
			p = p.Parent()
			blocked[p.Key()] = true
		}
	}

	var failures []davxml.Entry
	for r, err := range root.PostOrder(ctx) {
		if err != nil {
			return failures, err
		}
		p := r.Segments()
		if blocked[p.Key()] {
			block(p)
			continue
		}

		err := h.lockManager.Check(p, false, rq.tokens)
		if err == nil {
			err = r.Delete(ctx)
		}
		if err != nil {
			failures = append(failures, h.failureEntry(rq, r.URL(ctx), err))
			block(p)
			continue
		}

		if err := h.properties.Delete(ctx, p); err != nil {
			h.logger.WithFields(logrus.Fields{"path": p.String(), "error": err}).Warn("drop dead properties failed")
		}
		h.lockManager.ReleaseTree(p)
	}
	return failures, nil
}

// ========================================
// COPY / MOVE
// ========================================

func (h *Handler) handleCopy(ctx context.Context, rq *davRequest) (*Response, error) {
	return h.copyMove(ctx, rq, false)
}

func (h *Handler) handleMove(ctx context.Context, rq *davRequest) (*Response, error) {
	return h.copyMove(ctx, rq, true)
}

// copyMove MOVE为先复制再删除源，复制阶段有失败时中止并保留源
func (h *Handler) copyMove(ctx context.Context, rq *davRequest, move bool) (*Response, error) {
	dst, err := ParseDestination(rq.Header.Get("Destination"), rq.base)
	if err != nil {
		return nil, err
	}
	overwrite, err := ParseOverwrite(rq.Header.Get("Overwrite"))
	if err != nil {
		return nil, err
	}
	depth, err := ParseDepth(rq.Header.Get("Depth"), resource.DepthInfinity)
	if err != nil {
		return nil, err
	}
	if depth == 1 || (move && depth != resource.DepthInfinity) {
		return nil, fmt.Errorf("%w: %s does not support Depth %s", ErrInvalidDepth, rq.Method, depth)
	}

	src := rq.path
	if dst.Equal(src) {
		return nil, fmt.Errorf("%w: source and destination are the same", ErrForbidden)
	}
	if dst.HasPrefix(src) {
		return nil, fmt.Errorf("%w: destination inside source", ErrForbidden)
	}
	if src.HasPrefix(dst) {
		return nil, fmt.Errorf("%w: destination contains source", ErrForbidden)
	}

	if move {
		if err := h.checkWrite(rq, src, true, true); err != nil {
			return nil, err
		}
	}
	if err := h.checkWrite(rq, dst, true, true); err != nil {
		return nil, err
	}

	target := rq.resourceAt(dst)
	existed := target.Exists(ctx)
	if existed && !overwrite {
		return nil, fmt.Errorf("%w: destination exists", ErrPreconditionFailed)
	}
	if !target.Parent().IsDir(ctx) {
		return nil, fmt.Errorf("%s %s: %w", rq.Method, dst, resource.ErrConflict)
	}

	if existed {
		failures, err := h.deleteTree(ctx, rq, target)
		if err != nil {
			return nil, err
		}
		if len(failures) > 0 {
			return h.multistatus(failures)
		}
	}

	failures, err := h.copyTree(ctx, rq, rq.target, dst, depth)
	if err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		return h.multistatus(failures)
	}

	if move {
		failures, err := h.deleteTree(ctx, rq, rq.target)
		if err != nil {
			return nil, err
		}
		if len(failures) > 0 {
			return h.multistatus(failures)
		}
	}

	if existed {
		return newResponse(http.StatusNoContent), nil
	}
	resp := newResponse(http.StatusCreated)
	resp.Header.Set("Location", target.URL(ctx))
	return resp, nil
}

// copyTree 按先序复制，父集合先于子资源创建。失败的集合其子树被跳过。
func (h *Handler) copyTree(ctx context.Context, rq *davRequest, src resource.Resource, dst davpath.Path, depth resource.Depth) ([]davxml.Entry, error) {
	srcRoot := src.Segments()
	var (
		failures []davxml.Entry
		skipped  []davpath.Path
	)
	for r, err := range src.Descendants(ctx, depth, true) {
		if err != nil {
			return failures, err
		}
		rel, _ := r.Segments().Rel(srcRoot)
		targetPath := davpath.Join(dst, rel...)
		if underAny(targetPath, skipped) {
			continue
		}

		isDir := r.IsDir(ctx)
		if err := h.copyOne(ctx, r, rq.resourceAt(targetPath), isDir); err != nil {
			failures = append(failures, h.failureEntry(rq, davpath.URL(rq.base, targetPath, isDir), err))
			if isDir {
				skipped = append(skipped, targetPath)
			}
		}
	}
	return failures, nil
}

func (h *Handler) copyOne(ctx context.Context, src, dst resource.Resource, isDir bool) error {
	if isDir {
		if err := dst.CreateCollection(ctx); err != nil {
			return err
		}
	} else {
		content, err := src.Open(ctx)
		if err != nil {
			return err
		}
		_, err = dst.Write(ctx, content)
		if closeErr := content.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}
	}
	return h.properties.Copy(ctx, src.Segments(), dst.Segments())
}

func underAny(p davpath.Path, roots []davpath.Path) bool {
	for _, root := range roots {
		if p.HasPrefix(root) {
			return true
		}
	}
	return false
}
