package webdav

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/davgate/davcore/internal/davpath"
	"github.com/davgate/davcore/internal/resource"
	"github.com/davgate/davcore/internal/webdav/validators"
	davxml "github.com/davgate/davcore/internal/webdav/xml"
)

// Request 与传输层无关的请求
type Request struct {
	Method string
	// Path is the request path below the served root, e.g. "/a/b/".
	Path string
	// BaseURL is the absolute URL of the served root.
	BaseURL string
	Header  http.Header
	Body    io.Reader
}

// Response 与传输层无关的响应。Content非nil时由调用方负责关闭。
type Response struct {
	Status  int
	Header  http.Header
	Body    []byte
	Content io.ReadCloser
}

func newResponse(status int) *Response {
	return &Response{Status: status, Header: make(http.Header)}
}

// CollectionGetter 处理集合上的GET
type CollectionGetter func(ctx context.Context, r resource.Resource) (*Response, error)

// Config 分发器配置
type Config struct {
	AllowInfiniteDepth bool
	DefaultTimestamp   time.Time
	MaxBodySize        int64
}

const (
	xmlContentType = "application/xml; charset=utf-8"
	allowedMethods = "OPTIONS, GET, HEAD, PUT, DELETE, PROPFIND, PROPPATCH, MKCOL, COPY, MOVE, LOCK, UNLOCK"
)

// Handler WebDAV方法分发器
type Handler struct {
	fs               resource.Adapter
	config           Config
	lockManager      *LockManager
	catalog          *PropertyCatalog
	properties       PropertyStore
	serializer       *davxml.Serializer
	parser           *davxml.Parser
	validator        *validators.CompositeValidator
	logger           logrus.FieldLogger
	collectionGetter CollectionGetter
}

// Option 分发器选项
type Option func(*Handler)

func WithLockManager(lm *LockManager) Option {
	return func(h *Handler) { h.lockManager = lm }
}

func WithPropertyStore(store PropertyStore) Option {
	return func(h *Handler) { h.properties = store }
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(h *Handler) { h.logger = logger }
}

func WithCollectionGetter(getter CollectionGetter) Option {
	return func(h *Handler) { h.collectionGetter = getter }
}

func NewHandler(fs resource.Adapter, cfg Config, opts ...Option) *Handler {
	h := &Handler{
		fs:               fs,
		config:           cfg,
		catalog:          NewPropertyCatalog(cfg.DefaultTimestamp),
		serializer:       davxml.NewSerializer(),
		parser:           davxml.NewParser(),
		validator:        validators.NewDefaultValidator(IsProtected),
		collectionGetter: ListCollection,
	}
	if cfg.MaxBodySize > 0 {
		h.parser.WithMaxContentLength(cfg.MaxBodySize)
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.lockManager == nil {
		h.lockManager = NewLockManager()
	}
	if h.properties == nil {
		h.properties = NewMemoryPropertyStore()
	}
	if h.logger == nil {
		h.logger = logrus.StandardLogger()
	}
	return h
}

// LockManager 返回分发器使用的锁管理器
func (h *Handler) LockManager() *LockManager {
	return h.lockManager
}

// davRequest 单个请求的解析结果
type davRequest struct {
	*Request
	fs     resource.Adapter
	base   string
	path   davpath.Path
	target resource.Resource
	tokens []string
}

func (h *Handler) newDavRequest(req *Request) *davRequest {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	base := req.BaseURL
	if !strings.HasSuffix(base, davpath.Separator) {
		base += davpath.Separator
	}
	p := davpath.Parse(req.Path)
	return &davRequest{
		Request: req,
		fs:      h.fs,
		base:    base,
		path:    p,
		target:  resource.New(h.fs, base, p),
		tokens:  ParseIfHeader(req.Header.Get("If")),
	}
}

func (rq *davRequest) resourceAt(p davpath.Path) resource.Resource {
	return resource.New(rq.fs, rq.base, p)
}

type methodFunc func(h *Handler, ctx context.Context, rq *davRequest) (*Response, error)

type methodSpec struct {
	fn        methodFunc
	canonical bool // 读方法：尾部分隔符不匹配时重定向
	mustExist bool
}

var methods = map[string]methodSpec{
	http.MethodOptions: {fn: (*Handler).handleOptions},
	http.MethodGet:     {fn: (*Handler).handleGet, canonical: true, mustExist: true},
	http.MethodHead:    {fn: (*Handler).handleGet, canonical: true, mustExist: true},
	http.MethodPut:     {fn: (*Handler).handlePut},
	http.MethodDelete:  {fn: (*Handler).handleDelete, mustExist: true},
	"PROPFIND":         {fn: (*Handler).handlePropfind, canonical: true, mustExist: true},
	"PROPPATCH":        {fn: (*Handler).handleProppatch, mustExist: true},
	"MKCOL":            {fn: (*Handler).handleMkcol},
	"COPY":             {fn: (*Handler).handleCopy, mustExist: true},
	"MOVE":             {fn: (*Handler).handleMove, mustExist: true},
	"LOCK":             {fn: (*Handler).handleLock},
	"UNLOCK":           {fn: (*Handler).handleUnlock, mustExist: true},
}

// Serve 处理一个请求：解析、规范化、存在性检查、分发
func (h *Handler) Serve(ctx context.Context, req *Request) *Response {
	rq := h.newDavRequest(req)

	spec, ok := methods[strings.ToUpper(req.Method)]
	if !ok {
		resp := newResponse(http.StatusMethodNotAllowed)
		resp.Header.Set("Allow", allowedMethods)
		return resp
	}

	if spec.canonical && !rq.path.IsRoot() && rq.target.Exists(ctx) {
		trailing := strings.HasSuffix(req.Path, davpath.Separator)
		if trailing != rq.target.IsDir(ctx) {
			resp := newResponse(http.StatusFound)
			resp.Header.Set("Location", rq.target.URL(ctx))
			return resp
		}
	}

	if spec.mustExist && !rq.target.Exists(ctx) {
		return h.errorResponse(rq, resource.ErrNotFound)
	}

	resp, err := spec.fn(h, ctx, rq)
	if err != nil {
		return h.errorResponse(rq, err)
	}
	return resp
}

// errorResponse 将错误映射为状态码，带前置条件时附加<D:error>
func (h *Handler) errorResponse(rq *davRequest, err error) *Response {
	status := statusFromError(err)
	resp := newResponse(status)

	fields := logrus.Fields{"method": rq.Method, "path": rq.path.String(), "status": status, "error": err}
	if status >= http.StatusInternalServerError {
		h.logger.WithFields(fields).Error("webdav request failed")
	} else {
		h.logger.WithFields(fields).Debug("webdav request rejected")
	}

	if cond := conditionFromError(err, rq.href); cond != nil {
		body, encErr := h.serializer.ErrorBody(*cond)
		if encErr == nil {
			resp.Header.Set("Content-Type", xmlContentType)
			resp.Body = body
		}
	}
	return resp
}

// href 路径的规范URL，集合以分隔符结尾
func (rq *davRequest) href(p davpath.Path) string {
	return rq.resourceAt(p).URL(context.Background())
}

func (h *Handler) multistatus(entries []davxml.Entry) (*Response, error) {
	body, err := h.serializer.Multistatus(entries)
	if err != nil {
		return nil, err
	}
	resp := newResponse(http.StatusMultiStatus)
	resp.Header.Set("Content-Type", xmlContentType)
	resp.Body = body
	return resp, nil
}

// checkWrite 检查对p的写操作。member为true时p的增删同时修改父集合，父集合的锁也要检查。
func (h *Handler) checkWrite(rq *davRequest, p davpath.Path, recursive, member bool) error {
	if err := h.lockManager.Check(p, recursive, rq.tokens); err != nil {
		return err
	}
	if member && !p.IsRoot() {
		return h.lockManager.Check(p.Parent(), false, rq.tokens)
	}
	return nil
}

// failureEntry 单个资源失败的multistatus条目
func (h *Handler) failureEntry(rq *davRequest, href string, err error) davxml.Entry {
	status := statusFromError(err)
	h.logger.WithFields(logrus.Fields{
		"method": rq.Method,
		"href":   href,
		"status": status,
		"error":  err,
	}).Warn("webdav member operation failed")
	return davxml.Entry{
		Href:   href,
		Status: status,
		Error:  conditionFromError(err, rq.href),
	}
}

// ========================================
// OPTIONS / GET / HEAD
// ========================================

func (h *Handler) handleOptions(_ context.Context, _ *davRequest) (*Response, error) {
	resp := newResponse(http.StatusOK)
	resp.Header.Set("DAV", "1, 2")
	resp.Header.Set("MS-Author-Via", "DAV")
	resp.Header.Set("Allow", allowedMethods)
	return resp, nil
}

func (h *Handler) handleGet(ctx context.Context, rq *davRequest) (*Response, error) {
	head := strings.EqualFold(rq.Method, http.MethodHead)

	if rq.target.IsDir(ctx) {
		resp, err := h.collectionGetter(ctx, rq.target)
		if err != nil {
			return nil, err
		}
		if head {
			if resp.Content != nil {
				resp.Content.Close()
				resp.Content = nil
			}
			resp.Body = nil
		}
		return resp, nil
	}

	_, modified := rq.target.Timestamps(ctx)
	resp := newResponse(http.StatusOK)
	resp.Header.Set("Content-Type", rq.target.ContentType(ctx))
	resp.Header.Set("Content-Length", strconv.FormatInt(rq.target.Size(ctx), 10))
	resp.Header.Set("Last-Modified", h.catalog.timeOrDefault(modified).Format(http.TimeFormat))
	resp.Header.Set("ETag", ETag(ctx, rq.target))
	if head {
		return resp, nil
	}

	content, err := rq.target.Open(ctx)
	if err != nil {
		return nil, err
	}
	resp.Content = content
	return resp, nil
}

// ListCollection 默认的集合GET：每行一个子资源名，集合名以分隔符结尾
func ListCollection(ctx context.Context, r resource.Resource) (*Response, error) {
	var names []string
	for child, err := range r.Children(ctx) {
		if err != nil {
			return nil, err
		}
		name := child.Name()
		if child.IsDir(ctx) {
			name += davpath.Separator
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('\n')
	}
	resp := newResponse(http.StatusOK)
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.Body = []byte(b.String())
	return resp, nil
}
