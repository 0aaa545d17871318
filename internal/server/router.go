package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/davgate/davcore/internal/middleware"
	"github.com/davgate/davcore/internal/webdav"
)

// davMethods 注册到路由的WebDAV方法
var davMethods = []string{
	http.MethodOptions, http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete,
	"PROPFIND", "PROPPATCH", "MKCOL", "COPY", "MOVE", "LOCK", "UNLOCK",
}

// HealthCheck 健康检查项
type HealthCheck func(ctx context.Context) error

// Options 路由配置
type Options struct {
	// Prefix 挂载路径，如"/webdav"。为空时挂载在根上。
	Prefix       string
	EnableCORS   bool
	Logger       logrus.FieldLogger
	HealthChecks map[string]HealthCheck
}

// Server 把WebDAV分发器绑定到gin
type Server struct {
	handler *webdav.Handler
	opts    Options
}

// NewRouter 创建gin路由：/health 和 Prefix 下的所有WebDAV方法
func NewRouter(handler *webdav.Handler, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	opts.Prefix = strings.TrimRight(opts.Prefix, "/")
	s := &Server{handler: handler, opts: opts}

	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(opts.Logger))
	router.Use(middleware.LoggerMiddleware(opts.Logger))
	if opts.EnableCORS {
		router.Use(middleware.CORSMiddleware())
	}

	router.GET("/health", s.handleHealth)

	if opts.Prefix == "" {
		// 根挂载时与/health共存，其余路径都交给分发器
		router.NoRoute(s.serveDAV)
	} else {
		group := router.Group(opts.Prefix)
		for _, method := range davMethods {
			group.Handle(method, "/*path", s.serveDAV)
		}
	}
	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, check := range s.opts.HealthChecks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status": state,
		"time":   time.Now().Unix(),
		"locks":  s.handler.LockManager().Count(),
		"checks": checks,
	})
}

func (s *Server) serveDAV(c *gin.Context) {
	p := c.Param("path")
	if s.opts.Prefix == "" {
		p = c.Request.URL.Path
	}
	if p == "" {
		p = "/"
	}

	req := &webdav.Request{
		Method:  c.Request.Method,
		Path:    p,
		BaseURL: BaseURL(c.Request, s.opts.Prefix),
		Header:  c.Request.Header,
		Body:    c.Request.Body,
	}
	writeResponse(c, s.handler.Serve(c.Request.Context(), req), s.opts.Logger)
}

// BaseURL 根据请求的协议和主机拼出挂载点的绝对URL，以/结尾
func BaseURL(r *http.Request, prefix string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + r.Host + strings.TrimRight(prefix, "/") + "/"
}

func writeResponse(c *gin.Context, resp *webdav.Response, logger logrus.FieldLogger) {
	header := c.Writer.Header()
	for key, values := range resp.Header {
		for _, v := range values {
			header.Add(key, v)
		}
	}

	switch {
	case resp.Content != nil:
		defer resp.Content.Close()
		c.Status(resp.Status)
		if _, err := io.Copy(c.Writer, resp.Content); err != nil {
			logger.WithFields(logrus.Fields{"path": c.Request.URL.Path, "error": err}).Warn("stream response body failed")
		}
	case resp.Body != nil:
		c.Data(resp.Status, resp.Header.Get("Content-Type"), resp.Body)
	default:
		c.Status(resp.Status)
		c.Writer.WriteHeaderNow()
	}
}
