package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/davgate/davcore/internal/config"
	"github.com/davgate/davcore/internal/server"
	"github.com/davgate/davcore/internal/storage"
	"github.com/davgate/davcore/internal/webdav"
)

func NewServeCmd(c *Context) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WebDAV server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return onRunServe(ctx, c)
		},
	}
}

func init() {
	register(NewServeCmd)
}

func onRunServe(ctx context.Context, c *Context) error {
	cfg, err := config.Load(c.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger()
	gin.SetMode(cfg.GetGINMode())

	if err := os.MkdirAll(cfg.Storage.Root, 0o755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}
	fs, err := storage.NewService(cfg.Storage.Root)
	if err != nil {
		return err
	}
	logger.WithField("root", fs.Root()).Info("Storage service initialized")

	store, checks, err := newPropertyStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	handler, lm, err := newHandler(cfg, fs, store, logger)
	if err != nil {
		return err
	}

	router := server.NewRouter(handler, server.Options{
		Prefix:       cfg.RoutePrefix(),
		EnableCORS:   cfg.Server.EnableCORS,
		Logger:       logger,
		HealthChecks: checks,
	})
	srv := &http.Server{
		Addr:           cfg.Server.Address,
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return lm.Run(gctx, cfg.WebDAV.Lock.CleanupInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server exited")
	return nil
}

func newHandler(cfg *config.Config, fs *storage.Service, store webdav.PropertyStore, logger logrus.FieldLogger) (*webdav.Handler, *webdav.LockManager, error) {
	defaultTimestamp, err := cfg.DefaultTimestamp()
	if err != nil {
		return nil, nil, err
	}
	lm := webdav.NewLockManager(webdav.WithTimeouts(cfg.WebDAV.Lock.DefaultTimeout, cfg.WebDAV.Lock.MaxTimeout))
	handler := webdav.NewHandler(fs, webdav.Config{
		AllowInfiniteDepth: cfg.WebDAV.AllowInfiniteDepth,
		DefaultTimestamp:   defaultTimestamp,
		MaxBodySize:        cfg.WebDAV.MaxBodySize,
	},
		webdav.WithLockManager(lm),
		webdav.WithPropertyStore(store),
		webdav.WithLogger(logger),
	)
	return handler, lm, nil
}

// newPropertyStore 按properties.driver创建死属性存储及其健康检查
func newPropertyStore(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (webdav.PropertyStore, map[string]server.HealthCheck, error) {
	checks := make(map[string]server.HealthCheck)
	props := cfg.Properties

	switch props.Driver {
	case config.DriverMemory:
		logger.Warn("Dead properties are kept in memory and lost on restart")
		return webdav.NewMemoryPropertyStore(), checks, nil

	case config.DriverSQLite, config.DriverPostgres:
		store, err := webdav.NewSQLPropertyStore(ctx, props.Driver, props.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("create property store: %w", err)
		}
		checks["properties"] = store.HealthCheck
		logger.WithField("driver", props.Driver).Info("Property service initialized")
		return store, checks, nil

	case config.DriverRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:        props.Redis.Address,
			Password:    props.Redis.Password,
			DB:          props.Redis.DB,
			DialTimeout: props.Redis.Timeout,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", props.Redis.Address, err)
		}
		checks["properties"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
		logger.WithField("address", props.Redis.Address).Info("Connected to Redis")
		return webdav.NewRedisPropertyStore(rdb), checks, nil
	}
	return nil, nil, fmt.Errorf("unknown properties.driver %q", props.Driver)
}
