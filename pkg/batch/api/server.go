// Package api exposes the job submission, query and control HTTP interface on echo.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"github.com/tigerroll/importd/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/importd/pkg/batch/core/config"
	"github.com/tigerroll/importd/pkg/batch/engine/queue"
	inframetrics "github.com/tigerroll/importd/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/importd/pkg/batch/listener"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// Params are the dependencies of the HTTP server.
type Params struct {
	fx.In

	Config      *config.Config
	Launcher    usecase.JobLauncher
	Operator    usecase.JobOperator
	Explorer    usecase.JobExplorer
	Queue       *queue.Client
	Broadcaster *listener.Broadcaster   `optional:"true"`
	Exposition  inframetrics.Exposition `optional:"true"`
}

// RegisterRoutes mounts the job routes on g.
func RegisterRoutes(g *echo.Group, h *JobHandler) {
	jobs := g.Group("/jobs")
	jobs.POST("/bulk-import/start", h.StartImport)
	jobs.POST("/bulk-import/preview", h.Preview)
	jobs.POST("/reports/generate", h.GenerateReport)
	jobs.GET("", h.List)
	jobs.GET("/:jobId", h.Get)
	jobs.GET("/:jobId/status", h.Status)
	jobs.POST("/:jobId/cancel", h.Cancel)
	jobs.DELETE("/:jobId", h.Delete)
	jobs.PATCH("/:jobId/status", h.OverrideStatus)
	jobs.GET("/:jobId/successful-entries", h.SuccessfulEntries)
	jobs.GET("/:jobId/report", h.Report)
	jobs.GET("/:jobId/watch", h.Watch)
}

func requestLogger() echo.MiddlewareFunc {
	log := logger.Named("http")
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogError:     true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []interface{}{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "request_id", v.RequestID}
			switch {
			case v.Error != nil:
				log.Errorw("request failed", append(fields, "error", v.Error)...)
			case v.Status >= http.StatusInternalServerError:
				log.Warnw("request", fields...)
			default:
				log.Debugw("request", fields...)
			}
			return nil
		},
	})
}

// NewServer builds the echo instance with every route mounted.
func NewServer(p Params) *echo.Echo {
	sc := p.Config.Importd.Server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", sc.MaxUploadBytes()>>20)))

	watcher := NewWatcher(p.Explorer, p.Broadcaster, sc.WatchInterval())
	h := NewJobHandler(p.Launcher, p.Operator, p.Explorer, p.Queue, watcher)

	prefix := "/" + strings.Trim(sc.Prefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	RegisterRoutes(e.Group(prefix), h)
	e.GET("/healthz", h.Health)
	if p.Exposition.Handler != nil {
		e.GET(p.Exposition.Path, echo.WrapHandler(p.Exposition.Handler))
	}
	return e
}

func start(lc fx.Lifecycle, cfg *config.Config, e *echo.Echo) {
	sc := cfg.Importd.Server
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", sc.Address)
			if err != nil {
				return errors.Wrapf(err, "api: failed to listen on %s", sc.Address)
			}
			e.Listener = ln
			go func() {
				if err := e.Start(sc.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("HTTP server stopped: %v", err)
				}
			}()
			logger.Infof("HTTP API listening on %s (prefix %q).", ln.Addr(), sc.Prefix)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, sc.ShutdownTimeout())
			defer cancel()
			return e.Shutdown(ctx)
		},
	})
}

// Module provides the echo server and runs it for the lifetime of the application.
var Module = fx.Options(
	fx.Provide(NewServer),
	fx.Invoke(start),
)
