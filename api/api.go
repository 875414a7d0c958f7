// Package api exposes the failure store, queue statistics and worker
// restart over HTTP with gin.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/engine"
)

// Option configures the API.
type Option func(*API)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// API wires the admin HTTP handlers for an engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// New creates an API for eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: eng.Logger()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns a gin engine with every route registered.
func (a *API) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(a.logger))
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the API routes on r.
//
//	GET    /healthz
//	GET    /v1/failed
//	GET    /v1/failed/count
//	GET    /v1/failed/:id
//	POST   /v1/failed/retry
//	POST   /v1/failed/:id/retry
//	DELETE /v1/failed
//	DELETE /v1/failed/:id
//	GET    /v1/queues/:queue/stats
//	POST   /v1/workers/restart
//	GET    /v1/crons
func (a *API) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", a.health)

	v1 := r.Group("/v1")
	{
		failed := v1.Group("/failed")
		failed.GET("", a.listFailed)
		failed.GET("/count", a.countFailed)
		failed.GET("/:id", a.getFailed)
		failed.POST("/retry", a.retryAllFailed)
		failed.POST("/:id/retry", a.retryFailed)
		failed.DELETE("", a.flushFailed)
		failed.DELETE("/:id", a.forgetFailed)

		v1.GET("/queues/:queue/stats", a.queueStats)
		v1.POST("/workers/restart", a.restartWorkers)
		v1.GET("/crons", a.listCrons)
	}
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (a *API) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, backlog.ErrFailedNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, errNoFailureStore):
		status = http.StatusNotImplemented
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error()})
}

var (
	errBadRequest     = errors.New("bad request")
	errNoFailureStore = errors.New("no failure store configured")
)

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Join(errBadRequest, errors.New(key+" must be a non-negative integer"))
	}
	return n, nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("http request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Duration("latency", time.Since(start)),
		)
		for _, e := range c.Errors {
			logger.Error("http request error", slog.String("error", e.Error()))
		}
	}
}
