// Package httpserver exposes the timeline model of one case over HTTP.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinytelemetry/tideline/internal/model"
	"github.com/tinytelemetry/tideline/internal/snapshot"
	"github.com/tinytelemetry/tideline/internal/task"
	"github.com/tinytelemetry/tideline/internal/timeline"
)

// Snapshotter takes an on-demand case snapshot.
type Snapshotter interface {
	RunOnce(ctx context.Context) (string, error)
}

// Server provides the REST API of the timeline model.
type Server struct {
	addr      string
	model     *timeline.Model
	cases     model.CaseWriter
	snapshots Snapshotter
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server. cases receives the case changes
// posted to /api/case; snapshots may be nil.
func NewServer(addr string, m *timeline.Model, cases model.CaseWriter, snapshots Snapshotter) *Server {
	if addr == "" {
		addr = "127.0.0.1:3000"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		model:     m,
		cases:     cases,
		snapshots: snapshots,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	s.routes(r)
	return r
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/api/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	zoom := r.Group("/api/zoom")
	zoom.GET("", s.handleZoom)
	zoom.POST("/time", s.handlePushTime)
	zoom.POST("/type", s.handlePushType)
	zoom.POST("/lod", s.handlePushLOD)
	zoom.POST("/filter", s.handlePushFilter)
	zoom.POST("/period", s.handlePushPeriod)
	zoom.POST("/full", s.handleFullRange)
	zoom.POST("/activity", s.handleActivity)
	zoom.POST("/in", s.handleZoomIn)
	zoom.POST("/out", s.handleZoomOut)

	r.POST("/api/history/advance", s.handleAdvance)
	r.POST("/api/history/retreat", s.handleRetreat)

	r.GET("/api/events", s.handleEventIDs)
	r.GET("/api/events/:id", s.handleEvent)
	r.GET("/api/counts", s.handleCounts)
	r.GET("/api/interval", s.handleInterval)
	r.GET("/api/types", s.handleTypes)
	r.GET("/api/filter/default", s.handleDefaultFilter)

	r.GET("/api/selection", s.handleSelection)
	r.POST("/api/selection", s.handleSelect)
	r.POST("/api/selection/time-type", s.handleSelectTimeAndType)

	r.POST("/api/cache/invalidate", s.handleInvalidate)
	r.GET("/api/cache/stats", s.handleCacheStats)
	r.POST("/api/refresh", s.handleRefresh)

	r.GET("/api/tasks", s.handleTasks)
	r.POST("/api/tasks/counts", s.handleCountsTask)
	r.DELETE("/api/tasks/:id", s.handleCancelTask)

	c := r.Group("/api/case")
	c.POST("/events", s.handleInsertEvents)
	c.POST("/datasources", s.handleAddDataSource)
	c.POST("/content/:id/tags", s.handleTagContent)
	c.DELETE("/content/:id/tags/:tag", s.handleUntagContent)
	c.POST("/artifacts/:id/tags", s.handleTagArtifact)
	c.DELETE("/artifacts/:id/tags/:tag", s.handleUntagArtifact)
	c.POST("/hashhits", s.handleHashHits)
	c.POST("/snapshot", s.handleSnapshot)
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	lo, err := s.model.MinEventTime(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read case health"})
		return
	}
	hi, err := s.model.MaxEventTime(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read case health"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"uptime":       time.Since(s.startTime).String(),
		"firstEvent":   lo,
		"lastEvent":    hi,
		"dataSources":  len(s.model.Registry().DataSources()),
		"pendingTasks": len(s.model.Tasks()),
	})
}

// writeError maps model errors onto status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, timeline.ErrLargeDetailRequest):
		status = http.StatusConflict
	case errors.Is(err, task.ErrStopped), errors.Is(err, snapshot.ErrDisabled):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
