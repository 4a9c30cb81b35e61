// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppiankov/medfuse/internal/connector"
	"github.com/ppiankov/medfuse/internal/model"
	"github.com/ppiankov/medfuse/internal/pipeline"
	"github.com/ppiankov/medfuse/internal/telemetry"
)

// Asker answers one request
type Asker interface {
	Run(ctx context.Context, req model.Request) *model.PipelineResult
}

// Server is the HTTP API in front of a pipeline
type Server struct {
	asker   Asker
	lister  connector.PatientLister // Optional
	metrics *telemetry.Metrics      // Optional
	version string
}

// New creates a server. lister and metrics may be nil; their routes are
// then not registered.
func New(asker Asker, lister connector.PatientLister, metrics *telemetry.Metrics, version string) *Server {
	return &Server{
		asker:   asker,
		lister:  lister,
		metrics: metrics,
		version: version,
	}
}

// SetupRouter registers all routes
func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	api := r.Group("/api")
	api.GET("/health", s.Health)
	api.POST("/ask", s.Ask)
	if s.lister != nil {
		api.GET("/patients", s.Patients)
	}

	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	}
	return r
}

// Health reports liveness
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version})
}

// Ask runs the pipeline for one request. Refused and degraded results are
// successful responses; only failed runs map to an error status.
func (s *Server) Ask(c *gin.Context) {
	var req model.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res := s.asker.Run(c.Request.Context(), req)
	c.JSON(statusCode(res), res)
}

// Patients lists the patients known to the graph
func (s *Server) Patients(c *gin.Context) {
	patients, err := s.lister.ListPatients(c.Request.Context())
	if err != nil {
		slog.Error("list patients", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to list patients"})
		return
	}
	if patients == nil {
		patients = []model.PatientSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"patients": patients})
}

func statusCode(res *model.PipelineResult) int {
	if res.Status != model.StatusFailed {
		return http.StatusOK
	}
	switch res.ErrorKind {
	case model.ErrorNotFound:
		return http.StatusNotFound
	case model.ErrorInvalidInput:
		return http.StatusBadRequest
	case model.ErrorUpstream:
		return http.StatusBadGateway
	case model.ErrorInternal:
		return http.StatusInternalServerError
	}
	// Results without a kind, such as batch placeholders, map by stage
	switch res.FailedStage {
	case pipeline.StageValidating:
		return http.StatusBadRequest
	case pipeline.StageFetching, pipeline.StageGenerating:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests for up to grace.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
