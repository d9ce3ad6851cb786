package server

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sitephoto/config"
	"sitephoto/metrics"
	"sitephoto/upload"
)

// Server is the HTTP API over the upload service
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	log        *zap.Logger
}

// Deps are the services the HTTP layer exposes
type Deps struct {
	Upload  *upload.Service
	DB      *sql.DB
	Metrics *metrics.Metrics
}

// New builds the router and the http.Server from cfg. Metrics are served only
// when deps.Metrics is set.
func New(cfg config.Config, deps Deps, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	h := NewHandler(deps.Upload, deps.DB, cfg.Upload.MaxUploadSize, log)

	router.GET("/health", h.HealthCheck)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	images := router.Group("/images")
	{
		images.POST("/upload", h.UploadImage)
		images.GET("/info/:filename", h.GetImageInfo)
		images.GET("/download/:filename", h.DownloadImage)
		images.GET("/list", h.ListImages)
		images.POST("/compare", h.CompareHashes)
		images.GET("/stats", h.GetStats)
	}

	router.NoRoute(func(c *gin.Context) {
		failure(c, http.StatusNotFound, CodeNotFound, "Route not found")
	})

	return &Server{
		httpServer: &http.Server{
			Addr:           cfg.Server.Addr(),
			Handler:        router,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			MaxHeaderBytes: 1 << 20, // 1 MB
		},
		router: router,
		log:    log,
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until Shutdown is called
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("Server is running", zap.String("address", ln.Addr().String()))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("Request failed", fields...)
			return
		}
		log.Debug("Request handled", fields...)
	}
}
