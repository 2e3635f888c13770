// Package api is the HTTP front door used by the browser extension and
// local tools.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/recall/internal/assistant"
	"github.com/abelbrown/recall/internal/logging"
)

// Options configures the server.
type Options struct {
	EnableCORS bool
	Debug      bool
	Metrics    http.Handler // served at /metrics when set
}

// Server routes HTTP requests to the assistant.
type Server struct {
	assistant *assistant.Assistant
	engine    *gin.Engine
	startTime time.Time
}

// New builds the router.
func New(a *assistant.Assistant, opts Options) *Server {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())

	if opts.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{assistant: a, engine: engine, startTime: time.Now()}
	s.setupRoutes(opts.Metrics)
	return s
}

func (s *Server) setupRoutes(metrics http.Handler) {
	s.engine.GET("/healthz", s.handleHealth)
	if metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(metrics))
	}

	api := s.engine.Group("/api")
	{
		api.POST("/save-page", s.handleSavePage)
		api.POST("/query", s.handleQuery)
		api.GET("/activity", s.handleActivity)

		pages := api.Group("/pages")
		pages.GET("", s.handleListPages)
		pages.GET("/:id", s.handleGetPage)
		pages.GET("/:id/dates", s.handleDates)
		pages.POST("/:id/event", s.handleEvent)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logging.Info("HTTP server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}
