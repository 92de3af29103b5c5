// Package server exposes the knowledge graph over HTTP: content processing,
// graph reads, statistics, visualization, and health.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	noema "github.com/noemakg/noema"
	"github.com/noemakg/noema/pkg/config"
	"github.com/noemakg/noema/pkg/server/handlers"
	"github.com/noemakg/noema/pkg/store"
)

// Server wraps the gin engine and its HTTP listener.
type Server struct {
	config *config.Config
	client noema.Noema
	store  store.Store
	log    *slog.Logger

	engine *gin.Engine
	http   *http.Server
}

// New creates a server over an already-migrated store and a knowledge graph
// client.
func New(cfg *config.Config, client noema.Noema, s store.Store, log *slog.Logger) *Server {
	return &Server{
		config: cfg,
		client: client,
		store:  s,
		log:    log,
	}
}

// Setup configures routes and middleware. Must be called before Start.
func (s *Server) Setup() {
	gin.SetMode(s.config.Server.Mode)

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())

	health := handlers.NewHealthHandler(s.store)
	engine.GET("/health", health.HealthCheck)

	timeout := time.Duration(s.config.Server.ProcessTimeoutSeconds) * time.Second
	process := handlers.NewProcessHandler(s.client, timeout, s.log)
	graph := handlers.NewGraphHandler(s.store, s.log)

	api := engine.Group("/api")
	{
		api.POST("/content/process", process.Process)
		api.GET("/entities", graph.ListEntities)
		api.GET("/entities/search", graph.SearchEntities)
		api.GET("/entities/:id", graph.GetEntity)
		api.GET("/relations", graph.ListRelations)
		api.GET("/statistics", graph.Statistics)
		api.GET("/visualization", graph.Visualization)
	}

	s.engine = engine
	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler: engine,
	}
}

// Engine returns the configured gin engine, for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start serves HTTP until Stop is called.
func (s *Server) Start() error {
	s.log.Info("server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("server shutting down")
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
