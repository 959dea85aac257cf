// Package server exposes history, analysis and game data over HTTP.
package server

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/rcliao/emotion-lens/internal/capture"
	"github.com/rcliao/emotion-lens/internal/classifier"
	"github.com/rcliao/emotion-lens/internal/history"
	"github.com/rcliao/emotion-lens/internal/store"
)

// Options are the server's collaborators.
type Options struct {
	History     *history.History
	Store       store.Store
	Classifiers *classifier.Set
	Logger      zerolog.Logger
	MaxDim      int
}

// Server is the HTTP API.
type Server struct {
	history     *history.History
	kv          store.Store
	classifiers *classifier.Set
	log         zerolog.Logger
	maxDim      int
	engine      *gin.Engine
}

// New builds the gin engine and registers all routes.
func New(opts Options) *Server {
	if opts.MaxDim <= 0 {
		opts.MaxDim = capture.DefaultMaxDim
	}
	s := &Server{
		history:     opts.History,
		kv:          opts.Store,
		classifiers: opts.Classifiers,
		log:         opts.Logger,
		maxDim:      opts.MaxDim,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", requestIDHeader},
		ExposeHeaders:   []string{"Content-Length", requestIDHeader},
	}))
	r.Use(RequestID(opts.Logger))
	s.routes(r)
	s.engine = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/health", s.health)

	api := r.Group("/api")

	h := api.Group("/history")
	h.GET("", s.listHistory)
	h.DELETE("", s.clearHistory)
	h.GET("/stats", s.historyStats)
	h.GET("/trend", s.historyTrend)
	h.GET("/export", s.exportHistory)
	h.POST("/import", s.importHistory)
	h.DELETE("/:id", s.deleteRecord)

	a := api.Group("/analyze")
	a.POST("/text", s.analyzeText)
	a.POST("/face", s.analyzeFace)

	api.GET("/game/highscore", s.highScore)
}

// writeError maps classifier errors onto status codes.
func writeError(c *gin.Context, err error) {
	var apiErr *classifier.APIError
	switch {
	case errors.Is(err, classifier.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, classifier.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "retryable": classifier.IsRetryable(err)})
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": apiErr.Error(), "detail": apiErr.Detail})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
