package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vidflow/vidflow/pkg/apiserver/handlers"
	"github.com/vidflow/vidflow/pkg/apiserver/middleware"
	"github.com/vidflow/vidflow/pkg/config"
)

type AssetService interface {
	handlers.VideoService
	handlers.WebhookProcessor
}

// Dependencies are the services the HTTP surface delegates to.
type Dependencies struct {
	Videos   handlers.VideoReader
	Runs     handlers.RunReader
	Assets   AssetService
	Launcher handlers.Launcher
	Observer handlers.StatusObserver
	Verifier handlers.SignatureVerifier
	Tokens   middleware.TokenValidator
}

type Server struct {
	router *gin.Engine
	deps   Dependencies
	cfg    *config.Config
	logger *zap.Logger
}

func NewServer(deps Dependencies, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS(s.cfg.Server.CORSOrigin))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhookHandler := handlers.NewWebhookHandler(s.deps.Verifier, s.deps.Assets, s.logger)
	r.POST("/webhooks/mux", webhookHandler.Mux)

	api := r.Group("/api/v1")
	{
		api.Use(middleware.Auth(s.deps.Tokens))

		videoHandler := handlers.NewVideoHandler(s.deps.Videos, s.deps.Assets, s.logger)
		api.POST("/videos", videoHandler.Create)
		api.GET("/videos", videoHandler.List)
		api.GET("/videos/:id", videoHandler.Get)
		api.PATCH("/videos/:id/visibility", videoHandler.SetVisibility)
		api.GET("/feed", videoHandler.Feed)

		workflowHandler := handlers.NewWorkflowHandler(s.deps.Launcher, s.deps.Runs, s.deps.Videos, s.logger)
		api.POST("/workflows/:kind", workflowHandler.Trigger)
		api.GET("/runs/:id", workflowHandler.GetRun)
		api.GET("/videos/:id/runs", workflowHandler.ListRuns)

		statusHandler := handlers.NewStatusHandler(s.deps.Observer, s.deps.Videos, s.cfg.Events.HeartbeatPeriod, s.logger)
		api.GET("/videos/:id/status/:procedure", statusHandler.Stream)
	}

	s.router = r
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
