package server

import (
	"context"
	"net/http"
	"time"

	"github.com/averix/toolgate/internal/config"
	"github.com/averix/toolgate/internal/handler"
	"github.com/averix/toolgate/internal/metrics"
	"github.com/averix/toolgate/internal/middleware"
	"github.com/averix/toolgate/internal/permissions"
	"github.com/averix/toolgate/internal/ratelimit"
	"github.com/averix/toolgate/internal/repository"
	"github.com/averix/toolgate/internal/service"
	"github.com/averix/toolgate/internal/storage"
	"github.com/averix/toolgate/internal/usage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router  *gin.Engine
	config  *config.Config
	logger  *zap.Logger
	redis   *storage.RedisClient
	db      *storage.Database
	metrics *metrics.Metrics

	authService  *service.AuthService
	tokenService *service.ServiceTokenService
	usageService *service.UsageService
	tokenRepo    *repository.ServiceTokenRepository

	authHandler       *handler.AuthHandler
	permissionHandler *handler.PermissionHandler
	tokenHandler      *handler.TokenHandler
	usageHandler      *handler.UsageHandler
	overrideHandler   *handler.OverrideHandler

	httpServer *http.Server
}

func New(cfg *config.Config, logger *zap.Logger, db *storage.Database, redis *storage.RedisClient, m *metrics.Metrics, recorder *usage.Recorder) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	registry, err := permissions.NewRegistry(permissions.Builtin())
	if err != nil {
		return nil, err
	}

	// Repositories
	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewServiceTokenRepository(db)
	overrideRepo := repository.NewToolOverrideRepository(db)
	usageRepo := repository.NewUsageRecordRepository(db)

	// Services
	limiter := ratelimit.NewUsageLimiter(redis, cfg.RateLimit.Strict)
	authService := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.ExpiryHours)
	tokenService := service.NewServiceTokenService(tokenRepo, redis, m)
	permissionService := service.NewPermissionService(
		permissions.NewChecker(registry), overrideRepo, limiter, redis, recorder, logger, m,
	)
	overrideService := service.NewToolOverrideService(overrideRepo, redis, registry, logger)
	usageService := service.NewUsageService(usageRepo, overrideRepo, registry, limiter, logger, cfg.Usage.RetentionDays)

	s := &Server{
		router:  router,
		config:  cfg,
		logger:  logger,
		redis:   redis,
		db:      db,
		metrics: m,

		authService:  authService,
		tokenService: tokenService,
		usageService: usageService,
		tokenRepo:    tokenRepo,

		authHandler:       handler.NewAuthHandler(authService),
		permissionHandler: handler.NewPermissionHandler(permissionService),
		tokenHandler:      handler.NewTokenHandler(tokenService),
		usageHandler:      handler.NewUsageHandler(usageService),
		overrideHandler:   handler.NewOverrideHandler(overrideService),
	}

	// Setup middleware
	s.setupMiddleware()

	// Setup routes
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics(s.metrics))
	s.router.Use(middleware.CORS(s.config.Server.CORSAllowOrigins))
	s.router.Use(middleware.GlobalRateLimit(s.config.RateLimit.GlobalRPS, s.config.RateLimit.GlobalBurst))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// Check routes, authenticated by service token
	v1 := s.router.Group("/v1")
	v1.Use(middleware.RequireServiceToken(s.tokenService))
	v1.Use(middleware.TokenRateLimit(s.redis, s.config))
	{
		v1.POST("/check", s.permissionHandler.Check)
		v1.POST("/check/batch", s.permissionHandler.CheckBatch)
		v1.GET("/definitions", s.permissionHandler.Definitions)

		// Callers render quota UIs off this
		v1.GET("/usage/:id", s.usageHandler.UserUsage)
	}

	// Login sits outside the JWT guard
	s.router.POST("/admin/login", s.authHandler.Login)

	admin := s.router.Group("/admin")
	admin.Use(middleware.RequireAuth(s.authService))
	{
		admin.GET("/status", s.adminStatus)
		admin.GET("/me", s.authHandler.Me)

		admin.POST("/tokens", s.tokenHandler.Create)
		admin.GET("/tokens", s.tokenHandler.List)
		admin.GET("/tokens/:id", s.tokenHandler.Get)
		admin.PUT("/tokens/:id", s.tokenHandler.Update)
		admin.DELETE("/tokens/:id", s.tokenHandler.Delete)

		admin.GET("/usage", s.usageHandler.Summary)
		admin.GET("/usage/series", s.usageHandler.Series)
		admin.GET("/users/:id/usage", s.usageHandler.UserUsage)
		admin.GET("/users/:id/records", s.usageHandler.UserRecords)
		admin.DELETE("/users/:id/usage", s.usageHandler.Reset)

		admin.PUT("/users/:id/overrides", s.overrideHandler.Set)
		admin.GET("/users/:id/overrides", s.overrideHandler.List)
		admin.DELETE("/users/:id/overrides/:tool", s.overrideHandler.Delete)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	redisHealthy := true

	if err := s.redis.Ping(c.Request.Context()); err != nil {
		redisHealthy = false
		s.logger.Warn("redis health check failed", zap.Error(err))
	}

	dbHealthy := true
	if err := s.db.Ping(c.Request.Context()); err != nil {
		dbHealthy = false
		s.logger.Warn("database health check failed", zap.Error(err))
	}

	status := "healthy"
	statusCode := http.StatusOK

	if !redisHealthy || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   s.config.Server.Name,
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":    redisHealthy,
			"database": dbHealthy,
		},
	})
}

func (s *Server) adminStatus(c *gin.Context) {
	ctx := c.Request.Context()
	activeTokens, _ := s.tokenRepo.CountActive(ctx)

	c.JSON(http.StatusOK, gin.H{
		"service":       s.config.Server.Name,
		"environment":   s.config.Server.Environment,
		"active_tokens": activeTokens,
		"uptime":        time.Since(startTime).Seconds(),
		"timestamp":     time.Now().Unix(),
	})
}

// AuthService exposes the auth service for the startup bootstrap
func (s *Server) AuthService() *service.AuthService {
	return s.authService
}

// UsageService exposes the usage service for the retention loop
func (s *Server) UsageService() *service.UsageService {
	return s.usageService
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	s.logger.Info("starting toolgate",
		zap.String("addr", addr),
		zap.String("environment", s.config.Server.Environment),
	)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

var startTime = time.Now()
