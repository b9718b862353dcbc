package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkurbatov/freightgate/internal/audit"
	"github.com/dkurbatov/freightgate/internal/circuitbreaker"
	"github.com/dkurbatov/freightgate/internal/config"
	"github.com/dkurbatov/freightgate/internal/gateway"
	"github.com/dkurbatov/freightgate/internal/handler"
	"github.com/dkurbatov/freightgate/internal/logging"
	"github.com/dkurbatov/freightgate/internal/middleware"
	"github.com/dkurbatov/freightgate/internal/ratelimit"
	"github.com/dkurbatov/freightgate/internal/repository"
	"github.com/dkurbatov/freightgate/internal/service"
	"github.com/dkurbatov/freightgate/internal/session"
	"github.com/dkurbatov/freightgate/internal/storage"
	"github.com/dkurbatov/freightgate/internal/telemetry"
	"github.com/dkurbatov/freightgate/internal/webapp"
)

type Server struct {
	router     *gin.Engine
	config     *config.Config
	redis      *storage.RedisClient
	postgres   *storage.Postgres
	logger     logging.Logger
	telemetry  telemetry.Telemetry
	gateways   map[string]*gateway.Gateway
	audit      *audit.Recorder
	httpServer *http.Server
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres, logger logging.Logger, tel telemetry.Telemetry) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	userRepo := repository.NewUserRepository(postgres)
	sessionRepo := repository.NewSessionRepository(postgres)
	auditRepo := repository.NewAuditRepository(postgres)

	auditRec := audit.NewRecorder(auditRepo, logger, 0)
	users := service.NewUserService(userRepo, logger)
	verifier := webapp.NewVerifier(cfg.Auth.BotToken, redis, logger, tel)
	authority := session.NewAuthority(session.Config{
		Secret:           cfg.Session.Secret,
		TTL:              cfg.Session.TTL(),
		RefreshThreshold: cfg.Session.RefreshThreshold(),
	}, redis, sessionRepo, logger)

	s := &Server{
		router:    router,
		config:    cfg,
		redis:     redis,
		postgres:  postgres,
		logger:    logger,
		telemetry: tel,
		gateways:  make(map[string]*gateway.Gateway),
		audit:     auditRec,
	}

	if err := s.initializeGateways(); err != nil {
		return nil, err
	}

	s.setupMiddleware(authority)
	s.setupRoutes(verifier, authority, users)

	return s, nil
}

// initializeGateways builds one outbound gateway per configured downstream
// service, each with its own admission bucket, breaker and credential entry.
func (s *Server) initializeGateways() error {
	creds := gateway.NewCredentialCache(s.redis)

	for _, svc := range s.config.Services {
		limiter, err := ratelimit.NewTokenBucket(svc.RequestsPerMinute)
		if err != nil {
			return fmt.Errorf("service %s: %w", svc.Name, err)
		}

		breaker := circuitbreaker.New(svc.Name, circuitbreaker.Config{
			FailureThreshold: svc.Breaker.FailureThreshold,
			RecoveryTimeout:  svc.Breaker.RecoveryTimeout(),
			SuccessThreshold: svc.Breaker.SuccessThreshold,
			KillSwitch:       svc.Breaker.KillSwitch,
		}, s.redis, s.logger)

		httpClient := &http.Client{Timeout: svc.Timeout()}
		login := gateway.NewServiceLogin(
			httpClient,
			svc.BaseURL,
			svc.LoginPath,
			os.Getenv(svc.CredentialEnv+"_LOGIN"),
			os.Getenv(svc.CredentialEnv+"_PASSWORD"),
		)

		s.gateways[svc.Name] = gateway.New(gateway.Options{
			Name:          svc.Name,
			BaseURL:       svc.BaseURL,
			MaxAttempts:   svc.MaxAttempts,
			CredentialTTL: svc.CredentialTTL(),
			Timeout:       svc.Timeout(),
		}, limiter, breaker, creds, login, s.logger, s.telemetry)

		s.logger.Info("initialized outbound gateway",
			logging.String("service", svc.Name),
			logging.String("base_url", svc.BaseURL),
		)
	}

	return nil
}

// setupMiddleware installs the fixed pipeline: recovery, request id, logging,
// CORS, inbound rate limit, then session auth. Limiter runs before auth so
// abusive clients are shed before any credential work.
func (s *Server) setupMiddleware(authority *session.Authority) {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.CORS())

	inboundLimit := s.config.Inbound.RequestsPerMinute
	if inboundLimit <= 0 {
		inboundLimit = 120
	}
	limiter := ratelimit.NewLimiter(s.redis, s.config.Inbound.Algorithm, inboundLimit, time.Minute)
	s.router.Use(middleware.RateLimit(limiter, s.logger))

	s.router.Use(middleware.SessionAuth(authority, s.logger))
}

func (s *Server) setupRoutes(verifier *webapp.Verifier, authority *session.Authority, users *service.UserService) {
	s.router.GET("/health", s.healthCheck)

	authHandler := handler.NewAuthHandler(
		verifier, authority, users, s.audit, s.logger,
		s.config.Auth.MaxAge(), s.config.Session.TTL(), s.config.Session.CookieSecure,
	)

	api := s.router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
		api.POST("/auth/logout", middleware.RequireAuth(), authHandler.Logout)
		api.GET("/auth/me", middleware.RequireAuth(), authHandler.Me)

		if freight, ok := s.gateways["freight-api"]; ok {
			freightHandler := handler.NewFreightHandler(freight, users, s.audit)
			api.GET("/freights", freightHandler.List)
			api.GET("/freights/:id", freightHandler.Get)
			api.POST("/freights/:id/respond", middleware.RequireAuth(), freightHandler.Respond)
		}

		if payments, ok := s.gateways["payment-api"]; ok {
			subscriptionHandler := handler.NewSubscriptionHandler(payments, s.audit)
			api.POST("/subscriptions/checkout", middleware.RequireAuth(), subscriptionHandler.Checkout)
		}
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	redisHealthy := true
	if err := s.redis.Ping(ctx); err != nil {
		redisHealthy = false
		s.logger.Warn("redis health check failed", logging.Error(err))
	}

	dbHealthy := true
	if err := s.postgres.Ping(ctx); err != nil {
		dbHealthy = false
		s.logger.Warn("database health check failed", logging.Error(err))
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !redisHealthy || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "freightgate",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":    redisHealthy,
			"database": dbHealthy,
		},
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	s.logger.Info("starting server",
		logging.String("addr", addr),
		logging.String("environment", s.config.Server.Environment),
	)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.audit.Close()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
