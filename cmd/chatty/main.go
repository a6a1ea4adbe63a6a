package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatty/internal/core/domain"
	"chatty/internal/core/services"
	httphandlers "chatty/internal/handlers/http"
	"chatty/internal/infrastructure/middleware"
	"chatty/internal/infrastructure/monitoring"
	repositories "chatty/internal/infrastructure/repositories"
	signalserver "chatty/internal/infrastructure/signal"
	"chatty/pkg/config"
	"chatty/pkg/logger"
	"chatty/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	issueToken := flag.String("issue-token", "", "print a signed token for this username and exit")
	flag.Parse()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	var authService services.AuthService
	if cfg.Auth.JWTSecret != "" {
		authService = services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	}

	if *issueToken != "" {
		if authService == nil {
			log.Fatalw("cannot issue token", "error", "auth.jwt_secret is not set")
		}
		token, err := authService.GenerateToken(*issueToken)
		if err != nil {
			log.Fatalw("failed to issue token", "username", *issueToken, "error", err)
		}
		fmt.Println(token)
		return
	}

	if err := run(cfg, authService, zapLogger, log); err != nil {
		log.Fatalw("server failed", "error", err)
	}
}

func run(cfg *config.Config, authService services.AuthService, zapLogger *zap.Logger, log *zap.SugaredLogger) error {
	startTime := time.Now()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: "production",
		SampleRate:  cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := monitoring.NewPrometheusCollector(registry)

	repoFactory, err := repositories.NewRepositoryFactory(cfg, collector.ObserveStoreOperation, log)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	defer repoFactory.Close()

	groupRepo := repoFactory.CreateGroupRepository()
	userRepo := repoFactory.CreateUserRepository()
	reportRepo := repoFactory.CreateReportRepository()
	locker := repoFactory.Locker()

	groupService := services.NewGroupService(groupRepo, userRepo, locker, cfg.Limits.MaxNameLength, log)
	userService := services.NewUserService(userRepo, groupRepo, locker, log)
	messagingService := services.NewMessagingService(groupRepo, userRepo, locker, cfg.Limits.MaxMessageLength)
	reportService := services.NewReportService(reportRepo, groupRepo, userRepo, cfg.Limits.MaxMessageLength)
	relay := services.NewBroadcastRelay()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()
	for _, name := range cfg.Bootstrap.SuperAdmins {
		if err := userService.EnsureUser(startupCtx, &domain.User{Username: name, Roles: []domain.Role{domain.RoleSuperAdmin}}); err != nil {
			return fmt.Errorf("failed to bootstrap super admin %s: %w", name, err)
		}
	}
	// Presence from a previous run belongs to connections that no longer exist.
	if err := groupService.ClearPresence(startupCtx); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}

	hub := signalserver.NewHub(collector, log)
	coordinator := signalserver.NewCoordinator(hub, signalserver.Dependencies{
		Groups:   groupService,
		Users:    userService,
		Messages: messagingService,
		Reports:  reportService,
		Relay:    relay,
	}, collector, cfg.Auth.Enabled, log)
	wsServer := signalserver.NewWebSocketServer(cfg, coordinator, authService, collector, log)

	health := monitoring.NewHealthChecker()
	health.AddCheck("store", repoFactory.HealthCheck, 2*time.Second)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLoggingMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	router.GET(cfg.Signal.Path, gin.WrapF(wsServer.HandleWebSocket))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"connections": wsServer.ConnectionCount(),
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
		log.Info("Prometheus metrics enabled")
	}

	api := router.Group("")
	if authService != nil {
		api.Use(middleware.OptionalAuthMiddleware(authService))
		httphandlers.NewAuthHandler(authService).SetupRoutes(router)
	}
	httphandlers.NewGroupHandler(groupService, messagingService, cfg.WebRTC.ICEServers).SetupRoutes(api)

	statsCtx, stopStats := context.WithCancel(context.Background())
	defer stopStats()
	go reportBroadcastStats(statsCtx, relay, collector, cfg.Monitoring.MetricsInterval)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting chatty server",
			"address", cfg.Server.Address,
			"ws_path", cfg.Signal.Path,
			"storage", repoFactory.Driver(),
			"auth", cfg.Auth.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("websocket connections did not drain", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error flushing traces", "error", err)
	}

	log.Info("chatty server stopped")
	return nil
}

func reportBroadcastStats(ctx context.Context, relay *services.BroadcastRelay, collector *monitoring.PrometheusCollector, every time.Duration) {
	if every <= 0 {
		every = 15 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stats := relay.Stats()
			collector.SetBroadcastStats(stats.Rooms, stats.Videos, stats.Screens)
		case <-ctx.Done():
			return
		}
	}
}
