package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "taskflow/docs" // swagger docs

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"taskflow/internal/auth"
	"taskflow/internal/cache"
	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/handler"
	"taskflow/internal/logger"
	"taskflow/internal/metrics"
	"taskflow/internal/notify"
	"taskflow/internal/repository"
	"taskflow/internal/router"
	"taskflow/internal/service"
)

// @title TaskFlow API
// @version 1.0
// @description Task marketplace API: employers post paid campaigns, workers claim slots and submit proof, admins oversee the ledger.
// @host localhost:5000
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	gormDB, err := db.NewMySQL(cfg.MySQLDSN, log)
	if err != nil {
		log.Fatal("database init", zap.Error(err))
	}
	if err := db.Migrate(gormDB, cfg.ResetDB, log); err != nil {
		log.Fatal("database migrate", zap.Error(err))
	}

	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cacheClient.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(registry); err != nil {
		log.Fatal("metrics register", zap.Error(err))
	}

	queue := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB})
	defer queue.Close()
	publisher := notify.NewPublisher(notify.NewEnqueuer(queue), cfg.NotificationQueue, log)

	// Initialize auth components
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	tokenStore := auth.NewTokenStore(cacheClient)

	// Initialize services
	store := repository.NewStore(gormDB)
	deps := service.Dependencies{
		Store:    store,
		Cache:    cacheClient,
		Notifier: publisher,
		Logger:   log,
		Policy:   service.PolicyFromConfig(cfg),
		Locks:    &service.KeyedMutex{},
		Now:      time.Now,
	}
	authService := service.NewAuthService(store.Users(), jwtService, tokenStore)
	campaignService := service.NewCampaignService(deps)
	submissionService := service.NewSubmissionService(deps)
	ledgerService := service.NewLedgerService(deps)
	incidentService := service.NewIncidentService(deps)
	userService := service.NewUserService(deps, campaignService, submissionService)
	sweeper := service.NewSweeper(campaignService, submissionService, ledgerService, cacheClient, cfg.SweepInterval, log)

	e := echo.New()
	e.HideBanner = true

	// Register routes
	router.Register(e, log, registry, authService, router.Handlers{
		Auth:        handler.NewAuthHandler(authService, userService),
		Campaigns:   handler.NewCampaignHandler(campaignService, submissionService),
		Submissions: handler.NewSubmissionHandler(submissionService),
		Ledger:      handler.NewLedgerHandler(ledgerService),
		Users:       handler.NewUserHandler(userService, incidentService, sweeper),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweeper.Run(ctx)

	log.Info("Swagger documentation available", zap.String("url", swaggerURL(cfg.SwaggerHost)))

	addr := ":" + cfg.ServerPort
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server start", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}
}

// swaggerURL builds the docs address. SwaggerHost may already include a scheme.
func swaggerURL(host string) string {
	if host == "" {
		// docker-compose maps the container's 8080 to 5000
		return "http://localhost:5000/swagger/index.html"
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return host + "/swagger/index.html"
}
