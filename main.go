package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"telecare-server/internal/chat"
	"telecare-server/internal/config"
	"telecare-server/internal/logging"
	"telecare-server/internal/metrics"
	"telecare-server/internal/models"
	"telecare-server/internal/payments"
	"telecare-server/internal/routes"
	"telecare-server/internal/scheduling"
	"telecare-server/internal/store"
	"telecare-server/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// A missing .env is fine; the environment may already be set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Error loading .env file: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	logger := logging.New(cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := models.InitDB(models.DatabaseConfig{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Silent: cfg.Environment == "production",
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	appointments := store.NewAppointmentRepository(db)
	messages := store.NewMessageRepository(db)
	users := store.NewUserRepository(db)
	refreshTokens := store.NewRefreshTokenRepository(db)
	m := metrics.New(nil)

	transport, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}

	chatManager := chat.NewManager(chat.ManagerConfig{
		Messages:  messages,
		Rooms:     appointments,
		Transport: transport,
		Metrics:   m,
		Logger:    logger,
	})
	defer chatManager.Close()

	service := scheduling.NewService(scheduling.ServiceConfig{
		Appointments: appointments,
		Users:        users,
		Payments:     payments.NewLedgerGateway(db, logger),
		Chat:         chatManager,
		Metrics:      m,
		Logger:       logger,
		Location:     loc,
	})

	sweeper := worker.NewSweeper(worker.SweeperConfig{
		Reschedules:        service,
		Refunds:            service,
		Typing:             chatManager,
		RescheduleInterval: cfg.Sweep.RescheduleInterval,
		TypingInterval:     cfg.Sweep.TypingInterval,
		Metrics:            m,
		Logger:             logger,
	})

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.Origin}
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(corsConfig))

	routes.SetupRoutes(router, routes.Dependencies{
		Cfg:           cfg,
		Scheduling:    service,
		Chat:          chatManager,
		Users:         users,
		RefreshTokens: refreshTokens,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server running", "port", cfg.Port, "db_driver", cfg.Database.Driver, "chat_transport", cfg.Chat.Transport)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newTransport(cfg *config.Config, logger *logging.Logger) (chat.Transport, error) {
	if cfg.Chat.Transport != "redis" {
		return chat.NewMemoryTransport(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return chat.NewRedisTransport(client, logger), nil
}
