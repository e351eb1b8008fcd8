package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"petboarding/internal/api"
	"petboarding/internal/config"
	"petboarding/internal/database"
	"petboarding/internal/domain"
	"petboarding/internal/events"
	"petboarding/internal/logging"
	"petboarding/internal/metrics"
	"petboarding/internal/notify"
	"petboarding/internal/repository"
	"petboarding/internal/service"
	"petboarding/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer repository.Close(redisClient)
	}
	coordinator := initCoordinator(redisClient, logger)

	bus := events.NewEventBus()
	notifications := worker.NewNotificationWorker(
		db,
		initNotifiers(ctx, cfg, logger),
		redisClient,
		worker.RetryPolicy{
			MaxRetries:    cfg.Notifications.Queue.MaxRetries,
			InitialDelay:  cfg.Notifications.Queue.InitialDelay,
			MaxDelay:      cfg.Notifications.Queue.MaxDelay,
			BackoffFactor: cfg.Notifications.Queue.BackoffFactor,
		},
		cfg.Notifications.Queue.PollInterval,
		logging.Component(logger, "notifications"),
	)
	notifications.Subscribe(bus)
	go notifications.Start(ctx)

	opts := service.Options{
		HoldWindow:         cfg.Booking.HoldWindow(),
		MaxPaymentFailures: cfg.Booking.MaxPaymentFailures,
		MaxBookingDays:     cfg.Booking.MaxBookingDays,
		SweepBatchSize:     cfg.Booking.SweepBatchSize,
		UserRequests:       cfg.API.RateLimit.UserRequests,
		UserWindow:         cfg.API.RateLimit.UserWindow,
	}
	clock := domain.SystemClock{}
	svcLogger := logging.Component(logger, "service")
	services := api.Services{
		Booking:  service.NewBookingService(db, bus, clock, coordinator, opts, svcLogger),
		Baskets:  service.NewBasketService(db, bus, clock, svcLogger),
		Payments: service.NewPaymentService(db, bus, clock, opts, svcLogger),
		Ready:    db.PingContext,
	}

	sweeper := service.NewSweepService(db, bus, clock, opts, svcLogger)
	scheduler := worker.NewSweepScheduler(sweeper, coordinator, cfg.Booking.SweepInterval, cfg.Booking.SweepLockTTL, logging.Component(logger, "sweep"))
	scheduler.Start(ctx)

	backup := database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup"))
	go backup.Start(ctx)

	startMetrics(ctx, cfg, logger)

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config; running background workers only")
		<-ctx.Done()
		scheduler.Wait()
		return nil
	}

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, services.Booking, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}
	httpServer := api.NewHTTPServer(cfg.API, services, logger)

	err = startServers(ctx, grpcServer, httpServer, cfg, logger)
	scheduler.Wait()
	return err
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, &logger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initCoordinator returns the lock and rate limit backend: redis with an in-memory fallback.
func initCoordinator(redisClient *redis.Client, logger *zerolog.Logger) repository.Coordinator {
	memory := repository.NewMemoryCoordinator()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverCoordinator(repository.NewRedisCoordinator(redisClient), memory, logger)
}

func initNotifiers(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) []domain.Notifier {
	notifiers := []domain.Notifier{notify.NewLogNotifier(logging.Component(logger, "notify"))}

	if cfg.Notifications.Telegram.Enabled {
		tg, err := notify.NewTelegramNotifier(cfg.Notifications.Telegram)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, continuing without telegram")
		} else {
			notifiers = append(notifiers, tg)
			logger.Info().Int64("chat_id", cfg.Notifications.Telegram.ChatID).Msg("telegram notifications enabled")
		}
	}

	if cfg.Notifications.Google.Enabled {
		sheetsNotifier, err := notify.NewSheetsNotifier(ctx, cfg.Notifications.Google)
		if err == nil {
			err = sheetsNotifier.TestConnection(ctx)
		}
		if err != nil {
			logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		} else {
			notifiers = append(notifiers, sheetsNotifier)
			logger.Info().Msg("google sheets connected")
		}
	}

	return notifiers
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	metrics.Register()
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
		logger.Info().Str("grpc_addr", grpcServer.Addr()).Msg("gRPC API started")
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
