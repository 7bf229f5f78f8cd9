package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/senyabanana/procurement-service/internal/db"
	"github.com/senyabanana/procurement-service/internal/handlers"
	"github.com/senyabanana/procurement-service/internal/lock"
	"github.com/senyabanana/procurement-service/internal/logger"
	"github.com/senyabanana/procurement-service/internal/metrics"
	"github.com/senyabanana/procurement-service/internal/repository"
	"github.com/senyabanana/procurement-service/internal/router"
	"github.com/senyabanana/procurement-service/internal/router/config"
	"github.com/senyabanana/procurement-service/internal/services"
	"github.com/senyabanana/procurement-service/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type repositories struct {
	orders   repository.OrderRepository
	bids     repository.BidRepository
	messages repository.MessageRepository
	ping     handlers.HealthCheck
	close    func()
}

func newServeCmd(configDir *string) *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(*configDir)
			if err != nil {
				return fmt.Errorf("cannot load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, !skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply migrations on startup")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, migrate bool) error {
	log := logger.New(logger.Options{
		ServiceName: "procurement-service",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})

	repos, err := openRepositories(ctx, cfg, migrate, log)
	if err != nil {
		return err
	}
	defer repos.close()

	locker, closeLocker, err := newLocker(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLocker()

	objects, err := storage.NewDisk(cfg.ObjectStoreDir, cfg.ObjectStoreBaseURL, cfg.MaxImageBytes)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Один Locker на оба сервиса: отмена заказа и принятие предложения
	// исключают друг друга.
	orderService := services.NewOrderService(repos.orders, locker, log, m)
	bidService := services.NewBidService(repos.bids, repos.orders, objects, locker, log, m)
	matchingService := services.NewMatchingService(repos.orders, repos.bids)
	messageService := services.NewMessageService(repos.messages, repos.orders, repos.bids,
		services.NewHub(cfg.SubscriptionBuffer, m), log, m)

	routes := router.InitRoutes(
		handlers.NewOrderHandler(orderService, matchingService, log, cfg.RequestTimeout),
		handlers.NewBidHandler(bidService, log, cfg.RequestTimeout, cfg.MaxImageBytes),
		handlers.NewMessageHandler(messageService, log, cfg.RequestTimeout),
		router.Options{
			Logger:        log,
			Health:        repos.ping,
			Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			Objects:       objects.Handler(),
			ObjectsPrefix: cfg.ObjectStoreBaseURL,
		},
	)

	server := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           routes,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info(log.WithField(ctx, "address", cfg.ServerAddress), "server is listening")
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		messageService.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	// Websocket-соединения не отслеживаются Shutdown, их закрывает хаб.
	messageService.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func openRepositories(ctx context.Context, cfg config.Config, migrate bool, log *logger.Logger) (*repositories, error) {
	if cfg.StorageDriver == config.DriverMemory {
		log.Warn(ctx, "using in-memory storage, data is lost on restart", nil)
		store := repository.NewMemoryStore()
		return &repositories{orders: store, bids: store, messages: store, close: func() {}}, nil
	}

	if migrate {
		if err := runDBMigration(cfg.MigrationURL, cfg.PostgresConn, true); err != nil {
			return nil, err
		}
		log.Info(ctx, "db migrated successfully")
	}

	dbPool, err := db.InitDb(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	return &repositories{
		orders:   repository.NewPostgresOrderRepository(dbPool),
		bids:     repository.NewPostgresBidRepository(dbPool),
		messages: repository.NewPostgresMessageRepository(dbPool),
		ping:     dbPool.Ping,
		close:    dbPool.Close,
	}, nil
}

// newLocker выбирает Redis, если он настроен, иначе блокировки в памяти процесса.
func newLocker(ctx context.Context, cfg config.Config, log *logger.Logger) (lock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return lock.NewLocal(cfg.LockTimeout), func() {}, nil
	}
	client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	locker, err := lock.NewRedis(client, cfg.LockTTL, cfg.LockTimeout)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	log.Info(ctx, "per-order sections are coordinated through redis")
	return locker, func() {
		if err := client.Close(); err != nil {
			log.Warn(context.Background(), "failed to close redis client", err)
		}
	}, nil
}
