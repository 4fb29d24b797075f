/*
main.go - Application entry point

PURPOSE:
  Starts the tour ledger HTTP service: check-in, activity and item custody
  ledgers over one SQL store. Handles configuration, dependency wiring and
  graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (defaults, YAML file, LEDGER_* environment)
  2. Build the zap logger and the tracer provider
  3. Open and migrate the store, apply the seed fixture if configured
  4. Wire observers: Prometheus always, RabbitMQ when amqp.url is set
  5. Connect Redis for rate limiting when redis.addr is set
  6. Configure the router and serve

COMMAND-LINE FLAGS:
  -config  Path to config file (or LEDGER_CONFIG_PATH)
  -port    Override http.port
  -db      Override database.dsn

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (http.shutdown_timeout)
  3. Flush spans, close broker, Redis and database connections

EXAMPLES:
  # SQLite file, defaults otherwise
  ./server -db=./data/ledger.db

  # MySQL via environment
  LEDGER_DB_DRIVER=mysql LEDGER_DB_DSN='ledger:pw@tcp(db:3306)/ledger' ./server

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: All settings
  - cmd/ledgerctl: Operator CLI
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/tour-ledger/api"
	"github.com/warp/tour-ledger/config"
	"github.com/warp/tour-ledger/events"
	"github.com/warp/tour-ledger/generic"
	"github.com/warp/tour-ledger/logging"
	"github.com/warp/tour-ledger/metrics"
	"github.com/warp/tour-ledger/seed"
	"github.com/warp/tour-ledger/store/sqlstore"
	"github.com/warp/tour-ledger/tracing"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "path to config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dsn := flag.String("db", "", "database DSN (overrides config)")
	flag.Parse()

	cfg, err := config.Load(config.DeterminePath(*configPath))
	if err != nil {
		zap.Must(zap.NewProduction()).Fatal("failed to load config", zap.Error(err))
	}
	if *port > 0 {
		cfg.HTTP.Port = *port
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		zap.Must(zap.NewProduction()).Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("failed to flush spans", zap.Error(err))
		}
	}()

	// Store
	store, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("store ready", zap.String("driver", store.Driver()))

	if cfg.Seed.Path != "" {
		fx, err := seed.LoadFile(cfg.Seed.Path)
		if err != nil {
			return err
		}
		sum, err := seed.Apply(ctx, store, fx)
		if err != nil {
			return err
		}
		logger.Info("seed applied",
			zap.String("path", cfg.Seed.Path),
			zap.Int("participants", sum.Participants),
			zap.Int("activities", sum.Activities),
			zap.Int("items", sum.Items),
		)
	}

	// Observers
	m := metrics.New(prometheus.DefaultRegisterer)
	observers := generic.Observers{m}
	if cfg.AMQP.URL != "" {
		pub, err := events.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			logger.Warn("action events disabled", zap.Error(err))
		} else {
			defer pub.Close()
			observers = append(observers, pub)
			logger.Info("publishing actions", zap.String("exchange", cfg.AMQP.Exchange))
		}
	}

	rdb := connectRedis(ctx, cfg.Redis, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	handler, err := api.NewHandler(store, logger, generic.WithObserver(observers))
	if err != nil {
		return err
	}
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         logger,
		Metrics:        m,
		MetricsHandler: promhttp.Handler(),
		RateLimit:      api.NewTokenBucket(cfg.RateLimit, rdb, logger),
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// connectRedis returns nil when Redis is not configured or not reachable.
// The rate limiter is then disabled.
func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("rate limiting disabled, redis unreachable", zap.String("addr", cfg.Addr), zap.Error(err))
		client.Close()
		return nil
	}
	return client
}
