// cmd/server/main.go
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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"dessertmap/internal/config"
	"dessertmap/internal/coupon/cache"
	couponrepository "dessertmap/internal/coupon/repository"
	couponservice "dessertmap/internal/coupon/service"
	couponhttp "dessertmap/internal/coupon/transport/http"
	"dessertmap/internal/events"
	"dessertmap/internal/metrics"
	"dessertmap/internal/qr"
	"dessertmap/internal/tracing"
	"dessertmap/pkg/db"
	"dessertmap/pkg/logger"
	"dessertmap/pkg/middleware"
	"dessertmap/pkg/redeemcode"
)

const serviceName = "dessertmap-coupons"

func main() {
	cfg := config.Load()
	baseLogger := logger.Setup(serviceName, cfg.LogLevel, cfg.LogPretty)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if err := run(cfg, baseLogger); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

func run(cfg *config.Config, baseLogger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(serviceName, cfg.JaegerEndpoint)
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	metrics.InitMetrics()

	database, err := db.Connect(ctx, cfg.DatabaseURL, db.DefaultPoolOptions)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer database.Close()
	if err := db.Migrate(ctx, database, couponrepository.Schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	log.Info().Msg("database connected")

	// --- ИНИЦИАЛИЗАЦИЯ СЛОЁВ ---
	codes, err := redeemcode.NewRandomGenerator(cfg.CodeLength)
	if err != nil {
		return fmt.Errorf("code generator: %w", err)
	}
	opts := []couponservice.Option{couponservice.WithMaxCodeAttempts(cfg.CodeMaxAttempts)}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		opts = append(opts, couponservice.WithSoldOutGate(cache.NewSoldOutCache(rdb, cache.DefaultSoldOutTTL)))
		log.Info().Str("addr", cfg.RedisAddr).Msg("sold-out cache enabled")
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Error().Err(err).Msg("kafka writer close failed")
			}
		}()
		opts = append(opts, couponservice.WithPublisher(publisher))
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("voucher events enabled")
	}

	repo := couponrepository.NewPostgresCouponRepository(database, cfg.LockTimeout)
	svc := couponservice.NewService(repo, codes, qr.NewEncoder(cfg.QRPayloadPrefix, qr.DefaultSize), opts...)
	handler := couponhttp.NewHandler(svc)
	redeemLimiter := middleware.NewRateLimiter(cfg.RedeemRateLimit, time.Minute)

	// --- РОУТЕР ---
	r := chi.NewRouter()
	r.Use(logger.Middleware(baseLogger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", logger.RequestIDHeader},
		ExposedHeaders:   []string{logger.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	handler.Routes(r, middleware.JWTAuth(cfg.JWTSecret), redeemLimiter.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	})
	r.With(middleware.BasicAuth(cfg.MetricsUser, cfg.MetricsPassword)).Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(r, serviceName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("server running")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		redeemLimiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown signal received, starting graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return shutdownTracing(shutdownCtx)
	})

	return g.Wait()
}
