package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/campuslabs/labbooking/internal/booking"
	"github.com/campuslabs/labbooking/internal/config"
	"github.com/campuslabs/labbooking/internal/db"
	"github.com/campuslabs/labbooking/internal/handlers"
	"github.com/campuslabs/labbooking/internal/httpx"
	"github.com/campuslabs/labbooking/internal/kafkax"
	"github.com/campuslabs/labbooking/internal/outbox"
	otelx "github.com/campuslabs/labbooking/internal/otelx"
	"github.com/campuslabs/labbooking/internal/runtime"
	"github.com/campuslabs/labbooking/internal/storage"
)

func main() {
	config.Load()

	service := config.String("SERVICE_NAME", "lab-booking-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	// A malformed institutional timezone is a deployment error, not
	// something to limp along with per request.
	loc, err := time.LoadLocation(config.String("INSTITUTION_TIMEZONE", "America/Sao_Paulo"))
	if err != nil {
		logger.Error("invalid institution timezone", "err", err)
		panic(err)
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	tokenSecret, err := config.RequiredString("TOKEN_SECRET")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, config.String("MIGRATIONS_DIR", "migrations")); err != nil {
		logger.Error("migrations failed", "err", err)
		panic(err)
	}

	outboxRepo := outbox.NewRepository(pool)
	repo := storage.NewReservationRepository(pool, outboxRepo)
	rulesRepo := storage.NewRulesRepository(pool, loc)
	accounts := storage.NewAccountRepository(pool)

	svc := booking.NewService(repo, rulesRepo, accounts, logger, time.Now)
	bookingHandler := handlers.NewBookingHandler(svc, logger, tokenSecret)

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)},
	)
	mux.HandleFunc("/api/v1/schedule", bookingHandler.Schedule)
	mux.HandleFunc("/api/v1/reservations", bookingHandler.Create)
	mux.HandleFunc("/api/v1/reservations/cancel", bookingHandler.Cancel)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		rateLimitMiddleware(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "lab-booking")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// rateLimitMiddleware prefers the Redis limiter so multiple instances
// share one window; without a configured Redis it falls back to the
// in-process limiter.
func rateLimitMiddleware(logger *slog.Logger) httpx.Middleware {
	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)

	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "labbooking:rl"))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
		return rl.Middleware(logger, config.String("RATE_LIMIT_FAIL_OPEN", "true") != "false")
	}

	rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
	logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	return rl.Middleware()
}
