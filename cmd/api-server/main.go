package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logger"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/video"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

const tokenTTL = 24 * time.Hour

func main() {
	os.Exit(run())
}

func run() (exitCode int) {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("dev", "info", "api-server")
		bootLog.Error().Err(err).Msg("config load error")
		return 1
	}
	log := logger.New(cfg.Env, cfg.LogLevel, "api-server")

	if err := cfg.RequireJWT(); err != nil {
		log.Error().Err(err).Msg("config load error")
		return 1
	}

	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("timezone", cfg.Location.String()).
		Str("version", version).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	cancelPg()
	if err != nil {
		log.Error().Err(err).Msg("postgres connection error")
		return 1
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	if cfg.MigrateOnStart {
		n, err := db.NewMigrator(pgPool, db.Migrations()).Up(rootCtx)
		if err != nil {
			log.Error().Err(err).Msg("migrations failed")
			return 1
		}
		log.Info().Int("applied", n).Msg("migrations up to date")
	}

	// Redis only serializes bookings; the unique index still holds without it.
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Warn().Err(err).Msg("redis unreachable, booking lock degraded until it recovers")
		rdb = redisclient.NewClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	} else {
		log.Info().Msg("connected to Redis")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()

	rooms := video.NewDailyProvisioner(cfg.Video)
	if !cfg.Video.Enabled() {
		log.Warn().Msg("video provisioning disabled: VIDEO_API_KEY or VIDEO_DOMAIN not set")
	}

	svc := appointment.NewService(appointment.Deps{
		Repo:     appointment.NewPgRepository(pgPool),
		Locker:   redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, cfg.LockWait),
		Rooms:    rooms,
		Clock:    clock.System(),
		Location: cfg.Location,
		Logger:   log,
	})

	limiter := api.NewRateLimiter(cfg.BookingRPS, cfg.BookingBurst)
	defer limiter.Stop()

	handler := api.NewRouter(api.RouterConfig{
		Service: svc,
		Tokens:  auth.NewTokenManager(cfg.JWTSecret, tokenTTL),
		Limiter: limiter,
		PgPool:  pgPool,
		Redis:   rdb,
		Logger:  log,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("api-server stopped")
	return exitCode
}
