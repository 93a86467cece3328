package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logger"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/video"
)

const (
	// appointments starting further out than this are left for a later run
	horizon   = 7 * 24 * time.Hour
	batchSize = 50
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("dev", "info", "provision-worker")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logger.New(cfg.Env, cfg.LogLevel, "provision-worker")

	if !cfg.Video.Enabled() {
		log.Fatal().Msg("VIDEO_API_KEY and VIDEO_DOMAIN are required for the provision worker")
	}

	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("horizon", horizon).
		Msg("provision-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	// The worker never books, but the service wants a locker; a lazy client
	// is never dialed.
	rdb := redisclient.NewClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	defer func() { _ = rdb.Close() }()

	svc := appointment.NewService(appointment.Deps{
		Repo:     appointment.NewPgRepository(pgPool),
		Locker:   redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, cfg.LockWait),
		Rooms:    video.NewDailyProvisioner(cfg.Video),
		Location: cfg.Location,
		Logger:   log,
	})

	// Run once at startup
	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping provision worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.RetryVideoRooms(runCtx, horizon, batchSize)
	if err != nil {
		log.Error().Err(err).Msg("provision run error")
		return
	}
	log.Info().Int("provisioned", n).Dur("took", time.Since(start)).Msg("provision run complete")
}
