package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logger"
)

const (
	doctorCount  = 50
	patientCount = 5000
	adminCount   = 2
	batchSize    = 500
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("dev", "info", "seed")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logger.New(cfg.Env, cfg.LogLevel, "seed")
	log.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if _, err := db.NewMigrator(pool, db.Migrations()).Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	gofakeit.Seed(time.Now().UnixNano())

	if _, err := seedUsers(ctx, pool, log, appointment.RoleAdmin, adminCount); err != nil {
		log.Fatal().Err(err).Msg("seed admins")
	}
	doctors, err := seedUsers(ctx, pool, log, appointment.RoleDoctor, doctorCount)
	if err != nil {
		log.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedAvailability(ctx, appointment.NewPgRepository(pool), doctors); err != nil {
		log.Fatal().Err(err).Msg("seed availability")
	}
	if _, err := seedUsers(ctx, pool, log, appointment.RolePatient, patientCount); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	log.Info().Msg("seed complete")
}

// seedUsers inserts count users with the given role in batches and returns
// their ids.
func seedUsers(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, role appointment.Role, count int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			id := uuid.New()
			ids = append(ids, id)

			name := gofakeit.Name()
			if role == appointment.RoleDoctor {
				name = "Dr. " + gofakeit.LastName()
			}
			batch.Queue(`
				INSERT INTO users (id, name, email, role, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, name, fakeEmail(role, i), string(role))
		}

		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return nil, fmt.Errorf("insert %s batch: %w", strings.ToLower(string(role)), err)
		}
		log.Info().Str("role", string(role)).Int("done", end).Int("total", count).Msg("users seeded")
	}
	return ids, nil
}

// fakeEmail keeps gofakeit's realistic local part but guarantees uniqueness.
func fakeEmail(role appointment.Role, n int) string {
	local, domain, _ := strings.Cut(gofakeit.Email(), "@")
	return fmt.Sprintf("%s.%s%d@%s", local, strings.ToLower(string(role)), n, domain)
}

func seedAvailability(ctx context.Context, repo *appointment.PgRepository, doctors []uuid.UUID) error {
	for _, id := range doctors {
		for _, w := range appointment.DefaultWeeklyAvailability(id) {
			if err := w.Validate(); err != nil {
				return err
			}
			if _, err := repo.UpsertAvailability(ctx, w); err != nil {
				return fmt.Errorf("doctor %s: %w", id, err)
			}
		}
	}
	return nil
}
