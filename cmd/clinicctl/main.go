package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logger"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinicctl",
		Short:        "Clinic scheduling administration",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(promoteCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type env struct {
	cfg  config.Config
	log  zerolog.Logger
	pool *pgxpool.Pool
}

func connect(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: logger.New(cfg.Env, cfg.LogLevel, "clinicctl"), pool: pool}, nil
}

// service is never used to book, so its Redis client is never dialed.
func (e *env) service() *appointment.Service {
	rdb := redisclient.NewClient(e.cfg.RedisAddr, e.cfg.RedisUsername, e.cfg.RedisPassword)
	return appointment.NewService(appointment.Deps{
		Repo:     appointment.NewPgRepository(e.pool),
		Locker:   redisclient.NewRedisSlotLocker(rdb, e.cfg.LockTTL, e.cfg.LockWait),
		Location: e.cfg.Location,
		Logger:   e.log,
	})
}

// adminActor resolves --admin into an actor and checks the role up front so
// the error names the flag.
func (e *env) adminActor(ctx context.Context, raw string) (appointment.Actor, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return appointment.Actor{}, fmt.Errorf("--admin must be a user id: %w", err)
	}
	u, err := appointment.NewPgRepository(e.pool).GetUserByID(ctx, id)
	if err != nil {
		return appointment.Actor{}, fmt.Errorf("load admin %s: %w", id, err)
	}
	if u.Role != appointment.RoleAdmin {
		return appointment.Actor{}, fmt.Errorf("user %s is %s, not ADMIN", id, u.Role)
	}
	return appointment.Actor{UserID: u.ID, Role: u.Role}, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.pool.Close()

			count, err := db.NewMigrator(e.pool, db.Migrations()).Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.pool.Close()

			statuses, err := db.NewMigrator(e.pool, db.Migrations()).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func promoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote <user-id>",
		Short: "Promote a user to DOCTOR, seeding default weekday availability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			adminID, _ := cmd.Flags().GetString("admin")
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("user id: %w", err)
			}

			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.pool.Close()

			actor, err := e.adminActor(cmd.Context(), adminID)
			if err != nil {
				return err
			}

			svc := e.service()
			u, err := svc.PromoteToDoctor(cmd.Context(), actor, userID)
			if err != nil {
				return err
			}
			windows, err := svc.ListAvailability(cmd.Context(), u.ID)
			if err != nil {
				return err
			}

			fmt.Printf("%s (%s) is now %s\n", u.Name, u.Email, u.Role)
			for _, w := range windows {
				fmt.Printf("  %-9s %s-%s active=%t\n", w.Weekday, w.Start, w.End, w.Active)
			}
			return nil
		},
	}
	cmd.Flags().String("admin", "", "ID of the admin performing the promotion")
	_ = cmd.MarkFlagRequired("admin")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show appointment counts per status and users per role",
		RunE: func(cmd *cobra.Command, args []string) error {
			adminID, _ := cmd.Flags().GetString("admin")

			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.pool.Close()

			actor, err := e.adminActor(cmd.Context(), adminID)
			if err != nil {
				return err
			}
			st, err := e.service().Stats(cmd.Context(), actor)
			if err != nil {
				return err
			}

			fmt.Printf("Appointments: %d\n", st.TotalAppointments)
			for _, k := range sortedKeys(st.AppointmentsByStatus) {
				fmt.Printf("  %-12s %d\n", k, st.AppointmentsByStatus[k])
			}
			fmt.Printf("Users: %d\n", st.TotalUsers)
			for _, k := range sortedKeys(st.UsersByRole) {
				fmt.Printf("  %-12s %d\n", k, st.UsersByRole[k])
			}
			return nil
		},
	}
	cmd.Flags().String("admin", "", "ID of the admin requesting the stats")
	_ = cmd.MarkFlagRequired("admin")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for a user (development only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("user id: %w", err)
			}

			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.pool.Close()

			if !e.cfg.IsDev() {
				return fmt.Errorf("token minting is disabled in APP_ENV=%s", e.cfg.Env)
			}
			if err := e.cfg.RequireJWT(); err != nil {
				return err
			}

			u, err := appointment.NewPgRepository(e.pool).GetUserByID(cmd.Context(), userID)
			if err != nil {
				return err
			}
			tok, err := auth.NewTokenManager(e.cfg.JWTSecret, ttl).Issue(appointment.Actor{UserID: u.ID, Role: u.Role})
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
