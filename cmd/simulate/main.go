package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logger"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	AdvanceRatio float64
	CancelRatio  float64
	ReadRatio    float64
	PatientLimit int
	DoctorLimit  int
	Days         int // how many upcoming weekdays bookings are spread over
}

type booked struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
	Patient  uuid.UUID
	Start    time.Time
}

func (b booked) slotKey() string {
	return b.DoctorID.String() + "|" + b.Start.UTC().Format(time.RFC3339)
}

type DataPool struct {
	Patients []uuid.UUID
	Doctors  []uuid.UUID
	Days     []time.Time

	mu           sync.RWMutex
	appointments []booked
	canceled     map[uuid.UUID]bool
	slotsTaken   map[string]int // live bookings per doctor|start
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
	dp.slotsTaken[b.slotKey()]++
}

// MarkCanceled frees the slot once; repeated cancels are idempotent.
func (dp *DataPool) MarkCanceled(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if dp.canceled[b.ID] {
		return
	}
	dp.canceled[b.ID] = true
	dp.slotsTaken[b.slotKey()]--
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

// DoubleBookings counts live bookings beyond the first per slot. Any
// non-zero value is a correctness bug.
func (dp *DataPool) DoubleBookings() (slots, extra int) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	for _, n := range dp.slotsTaken {
		if n > 0 {
			slots++
		}
		if n > 1 {
			extra += n - 1
		}
	}
	return slots, extra
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeRejected
	outcomeError
)

func classify(status int, err error) outcome {
	switch {
	case err != nil:
		return outcomeError
	case status >= 200 && status < 300:
		return outcomeSuccess
	case status == http.StatusConflict:
		return outcomeConflict
	case status >= 400 && status < 500:
		return outcomeRejected
	}
	return outcomeError
}

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case outcomeRejected:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		return latencies[min(len(latencies)*p/100, len(latencies)-1)]
	}
	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95)
}

type Metrics struct {
	Booking   OperationMetrics
	Advance   OperationMetrics
	Cancel    OperationMetrics
	ListSlots OperationMetrics
	ListMine  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	tokens  *auth.TokenManager
	log     zerolog.Logger
	metrics Metrics

	tokMu    sync.Mutex
	tokCache map[uuid.UUID]string
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("dev", "info", "simulate")
		bootLog.Fatal().Err(err).Msg("failed to load base config")
	}
	log := logger.New(baseCfg.Env, baseCfg.LogLevel, "simulate")
	if err := baseCfg.RequireJWT(); err != nil {
		log.Fatal().Err(err).Msg("simulate mints its own tokens")
	}

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("advance", cfg.AdvanceRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, baseCfg.PostgresMaxConn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg, baseCfg.Location)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}

	log.Info().
		Int("patients", len(dataPool.Patients)).
		Int("doctors", len(dataPool.Doctors)).
		Int("days", len(dataPool.Days)).
		Msg("data pool loaded")

	sim := &Simulator{
		config:   cfg,
		pool:     dataPool,
		client:   &http.Client{Timeout: 10 * time.Second},
		tokens:   auth.NewTokenManager(baseCfg.JWTSecret, cfg.Duration+time.Hour),
		log:      log,
		tokCache: make(map[uuid.UUID]string),
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		AdvanceRatio: getFloat("SIM_ADVANCE_RATIO", 0.1),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 2000),
		DoctorLimit:  getInt("SIM_DOCTOR_LIMIT", 5),
		Days:         getInt("SIM_DAYS", 2),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.AdvanceRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.AdvanceRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("SIM_DURATION must be > 0")
	}
	if cfg.Days <= 0 {
		return errors.New("SIM_DAYS must be > 0")
	}
	return nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, role appointment.Role, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM users WHERE role = $1 ORDER BY created_at LIMIT $2`, string(role), limit)
	if err != nil {
		return nil, fmt.Errorf("load %s ids: %w", role, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// loadDataPool keeps the doctor set small on purpose so workers collide on
// the same slots.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig, loc *time.Location) (*DataPool, error) {
	patients, err := loadIDs(ctx, pool, appointment.RolePatient, cfg.PatientLimit)
	if err != nil {
		return nil, err
	}
	doctors, err := loadIDs(ctx, pool, appointment.RoleDoctor, cfg.DoctorLimit)
	if err != nil {
		return nil, err
	}
	if len(patients) == 0 {
		return nil, errors.New("no patients loaded; run cmd/seed first")
	}
	if len(doctors) == 0 {
		return nil, errors.New("no doctors loaded; run cmd/seed first")
	}

	return &DataPool{
		Patients:   patients,
		Doctors:    doctors,
		Days:       upcomingWeekdays(time.Now().In(loc), cfg.Days),
		canceled:   make(map[uuid.UUID]bool),
		slotsTaken: make(map[string]int),
	}, nil
}

// upcomingWeekdays returns the next n Monday-Friday dates after today.
func upcomingWeekdays(now time.Time, n int) []time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var out []time.Time
	for len(out) < n {
		day = day.AddDate(0, 0, 1)
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			out = append(out, day)
		}
	}
	return out
}

func (s *Simulator) token(id uuid.UUID, role appointment.Role) string {
	s.tokMu.Lock()
	defer s.tokMu.Unlock()
	if tok, ok := s.tokCache[id]; ok {
		return tok
	}
	tok, err := s.tokens.Issue(appointment.Actor{UserID: id, Role: role})
	if err != nil {
		s.log.Fatal().Err(err).Msg("issue token")
	}
	s.tokCache[id] = tok
	return tok
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.AdvanceRatio:
			s.doAdvance(ctx, rng)
		case r < s.config.BookingRatio+s.config.AdvanceRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doListSlots(ctx, rng)
			} else {
				s.doListMine(ctx, rng)
			}
		}
	}
}

func (s *Simulator) call(ctx context.Context, method, path, token string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, rd)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, data, err
}

// record skips transport errors caused by the run deadline.
func (s *Simulator) record(ctx context.Context, om *OperationMetrics, started time.Time, status int, err error) {
	if err != nil && ctx.Err() != nil {
		return
	}
	om.Record(time.Since(started), classify(status, err))
}

// randomSlotStart picks an on-grid start inside the default 08:00-12:00 window.
func (s *Simulator) randomSlotStart(rng *rand.Rand) time.Time {
	day := s.pool.Days[rng.Intn(len(s.pool.Days))]
	open := time.Date(day.Year(), day.Month(), day.Day(), 8, 0, 0, 0, day.Location())
	return open.Add(time.Duration(rng.Intn(12)) * appointment.SlotDuration)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	start := s.randomSlotStart(rng)

	began := time.Now()
	status, data, err := s.call(ctx, http.MethodPost, "/appointments", s.token(patient, appointment.RolePatient), map[string]string{
		"doctor_id": doctor.String(),
		"start":     start.Format(time.RFC3339),
		"reason":    "load test",
	})
	s.record(ctx, &s.metrics.Booking, began, status, err)

	if err == nil && status == http.StatusCreated {
		var resp struct {
			ID uuid.UUID `json:"id"`
		}
		if json.Unmarshal(data, &resp) == nil && resp.ID != uuid.Nil {
			s.pool.AddAppointment(booked{ID: resp.ID, DoctorID: doctor, Patient: patient, Start: start})
		}
	}
}

var advanceTargets = []appointment.AppointmentStatus{
	appointment.StatusConfirmed,
	appointment.StatusInProgress,
	appointment.StatusCompleted,
}

func (s *Simulator) doAdvance(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	to := advanceTargets[rng.Intn(len(advanceTargets))]

	began := time.Now()
	status, _, err := s.call(ctx, http.MethodPost, "/appointments/"+appt.ID.String()+"/status",
		s.token(appt.DoctorID, appointment.RoleDoctor), map[string]string{"status": string(to)})
	s.record(ctx, &s.metrics.Advance, began, status, err)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	began := time.Now()
	status, _, err := s.call(ctx, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel",
		s.token(appt.Patient, appointment.RolePatient), nil)
	s.record(ctx, &s.metrics.Cancel, began, status, err)
	if err == nil && status == http.StatusOK {
		s.pool.MarkCanceled(appt)
	}
}

func (s *Simulator) doListSlots(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	day := s.pool.Days[rng.Intn(len(s.pool.Days))]

	began := time.Now()
	status, _, err := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/doctors/%s/slots?date=%s", doctor, day.Format("2006-01-02")),
		s.token(patient, appointment.RolePatient), nil)
	s.record(ctx, &s.metrics.ListSlots, began, status, err)
}

func (s *Simulator) doListMine(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	began := time.Now()
	status, _, err := s.call(ctx, http.MethodGet, "/appointments?upcoming=true&limit=20",
		s.token(patient, appointment.RolePatient), nil)
	s.record(ctx, &s.metrics.ListMine, began, status, err)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Doctors: %d  Days: %d\n", len(s.pool.Doctors), len(s.pool.Days))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Advance status", &s.metrics.Advance)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List slots", &s.metrics.ListSlots)
	printOperationReport("List my appointments", &s.metrics.ListMine)

	slots, extra := s.pool.DoubleBookings()
	fmt.Printf("Slots booked: %d\n", slots)
	if extra > 0 {
		fmt.Printf("DOUBLE BOOKINGS: %d\n", extra)
		os.Exit(1)
	}
	fmt.Println("Double bookings: 0")
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	rejected := atomic.LoadInt64(&om.Rejected)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, pct(rejected))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
