package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

const (
	userColumns         = `id, name, email, role, created_at, updated_at`
	availabilityColumns = `id, doctor_id, weekday, start_time, end_time, is_active, created_at, updated_at`
	appointmentColumns  = `id, patient_id, doctor_id, scheduled_at, reason, status, created_at, updated_at, canceled_at, video_call_url`
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

var _ Repository = (*PgRepository)(nil)

// Helpers

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func toPgTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func fromPgTime(t pgtype.Time) TimeOfDay {
	return TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string

	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&role,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	u.Role = Role(role)
	return &u, nil
}

func scanWindow(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	var weekday int16
	var start, end pgtype.Time

	err := row.Scan(
		&w.ID,
		&w.DoctorID,
		&weekday,
		&start,
		&end,
		&w.Active,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, err
	}

	w.Weekday = Weekday(weekday)
	w.Start = fromPgTime(start)
	w.End = fromPgTime(end)
	return &w, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	var canceledAt *time.Time
	var videoURL *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.ScheduledAt,
		&a.Reason,
		&status,
		&a.CreatedAt,
		&a.UpdatedAt,
		&canceledAt,
		&videoURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = AppointmentStatus(status)
	a.CanceledAt = canceledAt
	a.VideoCallURL = videoURL
	return &a, nil
}

func collectWindows(rows pgx.Rows) ([]AvailabilityWindow, error) {
	defer rows.Close()

	result := []AvailabilityWindow{}
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func statusStrings(statuses []AppointmentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Users

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *PgRepository) CountUsersByRole(ctx context.Context) (map[Role]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT role, count(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[Role]int{RolePatient: 0, RoleDoctor: 0, RoleAdmin: 0}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		counts[Role(role)] = n
	}
	return counts, rows.Err()
}

func (r *PgRepository) PromoteToDoctor(ctx context.Context, userID uuid.UUID, defaults []AvailabilityWindow) (*User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u, err := scanUser(tx.QueryRow(ctx, `
		UPDATE users
		SET role = 'DOCTOR',
		    updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns, userID))
	if err != nil {
		return nil, err
	}

	var hasWindows bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM doctor_availability
			WHERE doctor_id = $1 AND is_active
		)
	`, userID).Scan(&hasWindows); err != nil {
		return nil, fmt.Errorf("check availability: %w", err)
	}

	if !hasWindows {
		batch := &pgx.Batch{}
		for _, w := range defaults {
			batch.Queue(`
				INSERT INTO doctor_availability (id, doctor_id, weekday, start_time, end_time, is_active)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (doctor_id, weekday, start_time) DO NOTHING
			`, uuid.New(), userID, int16(w.Weekday), toPgTime(w.Start), toPgTime(w.End), w.Active)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, fmt.Errorf("insert default availability: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return u, nil
}

// Availability

func (r *PgRepository) GetAvailability(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+availabilityColumns+`
		FROM doctor_availability
		WHERE id = $1
	`, id)
	return scanWindow(row)
}

func (r *PgRepository) ListAvailability(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+availabilityColumns+`
		FROM doctor_availability
		WHERE doctor_id = $1
		ORDER BY weekday, start_time
	`, doctorID)
	if err != nil {
		return nil, err
	}
	return collectWindows(rows)
}

func (r *PgRepository) ListActiveWindows(ctx context.Context, doctorID uuid.UUID, weekday Weekday) ([]AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+availabilityColumns+`
		FROM doctor_availability
		WHERE doctor_id = $1
		  AND weekday = $2
		  AND is_active
		ORDER BY start_time
	`, doctorID, int16(weekday))
	if err != nil {
		return nil, err
	}
	return collectWindows(rows)
}

func (r *PgRepository) UpsertAvailability(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO doctor_availability (id, doctor_id, weekday, start_time, end_time, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (doctor_id, weekday, start_time) DO UPDATE
		SET end_time = EXCLUDED.end_time,
		    is_active = EXCLUDED.is_active,
		    updated_at = now()
		RETURNING `+availabilityColumns,
		uuid.New(), w.DoctorID, int16(w.Weekday), toPgTime(w.Start), toPgTime(w.End), w.Active)
	return scanWindow(row)
}

func (r *PgRepository) UpdateAvailability(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE doctor_availability
		SET start_time = $2,
		    end_time = $3,
		    is_active = $4,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+availabilityColumns,
		w.ID, toPgTime(w.Start), toPgTime(w.End), w.Active)

	updated, err := scanWindow(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: a window already starts at %s on %s", ErrInvalidInput, w.Start, w.Weekday)
		}
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) DeleteAvailability(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM doctor_availability WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWindowNotFound
	}
	return nil
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListOccupying(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status <> 'CANCELED'
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		ORDER BY scheduled_at
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if len(f.Statuses) > 0 {
		add("status = ANY($%d)", statusStrings(f.Statuses))
	}

	q := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	if f.Ascending {
		q += ` ORDER BY scheduled_at ASC`
	} else {
		q += ` ORDER BY scheduled_at DESC`
	}
	args = append(args, f.Limit, f.Offset)
	q += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, scheduled_at, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.DoctorID, a.ScheduledAt, a.Reason, string(a.Status), a.CreatedAt, a.UpdatedAt)

	created, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2::text,
		    updated_at = $4,
		    canceled_at = CASE WHEN $2::text = 'CANCELED' THEN $4 ELSE canceled_at END
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from), at)

	return scanAppointment(row)
}

func (r *PgRepository) SetVideoCallURL(ctx context.Context, id uuid.UUID, url string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET video_call_url = $2,
		    updated_at = now()
		WHERE id = $1
		  AND video_call_url IS NULL
	`, id, url)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) ListMissingVideoRoom(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('PENDING', 'CONFIRMED', 'IN_PROGRESS')
		  AND video_call_url IS NULL
		  AND scheduled_at >= $1
		  AND scheduled_at < $2
		ORDER BY scheduled_at
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CountAppointmentsByStatus(ctx context.Context) (map[AppointmentStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, count(*) FROM appointments GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[AppointmentStatus]int{}
	for _, s := range []AppointmentStatus{StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCanceled} {
		counts[s] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[AppointmentStatus(status)] = n
	}
	return counts, rows.Err()
}

// Events

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
