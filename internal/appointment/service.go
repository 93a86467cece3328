package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentCanceled      = "APPOINTMENT_CANCELED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventVideoRoomProvisioned     = "VIDEO_ROOM_PROVISIONED"
)

// RoomProvisioner creates a video room for an appointment. An empty URL with
// a nil error means provisioning is not configured.
type RoomProvisioner interface {
	CreateRoom(ctx context.Context, appt Appointment) (string, error)
}

type noRooms struct{}

func (noRooms) CreateRoom(context.Context, Appointment) (string, error) { return "", nil }

type Deps struct {
	Repo     Repository
	Locker   redisclient.Locker
	Rooms    RoomProvisioner
	Clock    clock.Clock
	Location *time.Location
	Logger   zerolog.Logger
}

type Service struct {
	repo   Repository
	locker redisclient.Locker
	rooms  RoomProvisioner
	clock  clock.Clock
	loc    *time.Location
	log    zerolog.Logger
}

func NewService(d Deps) *Service {
	s := &Service{
		repo:   d.Repo,
		locker: d.Locker,
		rooms:  d.Rooms,
		clock:  d.Clock,
		loc:    d.Location,
		log:    d.Logger.With().Str("component", "appointment").Logger(),
	}
	if s.rooms == nil {
		s.rooms = noRooms{}
	}
	if s.clock == nil {
		s.clock = clock.System()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s
}

// Location is the deployment zone used for weekdays and calendar dates.
func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) loadDoctor(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if u.Role != RoleDoctor {
		return nil, ErrDoctorNotFound
	}
	return u, nil
}

func (s *Service) loadPatient(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if u.Role != RolePatient {
		return nil, ErrPatientNotFound
	}
	return u, nil
}

// GetAppointment is restricted to the appointment's participants and admins.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !actor.Participates(appt) {
		return nil, ErrForbidden
	}
	return appt, nil
}

type ListOptions struct {
	UpcomingOnly bool
	Limit        int
	Offset       int
}

// ListAppointments scopes the listing to the actor: patients and doctors see
// their own appointments, admins see all. Upcoming listings are ordered
// soonest first, full history newest first.
func (s *Service) ListAppointments(ctx context.Context, actor Actor, opts ListOptions) ([]Appointment, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20 // default
	}
	if opts.Limit > 100 {
		opts.Limit = 100 // max
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	f := AppointmentFilter{Limit: opts.Limit, Offset: opts.Offset}
	switch actor.Role {
	case RolePatient:
		f.PatientID = &actor.UserID
	case RoleDoctor:
		f.DoctorID = &actor.UserID
	case RoleAdmin:
	default:
		return nil, ErrForbidden
	}
	if opts.UpcomingOnly {
		f.Statuses = ActiveStatuses
		f.Ascending = true
	}

	appts, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

func (s *Service) Stats(ctx context.Context, actor Actor) (*Stats, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	byStatus, err := s.repo.CountAppointmentsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}
	byRole, err := s.repo.CountUsersByRole(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	st := &Stats{AppointmentsByStatus: byStatus, UsersByRole: byRole}
	for _, n := range byStatus {
		st.TotalAppointments += n
	}
	for _, n := range byRole {
		st.TotalUsers += n
	}
	return st, nil
}

// provisionRoom never fails the caller; errors are logged and the URL stays
// empty for the provision worker to retry.
func (s *Service) provisionRoom(ctx context.Context, appt *Appointment) {
	url, err := s.rooms.CreateRoom(ctx, *appt)
	if err != nil {
		s.log.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("video room provisioning failed")
		return
	}
	if url == "" {
		return
	}
	if err := s.repo.SetVideoCallURL(ctx, appt.ID, url); err != nil {
		s.log.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("store video room url")
		return
	}
	appt.VideoCallURL = &url
	s.logEvent(ctx, appt.ID, EventVideoRoomProvisioned, map[string]any{"url": url})
}

// RetryVideoRooms provisions rooms for booked appointments starting within
// horizon that still have no URL. It returns how many got one.
func (s *Service) RetryVideoRooms(ctx context.Context, horizon time.Duration, batch int) (int, error) {
	now := s.clock.Now()
	pending, err := s.repo.ListMissingVideoRoom(ctx, now, now.Add(horizon), batch)
	if err != nil {
		return 0, fmt.Errorf("list appointments without video room: %w", err)
	}

	done := 0
	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		s.provisionRoom(ctx, &pending[i])
		if pending[i].VideoCallURL != nil {
			done++
		}
	}
	return done, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("event", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("insert event log")
	}
}
