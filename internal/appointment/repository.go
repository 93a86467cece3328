package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type UserStore interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	CountUsersByRole(ctx context.Context) (map[Role]int, error)

	// PromoteToDoctor changes the role and, when the user has no active
	// window yet, inserts defaults in the same transaction.
	PromoteToDoctor(ctx context.Context, userID uuid.UUID, defaults []AvailabilityWindow) (*User, error)
}

// AvailabilityStore persists weekly availability windows.
type AvailabilityStore interface {
	GetAvailability(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error)
	ListAvailability(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityWindow, error)
	ListActiveWindows(ctx context.Context, doctorID uuid.UUID, weekday Weekday) ([]AvailabilityWindow, error)

	// UpsertAvailability is keyed on (doctor, weekday, start).
	UpsertAvailability(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error)
	UpdateAvailability(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error)
	DeleteAvailability(ctx context.Context, id uuid.UUID) error
}

type AppointmentFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Statuses  []AppointmentStatus
	Ascending bool
	Limit     int
	Offset    int
}

// AppointmentStore persists bookings.
type AppointmentStore interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ListOccupying returns non-canceled appointments for the doctor with
	// from <= scheduled_at < to.
	ListOccupying(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)

	// InsertAppointment must return ErrSlotTaken when a non-canceled
	// appointment already holds (doctor, scheduled_at).
	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)

	// UpdateAppointmentStatus moves from -> to only if the row is still in
	// from. canceled_at is stamped with at when to is CANCELED.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, at time.Time) (*Appointment, error)
	SetVideoCallURL(ctx context.Context, id uuid.UUID, url string) error

	// Provision worker
	ListMissingVideoRoom(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error)

	CountAppointmentsByStatus(ctx context.Context) (map[AppointmentStatus]int, error)
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	UserStore
	AvailabilityStore
	AppointmentStore

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
