package appointment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SlotDuration is the fixed length of every appointment and every bookable slot.
const SlotDuration = 20 * time.Minute

type AppointmentStatus string

const (
	StatusPending    AppointmentStatus = "PENDING"
	StatusConfirmed  AppointmentStatus = "CONFIRMED"
	StatusInProgress AppointmentStatus = "IN_PROGRESS"
	StatusCompleted  AppointmentStatus = "COMPLETED"
	StatusCanceled   AppointmentStatus = "CANCELED"
)

// ActiveStatuses are the states that still occupy a doctor's time.
var ActiveStatuses = []AppointmentStatus{StatusPending, StatusConfirmed, StatusInProgress}

func ParseStatus(s string) (AppointmentStatus, error) {
	st := AppointmentStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCanceled:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}

type Role string

const (
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "DOCTOR"
	RoleAdmin   Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Weekday numbers days Monday=0 through Sunday=6, the order stored in
// doctor_availability.weekday.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// WeekdayOf returns the weekday of t in t's own location.
func WeekdayOf(t time.Time) Weekday {
	return Weekday((int(t.Weekday()) + 6) % 7)
}

func (d Weekday) Valid() bool {
	return d >= Monday && d <= Sunday
}

func (d Weekday) String() string {
	if !d.Valid() {
		return "Weekday(" + strconv.Itoa(int(d)) + ")"
	}
	return time.Weekday((int(d) + 1) % 7).String()
}

// TimeOfDay is a wall-clock time without a date, in minutes after midnight.
type TimeOfDay int

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS" (seconds must be zero).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	layouts := []string{"15:04", "15:04:05"}
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Second() != 0 {
			return 0, fmt.Errorf("%w: time %q must not carry seconds", ErrInvalidInput, s)
		}
		return NewTimeOfDay(t.Hour(), t.Minute()), nil
	}
	return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidInput, s)
}

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On places t on the calendar date of day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, day.Location())
}

type User struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AvailabilityWindow is a recurring weekly range during which a doctor can be booked.
type AvailabilityWindow struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Weekday   Weekday
	Start     TimeOfDay
	End       TimeOfDay
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate enforces the window policy: a real weekday, start before end,
// and both bounds on the hour.
func (w AvailabilityWindow) Validate() error {
	if !w.Weekday.Valid() {
		return fmt.Errorf("%w: weekday %d out of range", ErrInvalidInput, w.Weekday)
	}
	if w.Start < 0 || w.End > NewTimeOfDay(24, 0) {
		return fmt.Errorf("%w: window %s-%s outside the day", ErrInvalidWindow, w.Start, w.End)
	}
	if w.Start >= w.End {
		return fmt.Errorf("%w: start %s must be before end %s", ErrInvalidWindow, w.Start, w.End)
	}
	if w.Start.Minute() != 0 || w.End.Minute() != 0 {
		return fmt.Errorf("%w: %s-%s", ErrWindowBoundary, w.Start, w.End)
	}
	return nil
}

// DefaultWeeklyAvailability is the block given to a user promoted to doctor:
// Monday to Friday, 08:00-12:00.
func DefaultWeeklyAvailability(doctorID uuid.UUID) []AvailabilityWindow {
	windows := make([]AvailabilityWindow, 0, 5)
	for d := Monday; d <= Friday; d++ {
		windows = append(windows, AvailabilityWindow{
			DoctorID: doctorID,
			Weekday:  d,
			Start:    NewTimeOfDay(8, 0),
			End:      NewTimeOfDay(12, 0),
			Active:   true,
		})
	}
	return windows
}

type Appointment struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	ScheduledAt  time.Time
	Reason       string
	Status       AppointmentStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CanceledAt   *time.Time
	VideoCallURL *string
}

// EndsAt is the end of the interval the appointment occupies.
func (a Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(SlotDuration)
}

// Slot is a derived, bookable [Start, End) interval.
type Slot struct {
	Start time.Time
	End   time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Actor is the authenticated principal a request runs as. The role is
// trusted as supplied by the identity provider.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Participates reports whether the actor is the appointment's patient or doctor.
func (a Actor) Participates(appt *Appointment) bool {
	switch a.Role {
	case RolePatient:
		return appt.PatientID == a.UserID
	case RoleDoctor:
		return appt.DoctorID == a.UserID
	}
	return false
}

type Stats struct {
	AppointmentsByStatus map[AppointmentStatus]int
	UsersByRole          map[Role]int
	TotalAppointments    int
	TotalUsers           int
}
