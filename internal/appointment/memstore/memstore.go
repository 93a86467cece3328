// Package memstore is an in-memory appointment.Repository and slot locker
// for tests and local tooling. It enforces the same uniqueness rules as the
// Postgres schema.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

type Store struct {
	mu           sync.Mutex
	users        map[uuid.UUID]appointment.User
	windows      map[uuid.UUID]appointment.AvailabilityWindow
	appointments map[uuid.UUID]appointment.Appointment
	events       []appointment.EventLog

	// FailInsertEvent makes InsertEvent fail, for best-effort logging tests.
	FailInsertEvent bool
}

var _ appointment.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		users:        map[uuid.UUID]appointment.User{},
		windows:      map[uuid.UUID]appointment.AvailabilityWindow{},
		appointments: map[uuid.UUID]appointment.Appointment{},
	}
}

// AddUser stores u, assigning an ID when it has none.
func (s *Store) AddUser(u appointment.User) appointment.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	s.users[u.ID] = u
	return u
}

func (s *Store) AddWindow(w appointment.AvailabilityWindow) appointment.AvailabilityWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	s.windows[w.ID] = w
	return w
}

// AddAppointment stores a without any checks.
func (s *Store) AddAppointment(a appointment.Appointment) appointment.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.appointments[a.ID] = a
	return a
}

func (s *Store) AppointmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.appointments)
}

func (s *Store) Events() []appointment.EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]appointment.EventLog(nil), s.events...)
}

func (s *Store) GetUserByID(_ context.Context, id uuid.UUID) (*appointment.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, appointment.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) CountUsersByRole(context.Context) (map[appointment.Role]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[appointment.Role]int{
		appointment.RolePatient: 0,
		appointment.RoleDoctor:  0,
		appointment.RoleAdmin:   0,
	}
	for _, u := range s.users {
		counts[u.Role]++
	}
	return counts, nil
}

func (s *Store) PromoteToDoctor(_ context.Context, userID uuid.UUID, defaults []appointment.AvailabilityWindow) (*appointment.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, appointment.ErrUserNotFound
	}
	u.Role = appointment.RoleDoctor
	u.UpdatedAt = time.Now()
	s.users[userID] = u

	for _, w := range s.windows {
		if w.DoctorID == userID && w.Active {
			return &u, nil
		}
	}
	for _, w := range defaults {
		w.ID = uuid.New()
		w.DoctorID = userID
		s.windows[w.ID] = w
	}
	return &u, nil
}

func (s *Store) GetAvailability(_ context.Context, id uuid.UUID) (*appointment.AvailabilityWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	if !ok {
		return nil, appointment.ErrWindowNotFound
	}
	return &w, nil
}

func (s *Store) ListAvailability(_ context.Context, doctorID uuid.UUID) ([]appointment.AvailabilityWindow, error) {
	return s.filterWindows(func(w appointment.AvailabilityWindow) bool {
		return w.DoctorID == doctorID
	}), nil
}

func (s *Store) ListActiveWindows(_ context.Context, doctorID uuid.UUID, weekday appointment.Weekday) ([]appointment.AvailabilityWindow, error) {
	return s.filterWindows(func(w appointment.AvailabilityWindow) bool {
		return w.DoctorID == doctorID && w.Weekday == weekday && w.Active
	}), nil
}

func (s *Store) filterWindows(keep func(appointment.AvailabilityWindow) bool) []appointment.AvailabilityWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []appointment.AvailabilityWindow{}
	for _, w := range s.windows {
		if keep(w) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weekday != out[j].Weekday {
			return out[i].Weekday < out[j].Weekday
		}
		return out[i].Start < out[j].Start
	})
	return out
}

func (s *Store) UpsertAvailability(_ context.Context, w appointment.AvailabilityWindow) (*appointment.AvailabilityWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, existing := range s.windows {
		if existing.DoctorID == w.DoctorID && existing.Weekday == w.Weekday && existing.Start == w.Start {
			existing.End = w.End
			existing.Active = w.Active
			existing.UpdatedAt = now
			s.windows[id] = existing
			return &existing, nil
		}
	}
	w.ID = uuid.New()
	w.CreatedAt, w.UpdatedAt = now, now
	s.windows[w.ID] = w
	return &w, nil
}

func (s *Store) UpdateAvailability(_ context.Context, w appointment.AvailabilityWindow) (*appointment.AvailabilityWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.windows[w.ID]
	if !ok {
		return nil, appointment.ErrWindowNotFound
	}
	for id, other := range s.windows {
		if id != w.ID && other.DoctorID == existing.DoctorID && other.Weekday == existing.Weekday && other.Start == w.Start {
			return nil, appointment.ErrInvalidInput
		}
	}
	existing.Start, existing.End, existing.Active = w.Start, w.End, w.Active
	existing.UpdatedAt = time.Now()
	s.windows[w.ID] = existing
	return &existing, nil
}

func (s *Store) DeleteAvailability(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.windows[id]; !ok {
		return appointment.ErrWindowNotFound
	}
	delete(s.windows, id)
	return nil
}

func (s *Store) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (s *Store) ListOccupying(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error) {
	return s.filterAppointments(func(a appointment.Appointment) bool {
		return a.DoctorID == doctorID &&
			a.Status != appointment.StatusCanceled &&
			!a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to)
	}, true, 0, 0), nil
}

func (s *Store) ListAppointments(_ context.Context, f appointment.AppointmentFilter) ([]appointment.Appointment, error) {
	statuses := map[appointment.AppointmentStatus]bool{}
	for _, st := range f.Statuses {
		statuses[st] = true
	}
	return s.filterAppointments(func(a appointment.Appointment) bool {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			return false
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			return false
		}
		return len(statuses) == 0 || statuses[a.Status]
	}, f.Ascending, f.Limit, f.Offset), nil
}

func (s *Store) filterAppointments(keep func(appointment.Appointment) bool, asc bool, limit, offset int) []appointment.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []appointment.Appointment{}
	for _, a := range s.appointments {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if asc {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ScheduledAt.After(out[j].ScheduledAt)
	})
	if offset > 0 {
		if offset >= len(out) {
			return []appointment.Appointment{}
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (s *Store) InsertAppointment(_ context.Context, a appointment.Appointment) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.appointments {
		if existing.DoctorID == a.DoctorID &&
			existing.Status != appointment.StatusCanceled &&
			existing.ScheduledAt.Equal(a.ScheduledAt) {
			return nil, appointment.ErrSlotTaken
		}
	}
	s.appointments[a.ID] = a
	return &a, nil
}

func (s *Store) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to appointment.AppointmentStatus, at time.Time) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok || a.Status != from {
		return nil, appointment.ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = at
	if to == appointment.StatusCanceled {
		stamp := at
		a.CanceledAt = &stamp
	}
	s.appointments[id] = a
	return &a, nil
}

func (s *Store) SetVideoCallURL(_ context.Context, id uuid.UUID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok || a.VideoCallURL != nil {
		return appointment.ErrAppointmentNotFound
	}
	a.VideoCallURL = &url
	s.appointments[id] = a
	return nil
}

func (s *Store) ListMissingVideoRoom(_ context.Context, from, to time.Time, limit int) ([]appointment.Appointment, error) {
	return s.filterAppointments(func(a appointment.Appointment) bool {
		return a.Status != appointment.StatusCanceled && a.Status != appointment.StatusCompleted &&
			a.VideoCallURL == nil &&
			!a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to)
	}, true, limit, 0), nil
}

func (s *Store) CountAppointmentsByStatus(context.Context) (map[appointment.AppointmentStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[appointment.AppointmentStatus]int{}
	for _, st := range []appointment.AppointmentStatus{
		appointment.StatusPending, appointment.StatusConfirmed, appointment.StatusInProgress,
		appointment.StatusCompleted, appointment.StatusCanceled,
	} {
		counts[st] = 0
	}
	for _, a := range s.appointments {
		counts[a.Status]++
	}
	return counts, nil
}

func (s *Store) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInsertEvent {
		return context.DeadlineExceeded
	}
	ev.ID = int64(len(s.events) + 1)
	s.events = append(s.events, ev)
	return nil
}

// Locker serializes slot critical sections in process, keyed like the Redis lock.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// Err, when set, is returned instead of running fn.
	Err error
}

var _ redisclient.Locker = (*Locker)(nil)

func NewLocker() *Locker {
	return &Locker{locks: map[string]*sync.Mutex{}}
}

func (l *Locker) WithSlotLock(ctx context.Context, doctorID uuid.UUID, at time.Time, fn func(ctx context.Context) error) error {
	if l.Err != nil {
		return l.Err
	}

	key := redisclient.SlotKey(doctorID, at)
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}
