package appointment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/appointment/memstore"
	"github.com/hackgods/clinic-scheduling/internal/clock"
)

// 2030-01-07 is a Monday.
var monday = time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC)

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

type fixture struct {
	store   *memstore.Store
	locker  *memstore.Locker
	svc     *appointment.Service
	patient appointment.User
	doctor  appointment.User
	admin   appointment.User
	now     time.Time
}

func (f *fixture) patientActor() appointment.Actor {
	return appointment.Actor{UserID: f.patient.ID, Role: appointment.RolePatient}
}

func (f *fixture) doctorActor() appointment.Actor {
	return appointment.Actor{UserID: f.doctor.ID, Role: appointment.RoleDoctor}
}

func (f *fixture) adminActor() appointment.Actor {
	return appointment.Actor{UserID: f.admin.ID, Role: appointment.RoleAdmin}
}

// newFixture seeds one patient, one admin and one doctor with the default
// Mon-Fri 08:00-12:00 availability.
func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()

	store := memstore.New()
	f := &fixture{
		store:   store,
		locker:  memstore.NewLocker(),
		patient: store.AddUser(appointment.User{Name: "Pat", Email: "pat@example.com", Role: appointment.RolePatient}),
		doctor:  store.AddUser(appointment.User{Name: "Doc", Email: "doc@example.com", Role: appointment.RoleDoctor}),
		admin:   store.AddUser(appointment.User{Name: "Ada", Email: "ada@example.com", Role: appointment.RoleAdmin}),
		now:     now,
	}
	for _, w := range appointment.DefaultWeeklyAvailability(f.doctor.ID) {
		store.AddWindow(w)
	}
	f.svc = f.service(now, nil)
	return f
}

// service builds another service over the same store, e.g. with a later clock.
func (f *fixture) service(now time.Time, rooms appointment.RoomProvisioner) *appointment.Service {
	return appointment.NewService(appointment.Deps{
		Repo:     f.store,
		Locker:   f.locker,
		Rooms:    rooms,
		Clock:    clock.Fixed(now),
		Location: now.Location(),
		Logger:   zerolog.Nop(),
	})
}

func (f *fixture) book(t *testing.T, start time.Time) *appointment.Appointment {
	t.Helper()
	appt, err := f.svc.CreateAppointment(context.Background(), appointment.BookingRequest{
		PatientID: f.patient.ID,
		DoctorID:  f.doctor.ID,
		Start:     start,
		Reason:    "checkup",
	})
	if err != nil {
		t.Fatalf("CreateAppointment(%s) error: %v", start, err)
	}
	return appt
}

type fakeRooms struct {
	mu    sync.Mutex
	calls int
	url   string
	err   error
}

func (r *fakeRooms) CreateRoom(_ context.Context, appt appointment.Appointment) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return r.url + "/" + appt.ID.String(), nil
}

var errRoomsDown = errors.New("video api unavailable")

func newPatient(store *memstore.Store) appointment.User {
	return store.AddUser(appointment.User{
		Name:  "Patient",
		Email: uuid.NewString() + "@example.com",
		Role:  appointment.RolePatient,
	})
}
