package appointment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

func window(doctorID uuid.UUID, day appointment.Weekday, startHour, endHour int) appointment.AvailabilityWindow {
	return appointment.AvailabilityWindow{
		DoctorID: doctorID,
		Weekday:  day,
		Start:    appointment.NewTimeOfDay(startHour, 0),
		End:      appointment.NewTimeOfDay(endHour, 0),
		Active:   true,
	}
}

func starts(slots []appointment.Slot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Start.Format("15:04")
	}
	return out
}

func TestGenerateSlots_MorningWindow(t *testing.T) {
	doctor := uuid.New()
	windows := []appointment.AvailabilityWindow{window(doctor, appointment.Monday, 8, 12)}
	now := monday.AddDate(0, 0, -1)

	slots := appointment.GenerateSlots(monday, windows, nil, now)

	if len(slots) != 12 {
		t.Fatalf("expected 12 slots, got %d: %v", len(slots), starts(slots))
	}
	if got := slots[0].Start; !got.Equal(at(monday, 8, 0)) {
		t.Errorf("first slot: expected 08:00, got %s", got.Format("15:04"))
	}
	if got := slots[11].Start; !got.Equal(at(monday, 11, 40)) {
		t.Errorf("last slot: expected 11:40, got %s", got.Format("15:04"))
	}
	for i, s := range slots {
		if s.End.Sub(s.Start) != appointment.SlotDuration {
			t.Errorf("slot %d lasts %s", i, s.End.Sub(s.Start))
		}
		if s.Start.Before(at(monday, 8, 0)) || s.End.After(at(monday, 12, 0)) {
			t.Errorf("slot %d [%s, %s) leaves the window", i, s.Start.Format("15:04"), s.End.Format("15:04"))
		}
		if i > 0 && !slots[i-1].Start.Before(s.Start) {
			t.Errorf("slots not strictly ascending at %d", i)
		}
	}
}

func TestGenerateSlots_ExcludesBooked(t *testing.T) {
	doctor := uuid.New()
	tuesday := monday.AddDate(0, 0, 1)
	windows := []appointment.AvailabilityWindow{window(doctor, appointment.Tuesday, 8, 12)}
	now := monday

	tests := []struct {
		name    string
		booked  []appointment.Appointment
		want    int
		missing []string
	}{
		{
			name:    "booked 08:40",
			booked:  []appointment.Appointment{{DoctorID: doctor, ScheduledAt: at(tuesday, 8, 40), Status: appointment.StatusPending}},
			want:    11,
			missing: []string{"08:40"},
		},
		{
			name:   "canceled booking frees the slot",
			booked: []appointment.Appointment{{DoctorID: doctor, ScheduledAt: at(tuesday, 8, 40), Status: appointment.StatusCanceled}},
			want:   12,
		},
		{
			name:    "touching endpoints do not conflict",
			booked:  []appointment.Appointment{{DoctorID: doctor, ScheduledAt: at(tuesday, 8, 20), Status: appointment.StatusConfirmed}},
			want:    11,
			missing: []string{"08:20"},
		},
		{
			name:    "off-grid booking blocks both neighbours",
			booked:  []appointment.Appointment{{DoctorID: doctor, ScheduledAt: at(tuesday, 8, 30), Status: appointment.StatusPending}},
			want:    10,
			missing: []string{"08:20", "08:40"},
		},
		{
			name:    "completed still occupies",
			booked:  []appointment.Appointment{{DoctorID: doctor, ScheduledAt: at(tuesday, 11, 40), Status: appointment.StatusCompleted}},
			want:    11,
			missing: []string{"11:40"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slots := appointment.GenerateSlots(tuesday, windows, tt.booked, now)
			if len(slots) != tt.want {
				t.Fatalf("expected %d slots, got %d: %v", tt.want, len(slots), starts(slots))
			}
			got := map[string]bool{}
			for _, s := range starts(slots) {
				got[s] = true
			}
			for _, m := range tt.missing {
				if got[m] {
					t.Errorf("slot %s should be excluded", m)
				}
			}
		})
	}
}

func TestGenerateSlots_SplitWindowsMerged(t *testing.T) {
	doctor := uuid.New()
	windows := []appointment.AvailabilityWindow{
		window(doctor, appointment.Monday, 14, 16),
		window(doctor, appointment.Monday, 8, 10),
	}

	slots := appointment.GenerateSlots(monday, windows, nil, monday.AddDate(0, 0, -1))

	want := []string{
		"08:00", "08:20", "08:40", "09:00", "09:20", "09:40",
		"14:00", "14:20", "14:40", "15:00", "15:20", "15:40",
	}
	got := starts(slots)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestGenerateSlots_OverlappingWindowsListEachSlotOnce(t *testing.T) {
	doctor := uuid.New()
	windows := []appointment.AvailabilityWindow{
		window(doctor, appointment.Monday, 8, 12),
		window(doctor, appointment.Monday, 10, 14),
		window(doctor, appointment.Monday, 11, 12),
	}
	booked := []appointment.Appointment{
		{DoctorID: doctor, ScheduledAt: at(monday, 10, 20), Status: appointment.StatusConfirmed},
	}

	slots := appointment.GenerateSlots(monday, windows, booked, monday.AddDate(0, 0, -1))

	got := starts(slots)
	if len(got) != 17 {
		t.Fatalf("expected 17 distinct slots from 08:00 to 13:40 minus 10:20, got %d: %v", len(got), got)
	}
	for i := 1; i < len(slots); i++ {
		if !slots[i-1].Start.Before(slots[i].Start) {
			t.Fatalf("slots not strictly ascending at %d: %v", i, got)
		}
	}
	if got[0] != "08:00" || got[len(got)-1] != "13:40" {
		t.Errorf("unexpected bounds %s..%s", got[0], got[len(got)-1])
	}
	for _, s := range got {
		if s == "10:20" {
			t.Error("booked 10:20 must stay excluded")
		}
	}
}

func TestListSlots_OverlappingAvailability(t *testing.T) {
	f := newFixture(t, monday.AddDate(0, 0, -1))
	ctx := context.Background()

	_, err := f.svc.SetAvailability(ctx, f.doctorActor(), f.doctor.ID, appointment.WindowInput{
		Weekday: appointment.Monday,
		Start:   appointment.NewTimeOfDay(10, 0),
		End:     appointment.NewTimeOfDay(14, 0),
		Active:  true,
	})
	if err != nil {
		t.Fatalf("SetAvailability() error: %v", err)
	}

	slots, err := f.svc.ListSlots(ctx, f.doctor.ID, monday)
	if err != nil {
		t.Fatalf("ListSlots() error: %v", err)
	}
	seen := map[time.Time]bool{}
	for _, s := range slots {
		if seen[s.Start] {
			t.Fatalf("slot %s listed twice", s.Start.Format("15:04"))
		}
		seen[s.Start] = true
	}
	if len(slots) != 18 {
		t.Fatalf("expected 18 slots across 08:00-14:00, got %d", len(slots))
	}

	// a boundary shared by both windows is still bookable exactly once
	f.book(t, at(monday, 10, 0))
	_, err = f.svc.CreateAppointment(ctx, appointment.BookingRequest{
		PatientID: newPatient(f.store).ID,
		DoctorID:  f.doctor.ID,
		Start:     at(monday, 10, 0),
	})
	if !errors.Is(err, appointment.ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
}

func TestGenerateSlots_Today(t *testing.T) {
	doctor := uuid.New()
	windows := []appointment.AvailabilityWindow{window(doctor, appointment.Monday, 8, 12)}

	tests := []struct {
		name  string
		now   time.Time
		first string
		count int
	}{
		{"mid slot", at(monday, 9, 5), "09:20", 8},
		{"exactly on boundary", at(monday, 9, 20), "09:20", 8},
		{"before window", at(monday, 6, 0), "08:00", 12},
		{"last slot still open", at(monday, 11, 40), "11:40", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slots := appointment.GenerateSlots(monday, windows, nil, tt.now)
			if len(slots) != tt.count {
				t.Fatalf("expected %d slots, got %d: %v", tt.count, len(slots), starts(slots))
			}
			if starts(slots)[0] != tt.first {
				t.Errorf("expected first slot %s, got %s", tt.first, starts(slots)[0])
			}
			for _, s := range slots {
				if s.Start.Before(tt.now) {
					t.Errorf("slot %s starts before now", s.Start.Format("15:04"))
				}
			}
		})
	}
}

func TestGenerateSlots_Empty(t *testing.T) {
	doctor := uuid.New()
	inactive := window(doctor, appointment.Monday, 8, 12)
	inactive.Active = false

	tests := []struct {
		name    string
		day     time.Time
		windows []appointment.AvailabilityWindow
		now     time.Time
	}{
		{"no windows", monday, nil, monday.AddDate(0, 0, -1)},
		{"weekend", monday.AddDate(0, 0, 5), []appointment.AvailabilityWindow{window(doctor, appointment.Monday, 8, 12)}, monday},
		{"inactive window", monday, []appointment.AvailabilityWindow{inactive}, monday.AddDate(0, 0, -1)},
		{"past day", monday, []appointment.AvailabilityWindow{window(doctor, appointment.Monday, 8, 12)}, monday.AddDate(0, 0, 3)},
		{"window already over", monday, []appointment.AvailabilityWindow{window(doctor, appointment.Monday, 8, 12)}, at(monday, 11, 41)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slots := appointment.GenerateSlots(tt.day, tt.windows, nil, tt.now)
			if slots == nil || len(slots) != 0 {
				t.Fatalf("expected empty non-nil list, got %v", slots)
			}
		})
	}
}

func TestListSlots(t *testing.T) {
	f := newFixture(t, monday.AddDate(0, 0, -1))
	ctx := context.Background()

	slots, err := f.svc.ListSlots(ctx, f.doctor.ID, monday)
	if err != nil {
		t.Fatalf("ListSlots() error: %v", err)
	}
	if len(slots) != 12 {
		t.Fatalf("expected 12 slots, got %d", len(slots))
	}

	saturday := monday.AddDate(0, 0, 5)
	slots, err = f.svc.ListSlots(ctx, f.doctor.ID, saturday)
	if err != nil {
		t.Fatalf("ListSlots(saturday) error: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("expected no slots on saturday, got %d", len(slots))
	}

	for _, id := range []uuid.UUID{uuid.New(), f.patient.ID} {
		if _, err := f.svc.ListSlots(ctx, id, monday); !errors.Is(err, appointment.ErrDoctorNotFound) {
			t.Errorf("ListSlots(%s): expected ErrDoctorNotFound, got %v", id, err)
		}
	}
}

func TestListSlots_DeploymentZone(t *testing.T) {
	zone := time.FixedZone("UTC-5", -5*60*60)
	now := time.Date(2030, 1, 6, 12, 0, 0, 0, zone)
	f := newFixture(t, now)

	// the calendar date is taken as-is and placed in the deployment zone
	slots, err := f.svc.ListSlots(context.Background(), f.doctor.ID, monday)
	if err != nil {
		t.Fatalf("ListSlots() error: %v", err)
	}
	if len(slots) != 12 {
		t.Fatalf("expected 12 slots, got %d", len(slots))
	}
	want := time.Date(2030, 1, 7, 8, 0, 0, 0, zone)
	if !slots[0].Start.Equal(want) {
		t.Errorf("expected first slot at %s, got %s", want, slots[0].Start)
	}
	if got := slots[0].Start.UTC().Hour(); got != 13 {
		t.Errorf("expected 13:00 UTC, got %d:00", got)
	}
}
