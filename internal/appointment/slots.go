package appointment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// GenerateSlots derives the free slots on day from the doctor's windows and
// existing bookings.
//
// Each active window matching day's weekday is walked in SlotDuration steps
// from its start; a candidate is kept while it fits entirely inside the
// window, does not start before now, and does not overlap any occupied
// interval of a non-canceled appointment. Results from all windows are
// merged, sorted by start and de-duplicated, so overlapping windows never
// list a slot twice. day's location is the deployment zone.
func GenerateSlots(day time.Time, windows []AvailabilityWindow, booked []Appointment, now time.Time) []Slot {
	day = startOfDay(day)
	weekday := WeekdayOf(day)

	occupied := make([]Slot, 0, len(booked))
	for _, a := range booked {
		if a.Status == StatusCanceled {
			continue
		}
		occupied = append(occupied, Slot{Start: a.ScheduledAt, End: a.EndsAt()})
	}

	slots := []Slot{}
	for _, w := range windows {
		if !w.Active || w.Weekday != weekday {
			continue
		}

		cur := w.Start.On(day)
		end := w.End.On(day)

		// first grid boundary at or after now
		if cur.Before(now) {
			steps := (now.Sub(cur) + SlotDuration - 1) / SlotDuration
			cur = cur.Add(steps * SlotDuration)
		}

		for ; !cur.Add(SlotDuration).After(end); cur = cur.Add(SlotDuration) {
			candidate := Slot{Start: cur, End: cur.Add(SlotDuration)}
			if !overlapsAny(candidate, occupied) {
				slots = append(slots, candidate)
			}
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		return slots[i].Start.Before(slots[j].Start)
	})

	// overlapping windows yield the same grid boundary more than once
	out := slots[:0]
	for i, sl := range slots {
		if i > 0 && sl.Start.Equal(out[len(out)-1].Start) {
			continue
		}
		out = append(out, sl)
	}
	return out
}

// overlaps uses half-open intervals: touching endpoints do not conflict.
func overlaps(a, b Slot) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

func overlapsAny(s Slot, occupied []Slot) bool {
	for _, occ := range occupied {
		if overlaps(s, occ) {
			return true
		}
	}
	return false
}

// onWindowGrid reports whether start is a step boundary of some window on
// day with the full slot inside that window.
func onWindowGrid(day, start time.Time, windows []AvailabilityWindow) bool {
	for _, w := range windows {
		if !w.Active {
			continue
		}
		ws := w.Start.On(day)
		we := w.End.On(day)
		if start.Before(ws) || start.Add(SlotDuration).After(we) {
			continue
		}
		if start.Sub(ws)%SlotDuration == 0 {
			return true
		}
	}
	return false
}

func containsStart(slots []Slot, start time.Time) bool {
	i := sort.Search(len(slots), func(i int) bool {
		return !slots[i].Start.Before(start)
	})
	return i < len(slots) && slots[i].Start.Equal(start)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ListSlots returns the ordered free slots for a doctor on the calendar date
// of day in the deployment zone. No windows that day is an empty list, not an error.
func (s *Service) ListSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Slot, error) {
	if _, err := s.loadDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.freeSlots(ctx, doctorID, s.localDay(day), s.clock.Now())
}

func (s *Service) freeSlots(ctx context.Context, doctorID uuid.UUID, day, now time.Time) ([]Slot, error) {
	windows, err := s.repo.ListActiveWindows(ctx, doctorID, WeekdayOf(day))
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	if len(windows) == 0 {
		return []Slot{}, nil
	}

	booked, err := s.repo.ListOccupying(ctx, doctorID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	return GenerateSlots(day, windows, booked, now), nil
}

// localDay is midnight of t's calendar date in the deployment zone. A date
// parsed without zone information keeps its wall-clock fields.
func (s *Service) localDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}
