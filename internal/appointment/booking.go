package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

const maxReasonLength = 255

type BookingRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Start     time.Time
	Reason    string
}

// CreateAppointment validates a booking against live state and stores it as
// PENDING. Rejections are checked in order: ErrPastDatetime,
// ErrOutsideAvailability, ErrSlotTaken.
//
// The slot set is re-derived inside a per-(doctor, start) lock rather than
// trusting whatever the caller listed earlier, and the insert itself is
// guarded by the unique (doctor, scheduled_at) index, so of two concurrent
// requests for one slot exactly one wins and the other gets ErrSlotTaken.
func (s *Service) CreateAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if utf8.RuneCountInString(req.Reason) > maxReasonLength {
		return nil, fmt.Errorf("%w: reason longer than %d characters", ErrInvalidInput, maxReasonLength)
	}
	if _, err := s.loadPatient(ctx, req.PatientID); err != nil {
		return nil, err
	}
	if _, err := s.loadDoctor(ctx, req.DoctorID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	start := req.Start.In(s.loc)

	if !start.After(now) {
		return nil, fmt.Errorf("%w: %s is not after %s", ErrPastDatetime,
			start.Format(time.RFC3339), now.In(s.loc).Format(time.RFC3339))
	}

	day := startOfDay(start)
	windows, err := s.repo.ListActiveWindows(ctx, req.DoctorID, WeekdayOf(day))
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	if !onWindowGrid(day, start, windows) {
		return nil, fmt.Errorf("%w: %s on %s", ErrOutsideAvailability,
			start.Format("15:04"), WeekdayOf(day))
	}

	var created *Appointment

	book := func(lockCtx context.Context) error {
		// the lock may have been waited on; judge the slot at write time
		now := s.clock.Now()
		if !start.After(now) {
			return fmt.Errorf("%w: %s is not after %s", ErrPastDatetime,
				start.Format(time.RFC3339), now.In(s.loc).Format(time.RFC3339))
		}

		free, err := s.freeSlots(lockCtx, req.DoctorID, day, now)
		if err != nil {
			return err
		}
		if !containsStart(free, start) {
			return ErrSlotTaken
		}

		appt, err := s.repo.InsertAppointment(lockCtx, Appointment{
			ID:          uuid.New(),
			PatientID:   req.PatientID,
			DoctorID:    req.DoctorID,
			ScheduledAt: start,
			Reason:      req.Reason,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			if errors.Is(err, ErrSlotTaken) {
				return err
			}
			return fmt.Errorf("insert appointment: %w", err)
		}
		created = appt

		s.logEvent(lockCtx, appt.ID, EventAppointmentCreated, map[string]any{
			"patient_id":   req.PatientID.String(),
			"doctor_id":    req.DoctorID.String(),
			"scheduled_at": start,
		})
		return nil
	}

	err = s.locker.WithSlotLock(ctx, req.DoctorID, start, book)
	switch {
	case errors.Is(err, redisclient.ErrLockUnavailable):
		// the unique index still decides the winner
		s.log.Warn().Err(err).Str("doctor_id", req.DoctorID.String()).Msg("booking without slot lock")
		err = book(ctx)
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		// the holder may have failed; re-check once and let the index decide
		s.log.Debug().Str("doctor_id", req.DoctorID.String()).Msg("slot lock contended, re-checking")
		err = book(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.provisionRoom(ctx, created)

	return created, nil
}
