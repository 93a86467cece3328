package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var statusRank = map[AppointmentStatus]int{
	StatusPending:    0,
	StatusConfirmed:  1,
	StatusInProgress: 2,
	StatusCompleted:  3,
}

// IsTerminal reports whether no transition can leave s.
func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// CanTransition encodes the lifecycle: forward-only along
// PENDING -> CONFIRMED -> IN_PROGRESS -> COMPLETED (steps may be skipped),
// any non-terminal state may be canceled, and terminal states are final.
func CanTransition(from, to AppointmentStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusCanceled {
		return true
	}
	fromRank, okFrom := statusRank[from]
	toRank, okTo := statusRank[to]
	return okFrom && okTo && toRank > fromRank
}

// CancelAppointment cancels on behalf of a participant or an admin.
// Canceling a canceled appointment returns it unchanged; canceled_at is
// stamped once, by the call that performed the transition.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	appt, err := s.GetAppointment(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	// a concurrent transition makes the conditional update miss; re-read once
	for attempt := 0; attempt < 2; attempt++ {
		if appt.Status == StatusCanceled {
			return appt, nil
		}
		if !CanTransition(appt.Status, StatusCanceled) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, appt.Status, StatusCanceled)
		}

		updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusCanceled, s.clock.Now())
		if err == nil {
			s.logEvent(ctx, updated.ID, EventAppointmentCanceled, map[string]any{
				"from":     appt.Status,
				"by":       actor.UserID.String(),
				"by_role":  actor.Role,
				"canceled": updated.CanceledAt,
			})
			return updated, nil
		}
		if !errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("cancel appointment: %w", err)
		}

		appt, err = s.repo.GetAppointmentByID(ctx, id)
		if err != nil {
			return nil, err
		}
	}

	if appt.Status == StatusCanceled {
		return appt, nil
	}
	return nil, fmt.Errorf("%w: appointment changed concurrently", ErrInvalidStatusTransition)
}

// AdvanceAppointment moves an appointment forward in its lifecycle. Only the
// appointment's doctor or an admin may do so; cancellation goes through
// CancelAppointment.
func (s *Service) AdvanceAppointment(ctx context.Context, id uuid.UUID, actor Actor, to AppointmentStatus) (*Appointment, error) {
	if to == StatusCanceled {
		return s.CancelAppointment(ctx, id, actor)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !(actor.Role == RoleDoctor && appt.DoctorID == actor.UserID) {
		return nil, ErrForbidden
	}
	if !CanTransition(appt.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, appt.Status, to)
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to, s.clock.Now())
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: appointment changed concurrently", ErrInvalidStatusTransition)
		}
		return nil, fmt.Errorf("advance appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentStatusChanged, map[string]any{
		"from": appt.Status,
		"to":   to,
		"by":   actor.UserID.String(),
	})
	return updated, nil
}
