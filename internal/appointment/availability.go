package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type WindowInput struct {
	Weekday Weekday
	Start   TimeOfDay
	End     TimeOfDay
	Active  bool
}

// WindowPatch carries the fields of a partial window update; nil means unchanged.
type WindowPatch struct {
	Start  *TimeOfDay
	End    *TimeOfDay
	Active *bool
}

func canManageAvailability(actor Actor, doctorID uuid.UUID) bool {
	return actor.Role == RoleDoctor && actor.UserID == doctorID
}

// SetAvailability creates the doctor's window starting at in.Start on
// in.Weekday, or replaces its end and active flag if it exists. Existing
// appointments are never touched.
func (s *Service) SetAvailability(ctx context.Context, actor Actor, doctorID uuid.UUID, in WindowInput) (*AvailabilityWindow, error) {
	if !canManageAvailability(actor, doctorID) {
		return nil, ErrForbidden
	}

	w := AvailabilityWindow{
		DoctorID: doctorID,
		Weekday:  in.Weekday,
		Start:    in.Start,
		End:      in.End,
		Active:   in.Active,
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.loadDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	saved, err := s.repo.UpsertAvailability(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("save availability: %w", err)
	}

	s.log.Info().
		Str("doctor_id", doctorID.String()).
		Str("weekday", saved.Weekday.String()).
		Str("window", saved.Start.String()+"-"+saved.End.String()).
		Bool("active", saved.Active).
		Msg("availability set")
	return saved, nil
}

func (s *Service) ListAvailability(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityWindow, error) {
	if _, err := s.loadDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	windows, err := s.repo.ListAvailability(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	return windows, nil
}

func (s *Service) UpdateAvailability(ctx context.Context, actor Actor, id uuid.UUID, patch WindowPatch) (*AvailabilityWindow, error) {
	w, err := s.repo.GetAvailability(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManageAvailability(actor, w.DoctorID) {
		return nil, ErrForbidden
	}

	if patch.Start != nil {
		w.Start = *patch.Start
	}
	if patch.End != nil {
		w.End = *patch.End
	}
	if patch.Active != nil {
		w.Active = *patch.Active
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateAvailability(ctx, *w)
	if err != nil {
		return nil, fmt.Errorf("update availability: %w", err)
	}
	return updated, nil
}

func (s *Service) DeleteAvailability(ctx context.Context, actor Actor, id uuid.UUID) error {
	w, err := s.repo.GetAvailability(ctx, id)
	if err != nil {
		return err
	}
	if !canManageAvailability(actor, w.DoctorID) {
		return ErrForbidden
	}
	if err := s.repo.DeleteAvailability(ctx, id); err != nil {
		return fmt.Errorf("delete availability: %w", err)
	}
	return nil
}

// PromoteToDoctor gives a user the DOCTOR role. A user with no active window
// gets DefaultWeeklyAvailability so they are bookable straight away.
func (s *Service) PromoteToDoctor(ctx context.Context, actor Actor, userID uuid.UUID) (*User, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if actor.UserID == userID {
		return nil, ErrSelfRoleChange
	}

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Role == RoleDoctor {
		return u, nil
	}

	defaults := DefaultWeeklyAvailability(userID)
	for _, w := range defaults {
		if err := w.Validate(); err != nil {
			return nil, err
		}
	}

	promoted, err := s.repo.PromoteToDoctor(ctx, userID, defaults)
	if err != nil {
		return nil, fmt.Errorf("promote to doctor: %w", err)
	}

	s.log.Info().
		Str("user_id", userID.String()).
		Str("by", actor.UserID.String()).
		Msg("user promoted to doctor")
	return promoted, nil
}
