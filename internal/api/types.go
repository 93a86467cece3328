package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	DoctorID string `json:"doctor_id" validate:"required,uuid"`
	Start    string `json:"start" validate:"required"`
	Reason   string `json:"reason" validate:"max=255"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type SetAvailabilityRequest struct {
	Weekday *int   `json:"weekday" validate:"required,min=0,max=6"`
	Start   string `json:"start" validate:"required"`
	End     string `json:"end" validate:"required"`
	Active  *bool  `json:"active"`
}

type PatchAvailabilityRequest struct {
	Start  *string `json:"start"`
	End    *string `json:"end"`
	Active *bool   `json:"active"`
}

type AppointmentResponse struct {
	ID           uuid.UUID  `json:"id"`
	PatientID    uuid.UUID  `json:"patient_id"`
	DoctorID     uuid.UUID  `json:"doctor_id"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	EndsAt       time.Time  `json:"ends_at"`
	Reason       string     `json:"reason"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CanceledAt   *time.Time `json:"canceled_at,omitempty"`
	VideoCallURL *string    `json:"video_call_url,omitempty"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Count        int                   `json:"count"`
}

type SlotResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type SlotsResponse struct {
	DoctorID uuid.UUID      `json:"doctor_id"`
	Date     string         `json:"date"`
	Slots    []SlotResponse `json:"slots"`
}

type WindowResponse struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	Weekday     int       `json:"weekday"`
	WeekdayName string    `json:"weekday_name"`
	Start       string    `json:"start"`
	End         string    `json:"end"`
	Active      bool      `json:"active"`
}

type UserResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  string    `json:"role"`
}

type StatsResponse struct {
	AppointmentsByStatus map[string]int `json:"appointments_by_status"`
	UsersByRole          map[string]int `json:"users_by_role"`
	TotalAppointments    int            `json:"total_appointments"`
	TotalUsers           int            `json:"total_users"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:           a.ID,
		PatientID:    a.PatientID,
		DoctorID:     a.DoctorID,
		ScheduledAt:  a.ScheduledAt,
		EndsAt:       a.EndsAt(),
		Reason:       a.Reason,
		Status:       string(a.Status),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
		CanceledAt:   a.CanceledAt,
		VideoCallURL: a.VideoCallURL,
	}
}

func toWindowResponse(w *appointment.AvailabilityWindow) WindowResponse {
	return WindowResponse{
		ID:          w.ID,
		DoctorID:    w.DoctorID,
		Weekday:     int(w.Weekday),
		WeekdayName: w.Weekday.String(),
		Start:       w.Start.String(),
		End:         w.End.String(),
		Active:      w.Active,
	}
}
