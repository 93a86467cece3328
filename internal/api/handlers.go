package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/auth"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := auth.ActorFrom(r.Context())

		var req CreateAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DOCTOR_ID", "doctor_id must be a valid UUID")
			return
		}

		start, err := parseInstant(req.Start, svc.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_START", "start must be an RFC3339 timestamp")
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), appointment.BookingRequest{
			PatientID: actor.UserID,
			DoctorID:  doctorID,
			Start:     start,
			Reason:    req.Reason,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := auth.ActorFrom(r.Context())
		q := r.URL.Query()

		opts := appointment.ListOptions{}
		var err error
		if v := q.Get("upcoming"); v != "" {
			if opts.UpcomingOnly, err = strconv.ParseBool(v); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_QUERY", "upcoming must be a boolean")
				return
			}
		}
		if opts.Limit, err = intParam(q.Get("limit")); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be a non-negative integer")
			return
		}
		if opts.Offset, err = intParam(q.Get("offset")); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "offset must be a non-negative integer")
			return
		}

		appts, err := svc.ListAppointments(r.Context(), actor, opts)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := AppointmentListResponse{
			Appointments: make([]AppointmentResponse, 0, len(appts)),
			Count:        len(appts),
		}
		for i := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := auth.ActorFrom(r.Context())
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id, actor)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := auth.ActorFrom(r.Context())
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), id, actor)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := auth.ActorFrom(r.Context())
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		status, err := appointment.ParseStatus(req.Status)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		appt, err := svc.AdvanceAppointment(r.Context(), id, actor, status)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}

// parseInstant accepts RFC3339, or a zone-less "2006-01-02T15:04[:05]"
// read in the deployment zone.
func parseInstant(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	var lastErr error
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04"} {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
