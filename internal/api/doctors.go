package api

import (
	"net/http"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/auth"
)

const dateLayout = "2006-01-02"

func listSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID")
		if !ok {
			return
		}

		raw := r.URL.Query().Get("date")
		if raw == "" {
			writeError(w, http.StatusBadRequest, "INVALID_DATE", "date query parameter is required (YYYY-MM-DD)")
			return
		}
		day, err := time.ParseInLocation(dateLayout, raw, svc.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DATE", "date must be YYYY-MM-DD")
			return
		}

		slots, err := svc.ListSlots(r.Context(), doctorID, day)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := SlotsResponse{DoctorID: doctorID, Date: raw, Slots: make([]SlotResponse, 0, len(slots))}
		for _, s := range slots {
			resp.Slots = append(resp.Slots, SlotResponse{Start: s.Start, End: s.End})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID")
		if !ok {
			return
		}

		windows, err := svc.ListAvailability(r.Context(), doctorID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := make([]WindowResponse, 0, len(windows))
		for i := range windows {
			resp = append(resp, toWindowResponse(&windows[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func setAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := auth.ActorFrom(r.Context())
		doctorID, ok := uuidParam(w, r, "doctorID")
		if !ok {
			return
		}

		var req SetAvailabilityRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		start, err := appointment.ParseTimeOfDay(req.Start)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		end, err := appointment.ParseTimeOfDay(req.End)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		}

		win, err := svc.SetAvailability(r.Context(), actor, doctorID, appointment.WindowInput{
			Weekday: appointment.Weekday(*req.Weekday),
			Start:   start,
			End:     end,
			Active:  active,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toWindowResponse(win))
	}
}

func patchAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := auth.ActorFrom(r.Context())
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		var req PatchAvailabilityRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		patch := appointment.WindowPatch{Active: req.Active}
		for _, f := range []struct {
			raw *string
			dst **appointment.TimeOfDay
		}{{req.Start, &patch.Start}, {req.End, &patch.End}} {
			if f.raw == nil {
				continue
			}
			t, err := appointment.ParseTimeOfDay(*f.raw)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			*f.dst = &t
		}

		win, err := svc.UpdateAvailability(r.Context(), actor, id, patch)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toWindowResponse(win))
	}
}

func deleteAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := auth.ActorFrom(r.Context())
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		if err := svc.DeleteAvailability(r.Context(), actor, id); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
