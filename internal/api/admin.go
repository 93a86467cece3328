package api

import (
	"net/http"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/auth"
)

func promoteUserHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := auth.ActorFrom(r.Context())
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		u, err := svc.PromoteToDoctor(r.Context(), actor, id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, UserResponse{ID: u.ID, Name: u.Name, Email: u.Email, Role: string(u.Role)})
	}
}

func statsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := auth.ActorFrom(r.Context())

		st, err := svc.Stats(r.Context(), actor)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := StatsResponse{
			AppointmentsByStatus: make(map[string]int, len(st.AppointmentsByStatus)),
			UsersByRole:          make(map[string]int, len(st.UsersByRole)),
			TotalAppointments:    st.TotalAppointments,
			TotalUsers:           st.TotalUsers,
		}
		for k, v := range st.AppointmentsByStatus {
			resp.AppointmentsByStatus[string(k)] = v
		}
		for k, v := range st.UsersByRole {
			resp.UsersByRole[string(k)] = v
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
