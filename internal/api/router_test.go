package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/appointment/memstore"
	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/clock"
)

// Sunday 2030-01-06 10:00 UTC; the next day is a bookable Monday.
var testNow = time.Date(2030, 1, 6, 10, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	store   *memstore.Store
	tokens  *auth.TokenManager
	patient appointment.User
	doctor  appointment.User
	admin   appointment.User
}

func newTestServer(t *testing.T, limiter *RateLimiter) *testServer {
	t.Helper()

	store := memstore.New()
	ts := &testServer{
		store:   store,
		tokens:  auth.NewTokenManager("test-secret", time.Hour),
		patient: store.AddUser(appointment.User{Name: "Pat", Email: "pat@example.com", Role: appointment.RolePatient}),
		doctor:  store.AddUser(appointment.User{Name: "Doc", Email: "doc@example.com", Role: appointment.RoleDoctor}),
		admin:   store.AddUser(appointment.User{Name: "Ada", Email: "ada@example.com", Role: appointment.RoleAdmin}),
	}
	for _, w := range appointment.DefaultWeeklyAvailability(ts.doctor.ID) {
		store.AddWindow(w)
	}

	svc := appointment.NewService(appointment.Deps{
		Repo:     store,
		Locker:   memstore.NewLocker(),
		Clock:    clock.Fixed(testNow),
		Location: time.UTC,
		Logger:   zerolog.Nop(),
	})
	ts.handler = NewRouter(RouterConfig{
		Service: svc,
		Tokens:  ts.tokens,
		Limiter: limiter,
		Health:  &HealthHandler{postgres: func(context.Context) error { return nil }},
		Logger:  zerolog.Nop(),
	})
	return ts
}

func (ts *testServer) token(t *testing.T, u appointment.User) string {
	t.Helper()
	tok, err := ts.tokens.Issue(appointment.Actor{UserID: u.ID, Role: u.Role})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	if got := decodeBody[ErrorResponse](t, rec).Error; got != code {
		t.Fatalf("expected error code %s, got %s", code, got)
	}
}

func TestRouter_Authentication(t *testing.T) {
	ts := newTestServer(t, nil)

	expectError(t, ts.do(t, http.MethodGet, "/appointments", "", nil), http.StatusUnauthorized, "UNAUTHENTICATED")
	expectError(t, ts.do(t, http.MethodGet, "/appointments", "not-a-jwt", nil), http.StatusUnauthorized, "UNAUTHENTICATED")

	other := auth.NewTokenManager("other-secret", time.Hour)
	forged, err := other.Issue(appointment.Actor{UserID: ts.admin.ID, Role: appointment.RoleAdmin})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	expectError(t, ts.do(t, http.MethodGet, "/admin/stats", forged, nil), http.StatusUnauthorized, "UNAUTHENTICATED")

	if rec := ts.do(t, http.MethodGet, "/health/live", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health should be public, got %d", rec.Code)
	}
}

func TestRouter_RoleGuards(t *testing.T) {
	ts := newTestServer(t, nil)
	patient := ts.token(t, ts.patient)
	doctor := ts.token(t, ts.doctor)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
	}{
		{"patient sets availability", http.MethodPut, "/doctors/" + ts.doctor.ID.String() + "/availability", patient,
			map[string]any{"weekday": 0, "start": "13:00", "end": "15:00"}},
		{"doctor books", http.MethodPost, "/appointments", doctor,
			map[string]any{"doctor_id": ts.doctor.ID, "start": "2030-01-07T09:00:00Z"}},
		{"patient reads stats", http.MethodGet, "/admin/stats", patient, nil},
		{"doctor promotes", http.MethodPost, "/admin/users/" + ts.patient.ID.String() + "/promote", doctor, nil},
		{"patient advances status", http.MethodPost, "/appointments/" + ts.doctor.ID.String() + "/status", patient,
			map[string]any{"status": "CONFIRMED"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, ts.do(t, tt.method, tt.path, tt.token, tt.body), http.StatusForbidden, "FORBIDDEN")
		})
	}
}

func TestCreateAppointment_HTTP(t *testing.T) {
	ts := newTestServer(t, nil)
	patient := ts.token(t, ts.patient)

	rec := ts.do(t, http.MethodPost, "/appointments", patient, map[string]any{
		"doctor_id": ts.doctor.ID,
		"start":     "2030-01-07T09:00:00Z",
		"reason":    "checkup",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	appt := decodeBody[AppointmentResponse](t, rec)
	if appt.Status != string(appointment.StatusPending) {
		t.Errorf("expected PENDING, got %s", appt.Status)
	}
	if appt.PatientID != ts.patient.ID {
		t.Errorf("patient should come from the token, got %s", appt.PatientID)
	}
	if want := time.Date(2030, 1, 7, 9, 20, 0, 0, time.UTC); !appt.EndsAt.Equal(want) {
		t.Errorf("expected ends_at %s, got %s", want, appt.EndsAt)
	}

	second := ts.store.AddUser(appointment.User{Name: "Sam", Email: "sam@example.com", Role: appointment.RolePatient})
	expectError(t, ts.do(t, http.MethodPost, "/appointments", ts.token(t, second), map[string]any{
		"doctor_id": ts.doctor.ID,
		"start":     "2030-01-07T09:00:00Z",
	}), http.StatusConflict, "SLOT_TAKEN")
}

func TestCreateAppointment_Rejections(t *testing.T) {
	ts := newTestServer(t, nil)
	patient := ts.token(t, ts.patient)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"off grid", map[string]any{"doctor_id": ts.doctor.ID, "start": "2030-01-07T09:05:00Z"},
			http.StatusUnprocessableEntity, "OUTSIDE_AVAILABILITY"},
		{"outside window", map[string]any{"doctor_id": ts.doctor.ID, "start": "2030-01-07T13:00:00Z"},
			http.StatusUnprocessableEntity, "OUTSIDE_AVAILABILITY"},
		{"in the past", map[string]any{"doctor_id": ts.doctor.ID, "start": "2029-12-31T09:00:00Z"},
			http.StatusUnprocessableEntity, "PAST_DATETIME"},
		{"unknown doctor", map[string]any{"doctor_id": ts.admin.ID, "start": "2030-01-07T09:00:00Z"},
			http.StatusNotFound, "DOCTOR_NOT_FOUND"},
		{"missing doctor", map[string]any{"start": "2030-01-07T09:00:00Z"},
			http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad start", map[string]any{"doctor_id": ts.doctor.ID, "start": "next monday"},
			http.StatusBadRequest, "INVALID_START"},
		{"unknown field", `{"doctor_id":"` + ts.doctor.ID.String() + `","start":"2030-01-07T09:00:00Z","room":1}`,
			http.StatusBadRequest, "INVALID_REQUEST_BODY"},
		{"malformed json", `{"doctor_id":`, http.StatusBadRequest, "INVALID_REQUEST_BODY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, ts.do(t, http.MethodPost, "/appointments", patient, tt.body), tt.status, tt.code)
		})
	}
	if n := ts.store.AppointmentCount(); n != 0 {
		t.Fatalf("rejected bookings must not be stored, got %d", n)
	}
}

func TestListSlots_HTTP(t *testing.T) {
	ts := newTestServer(t, nil)
	patient := ts.token(t, ts.patient)
	path := "/doctors/" + ts.doctor.ID.String() + "/slots"

	rec := ts.do(t, http.MethodGet, path+"?date=2030-01-07", patient, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	slots := decodeBody[SlotsResponse](t, rec)
	if len(slots.Slots) != 12 {
		t.Fatalf("expected 12 slots, got %d", len(slots.Slots))
	}
	if !slots.Slots[0].Start.Equal(time.Date(2030, 1, 7, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected first slot %s", slots.Slots[0].Start)
	}

	rec = ts.do(t, http.MethodGet, path+"?date=2030-01-12", patient, nil)
	if got := decodeBody[SlotsResponse](t, rec); rec.Code != http.StatusOK || len(got.Slots) != 0 {
		t.Fatalf("expected no Saturday slots, got %d %+v", rec.Code, got)
	}

	expectError(t, ts.do(t, http.MethodGet, path, patient, nil), http.StatusBadRequest, "INVALID_DATE")
	expectError(t, ts.do(t, http.MethodGet, path+"?date=07/01/2030", patient, nil), http.StatusBadRequest, "INVALID_DATE")
	expectError(t, ts.do(t, http.MethodGet, "/doctors/nope/slots?date=2030-01-07", patient, nil), http.StatusBadRequest, "INVALID_ID")
	expectError(t, ts.do(t, http.MethodGet, "/doctors/"+ts.patient.ID.String()+"/slots?date=2030-01-07", patient, nil),
		http.StatusNotFound, "DOCTOR_NOT_FOUND")
}

func TestAppointmentLifecycle_HTTP(t *testing.T) {
	ts := newTestServer(t, nil)
	patient := ts.token(t, ts.patient)
	doctor := ts.token(t, ts.doctor)

	rec := ts.do(t, http.MethodPost, "/appointments", patient, map[string]any{
		"doctor_id": ts.doctor.ID,
		"start":     "2030-01-07T10:00:00Z",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	id := decodeBody[AppointmentResponse](t, rec).ID.String()

	rec = ts.do(t, http.MethodPost, "/appointments/"+id+"/status", doctor, map[string]any{"status": "confirmed"})
	if rec.Code != http.StatusOK || decodeBody[AppointmentResponse](t, rec).Status != "CONFIRMED" {
		t.Fatalf("expected CONFIRMED, got %d: %s", rec.Code, rec.Body.String())
	}
	expectError(t, ts.do(t, http.MethodPost, "/appointments/"+id+"/status", doctor, map[string]any{"status": "PENDING"}),
		http.StatusUnprocessableEntity, "INVALID_STATUS_TRANSITION")
	expectError(t, ts.do(t, http.MethodPost, "/appointments/"+id+"/status", doctor, map[string]any{"status": "DONE"}),
		http.StatusBadRequest, "INVALID_INPUT")

	rec = ts.do(t, http.MethodGet, "/appointments?upcoming=true", patient, nil)
	list := decodeBody[AppointmentListResponse](t, rec)
	if rec.Code != http.StatusOK || list.Count != 1 {
		t.Fatalf("expected one upcoming appointment, got %d: %s", rec.Code, rec.Body.String())
	}
	expectError(t, ts.do(t, http.MethodGet, "/appointments?limit=-1", patient, nil), http.StatusBadRequest, "INVALID_QUERY")

	outsider := ts.store.AddUser(appointment.User{Name: "Oz", Email: "oz@example.com", Role: appointment.RolePatient})
	expectError(t, ts.do(t, http.MethodGet, "/appointments/"+id, ts.token(t, outsider), nil), http.StatusForbidden, "FORBIDDEN")

	for i := 0; i < 2; i++ {
		rec = ts.do(t, http.MethodPost, "/appointments/"+id+"/cancel", patient, nil)
		if rec.Code != http.StatusOK || decodeBody[AppointmentResponse](t, rec).Status != "CANCELED" {
			t.Fatalf("cancel #%d: expected CANCELED, got %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}
	expectError(t, ts.do(t, http.MethodGet, "/appointments/"+ts.doctor.ID.String(), patient, nil),
		http.StatusNotFound, "APPOINTMENT_NOT_FOUND")
}

func TestAvailability_HTTP(t *testing.T) {
	ts := newTestServer(t, nil)
	doctor := ts.token(t, ts.doctor)
	base := "/doctors/" + ts.doctor.ID.String() + "/availability"

	rec := ts.do(t, http.MethodPut, base, doctor, map[string]any{"weekday": 5, "start": "09:00", "end": "11:00"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	win := decodeBody[WindowResponse](t, rec)
	if win.WeekdayName != "Saturday" || !win.Active || win.Start != "09:00" || win.End != "11:00" {
		t.Fatalf("unexpected window %+v", win)
	}

	expectError(t, ts.do(t, http.MethodPut, base, doctor, map[string]any{"weekday": 5, "start": "09:30", "end": "11:00"}),
		http.StatusUnprocessableEntity, "WINDOW_BOUNDARY")
	expectError(t, ts.do(t, http.MethodPut, base, doctor, map[string]any{"weekday": 5, "start": "12:00", "end": "11:00"}),
		http.StatusUnprocessableEntity, "INVALID_WINDOW")
	expectError(t, ts.do(t, http.MethodPut, base, doctor, map[string]any{"weekday": 7, "start": "09:00", "end": "11:00"}),
		http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, ts.do(t, http.MethodPut, base, doctor, map[string]any{"start": "09:00", "end": "11:00"}),
		http.StatusBadRequest, "VALIDATION_ERROR")

	otherDoctor := ts.store.AddUser(appointment.User{Name: "Dee", Email: "dee@example.com", Role: appointment.RoleDoctor})
	expectError(t, ts.do(t, http.MethodPut, base, ts.token(t, otherDoctor), map[string]any{"weekday": 5, "start": "09:00", "end": "11:00"}),
		http.StatusForbidden, "FORBIDDEN")

	rec = ts.do(t, http.MethodPatch, "/availability/"+win.ID.String(), doctor, map[string]any{"active": false})
	if rec.Code != http.StatusOK || decodeBody[WindowResponse](t, rec).Active {
		t.Fatalf("expected deactivated window, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/slots?date=2030-01-12", doctor, nil)
	if got := decodeBody[SlotsResponse](t, rec); len(got.Slots) != 0 {
		t.Fatalf("inactive window must not produce slots, got %d", len(got.Slots))
	}

	if rec := ts.do(t, http.MethodDelete, "/availability/"+win.ID.String(), doctor, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	expectError(t, ts.do(t, http.MethodDelete, "/availability/"+win.ID.String(), doctor, nil), http.StatusNotFound, "WINDOW_NOT_FOUND")

	rec = ts.do(t, http.MethodGet, base, ts.token(t, ts.patient), nil)
	if got := decodeBody[[]WindowResponse](t, rec); rec.Code != http.StatusOK || len(got) != 5 {
		t.Fatalf("expected the 5 default windows, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdmin_HTTP(t *testing.T) {
	ts := newTestServer(t, nil)
	admin := ts.token(t, ts.admin)

	rec := ts.do(t, http.MethodPost, "/admin/users/"+ts.patient.ID.String()+"/promote", admin, nil)
	if rec.Code != http.StatusOK || decodeBody[UserResponse](t, rec).Role != "DOCTOR" {
		t.Fatalf("expected promotion, got %d: %s", rec.Code, rec.Body.String())
	}
	expectError(t, ts.do(t, http.MethodPost, "/admin/users/"+ts.admin.ID.String()+"/promote", admin, nil),
		http.StatusForbidden, "SELF_ROLE_CHANGE")
	expectError(t, ts.do(t, http.MethodPost, "/admin/users/"+ts.doctor.ID.String()+"x/promote", admin, nil),
		http.StatusBadRequest, "INVALID_ID")

	rec = ts.do(t, http.MethodGet, "/admin/stats", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	stats := decodeBody[StatsResponse](t, rec)
	if stats.UsersByRole["DOCTOR"] != 2 || stats.TotalUsers != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRateLimiter_Booking(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	defer limiter.Stop()
	ts := newTestServer(t, limiter)
	patient := ts.token(t, ts.patient)

	body := map[string]any{"doctor_id": ts.doctor.ID, "start": "2030-01-07T13:00:00Z"}
	for i := 0; i < 2; i++ {
		if rec := ts.do(t, http.MethodPost, "/appointments", patient, body); rec.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d should be within the burst", i+1)
		}
	}
	rec := ts.do(t, http.MethodPost, "/appointments", patient, body)
	expectError(t, rec, http.StatusTooManyRequests, "RATE_LIMITED")
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header")
	}

	// other callers have their own bucket
	other := ts.store.AddUser(appointment.User{Name: "Sam", Email: "sam@example.com", Role: appointment.RolePatient})
	if rec := ts.do(t, http.MethodPost, "/appointments", ts.token(t, other), body); rec.Code == http.StatusTooManyRequests {
		t.Fatal("a different patient should not share the bucket")
	}
}
