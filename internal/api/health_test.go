package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReadiness(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name     string
		postgres PingFunc
		redis    PingFunc
		code     int
		status   string
		redisDep string
	}{
		{"all up", up, up, http.StatusOK, "ok", "ok"},
		{"redis down", up, down, http.StatusOK, "degraded", "down"},
		{"redis not configured", up, nil, http.StatusOK, "ok", "disabled"},
		{"postgres down", down, up, http.StatusServiceUnavailable, "error", "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &HealthHandler{postgres: tt.postgres, redis: tt.redis, env: "test", version: "v1"}
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rec.Code)
			}
			resp := decodeBody[ReadinessResponse](t, rec)
			if resp.Status != tt.status {
				t.Errorf("expected status %s, got %s", tt.status, resp.Status)
			}
			if resp.Dependencies["redis"] != tt.redisDep {
				t.Errorf("expected redis %s, got %s", tt.redisDep, resp.Dependencies["redis"])
			}
		})
	}
}

func TestLiveness(t *testing.T) {
	h := NewHealthHandler(nil, nil, "dev", "v1.2.3")
	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	resp := decodeBody[LivenessResponse](t, rec)
	if rec.Code != http.StatusOK || resp.Status != "ok" || resp.Version != "v1.2.3" {
		t.Fatalf("unexpected liveness %d %+v", rec.Code, resp)
	}
}
