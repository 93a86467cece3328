package video

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
)

var ErrNoRoomURL = errors.New("video api response has no room url")

// Option configures a DailyProvisioner.
type Option func(*DailyProvisioner)

// WithHTTPClient overrides the client used to call the video API.
func WithHTTPClient(c *http.Client) Option {
	return func(p *DailyProvisioner) { p.client = c }
}

// DailyProvisioner creates one private room per appointment through a
// Daily-compatible REST API (POST {base}/rooms).
type DailyProvisioner struct {
	cfg    config.VideoConfig
	client *http.Client
}

var _ appointment.RoomProvisioner = (*DailyProvisioner)(nil)

func NewDailyProvisioner(cfg config.VideoConfig, opts ...Option) *DailyProvisioner {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if cfg.RoomTTL <= 0 {
		cfg.RoomTTL = 2 * time.Hour
	}

	p := &DailyProvisioner{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type roomRequest struct {
	Name       string         `json:"name"`
	Privacy    string         `json:"privacy"`
	Properties roomProperties `json:"properties"`
}

type roomProperties struct {
	Exp int64 `json:"exp"`
}

type roomResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// CreateRoom returns "" with a nil error when no API key or domain is set.
func (p *DailyProvisioner) CreateRoom(ctx context.Context, appt appointment.Appointment) (string, error) {
	if !p.cfg.Enabled() {
		return "", nil
	}

	name, err := RoomName(appt.ID.String())
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(roomRequest{
		Name:       name,
		Privacy:    "private",
		Properties: roomProperties{Exp: appt.ScheduledAt.Add(p.cfg.RoomTTL).Unix()},
	})
	if err != nil {
		return "", fmt.Errorf("marshal room request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/rooms", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build room request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("create room: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out roomResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode room response: %w", err)
	}
	if out.URL == "" {
		return "", ErrNoRoomURL
	}
	return out.URL, nil
}

// RoomName is "appt-<id>-<8 random hex chars>".
func RoomName(id string) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("room name entropy: %w", err)
	}
	return "appt-" + id + "-" + hex.EncodeToString(b), nil
}
