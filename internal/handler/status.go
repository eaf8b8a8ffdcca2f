package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Heartbeat reports when the consumer last fetched an event.
type Heartbeat interface {
	LastBeat() time.Time
	Timeout() time.Duration
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type StatusHandler struct {
	log     *logrus.Entry
	hb      Heartbeat
	db      Pinger
	version string
	now     func() time.Time
}

func NewStatusHandler(log *logrus.Entry, hb Heartbeat, db Pinger, version string) *StatusHandler {
	return &StatusHandler{log: log, hb: hb, db: db, version: version, now: time.Now}
}

type healthResponse struct {
	Status          string  `json:"status"`
	Version         string  `json:"version"`
	LastHeartbeat   string  `json:"lastHeartbeat"`
	SecondsSince    float64 `json:"secondsSinceHeartbeat"`
	TimeoutSeconds  float64 `json:"watchdogTimeoutSeconds"`
	Database        string  `json:"database"`
	DatabaseMessage string  `json:"databaseError,omitempty"`
}

// Healthz answers 503 once the heartbeat is older than the watchdog timeout
// or the zone store does not answer.
func (h *StatusHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	last := h.hb.LastBeat()
	since := h.now().Sub(last)

	resp := healthResponse{
		Status:         "ok",
		Version:        h.version,
		LastHeartbeat:  last.UTC().Format(time.RFC3339),
		SecondsSince:   since.Seconds(),
		TimeoutSeconds: h.hb.Timeout().Seconds(),
		Database:       "ok",
	}
	code := http.StatusOK

	if since > h.hb.Timeout() {
		resp.Status = "stalled"
		code = http.StatusServiceUnavailable
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		h.log.WithError(err).Warn("health check: database ping failed")
		resp.Status = "degraded"
		resp.Database = "unreachable"
		resp.DatabaseMessage = err.Error()
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.WithError(err).Debug("write health response")
	}
}
