package handlers

import (
	"net/http"
	"time"

	"github.com/vango-go/vai-live/pkg/gateway/config"
	"github.com/vango-go/vai-live/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-live/pkg/gateway/mw"
)

// HealthHandler serves /health with the server time.
type HealthHandler struct {
	Now func() time.Time
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	mw.WriteJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		Time   string `json:"time"`
	}{
		Status: "ok",
		Time:   now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// LivenessHandler serves /healthz.
type LivenessHandler struct{}

func (h LivenessHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// SessionCounter reports active live sessions.
type SessionCounter interface {
	Count() int
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Sessions  SessionCounter
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		Draining       bool     `json:"draining"`
		ActiveSessions int      `json:"active_sessions"`
		RecordingsTo   string   `json:"recordings_to"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	if h.Config.GeminiAPIKey == "" || h.Config.Model == "" {
		issues = append(issues, "remote model credentials are not configured")
	}
	if h.Config.UploadMaxBytes <= 0 {
		issues = append(issues, "upload_max_bytes must be > 0")
	}
	if h.Config.TokenTTL <= 0 {
		issues = append(issues, "token ttl must be > 0")
	}
	draining := h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "draining")
	}

	recordingsTo := "local"
	if h.Config.RecordingsS3Bucket != "" {
		recordingsTo = "s3"
	}
	active := 0
	if h.Sessions != nil {
		active = h.Sessions.Count()
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	mw.WriteJSON(w, status, readyResp{
		OK:             ok,
		Draining:       draining,
		ActiveSessions: active,
		RecordingsTo:   recordingsTo,
		Issues:         issues,
	})
}
