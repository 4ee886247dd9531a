package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-live/pkg/core/live"
	"github.com/vango-go/vai-live/pkg/gateway/config"
	"github.com/vango-go/vai-live/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-live/pkg/gateway/live/session"
	"github.com/vango-go/vai-live/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-live/pkg/gateway/metrics"
	"github.com/vango-go/vai-live/pkg/gateway/mw"
)

// LiveHandler upgrades /ws requests and runs one session bridge per socket.
type LiveHandler struct {
	Config       config.Config
	Dialer       live.Dialer
	Profiles     session.ProfileSource
	Tokens       session.TokenIssuer
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		mw.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if h.Lifecycle.IsDraining() {
		mw.WriteJSONError(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	}
	if !h.originAllowed(r) {
		mw.WriteJSONError(w, http.StatusForbidden, "Origin is not allowed")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		return
	}
	defer conn.Close()

	reqID, _ := mw.RequestIDFrom(r.Context())
	b, err := session.New(session.Dependencies{
		Conn:      conn,
		Dialer:    h.Dialer,
		Profiles:  h.Profiles,
		Tokens:    h.Tokens,
		Logger:    h.Logger,
		Metrics:   h.Metrics,
		RequestID: reqID,
		Config: session.Config{
			MaxJSONMessageBytes:    h.Config.LiveMaxJSONMessageBytes,
			PingInterval:           h.Config.LiveWSPingInterval,
			WriteTimeout:           h.Config.LiveWSWriteTimeout,
			MaxAudioFPS:            h.Config.LiveMaxAudioFPS,
			MaxAudioBytesPerSecond: h.Config.LiveMaxAudioBytesPerSecond,
			InboundBurstSeconds:    h.Config.LiveInboundBurstSeconds,
			PendingAudioChunks:     h.Config.LivePendingAudioChunks,
		},
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("live session init failed", "request_id", reqID, "error", err)
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "failed to initialize session"),
			time.Now().Add(time.Second))
		return
	}

	unregister := h.LiveSessions.Register(b.SessionID(), sessions.Handle{Cancel: b.Cancel})
	defer unregister()

	// The socket outlives the request context once hijacked; shutdown reaches
	// the bridge through the tracker instead.
	if err := b.Run(context.WithoutCancel(r.Context())); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("live session ended with error", "session_id", b.SessionID(), "request_id", reqID, "reason", b.Reason(), "error", err)
		}
	}
}

// originAllowed mirrors the CORS policy: empty allowlist admits every origin.
func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || len(h.Config.CORSAllowedOrigins) == 0 {
		return true
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}
