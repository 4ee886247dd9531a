package mw

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainWriter exposes only the http.ResponseWriter methods of a recorder.
type plainWriter struct {
	rec *httptest.ResponseRecorder
}

func (w plainWriter) Header() http.Header         { return w.rec.Header() }
func (w plainWriter) Write(p []byte) (int, error) { return w.rec.Write(p) }
func (w plainWriter) WriteHeader(code int)        { w.rec.WriteHeader(code) }

// upgradeWriter can be hijacked like a websocket upgrade but not flushed.
type upgradeWriter struct {
	plainWriter
	hijacked *bool
}

func (w upgradeWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	*w.hijacked = true
	return nil, nil, nil
}

// fullWriter is a flushable recorder that can also be hijacked.
type fullWriter struct {
	*httptest.ResponseRecorder
	hijacked *bool
}

func (w fullWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	*w.hijacked = true
	return nil, nil, nil
}

func logRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line, "expected an access log line")
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	return rec
}

func serveLogged(t *testing.T, w http.ResponseWriter, method, path string, h http.HandlerFunc) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	req := httptest.NewRequest(method, path, nil).WithContext(WithRequestID(context.Background(), "req_log"))
	AccessLog(logger, h).ServeHTTP(w, req)
	return logRecord(t, &buf)
}

func TestAccessLog_Interfaces(t *testing.T) {
	tests := []struct {
		name        string
		writer      func(hijacked *bool) http.ResponseWriter
		wantFlush   bool
		wantHijack  bool
		path        string
		wantStatus  int
		useHijacker bool
	}{
		{
			name:       "upload response is neither",
			writer:     func(*bool) http.ResponseWriter { return plainWriter{rec: httptest.NewRecorder()} },
			path:       "/api/recordings",
			wantStatus: http.StatusOK,
		},
		{
			name:       "recorder stays flushable",
			writer:     func(*bool) http.ResponseWriter { return httptest.NewRecorder() },
			wantFlush:  true,
			path:       "/health",
			wantStatus: http.StatusOK,
		},
		{
			name: "websocket upgrade stays hijackable",
			writer: func(h *bool) http.ResponseWriter {
				return upgradeWriter{plainWriter: plainWriter{rec: httptest.NewRecorder()}, hijacked: h}
			},
			wantHijack:  true,
			path:        "/ws",
			wantStatus:  http.StatusSwitchingProtocols,
			useHijacker: true,
		},
		{
			name: "both survive wrapping",
			writer: func(h *bool) http.ResponseWriter {
				return fullWriter{ResponseRecorder: httptest.NewRecorder(), hijacked: h}
			},
			wantFlush:   true,
			wantHijack:  true,
			path:        "/ws",
			wantStatus:  http.StatusSwitchingProtocols,
			useHijacker: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hijacked bool
			rec := serveLogged(t, tt.writer(&hijacked), http.MethodGet, tt.path, func(w http.ResponseWriter, r *http.Request) {
				_, canFlush := w.(http.Flusher)
				hj, canHijack := w.(http.Hijacker)
				assert.Equal(t, tt.wantFlush, canFlush, "flusher")
				assert.Equal(t, tt.wantHijack, canHijack, "hijacker")
				if tt.useHijacker && canHijack {
					_, _, err := hj.Hijack()
					assert.NoError(t, err)
					return
				}
				_, _ = w.Write([]byte("ok"))
			})
			assert.Equal(t, tt.useHijacker, hijacked)
			assert.EqualValues(t, tt.wantStatus, rec["status"])
			assert.Equal(t, tt.path, rec["path"])
		})
	}
}

func TestAccessLog_RecordsUploadRejection(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := serveLogged(t, rr, http.MethodPost, "/api/recordings", func(w http.ResponseWriter, r *http.Request) {
		WriteJSONError(w, http.StatusUnauthorized, "Missing recording token")
	})

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.EqualValues(t, http.StatusUnauthorized, rec["status"])
	assert.Equal(t, "POST", rec["method"])
	assert.Equal(t, "req_log", rec["request_id"])
	assert.Contains(t, rec, "duration_ms")
}

func TestAccessLog_FirstStatusWins(t *testing.T) {
	rec := serveLogged(t, httptest.NewRecorder(), http.MethodPost, "/api/recordings", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.WriteHeader(http.StatusOK)
	})
	assert.EqualValues(t, http.StatusForbidden, rec["status"])
}

func TestAccessLog_NilLogger(t *testing.T) {
	rr := httptest.NewRecorder()
	AccessLog(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequestID_PropagatesOrGenerates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFrom(r.Context())
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("X-Request-ID", "req_given")
	h.ServeHTTP(rr, req)
	assert.Equal(t, "req_given", seen)
	assert.Equal(t, "req_given", rr.Header().Get("X-Request-ID"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.True(t, strings.HasPrefix(seen, "req_"), "generated id=%q", seen)
	assert.Len(t, seen, len("req_")+20)
}
