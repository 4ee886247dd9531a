package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/vai-live/pkg/gateway/metrics"
	"github.com/vango-go/vai-live/pkg/gateway/mw"
	"github.com/vango-go/vai-live/pkg/gateway/recordings"
	"github.com/vango-go/vai-live/pkg/gateway/tokens"
)

const (
	RecordingTokenHeader = "X-Recording-Token"
	recordingFileField   = "recording"
	recordingTimeField   = "timestamp"

	// Parts up to this size stay in memory; larger ones spill to disk.
	recordingMemoryBytes = 8 << 20
)

const (
	msgMissingToken = "Missing recording token"
	msgInvalidToken = "Invalid, expired, or already used recording token"
	msgSaveFailed   = "Failed to save recording"
)

// TokenRedeemer redeems single-use recording tokens.
type TokenRedeemer interface {
	ValidateAndUse(token string) tokens.Result
}

// RecordingsHandler accepts POST /api/recordings uploads gated by a recording token.
type RecordingsHandler struct {
	Tokens   TokenRedeemer
	Sink     recordings.Sink
	MaxBytes int64
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

func (h RecordingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		mw.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	token := strings.TrimSpace(r.Header.Get(RecordingTokenHeader))
	if token == "" {
		h.reply(w, http.StatusUnauthorized, msgMissingToken, 0)
		return
	}
	res := h.Tokens.ValidateAndUse(token)
	if !res.Valid {
		h.reply(w, http.StatusForbidden, msgInvalidToken, 0)
		return
	}

	filename, size, err := h.save(w, r)
	if err != nil {
		h.logger().Error("recording upload failed", "request_id", reqID, "session_id", res.SessionID, "error", err)
		h.reply(w, http.StatusInternalServerError, msgSaveFailed, 0)
		return
	}

	h.logger().Info("recording saved", "request_id", reqID, "session_id", res.SessionID, "filename", filename, "size", size)
	h.Metrics.RecordUpload(http.StatusOK, size)
	mw.WriteJSON(w, http.StatusOK, uploadResponse{Success: true, Filename: filename, Size: size})
}

func (h RecordingsHandler) reply(w http.ResponseWriter, status int, msg string, size int64) {
	h.Metrics.RecordUpload(status, size)
	mw.WriteJSONError(w, status, msg)
}

// save persists the uploaded file part and returns the stored name and size.
func (h RecordingsHandler) save(w http.ResponseWriter, r *http.Request) (string, int64, error) {
	if h.Sink == nil {
		return "", 0, errors.New("no recording sink configured")
	}
	if h.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)
	}
	if err := r.ParseMultipartForm(recordingMemoryBytes); err != nil {
		return "", 0, fmt.Errorf("parse multipart: %w", err)
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	part, err := recordingPart(r.MultipartForm)
	if err != nil {
		return "", 0, err
	}
	f, err := part.Open()
	if err != nil {
		return "", 0, fmt.Errorf("open part: %w", err)
	}
	defer f.Close()

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	ts, err := recordings.ParseTimestamp(r.FormValue(recordingTimeField), now())
	if err != nil {
		// An unparsable timestamp falls back to receipt time.
		ts = now()
	}

	name := recordings.Filename(ts, recordings.ExtFromName(part.Filename))
	contentType := part.Header.Get("Content-Type")
	size, err := h.Sink.Save(r.Context(), name, f, contentType)
	if err != nil {
		return "", 0, err
	}
	return name, size, nil
}

// recordingPart prefers the "recording" field and otherwise accepts the only
// file part present.
func recordingPart(form *multipart.Form) (*multipart.FileHeader, error) {
	if form == nil || len(form.File) == 0 {
		return nil, errors.New("no file part")
	}
	if parts := form.File[recordingFileField]; len(parts) > 0 {
		return parts[0], nil
	}
	var only *multipart.FileHeader
	for _, parts := range form.File {
		for _, p := range parts {
			if only != nil {
				return nil, errors.New("multiple file parts without a recording field")
			}
			only = p
		}
	}
	return only, nil
}

func (h RecordingsHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
