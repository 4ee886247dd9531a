// Package recordings persists uploaded call recordings.
package recordings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultExtension is used when the uploaded part carries no usable extension.
const DefaultExtension = ".webm"

// Sink stores one recording under name and reports the number of bytes written.
type Sink interface {
	Save(ctx context.Context, name string, body io.Reader, contentType string) (int64, error)
}

// Filename derives the stored name from the recording timestamp. The same
// timestamp always yields the same name.
func Filename(ts time.Time, ext string) string {
	stamp := ts.UTC().Format("2006-01-02T15-04-05.000Z")
	stamp = strings.ReplaceAll(stamp, ".", "-")
	return "recording-" + stamp + normalizeExt(ext)
}

// ParseTimestamp accepts RFC 3339 or Unix milliseconds. Empty input yields now.
func ParseTimestamp(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Time{}, fmt.Errorf("recordings: invalid timestamp %q", raw)
}

// ExtFromName returns the lowercase extension of an uploaded file name, if it is
// a short alphanumeric one.
func ExtFromName(name string) string {
	ext := strings.ToLower(path.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func normalizeExt(ext string) string {
	if ext == "" {
		return DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if ExtFromName("x"+ext) == "" {
		return DefaultExtension
	}
	return strings.ToLower(ext)
}

func validName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("recordings: invalid name %q", name)
	}
	return nil
}

// LocalSink writes recordings into one directory per process run.
type LocalSink struct {
	dir string
}

// NewLocalSink creates base/<run> where run is derived from started.
func NewLocalSink(base string, started time.Time) (*LocalSink, error) {
	if strings.TrimSpace(base) == "" {
		return nil, errors.New("recordings: base directory is required")
	}
	run := "run-" + strings.ReplaceAll(started.UTC().Format("2006-01-02T15-04-05.000Z"), ".", "-")
	dir := filepath.Join(base, run)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recordings: create run directory: %w", err)
	}
	return &LocalSink{dir: dir}, nil
}

func (s *LocalSink) Dir() string { return s.dir }

func (s *LocalSink) Save(ctx context.Context, name string, body io.Reader, _ string) (int64, error) {
	if err := validName(name); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*.part")
	if err != nil {
		return 0, fmt.Errorf("recordings: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	n, err := io.Copy(tmp, body)
	if err != nil {
		_ = tmp.Close()
		cleanup()
		return 0, fmt.Errorf("recordings: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return 0, fmt.Errorf("recordings: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		cleanup()
		return 0, fmt.Errorf("recordings: finalize %s: %w", name, err)
	}
	return n, nil
}
