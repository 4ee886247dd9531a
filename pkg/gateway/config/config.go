package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Host string
	Port int

	GeminiAPIKey string
	Model        string

	LogLevel  string
	LogFormat string

	// CORS; empty => any origin.
	CORSAllowedOrigins map[string]struct{}

	// Recording uploads.
	RecordingsDir      string
	RecordingsS3Bucket string
	RecordingsS3Prefix string
	UploadMaxBytes     int64

	// Recording tokens.
	TokenTTL           time.Duration
	TokenSweepInterval time.Duration

	ProfilesFile string

	// Live WebSocket (/ws).
	LiveMaxJSONMessageBytes    int64
	LiveWSPingInterval         time.Duration
	LiveWSWriteTimeout         time.Duration
	LiveMaxAudioFPS            int
	LiveMaxAudioBytesPerSecond int64
	LiveInboundBurstSeconds    int
	LivePendingAudioChunks     int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

// Addr is the listen address built from Host and Port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Host:                       envOr("HOST", "0.0.0.0"),
		Port:                       envIntOr("PORT", 4000),
		GeminiAPIKey:               envOr("GEMINI_API_KEY", ""),
		Model:                      envOr("GENAI_MODEL", ""),
		LogLevel:                   strings.ToLower(envOr("LOG_LEVEL", "info")),
		LogFormat:                  strings.ToLower(envOr("LOG_FORMAT", "text")),
		CORSAllowedOrigins:         make(map[string]struct{}),
		RecordingsDir:              envOr("VAI_LIVE_RECORDINGS_DIR", "recordings"),
		RecordingsS3Bucket:         envOr("VAI_LIVE_RECORDINGS_S3_BUCKET", ""),
		RecordingsS3Prefix:         envOr("VAI_LIVE_RECORDINGS_S3_PREFIX", ""),
		UploadMaxBytes:             envInt64Or("VAI_LIVE_UPLOAD_MAX_BYTES", 100<<20), // 100 MiB
		TokenTTL:                   envDurationOr("VAI_LIVE_TOKEN_TTL", 10*time.Minute),
		TokenSweepInterval:         envDurationOr("VAI_LIVE_TOKEN_SWEEP_INTERVAL", 10*time.Minute),
		ProfilesFile:               envOr("VAI_LIVE_PROFILES_FILE", ""),
		LiveMaxJSONMessageBytes:    envInt64Or("VAI_LIVE_MAX_JSON_MESSAGE_BYTES", 1<<20),
		LiveWSPingInterval:         envDurationOr("VAI_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:         envDurationOr("VAI_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveMaxAudioFPS:            envIntOr("VAI_LIVE_MAX_AUDIO_FPS", 100),
		LiveMaxAudioBytesPerSecond: envInt64Or("VAI_LIVE_MAX_AUDIO_BPS", 256*1024),
		LiveInboundBurstSeconds:    envIntOr("VAI_LIVE_INBOUND_BURST_SECONDS", 2),
		LivePendingAudioChunks:     envIntOr("VAI_LIVE_PENDING_AUDIO_CHUNKS", 256),
		ReadHeaderTimeout:          envDurationOr("VAI_LIVE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:        envDurationOr("VAI_LIVE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("VAI_LIVE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.GeminiAPIKey == "" {
		return Config{}, errors.New("GEMINI_API_KEY must be set")
	}
	if cfg.Model == "" {
		return Config{}, errors.New("GENAI_MODEL must be set")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("PORT must be in 1..65535")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("LOG_LEVEL must be one of debug|info|warn|error")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be one of text|json")
	}
	if cfg.RecordingsS3Bucket == "" && cfg.RecordingsDir == "" {
		return Config{}, fmt.Errorf("VAI_LIVE_RECORDINGS_DIR must not be empty")
	}
	if cfg.UploadMaxBytes <= 0 {
		return Config{}, fmt.Errorf("VAI_LIVE_UPLOAD_MAX_BYTES must be > 0")
	}
	if cfg.TokenTTL <= 0 {
		return Config{}, fmt.Errorf("VAI_LIVE_TOKEN_TTL must be > 0")
	}
	if cfg.TokenSweepInterval <= 0 {
		return Config{}, fmt.Errorf("VAI_LIVE_TOKEN_SWEEP_INTERVAL must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VAI_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VAI_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveMaxAudioFPS < 0 {
		return Config{}, fmt.Errorf("VAI_LIVE_MAX_AUDIO_FPS must be >= 0")
	}
	if cfg.LiveMaxAudioBytesPerSecond < 0 {
		return Config{}, fmt.Errorf("VAI_LIVE_MAX_AUDIO_BPS must be >= 0")
	}
	if cfg.LiveInboundBurstSeconds < 0 {
		return Config{}, fmt.Errorf("VAI_LIVE_INBOUND_BURST_SECONDS must be >= 0")
	}
	if (cfg.LiveMaxAudioFPS > 0 || cfg.LiveMaxAudioBytesPerSecond > 0) && cfg.LiveInboundBurstSeconds < 1 {
		return Config{}, fmt.Errorf("VAI_LIVE_INBOUND_BURST_SECONDS must be >= 1 when inbound audio limits are enabled")
	}
	if cfg.LivePendingAudioChunks <= 0 {
		return Config{}, fmt.Errorf("VAI_LIVE_PENDING_AUDIO_CHUNKS must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_LIVE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VAI_LIVE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
