// Package config loads gateway settings from RIYAZ_-prefixed
// environment variables with validated defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Practice WebSocket mode (/v1/practice).
	WSMaxAudioFrameBytes  int
	WSMaxJSONMessageBytes int64
	WSPingInterval        time.Duration
	WSWriteTimeout        time.Duration
	WSReadTimeout         time.Duration
	WSHandshakeTimeout    time.Duration
	WSMaxSessionDuration  time.Duration
	WSOutboundQueueSize   int

	// Pitch estimation thresholds.
	NoiseFloor       float64
	ClarityThreshold float64
	MinFrequencyHz   float64
	MaxFrequencyHz   float64

	// Tonic default when the client hello does not set one.
	BaseFrequencyHz float64

	// Minimum detection confidence accepted during an exercise.
	MinConfidence float64

	// Exercise catalog directory (YAML files). Empty disables the
	// catalog; start_session then only accepts inline exercises.
	CatalogDir    string
	CatalogReload bool

	// Session history database path. Empty disables persistence.
	HistoryDBPath   string
	HistoryPageSize int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("RIYAZ_ADDR", ":8080"),
		CORSAllowedOrigins:    make(map[string]struct{}),
		WSMaxAudioFrameBytes:  envIntOr("RIYAZ_WS_MAX_AUDIO_FRAME_BYTES", 16384),
		WSMaxJSONMessageBytes: envInt64Or("RIYAZ_WS_MAX_JSON_MESSAGE_BYTES", 64*1024),
		WSPingInterval:        envDurationOr("RIYAZ_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:        envDurationOr("RIYAZ_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:         envDurationOr("RIYAZ_WS_READ_TIMEOUT", 0),
		WSHandshakeTimeout:    envDurationOr("RIYAZ_WS_HANDSHAKE_TIMEOUT", 5*time.Second),
		WSMaxSessionDuration:  envDurationOr("RIYAZ_WS_MAX_DURATION", 2*time.Hour),
		WSOutboundQueueSize:   envIntOr("RIYAZ_WS_OUTBOUND_QUEUE_SIZE", 128),
		NoiseFloor:            envFloat64Or("RIYAZ_NOISE_FLOOR", 0.01),
		ClarityThreshold:      envFloat64Or("RIYAZ_CLARITY_THRESHOLD", 0.9),
		MinFrequencyHz:        envFloat64Or("RIYAZ_MIN_FREQUENCY_HZ", 80),
		MaxFrequencyHz:        envFloat64Or("RIYAZ_MAX_FREQUENCY_HZ", 1100),
		BaseFrequencyHz:       envFloat64Or("RIYAZ_BASE_FREQUENCY_HZ", 130.81),
		MinConfidence:         envFloat64Or("RIYAZ_MIN_CONFIDENCE", 0.75),
		CatalogDir:            envOr("RIYAZ_CATALOG_DIR", ""),
		CatalogReload:         envBoolOr("RIYAZ_CATALOG_RELOAD", true),
		HistoryDBPath:         envOr("RIYAZ_HISTORY_DB_PATH", ""),
		HistoryPageSize:       envIntOr("RIYAZ_HISTORY_PAGE_SIZE", 50),
		ReadHeaderTimeout:     envDurationOr("RIYAZ_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:           envDurationOr("RIYAZ_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:   envDurationOr("RIYAZ_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("RIYAZ_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.WSMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("RIYAZ_WS_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.WSMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("RIYAZ_WS_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("RIYAZ_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("RIYAZ_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("RIYAZ_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.WSHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("RIYAZ_WS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.WSMaxSessionDuration <= 0 {
		return Config{}, fmt.Errorf("RIYAZ_WS_MAX_DURATION must be > 0")
	}
	if cfg.WSOutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("RIYAZ_WS_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.NoiseFloor < 0 {
		return Config{}, fmt.Errorf("RIYAZ_NOISE_FLOOR must be >= 0")
	}
	if cfg.ClarityThreshold <= 0 || cfg.ClarityThreshold > 1 {
		return Config{}, fmt.Errorf("RIYAZ_CLARITY_THRESHOLD must be in (0, 1]")
	}
	if cfg.MinFrequencyHz <= 0 {
		return Config{}, fmt.Errorf("RIYAZ_MIN_FREQUENCY_HZ must be > 0")
	}
	if cfg.MaxFrequencyHz <= cfg.MinFrequencyHz {
		return Config{}, fmt.Errorf("RIYAZ_MAX_FREQUENCY_HZ must be > RIYAZ_MIN_FREQUENCY_HZ")
	}
	if cfg.BaseFrequencyHz <= 0 {
		return Config{}, fmt.Errorf("RIYAZ_BASE_FREQUENCY_HZ must be > 0")
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return Config{}, fmt.Errorf("RIYAZ_MIN_CONFIDENCE must be in [0, 1]")
	}
	if cfg.HistoryPageSize <= 0 {
		return Config{}, fmt.Errorf("RIYAZ_HISTORY_PAGE_SIZE must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("RIYAZ_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("RIYAZ_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("RIYAZ_SHUTDOWN_GRACE_PERIOD must be > 0")
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

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
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
