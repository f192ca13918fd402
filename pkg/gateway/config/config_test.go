package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"RIYAZ_ADDR",
	"RIYAZ_CORS_ORIGINS",
	"RIYAZ_WS_MAX_AUDIO_FRAME_BYTES",
	"RIYAZ_WS_MAX_JSON_MESSAGE_BYTES",
	"RIYAZ_WS_PING_INTERVAL",
	"RIYAZ_WS_WRITE_TIMEOUT",
	"RIYAZ_WS_READ_TIMEOUT",
	"RIYAZ_WS_HANDSHAKE_TIMEOUT",
	"RIYAZ_WS_MAX_DURATION",
	"RIYAZ_WS_OUTBOUND_QUEUE_SIZE",
	"RIYAZ_NOISE_FLOOR",
	"RIYAZ_CLARITY_THRESHOLD",
	"RIYAZ_MIN_FREQUENCY_HZ",
	"RIYAZ_MAX_FREQUENCY_HZ",
	"RIYAZ_BASE_FREQUENCY_HZ",
	"RIYAZ_MIN_CONFIDENCE",
	"RIYAZ_CATALOG_DIR",
	"RIYAZ_CATALOG_RELOAD",
	"RIYAZ_HISTORY_DB_PATH",
	"RIYAZ_HISTORY_PAGE_SIZE",
	"RIYAZ_READ_HEADER_TIMEOUT",
	"RIYAZ_READ_TIMEOUT",
	"RIYAZ_SHUTDOWN_GRACE_PERIOD",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("CORSAllowedOrigins len=%d, want 0", len(cfg.CORSAllowedOrigins))
	}
	if cfg.WSMaxAudioFrameBytes != 16384 {
		t.Fatalf("WSMaxAudioFrameBytes = %d, want 16384", cfg.WSMaxAudioFrameBytes)
	}
	if cfg.WSMaxJSONMessageBytes != 64*1024 {
		t.Fatalf("WSMaxJSONMessageBytes = %d, want 65536", cfg.WSMaxJSONMessageBytes)
	}
	if cfg.WSPingInterval != 20*time.Second {
		t.Fatalf("WSPingInterval = %v, want 20s", cfg.WSPingInterval)
	}
	if cfg.WSWriteTimeout != 5*time.Second {
		t.Fatalf("WSWriteTimeout = %v, want 5s", cfg.WSWriteTimeout)
	}
	if cfg.WSReadTimeout != 0 {
		t.Fatalf("WSReadTimeout = %v, want 0", cfg.WSReadTimeout)
	}
	if cfg.WSHandshakeTimeout != 5*time.Second {
		t.Fatalf("WSHandshakeTimeout = %v, want 5s", cfg.WSHandshakeTimeout)
	}
	if cfg.WSMaxSessionDuration != 2*time.Hour {
		t.Fatalf("WSMaxSessionDuration = %v, want 2h", cfg.WSMaxSessionDuration)
	}
	if cfg.WSOutboundQueueSize != 128 {
		t.Fatalf("WSOutboundQueueSize = %d, want 128", cfg.WSOutboundQueueSize)
	}
	if cfg.NoiseFloor != 0.01 {
		t.Fatalf("NoiseFloor = %v, want 0.01", cfg.NoiseFloor)
	}
	if cfg.ClarityThreshold != 0.9 {
		t.Fatalf("ClarityThreshold = %v, want 0.9", cfg.ClarityThreshold)
	}
	if cfg.MinFrequencyHz != 80 || cfg.MaxFrequencyHz != 1100 {
		t.Fatalf("frequency band = %v..%v, want 80..1100", cfg.MinFrequencyHz, cfg.MaxFrequencyHz)
	}
	if cfg.BaseFrequencyHz != 130.81 {
		t.Fatalf("BaseFrequencyHz = %v, want 130.81", cfg.BaseFrequencyHz)
	}
	if cfg.MinConfidence != 0.75 {
		t.Fatalf("MinConfidence = %v, want 0.75", cfg.MinConfidence)
	}
	if cfg.CatalogDir != "" {
		t.Fatalf("CatalogDir = %q, want empty", cfg.CatalogDir)
	}
	if !cfg.CatalogReload {
		t.Fatalf("CatalogReload = false, want true")
	}
	if cfg.HistoryDBPath != "" {
		t.Fatalf("HistoryDBPath = %q, want empty", cfg.HistoryDBPath)
	}
	if cfg.HistoryPageSize != 50 {
		t.Fatalf("HistoryPageSize = %d, want 50", cfg.HistoryPageSize)
	}
	if cfg.ReadHeaderTimeout != 10*time.Second {
		t.Fatalf("ReadHeaderTimeout = %v, want 10s", cfg.ReadHeaderTimeout)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Fatalf("ReadTimeout = %v, want 30s", cfg.ReadTimeout)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
}

func TestLoadFromEnv_UsesOverrides(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("RIYAZ_ADDR", ":9090")
	t.Setenv("RIYAZ_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("RIYAZ_WS_MAX_AUDIO_FRAME_BYTES", "8192")
	t.Setenv("RIYAZ_WS_MAX_JSON_MESSAGE_BYTES", "77777")
	t.Setenv("RIYAZ_WS_PING_INTERVAL", "9s")
	t.Setenv("RIYAZ_WS_WRITE_TIMEOUT", "3s")
	t.Setenv("RIYAZ_WS_READ_TIMEOUT", "4s")
	t.Setenv("RIYAZ_WS_HANDSHAKE_TIMEOUT", "6s")
	t.Setenv("RIYAZ_WS_MAX_DURATION", "95m")
	t.Setenv("RIYAZ_WS_OUTBOUND_QUEUE_SIZE", "64")
	t.Setenv("RIYAZ_NOISE_FLOOR", "0.02")
	t.Setenv("RIYAZ_CLARITY_THRESHOLD", "0.85")
	t.Setenv("RIYAZ_MIN_FREQUENCY_HZ", "60")
	t.Setenv("RIYAZ_MAX_FREQUENCY_HZ", "900")
	t.Setenv("RIYAZ_BASE_FREQUENCY_HZ", "146.83")
	t.Setenv("RIYAZ_MIN_CONFIDENCE", "0.6")
	t.Setenv("RIYAZ_CATALOG_DIR", "/etc/riyaz/catalog")
	t.Setenv("RIYAZ_CATALOG_RELOAD", "false")
	t.Setenv("RIYAZ_HISTORY_DB_PATH", "/var/lib/riyaz/history.db")
	t.Setenv("RIYAZ_HISTORY_PAGE_SIZE", "25")
	t.Setenv("RIYAZ_READ_HEADER_TIMEOUT", "12s")
	t.Setenv("RIYAZ_READ_TIMEOUT", "33s")
	t.Setenv("RIYAZ_SHUTDOWN_GRACE_PERIOD", "31s")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins len=%d, want 2", len(cfg.CORSAllowedOrigins))
	}
	if _, ok := cfg.CORSAllowedOrigins["https://b.example"]; !ok {
		t.Fatalf("missing https://b.example")
	}
	if cfg.WSMaxAudioFrameBytes != 8192 || cfg.WSMaxJSONMessageBytes != 77777 {
		t.Fatalf("ws size limits mismatch: %d/%d", cfg.WSMaxAudioFrameBytes, cfg.WSMaxJSONMessageBytes)
	}
	if cfg.WSPingInterval != 9*time.Second || cfg.WSWriteTimeout != 3*time.Second || cfg.WSReadTimeout != 4*time.Second || cfg.WSHandshakeTimeout != 6*time.Second {
		t.Fatalf("ws timeout mismatch: %v/%v/%v/%v", cfg.WSPingInterval, cfg.WSWriteTimeout, cfg.WSReadTimeout, cfg.WSHandshakeTimeout)
	}
	if cfg.WSMaxSessionDuration != 95*time.Minute || cfg.WSOutboundQueueSize != 64 {
		t.Fatalf("ws session limits mismatch: %v/%d", cfg.WSMaxSessionDuration, cfg.WSOutboundQueueSize)
	}
	if cfg.NoiseFloor != 0.02 || cfg.ClarityThreshold != 0.85 {
		t.Fatalf("detection thresholds mismatch: %v/%v", cfg.NoiseFloor, cfg.ClarityThreshold)
	}
	if cfg.MinFrequencyHz != 60 || cfg.MaxFrequencyHz != 900 {
		t.Fatalf("frequency band mismatch: %v/%v", cfg.MinFrequencyHz, cfg.MaxFrequencyHz)
	}
	if cfg.BaseFrequencyHz != 146.83 || cfg.MinConfidence != 0.6 {
		t.Fatalf("tonic/confidence mismatch: %v/%v", cfg.BaseFrequencyHz, cfg.MinConfidence)
	}
	if cfg.CatalogDir != "/etc/riyaz/catalog" || cfg.CatalogReload {
		t.Fatalf("catalog settings mismatch: %q/%v", cfg.CatalogDir, cfg.CatalogReload)
	}
	if cfg.HistoryDBPath != "/var/lib/riyaz/history.db" || cfg.HistoryPageSize != 25 {
		t.Fatalf("history settings mismatch: %q/%d", cfg.HistoryDBPath, cfg.HistoryPageSize)
	}
	if cfg.ReadHeaderTimeout != 12*time.Second || cfg.ReadTimeout != 33*time.Second {
		t.Fatalf("server timeouts mismatch: %v/%v", cfg.ReadHeaderTimeout, cfg.ReadTimeout)
	}
	if cfg.ShutdownGracePeriod != 31*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 31s", cfg.ShutdownGracePeriod)
	}
}

func TestLoadFromEnv_ParsesCSVOrigins(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("RIYAZ_CORS_ORIGINS", "https://one.example, https://two.example,,")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins len=%d, want 2", len(cfg.CORSAllowedOrigins))
	}
	if _, ok := cfg.CORSAllowedOrigins["https://two.example"]; !ok {
		t.Fatalf("missing https://two.example")
	}
}

func TestLoadFromEnv_InvalidValuesAndBounds(t *testing.T) {
	cases := []struct {
		name      string
		env       map[string]string
		errSubstr string
	}{
		{
			name:      "zero max audio frame bytes",
			env:       map[string]string{"RIYAZ_WS_MAX_AUDIO_FRAME_BYTES": "0"},
			errSubstr: "RIYAZ_WS_MAX_AUDIO_FRAME_BYTES",
		},
		{
			name:      "zero ping interval",
			env:       map[string]string{"RIYAZ_WS_PING_INTERVAL": "0s"},
			errSubstr: "RIYAZ_WS_PING_INTERVAL",
		},
		{
			name:      "negative read timeout",
			env:       map[string]string{"RIYAZ_WS_READ_TIMEOUT": "-1s"},
			errSubstr: "RIYAZ_WS_READ_TIMEOUT",
		},
		{
			name:      "zero max session duration",
			env:       map[string]string{"RIYAZ_WS_MAX_DURATION": "0s"},
			errSubstr: "RIYAZ_WS_MAX_DURATION",
		},
		{
			name:      "clarity threshold above one",
			env:       map[string]string{"RIYAZ_CLARITY_THRESHOLD": "1.5"},
			errSubstr: "RIYAZ_CLARITY_THRESHOLD",
		},
		{
			name:      "inverted frequency band",
			env:       map[string]string{"RIYAZ_MIN_FREQUENCY_HZ": "500", "RIYAZ_MAX_FREQUENCY_HZ": "100"},
			errSubstr: "RIYAZ_MAX_FREQUENCY_HZ must be > RIYAZ_MIN_FREQUENCY_HZ",
		},
		{
			name:      "negative base frequency",
			env:       map[string]string{"RIYAZ_BASE_FREQUENCY_HZ": "-220"},
			errSubstr: "RIYAZ_BASE_FREQUENCY_HZ",
		},
		{
			name:      "confidence above one",
			env:       map[string]string{"RIYAZ_MIN_CONFIDENCE": "1.2"},
			errSubstr: "RIYAZ_MIN_CONFIDENCE",
		},
		{
			name:      "zero history page size",
			env:       map[string]string{"RIYAZ_HISTORY_PAGE_SIZE": "0"},
			errSubstr: "RIYAZ_HISTORY_PAGE_SIZE",
		},
		{
			name:      "zero shutdown grace period",
			env:       map[string]string{"RIYAZ_SHUTDOWN_GRACE_PERIOD": "0s"},
			errSubstr: "RIYAZ_SHUTDOWN_GRACE_PERIOD",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearGatewayEnv(t)
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.errSubstr) {
				t.Fatalf("error = %v, expected substring %q", err, tc.errSubstr)
			}
		})
	}
}
