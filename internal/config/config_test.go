package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("session.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress || cfg.DatabaseDriver != DatabaseDriverSQLite || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SessionIssuer != "tauth" || cfg.SessionCookieName != "app_session" {
		t.Fatalf("unexpected session defaults %+v", cfg)
	}
	if cfg.RealtimeTicketTTL != time.Minute || cfg.RealtimeSendBuffer != 64 || !cfg.RealtimeEnforceRoomAccess {
		t.Fatalf("unexpected realtime defaults %+v", cfg)
	}
	if cfg.PresenceBackend != PresenceBackendMemory || cfg.PresenceTTL != 0 {
		t.Fatalf("unexpected presence defaults %+v", cfg)
	}
	if len(cfg.RealtimeAllowedOrigins) != 1 || cfg.RealtimeAllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins %v", cfg.RealtimeAllowedOrigins)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("TEAMSYNC_SESSION_SIGNING_SECRET", "from-env")
	t.Setenv("TEAMSYNC_PRESENCE_BACKEND", "redis")
	t.Setenv("TEAMSYNC_PRESENCE_TTL_SECONDS", "120")
	t.Setenv("TEAMSYNC_REALTIME_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.SessionSigningSecret != "from-env" || cfg.PresenceBackend != PresenceBackendRedis || cfg.PresenceTTL != 2*time.Minute {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.RealtimeAllowedOrigins) != 2 || cfg.RealtimeAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.RealtimeAllowedOrigins)
	}
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name     string
		settings map[string]interface{}
		message  string
	}{
		{name: "missing secret", settings: map[string]interface{}{}, message: "session.signing_secret"},
		{name: "unknown driver", settings: map[string]interface{}{"database.driver": "postgres"}, message: "database.driver"},
		{name: "mysql without dsn", settings: map[string]interface{}{"database.driver": "mysql"}, message: "database.dsn"},
		{name: "unknown presence backend", settings: map[string]interface{}{"presence.backend": "etcd"}, message: "presence.backend"},
		{name: "bad encoding", settings: map[string]interface{}{"log.encoding": "xml"}, message: "log.encoding"},
		{name: "zero send buffer", settings: map[string]interface{}{"realtime.send_buffer": 0}, message: "realtime.send_buffer"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			configViper := NewViper()
			if tc.name != "missing secret" {
				configViper.Set("session.signing_secret", "secret")
			}
			for key, value := range tc.settings {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), tc.message) {
				t.Fatalf("expected error mentioning %q, got %v", tc.message, err)
			}
		})
	}
}
