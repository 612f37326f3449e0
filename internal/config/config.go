package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "TEAMSYNC"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultLogLevel           = "info"
	defaultLogEncoding        = "json"
	defaultDatabaseDriver     = DatabaseDriverSQLite
	defaultDatabasePath       = "teamsync.db"
	defaultSessionIssuer      = "tauth"
	defaultCookieName         = "app_session"
	defaultTicketTTLSeconds   = 60
	defaultSendBuffer         = 64
	defaultInboundRate        = 20
	defaultInboundBurst       = 40
	defaultAllowedOrigins     = "*"
	defaultPresenceBackend    = PresenceBackendMemory
	defaultPresenceRedisURL   = "redis://localhost:6379/0"
	defaultPresenceTTLSeconds = 0
)

const (
	DatabaseDriverSQLite = "sqlite"
	DatabaseDriverMySQL  = "mysql"

	PresenceBackendMemory = "memory"
	PresenceBackendRedis  = "redis"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string
	LogEncoding string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	SessionSigningSecret string
	SessionIssuer        string
	SessionCookieName    string

	RealtimeTicketTTL         time.Duration
	RealtimeSendBuffer        int
	RealtimeInboundRate       float64
	RealtimeInboundBurst      int
	RealtimeEnforceRoomAccess bool
	RealtimeAllowedOrigins    []string

	PresenceBackend  string
	PresenceRedisURL string
	PresenceTTL      time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", defaultLogEncoding)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("session.signing_secret", "")
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("realtime.ticket_ttl_seconds", defaultTicketTTLSeconds)
	configViper.SetDefault("realtime.send_buffer", defaultSendBuffer)
	configViper.SetDefault("realtime.inbound_rate", defaultInboundRate)
	configViper.SetDefault("realtime.inbound_burst", defaultInboundBurst)
	configViper.SetDefault("realtime.enforce_room_access", true)
	configViper.SetDefault("realtime.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("presence.backend", defaultPresenceBackend)
	configViper.SetDefault("presence.redis_url", defaultPresenceRedisURL)
	configViper.SetDefault("presence.ttl_seconds", defaultPresenceTTLSeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:               strings.TrimSpace(configViper.GetString("http.address")),
		LogLevel:                  configViper.GetString("log.level"),
		LogEncoding:               strings.ToLower(strings.TrimSpace(configViper.GetString("log.encoding"))),
		DatabaseDriver:            strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:              strings.TrimSpace(configViper.GetString("database.path")),
		DatabaseDSN:               strings.TrimSpace(configViper.GetString("database.dsn")),
		SessionSigningSecret:      configViper.GetString("session.signing_secret"),
		SessionIssuer:             strings.TrimSpace(configViper.GetString("session.issuer")),
		SessionCookieName:         strings.TrimSpace(configViper.GetString("session.cookie_name")),
		RealtimeTicketTTL:         time.Duration(configViper.GetInt("realtime.ticket_ttl_seconds")) * time.Second,
		RealtimeSendBuffer:        configViper.GetInt("realtime.send_buffer"),
		RealtimeInboundRate:       configViper.GetFloat64("realtime.inbound_rate"),
		RealtimeInboundBurst:      configViper.GetInt("realtime.inbound_burst"),
		RealtimeEnforceRoomAccess: configViper.GetBool("realtime.enforce_room_access"),
		RealtimeAllowedOrigins:    splitList(configViper.GetString("realtime.allowed_origins")),
		PresenceBackend:           strings.ToLower(strings.TrimSpace(configViper.GetString("presence.backend"))),
		PresenceRedisURL:          strings.TrimSpace(configViper.GetString("presence.redis_url")),
		PresenceTTL:               time.Duration(configViper.GetInt("presence.ttl_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if c.SessionIssuer == "" {
		return fmt.Errorf("session.issuer is required")
	}
	if c.SessionCookieName == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverMySQL:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	switch c.PresenceBackend {
	case PresenceBackendMemory:
	case PresenceBackendRedis:
		if c.PresenceRedisURL == "" {
			return fmt.Errorf("presence.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("presence.backend %q is not supported", c.PresenceBackend)
	}
	switch c.LogEncoding {
	case "json", "console":
	default:
		return fmt.Errorf("log.encoding %q is not supported", c.LogEncoding)
	}
	if c.RealtimeTicketTTL <= 0 {
		return fmt.Errorf("realtime.ticket_ttl_seconds must be positive")
	}
	if c.RealtimeSendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive")
	}
	if c.RealtimeInboundRate <= 0 || c.RealtimeInboundBurst <= 0 {
		return fmt.Errorf("realtime.inbound_rate and realtime.inbound_burst must be positive")
	}
	if c.PresenceTTL < 0 {
		return fmt.Errorf("presence.ttl_seconds must not be negative")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}
