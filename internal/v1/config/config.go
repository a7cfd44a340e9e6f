// Package config validates environment variables and CLI flags for the
// session and relay binaries.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/konnektoren/konnekt-session-go/internal/v1/logging"
	"github.com/konnektoren/konnekt-session-go/internal/v1/signaling"
	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

// Session holds the validated configuration of the session CLI.
type Session struct {
	// From flags
	ServerURL      string
	Name           string
	SessionID      types.SessionID // Set on join; generated on create-host
	TurnServer     string
	TurnUsername   string
	TurnCredential string

	// From environment, with defaults
	GoEnv             string
	LogLevel          string
	DevelopmentMode   bool
	OtelCollectorAddr string
	OtelInsecure      bool
	ConnectTimeout    time.Duration
	SyncTimeout       time.Duration
	GracePeriod       time.Duration
	TickInterval      time.Duration
}

// ICEServers builds the STUN/TURN set this peer hands to the transport:
// the configured TURN server first, then the public STUN fallbacks. The
// first peer in a session fixes the set for everyone who joins later.
func (c *Session) ICEServers() []signaling.ICEServer {
	var servers []signaling.ICEServer
	if c.TurnServer != "" {
		servers = append(servers, signaling.ICEServer{
			URLs:       []string{c.TurnServer},
			Username:   c.TurnUsername,
			Credential: c.TurnCredential,
		})
	}
	return append(servers, signaling.DefaultSTUNServers()...)
}

// SessionFromEnv reads the ambient environment portion of the session
// configuration.
func SessionFromEnv() Session {
	return Session{
		GoEnv:             getEnvOrDefault("GO_ENV", "production"),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		DevelopmentMode:   os.Getenv("DEVELOPMENT_MODE") == "true",
		OtelCollectorAddr: os.Getenv("OTEL_COLLECTOR_ADDR"),
		OtelInsecure:      os.Getenv("OTEL_INSECURE") == "true",
		ConnectTimeout:    durationEnv("CONNECT_TIMEOUT", 15*time.Second),
		SyncTimeout:       durationEnv("SYNC_TIMEOUT", 30*time.Second),
		GracePeriod:       durationEnv("PEER_GRACE_PERIOD", 30*time.Second),
		TickInterval:      durationEnv("TICK_INTERVAL", 50*time.Millisecond),
	}
}

// Validate checks the combined flag + env configuration. join selects the
// join-specific rules (session id required). All problems are reported at
// once.
func (c *Session) Validate(join bool) error {
	var errs []string

	if c.ServerURL == "" {
		errs = append(errs, "--server is required")
	} else if !isValidWsURL(c.ServerURL) {
		errs = append(errs, fmt.Sprintf("--server must be a ws:// or wss:// URL (got %q)", c.ServerURL))
	}

	if err := types.ValidateName(c.Name); err != nil {
		errs = append(errs, fmt.Sprintf("--name: %v", err))
	}

	if join && c.SessionID == uuid.Nil {
		errs = append(errs, "--session-id is required")
	}

	// TURN credentials travel together.
	if c.TurnServer != "" && (c.TurnUsername == "" || c.TurnCredential == "") {
		errs = append(errs, "--turn-server requires --turn-username and --turn-credential")
	}
	if c.TurnServer == "" && (c.TurnUsername != "" || c.TurnCredential != "") {
		errs = append(errs, "--turn-username/--turn-credential require --turn-server")
	}

	if c.TickInterval < 10*time.Millisecond || c.TickInterval > 100*time.Millisecond {
		errs = append(errs, fmt.Sprintf("TICK_INTERVAL must be between 10ms and 100ms (got %s)", c.TickInterval))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration invalid:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedSession(c)
	return nil
}

func logValidatedSession(c *Session) {
	slog.Info("Configuration validated",
		"server", c.ServerURL,
		"session_id", c.SessionID,
		"turn_server", c.TurnServer,
		"turn_credential", logging.RedactSecret(c.TurnCredential),
		"go_env", c.GoEnv,
		"log_level", c.LogLevel,
		"grace_period", c.GracePeriod,
		"tick_interval", c.TickInterval,
	)
}

// Relay holds the validated configuration of the relay server.
type Relay struct {
	Port              string
	AllowedOrigins    string
	RateLimitJoin     string
	GoEnv             string
	LogLevel          string
	DevelopmentMode   bool
	OtelCollectorAddr string
	OtelInsecure      bool
}

// RelayFromEnv validates the relay server environment and returns the
// configuration, or every problem at once.
func RelayFromEnv() (*Relay, error) {
	cfg := &Relay{
		Port:              getEnvOrDefault("PORT", "8080"),
		AllowedOrigins:    os.Getenv("ALLOWED_ORIGINS"),
		RateLimitJoin:     getEnvOrDefault("RATE_LIMIT_JOIN", "60-M"),
		GoEnv:             getEnvOrDefault("GO_ENV", "production"),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		DevelopmentMode:   os.Getenv("DEVELOPMENT_MODE") == "true",
		OtelCollectorAddr: os.Getenv("OTEL_COLLECTOR_ADDR"),
		OtelInsecure:      os.Getenv("OTEL_INSECURE") == "true",
	}

	var errs []string
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number (got %q)", cfg.Port))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	slog.Info("Relay configuration validated",
		"port", cfg.Port,
		"allowed_origins", cfg.AllowedOrigins,
		"rate_limit_join", cfg.RateLimitJoin,
		"go_env", cfg.GoEnv,
	)
	return cfg, nil
}

func isValidWsURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "ws" || u.Scheme == "wss") && u.Host != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func durationEnv(key string, defaultValue time.Duration) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Ignoring invalid duration", "key", key, "value", raw)
		return defaultValue
	}
	return d
}
