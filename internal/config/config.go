// Package config loads the relay's runtime configuration from an optional
// YAML file, environment variables, and flags. Environment variables override
// the file; flags override both.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"gopkg.in/yaml.v3"
)

type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeAPIKey AuthMode = "apikey"
	AuthModeJWT    AuthMode = "jwt"
)

// ControlRelayMode selects how the signaling relay treats control envelopes
// that are not bound to an active secure session.
type ControlRelayMode string

const (
	// ControlRelayEnforce drops control envelopes with no bound session.
	ControlRelayEnforce ControlRelayMode = "enforce"
	// ControlRelayPassthrough relays unbound control envelopes like any other
	// signaling envelope. Retained for legacy peers that negotiate control
	// out-of-band; consent-gated deployments must not use it.
	ControlRelayPassthrough ControlRelayMode = "passthrough"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

const (
	envListenAddr      = "CROSSDESK_LISTEN_ADDR"
	envLogFormat       = "CROSSDESK_LOG_FORMAT"
	envLogLevel        = "CROSSDESK_LOG_LEVEL"
	envShutdownTimeout = "CROSSDESK_SHUTDOWN_TIMEOUT"

	envAuthMode  = "AUTH_MODE"
	envAPIKey    = "API_KEY"
	envJWTSecret = "JWT_SECRET"

	envActivityTimeout   = "ACTIVITY_TIMEOUT"
	envSessionTimeout    = "SESSION_TIMEOUT"
	envSweepInterval     = "SESSION_SWEEP_INTERVAL"
	envAuditLogCapacity  = "AUDIT_LOG_CAPACITY"
	envMaxActiveSessions = "MAX_ACTIVE_SESSIONS"
	envAllowedLocations  = "ALLOWED_LOCATIONS"
	envControlRelayMode  = "CONTROL_RELAY_MODE"

	envMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envAllowedOrigins                = "ALLOWED_ORIGINS"

	envTURNRestSecret         = "TURN_REST_SECRET"
	envTURNRestTTL            = "TURN_REST_TTL"
	envTURNRestUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second

	// DefaultActivityTimeout is the inactivity ceiling on a secure session.
	DefaultActivityTimeout = 1 * time.Hour
	// DefaultSessionTimeout is the hard age ceiling on a secure session,
	// enforced independent of recent activity. Long-running cross-border work
	// sessions must re-authenticate past this point.
	DefaultSessionTimeout = 12 * time.Hour
	DefaultSweepInterval  = 1 * time.Minute

	DefaultAuditLogCapacity = 1000

	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50

	DefaultTURNRestTTL            = 1 * time.Hour
	DefaultTURNRestUsernamePrefix = "crossdesk"
)

type Config struct {
	ListenAddr      string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	AuthMode  AuthMode
	APIKey    string
	JWTSecret string

	// Secure session policy.
	ActivityTimeout   time.Duration
	SessionTimeout    time.Duration
	SweepInterval     time.Duration
	AuditLogCapacity  int
	MaxActiveSessions int // <= 0 means unlimited
	// AllowedLocations restricts the self-reported locations accepted at
	// session creation. Empty means any location is accepted.
	AllowedLocations []string

	ControlRelayMode ControlRelayMode

	// Inbound WebSocket signaling hardening.
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	// AllowedOrigins is the browser Origin allowlist for WebSocket upgrades.
	// Requests without an Origin header (native clients) always pass. Empty
	// means same-host only; "*" disables the check.
	AllowedOrigins []string

	// ICEServers is handed to clients on admission and via GET /webrtc/ice.
	// Media never transits this process.
	ICEServers []webrtc.ICEServer

	// TURN REST credentials (coturn-compatible). When TURNRestSecret is set,
	// TURN entries in ICEServers get short-lived per-request credentials
	// instead of whatever static username/credential was configured.
	TURNRestSecret         string
	TURNRestTTL            time.Duration
	TURNRestUsernamePrefix string
}

// fileConfig mirrors Config for YAML decoding. All fields are optional;
// unset fields fall back to env vars and defaults.
type fileConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	LogFormat       string `yaml:"log_format"`
	LogLevel        string `yaml:"log_level"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`

	Auth struct {
		Mode      string `yaml:"mode"`
		APIKey    string `yaml:"api_key"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Sessions struct {
		ActivityTimeout   string   `yaml:"activity_timeout"`
		SessionTimeout    string   `yaml:"session_timeout"`
		SweepInterval     string   `yaml:"sweep_interval"`
		AuditLogCapacity  *int     `yaml:"audit_log_capacity"`
		MaxActiveSessions *int     `yaml:"max_active_sessions"`
		AllowedLocations  []string `yaml:"allowed_locations"`
	} `yaml:"sessions"`

	Signaling struct {
		ControlRelayMode     string   `yaml:"control_relay_mode"`
		MaxMessageBytes      *int64   `yaml:"max_message_bytes"`
		MaxMessagesPerSecond *int     `yaml:"max_messages_per_second"`
		AllowedOrigins       []string `yaml:"allowed_origins"`
	} `yaml:"signaling"`

	ICE struct {
		ServersJSON    string `yaml:"servers_json"`
		STUNURLs       string `yaml:"stun_urls"`
		TURNURLs       string `yaml:"turn_urls"`
		TURNUsername   string `yaml:"turn_username"`
		TURNCredential string `yaml:"turn_credential"`

		TURNRestSecret         string `yaml:"turn_rest_secret"`
		TURNRestTTL            string `yaml:"turn_rest_ttl"`
		TURNRestUsernamePrefix string `yaml:"turn_rest_username_prefix"`
	} `yaml:"ice"`
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	fs := flag.NewFlagSet("crossdesk-relay", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to an optional YAML config file")
	listenAddrFlag := fs.String("listen-addr", "", "listen address (overrides config file and env)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	var file fileConfig
	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		dec := yaml.NewDecoder(strings.NewReader(string(raw)))
		dec.KnownFields(true)
		if err := dec.Decode(&file); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", *configPath, err)
		}
	}

	// Layering: file value, then env override, then flag override.
	pick := func(envKey, fileVal string) string {
		if v, ok := lookup(envKey); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(fileVal)
	}

	cfg := Config{
		ListenAddr: DefaultListenAddr,

		ActivityTimeout:  DefaultActivityTimeout,
		SessionTimeout:   DefaultSessionTimeout,
		SweepInterval:    DefaultSweepInterval,
		AuditLogCapacity: DefaultAuditLogCapacity,

		ControlRelayMode: ControlRelayEnforce,

		MaxSignalingMessageBytes:      DefaultMaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: DefaultMaxSignalingMessagesPerSecond,
	}

	if v := pick(envListenAddr, file.ListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if *listenAddrFlag != "" {
		cfg.ListenAddr = *listenAddrFlag
	}

	logFormat, err := parseLogFormat(pick(envLogFormat, file.LogFormat))
	if err != nil {
		return Config{}, err
	}
	cfg.LogFormat = logFormat

	logLevel, err := parseLogLevel(pick(envLogLevel, file.LogLevel))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = logLevel

	cfg.ShutdownTimeout, err = durationOrDefault(pick(envShutdownTimeout, file.ShutdownTimeout), DefaultShutdownTimeout)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", envShutdownTimeout, err)
	}

	authMode, err := parseAuthMode(pick(envAuthMode, file.Auth.Mode))
	if err != nil {
		return Config{}, err
	}
	cfg.AuthMode = authMode
	cfg.APIKey = pick(envAPIKey, file.Auth.APIKey)
	cfg.JWTSecret = pick(envJWTSecret, file.Auth.JWTSecret)

	cfg.ActivityTimeout, err = durationOrDefault(pick(envActivityTimeout, file.Sessions.ActivityTimeout), DefaultActivityTimeout)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", envActivityTimeout, err)
	}
	cfg.SessionTimeout, err = durationOrDefault(pick(envSessionTimeout, file.Sessions.SessionTimeout), DefaultSessionTimeout)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", envSessionTimeout, err)
	}
	cfg.SweepInterval, err = durationOrDefault(pick(envSweepInterval, file.Sessions.SweepInterval), DefaultSweepInterval)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", envSweepInterval, err)
	}

	if file.Sessions.AuditLogCapacity != nil {
		cfg.AuditLogCapacity = *file.Sessions.AuditLogCapacity
	}
	cfg.AuditLogCapacity, err = intEnvOverride(lookup, envAuditLogCapacity, cfg.AuditLogCapacity)
	if err != nil {
		return Config{}, err
	}
	if cfg.AuditLogCapacity <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envAuditLogCapacity)
	}

	if file.Sessions.MaxActiveSessions != nil {
		cfg.MaxActiveSessions = *file.Sessions.MaxActiveSessions
	}
	cfg.MaxActiveSessions, err = intEnvOverride(lookup, envMaxActiveSessions, cfg.MaxActiveSessions)
	if err != nil {
		return Config{}, err
	}

	cfg.AllowedLocations = file.Sessions.AllowedLocations
	if v, ok := lookup(envAllowedLocations); ok && strings.TrimSpace(v) != "" {
		cfg.AllowedLocations = splitCommaSeparated(v)
	}

	controlMode, err := parseControlRelayMode(pick(envControlRelayMode, file.Signaling.ControlRelayMode))
	if err != nil {
		return Config{}, err
	}
	cfg.ControlRelayMode = controlMode

	if file.Signaling.MaxMessageBytes != nil {
		cfg.MaxSignalingMessageBytes = *file.Signaling.MaxMessageBytes
	}
	if v, ok := lookup(envMaxSignalingMessageBytes); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envMaxSignalingMessageBytes, v, err)
		}
		cfg.MaxSignalingMessageBytes = n
	}

	if file.Signaling.MaxMessagesPerSecond != nil {
		cfg.MaxSignalingMessagesPerSecond = *file.Signaling.MaxMessagesPerSecond
	}
	cfg.MaxSignalingMessagesPerSecond, err = intEnvOverride(lookup, envMaxSignalingMessagesPerSecond, cfg.MaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	cfg.AllowedOrigins = file.Signaling.AllowedOrigins
	if v, ok := lookup(envAllowedOrigins); ok && strings.TrimSpace(v) != "" {
		cfg.AllowedOrigins = splitCommaSeparated(v)
	}

	cfg.TURNRestSecret = pick(envTURNRestSecret, file.ICE.TURNRestSecret)
	cfg.TURNRestTTL, err = durationOrDefault(pick(envTURNRestTTL, file.ICE.TURNRestTTL), DefaultTURNRestTTL)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", envTURNRestTTL, err)
	}
	cfg.TURNRestUsernamePrefix = pick(envTURNRestUsernamePrefix, file.ICE.TURNRestUsernamePrefix)
	if cfg.TURNRestUsernamePrefix == "" {
		cfg.TURNRestUsernamePrefix = DefaultTURNRestUsernamePrefix
	}

	cfg.ICEServers, err = parseICEServersFromValues(
		pick(envICEServersJSON, file.ICE.ServersJSON),
		pick(envStunURLs, file.ICE.STUNURLs),
		pick(envTurnURLs, file.ICE.TURNURLs),
		pick(envTurnUsername, file.ICE.TURNUsername),
		pick(envTurnCredential, file.ICE.TURNCredential),
		cfg.TURNRestSecret == "",
	)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.AuthMode {
	case AuthModeNone:
	case AuthModeAPIKey:
		if c.APIKey == "" {
			return fmt.Errorf("%s is required when %s=%s", envAPIKey, envAuthMode, AuthModeAPIKey)
		}
	case AuthModeJWT:
		if c.JWTSecret == "" {
			return fmt.Errorf("%s is required when %s=%s", envJWTSecret, envAuthMode, AuthModeJWT)
		}
	default:
		return fmt.Errorf("unsupported auth mode %q", c.AuthMode)
	}

	if c.ActivityTimeout <= 0 {
		return fmt.Errorf("%s must be positive", envActivityTimeout)
	}
	if c.SessionTimeout < c.ActivityTimeout {
		return fmt.Errorf("%s must not be shorter than %s", envSessionTimeout, envActivityTimeout)
	}

	// A zero rate or read limit would close every signaling connection on
	// its first message; reject it at load instead.
	if c.MaxSignalingMessagesPerSecond <= 0 {
		return fmt.Errorf("%s must be positive", envMaxSignalingMessagesPerSecond)
	}
	if c.MaxSignalingMessageBytes <= 0 {
		return fmt.Errorf("%s must be positive", envMaxSignalingMessageBytes)
	}

	if c.TURNRestSecret != "" {
		if c.TURNRestTTL <= 0 {
			return fmt.Errorf("%s must be positive", envTURNRestTTL)
		}
		if strings.Contains(c.TURNRestUsernamePrefix, ":") {
			return fmt.Errorf("%s must not contain ':'", envTURNRestUsernamePrefix)
		}
	}
	return nil
}

func parseAuthMode(raw string) (AuthMode, error) {
	switch strings.ToLower(raw) {
	case "", string(AuthModeAPIKey):
		return AuthModeAPIKey, nil
	case string(AuthModeNone):
		return AuthModeNone, nil
	case string(AuthModeJWT):
		return AuthModeJWT, nil
	default:
		return "", fmt.Errorf("unsupported %s %q", envAuthMode, raw)
	}
}

func parseControlRelayMode(raw string) (ControlRelayMode, error) {
	switch strings.ToLower(raw) {
	case "", string(ControlRelayEnforce):
		return ControlRelayEnforce, nil
	case string(ControlRelayPassthrough):
		return ControlRelayPassthrough, nil
	default:
		return "", fmt.Errorf("unsupported %s %q", envControlRelayMode, raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(raw) {
	case "", string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported %s %q", envLogFormat, raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported %s %q", envLogLevel, raw)
	}
}

func durationOrDefault(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	return d, nil
}

func intEnvOverride(lookup func(string) (string, bool), key string, current int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return current, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}
