package app

import (
	"fmt"
	"log/slog"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/p123dav/internal/p123"
	"github.com/florianilch/p123dav/internal/tokensource"
	"github.com/florianilch/p123dav/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// OTLPProtocol selects the transport of the OpenTelemetry log exporter.
type OTLPProtocol string

const (
	OTLPProtocolGRPC   OTLPProtocol = "grpc"
	OTLPProtocolHTTP   OTLPProtocol = "http"
	OTLPProtocolStdout OTLPProtocol = "stdout"
)

// TokenStorageType represents the different storage types supported for stored tokens.
type TokenStorageType string

const (
	TokenStorageTypeFile    TokenStorageType = "file"
	TokenStorageTypeEnv     TokenStorageType = "env"
	TokenStorageTypeKeyring TokenStorageType = "keyring"
)

// KeyringService is the service name under which tokens are kept in the OS keyring.
const KeyringService = "p123dav-token"

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigOTLPProtocol    = OTLPProtocolHTTP
	DefaultConfigServerHost      = "0.0.0.0"
	DefaultConfigServerPort      = 18881
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigUpstreamBaseURL = p123.DefaultBaseURL
	DefaultConfigAuthStorage     = TokenStorageTypeFile
	DefaultConfigAuthMaxRetries  = tokensource.DefaultMaxRetries
	DefaultConfigAuthRetryDelay  = tokensource.DefaultRetryDelay
	DefaultConfigProviderTTL     = 10 * time.Second
)

// DefaultConfigAuthFile is where the token is cached when file storage is used.
var DefaultConfigAuthFile = filepath.Join("config", "config.txt")

// TelemetryConfig holds optional OpenTelemetry log export settings.
type TelemetryConfig struct {
	// OTLPEndpoint enables log export to a collector when set.
	OTLPEndpoint string `json:"otlp_endpoint" validate:"omitempty,url"`
	// OTLPProtocol "stdout" writes OTLP records to stdout and needs no endpoint.
	OTLPProtocol OTLPProtocol `json:"otlp_protocol" validate:"oneof=grpc http stdout"`
}

// Enabled reports whether log records should be exported.
func (t TelemetryConfig) Enabled() bool {
	return t.OTLPEndpoint != "" || t.OTLPProtocol == OTLPProtocolStdout
}

// ServerConfig holds WebDAV server configuration.
type ServerConfig struct {
	Host      string `json:"host" validate:"hostname_rfc1123|ip"`
	Port      uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
	MountPath string `json:"mount_path" validate:"omitempty,startswith=/,endsnotwith=/"`
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// UpstreamConfig holds 123pan API configuration.
type UpstreamConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`
}

// AuthConfig describes where the token is cached and how new tokens are acquired.
type AuthConfig struct {
	// Storage configuration - where the cached token lives
	Storage TokenStorageType `json:"storage" validate:"required,oneof=file env keyring"`

	// Storage-specific settings (mutually exclusive based on Storage type)
	File        string `json:"file,omitempty"`         // For file storage: path to token file
	EnvKey      string `json:"env_key,omitempty"`      // For env storage: environment variable name
	KeyringUser string `json:"keyring_user,omitempty"` // For keyring storage: user identifier

	// Acquisition policy
	MaxRetries int `json:"max_retries" validate:"gte=1"`
	// RetryDelay is the pause between attempts. Zero retries immediately.
	RetryDelay time.Duration `json:"retry_delay" validate:"gte=0"`
}

// ProviderConfig tunes the WebDAV filesystem over the 123pan drive.
type ProviderConfig struct {
	// TTL is how long folder listings are cached. Zero disables caching.
	TTL time.Duration `json:"ttl" validate:"gte=0"`
	// Refresh enables replacing the token at runtime when the API reports it expired.
	Refresh bool `json:"refresh"`
}

// NewTokenStore creates a TokenStore from the authentication configuration.
func (a *AuthConfig) NewTokenStore() (tokenstore.TokenStore, error) {
	switch a.Storage {
	case TokenStorageTypeFile:
		return tokenstore.NewFileStore(a.File)
	case TokenStorageTypeEnv:
		return tokenstore.NewEnvStore(a.EnvKey)
	case TokenStorageTypeKeyring:
		return tokenstore.NewKeyringStore(KeyringService, a.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}
}

// Config holds the application's configuration.
type Config struct {
	// Username and Password are the 123pan account. They are checked by the
	// token lifecycle, not by Validate, so a missing password is reported as
	// a lifecycle failure.
	Username string `json:"username"`
	Password string `json:"password"`

	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level      `json:"log_level"`
	LogFormat LogFormat       `json:"log_format" validate:"oneof=text json"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Server    ServerConfig    `json:"server"`
	Shutdown  ShutdownConfig  `json:"shutdown"`
	Upstream  UpstreamConfig  `json:"upstream"`
	Auth      AuthConfig      `json:"auth"`
	Provider  ProviderConfig  `json:"provider"`
}

// Credentials returns the account used to acquire tokens.
func (c *Config) Credentials() tokensource.Credentials {
	return tokensource.Credentials{Username: c.Username, Password: c.Password}
}

// Default creates a new Config with default values applied, including the
// durations for which zero is a meaningful setting.
func Default() (*Config, error) {
	cfg := &Config{
		Auth:     AuthConfig{RetryDelay: DefaultConfigAuthRetryDelay},
		Provider: ProviderConfig{TTL: DefaultConfigProviderTTL},
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
// Auth.RetryDelay and Provider.TTL are left alone: zero means no delay and no
// caching, so their defaults come from Default.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Telemetry.OTLPProtocol == "" {
		c.Telemetry.OTLPProtocol = DefaultConfigOTLPProtocol
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultConfigUpstreamBaseURL
	}
	if c.Auth.Storage == "" {
		c.Auth.Storage = DefaultConfigAuthStorage
	}
	if c.Auth.MaxRetries == 0 {
		c.Auth.MaxRetries = DefaultConfigAuthMaxRetries
	}

	// Dynamic defaults based on storage type
	switch c.Auth.Storage {
	case TokenStorageTypeFile:
		if c.Auth.File == "" {
			c.Auth.File = DefaultConfigAuthFile
		}
	case TokenStorageTypeKeyring:
		if c.Auth.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("auth.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Auth.KeyringUser = currentUser.Username
		}
	case TokenStorageTypeEnv:
		// env_key must be explicitly configured (no sensible default)
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Auth.Storage {
	case TokenStorageTypeFile:
		if c.Auth.File == "" {
			return fmt.Errorf("file path required for file storage")
		}
	case TokenStorageTypeEnv:
		if c.Auth.EnvKey == "" {
			return fmt.Errorf("env_key required for env storage")
		}
	case TokenStorageTypeKeyring:
		if c.Auth.KeyringUser == "" {
			return fmt.Errorf("keyring_user required for keyring storage")
		}
	}

	return nil
}
