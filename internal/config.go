package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/scivault/internal/models"
	"github.com/starford/scivault/internal/resolver"
	"github.com/starford/scivault/internal/retry"
	"github.com/starford/scivault/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Store backends.
const (
	BackendGateway = "gateway"
	BackendFS      = "fs"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Store      StoreConfig       `yaml:"store"`
	Gateway    GatewayConfig     `yaml:"gateway"`
	FS         FSConfig          `yaml:"fs"`
	Retry      RetryConfig       `yaml:"retry"`
	Reassembly ReassemblyConfig  `yaml:"reassembly"`
	Cache      CacheConfig       `yaml:"cache"`
	Status     StatusConfig      `yaml:"status"`
	CORS       CORSConfig        `yaml:"cors"`
	Auth       AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	switch c.Store.Backend {
	case BackendGateway:
		if err := c.Gateway.Validate(); err != nil {
			return err
		}
	case BackendFS:
		if err := c.FS.Validate(); err != nil {
			return err
		}
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if err := c.Reassembly.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Status.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig selects the backend and the tag values every query carries.
type StoreConfig struct {
	Backend             string          `yaml:"backend"`
	AppName             string          `yaml:"app_name"`
	ContentType         string          `yaml:"content_type"`
	MetadataContentType string          `yaml:"metadata_content_type"`
	Formats             []models.Format `yaml:"formats"`
	QueryLimit          int             `yaml:"query_limit"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendGateway, BackendFS)),
		validation.Field(&c.AppName, validation.Required),
		validation.Field(&c.ContentType, validation.Required),
		validation.Field(&c.MetadataContentType, validation.Required),
		validation.Field(&c.Formats, validation.Required),
		validation.Field(&c.QueryLimit, validation.Min(0)),
	); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Formats))
	for _, f := range c.Formats {
		if f.Version == "" {
			return errors.New("store: format version is empty")
		}
		if seen[f.Version] {
			return fmt.Errorf("store: duplicate format version %q", f.Version)
		}
		seen[f.Version] = true
	}
	return nil
}

// GatewayConfig holds the remote store endpoints.
type GatewayConfig struct {
	GraphQLURL string `yaml:"graphql_url"`
	GatewayURL string `yaml:"gateway_url"`
	UserAgent  string `yaml:"user_agent"`
}

// Validate validates the gateway configuration.
func (c *GatewayConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.GraphQLURL, validation.Required),
		validation.Field(&c.GatewayURL, validation.Required),
	)
}

// FSConfig holds the local store directory.
type FSConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// Validate validates the file-system store configuration.
func (c *FSConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// RetryConfig mirrors retry.Policy.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialDelay   time.Duration `yaml:"initial_delay"`
	Factor         float64       `yaml:"factor"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// Policy returns the retry policy.
func (c *RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    c.MaxAttempts,
		InitialDelay:   c.InitialDelay,
		Factor:         c.Factor,
		AttemptTimeout: c.AttemptTimeout,
	}
}

// Validate validates the retry configuration.
func (c *RetryConfig) Validate() error {
	return c.Policy().Validate()
}

// ReassemblyConfig controls chunk fetching.
type ReassemblyConfig struct {
	Concurrency int `yaml:"concurrency"`
	// FetchTimeout bounds one attempt to download a chunk; zero means no
	// per-attempt limit beyond the request context.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// Validate validates the reassembly configuration.
func (c *ReassemblyConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Concurrency, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.FetchTimeout, validation.Min(time.Duration(0))),
	)
}

// FetchPolicy is the retry policy for chunk byte downloads: the query
// backoff with the reassembly attempt timeout.
func (c *Config) FetchPolicy() retry.Policy {
	p := c.Retry.Policy()
	p.AttemptTimeout = c.Reassembly.FetchTimeout
	return p
}

// CacheConfig holds the optional SQLite version cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	TTL     time.Duration `yaml:"ttl"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.TTL, validation.Min(time.Duration(0))),
	)
}

// StatusConfig holds the reachability probe schedule; zero disables it.
type StatusConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// Validate validates the status configuration.
func (c *StatusConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ProbeInterval, validation.Min(time.Duration(0))),
	)
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	p := retry.DefaultPolicy()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Backend:             BackendGateway,
			AppName:             "scivault",
			ContentType:         "application/pdf",
			MetadataContentType: "application/json",
			Formats:             append([]models.Format(nil), resolver.DefaultFormats...),
			QueryLimit:          100,
		},
		Gateway: GatewayConfig{
			GraphQLURL: storage.DefaultGraphQLURL,
			GatewayURL: storage.DefaultGatewayURL,
			UserAgent:  "scivault",
		},
		FS: FSConfig{
			Path:  "./store",
			Watch: true,
		},
		Retry: RetryConfig{
			MaxAttempts:    p.MaxAttempts,
			InitialDelay:   p.InitialDelay,
			Factor:         p.Factor,
			AttemptTimeout: p.AttemptTimeout,
		},
		Reassembly: ReassemblyConfig{
			Concurrency: 1,
		},
		Cache: CacheConfig{
			Enabled: false,
			Path:    "./scivault.db",
			TTL:     10 * time.Minute,
		},
		Status: StatusConfig{
			ProbeInterval: time.Minute,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
