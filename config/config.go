package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/aquamarinepk/evbus/log"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config holds the application configuration.
type Config struct {
	Log         LogConfig         `koanf:"log"`
	Server      ServerConfig      `koanf:"server"`
	Bus         BusConfig         `koanf:"bus"`
	Autoloader  AutoloaderConfig  `koanf:"autoloader"`
	Persistence PersistenceConfig `koanf:"persistence"`
	NATS        NATSConfig        `koanf:"nats"`
	Capability  CapabilityConfig  `koanf:"capability"`

	// Internal fields (not marshaled by koanf)
	k      *koanf.Koanf
	logger log.Logger
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `koanf:"level"`
}

// ServerConfig holds the debug HTTP server configuration (/bus/stats,
// /bus/retained).
type ServerConfig struct {
	Port string `koanf:"port"`
}

// BusConfig mirrors bus.Config's fields so they can be loaded from file,
// environment, or flags instead of hardcoded defaults.
type BusConfig struct {
	MaxRetained         int    `koanf:"max_retained"`
	MaxMessageSize      int    `koanf:"max_message_size"`
	MaxPayloadSize      int    `koanf:"max_payload_size"`
	RateLimit           float64 `koanf:"rate_limit"`
	AllowGlobalWildcard bool   `koanf:"allow_global_wildcard"`
	CleanupInterval     string `koanf:"cleanup_interval"`
	RateLimitIdleGrace  string `koanf:"rate_limit_idle_grace"`
	Debug               bool   `koanf:"debug"`
}

// AutoloaderConfig mirrors autoloader.Config's fields.
type AutoloaderConfig struct {
	BaseURL        string `koanf:"base_url"`
	ComponentsPath string `koanf:"components_path"`
	Extension      string `koanf:"extension"`
	RootMargin     int    `koanf:"root_margin"`
}

// PersistenceConfig holds the optional client session-store connection
// settings; Driver "none" disables persistence entirely.
type PersistenceConfig struct {
	Driver   string `koanf:"driver"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
	SSLMode  string `koanf:"sslmode"`
}

// NATSConfig holds the optional bus/bridge NATS connection configuration.
type NATSConfig struct {
	URL          string `koanf:"url"`
	ClusterID    string `koanf:"clusterid"`
	ClientID     string `koanf:"clientid"`
	MaxReconnect int    `koanf:"maxreconnect"`
}

// CapabilityConfig holds the PASETO signing settings for client
// capability tokens.
type CapabilityConfig struct {
	TokenTTL        string `koanf:"token_ttl"`
	TokenPrivateKey string `koanf:"token_private_key"`
}

// Option configures Config during initialization.
type Option func(*configOptions) error

// configOptions holds option values during initialization.
type configOptions struct {
	prefix       string
	file         string
	defaults     map[string]interface{}
	envExpansion bool
}

// WithPrefix sets the environment variable prefix (e.g., "AUTHN_").
func WithPrefix(prefix string) Option {
	return func(opts *configOptions) error {
		opts.prefix = prefix
		return nil
	}
}

// WithFile loads configuration from a YAML file.
func WithFile(path string) Option {
	return func(opts *configOptions) error {
		opts.file = path
		return nil
	}
}

// WithDefaults provides default values via a map.
func WithDefaults(defaults map[string]interface{}) Option {
	return func(opts *configOptions) error {
		opts.defaults = defaults
		return nil
	}
}

// WithEnvExpansion enables ${VAR} expansion in config files.
func WithEnvExpansion() Option {
	return func(opts *configOptions) error {
		opts.envExpansion = true
		return nil
	}
}

// New creates a new Config with logger and options.
func New(logger log.Logger, opts ...Option) (*Config, error) {
	cfg := &Config{
		logger: logger,
		k:      koanf.New("."),
	}

	// Apply options
	options := &configOptions{
		prefix:       "",
		file:         "",
		defaults:     make(map[string]interface{}),
		envExpansion: false,
	}

	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// Set baseline defaults
	baselineDefaults := map[string]interface{}{
		"log.level":                     "info",
		"server.port":                   ":8080",
		"bus.max_retained":              1000,
		"bus.max_message_size":          1048576,
		"bus.max_payload_size":          524288,
		"bus.rate_limit":                1000.0,
		"bus.allow_global_wildcard":     true,
		"bus.cleanup_interval":          "30s",
		"bus.rate_limit_idle_grace":     "2m",
		"bus.debug":                     false,
		"autoloader.base_url":           "",
		"autoloader.components_path":    "/components/",
		"autoloader.extension":          ".so",
		"autoloader.root_margin":        600,
		"persistence.driver":            "none",
		"persistence.host":              "localhost",
		"persistence.port":              5432,
		"persistence.user":              "dev",
		"persistence.password":          "dev",
		"persistence.database":          "dev",
		"persistence.sslmode":           "disable",
		"nats.url":                      "nats://localhost:4222",
		"nats.clusterid":                "",
		"nats.clientid":                 "",
		"nats.maxreconnect":             10,
		"capability.token_ttl":          "24h",
		"capability.token_private_key":  "ygvuJ/guxUMFKeIcz29Ab763Cq5DT+g2+3mRfGlNiYp0GVI1wTXGsqYlDWqYjPw4G416Z6P2hag8E+/B9GxrSA==",
	}

	// Merge baseline defaults with user-provided defaults
	for k, v := range baselineDefaults {
		if _, exists := options.defaults[k]; !exists {
			options.defaults[k] = v
		}
	}

	// Load defaults
	if err := cfg.k.Load(confmap.Provider(options.defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Load file if specified
	if options.file != "" {
		raw, err := os.ReadFile(options.file)
		if err != nil {
			logger.Debugf("Config file not found: %s (using defaults)", options.file)
		} else {
			if options.envExpansion {
				raw = []byte(os.ExpandEnv(string(raw)))
			}
			if err := cfg.k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			logger.Debugf("Loaded config from file: %s", options.file)
		}
	}

	// Load environment variables if prefix specified
	if options.prefix != "" {
		if err := cfg.k.Load(env.Provider(options.prefix, ".", func(s string) string {
			return strings.Replace(strings.ToLower(
				strings.TrimPrefix(s, options.prefix)), "_", ".", -1)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load environment variables: %w", err)
		}
	}

	// Unmarshal to struct
	if err := cfg.k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Infof("Configuration loaded: driver=%s, port=%s, log=%s",
		cfg.Persistence.Driver, cfg.Server.Port, cfg.Log.Level)

	return cfg, nil
}

// GetString returns the string value for the given path.
func (c *Config) GetString(path string) string {
	return c.k.String(path)
}

// GetInt returns the int value for the given path.
func (c *Config) GetInt(path string) int {
	return c.k.Int(path)
}

// GetBool returns the bool value for the given path.
func (c *Config) GetBool(path string) bool {
	return c.k.Bool(path)
}

// GetFloat returns the float64 value for the given path.
func (c *Config) GetFloat(path string) float64 {
	return c.k.Float64(path)
}

// GetDuration parses and returns a time.Duration for the given path.
func (c *Config) GetDuration(path string) (time.Duration, error) {
	s := c.k.String(path)
	if s == "" {
		return 0, fmt.Errorf("no value found for path: %s", path)
	}
	return time.ParseDuration(s)
}

// Exists returns true if the given path exists in the configuration.
func (c *Config) Exists(path string) bool {
	return c.k.Exists(path)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	if c.Bus.MaxRetained < 0 {
		return fmt.Errorf("bus.max_retained must not be negative")
	}
	if c.Bus.RateLimit < 0 {
		return fmt.Errorf("bus.rate_limit must not be negative")
	}

	validDrivers := map[string]bool{"none": true, "postgres": true, "mongo": true}
	if !validDrivers[c.Persistence.Driver] {
		return fmt.Errorf("persistence.driver must be 'none', 'postgres', or 'mongo', got '%s'", c.Persistence.Driver)
	}
	if c.Persistence.Driver == "postgres" || c.Persistence.Driver == "mongo" {
		if c.Persistence.Host == "" {
			return fmt.Errorf("persistence.host is required for %s driver", c.Persistence.Driver)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be 'debug', 'info', or 'error', got '%s'", c.Log.Level)
	}

	c.logger.Debugf("Configuration validated successfully")

	return nil
}

// LoadConfig loads configuration from a YAML file with environment variable
// and command-line flag overrides.
//
// Deprecated: Use New() with Options pattern instead for better flexibility.
//
// Configuration precedence (highest to lowest):
//  1. Command-line flags
//  2. Environment variables (with envPrefix)
//  3. YAML file (with env var expansion)
//  4. Default values
//
// Parameters:
//   - path: Path to YAML config file
//   - envPrefix: Prefix for environment variables (e.g., "PULAP_")
//   - args: Command-line arguments (typically os.Args)
//
// Returns the loaded configuration or an error.
func LoadConfig(path, envPrefix string, args []string) (*Config, error) {
	// Create a simple logger for backward compatibility
	logger := log.NewLogger("info")

	// Use new Options pattern
	cfg, err := New(logger,
		WithPrefix(envPrefix),
		WithFile(path),
		WithEnvExpansion(),
	)
	if err != nil {
		return nil, err
	}

	// Handle command-line flags (legacy support)
	if len(args) > 1 {
		k := cfg.k
		fs := pflag.NewFlagSet(args[0], pflag.ExitOnError)
		fs.String("log.level", cfg.Log.Level, "Log level (debug, info, error)")
		fs.String("server.port", cfg.Server.Port, "Debug HTTP server port")
		fs.Int("bus.max_retained", cfg.Bus.MaxRetained, "Maximum retained messages")
		fs.Float64("bus.rate_limit", cfg.Bus.RateLimit, "Per-client publish rate limit (messages/sec)")
		fs.Bool("bus.allow_global_wildcard", cfg.Bus.AllowGlobalWildcard, "Allow bare '*' subscriptions")
		fs.String("autoloader.base_url", cfg.Autoloader.BaseURL, "Remote base URL for component fetch")
		fs.String("autoloader.components_path", cfg.Autoloader.ComponentsPath, "Component path prefix")
		fs.String("persistence.driver", cfg.Persistence.Driver, "Session persistence driver (none, postgres, mongo)")
		fs.String("persistence.host", cfg.Persistence.Host, "Persistence host")
		fs.Int("persistence.port", cfg.Persistence.Port, "Persistence port")
		fs.String("persistence.user", cfg.Persistence.User, "Persistence user")
		fs.String("persistence.password", cfg.Persistence.Password, "Persistence password")
		fs.String("persistence.database", cfg.Persistence.Database, "Persistence database name")
		fs.String("persistence.sslmode", cfg.Persistence.SSLMode, "Persistence SSL mode")
		fs.String("nats.url", cfg.NATS.URL, "NATS bridge URL")
		fs.String("capability.token_ttl", cfg.Capability.TokenTTL, "Capability token TTL")
		fs.String("capability.token_private_key", cfg.Capability.TokenPrivateKey, "PASETO token private key (Ed25519 base64)")
		fs.Parse(args[1:])

		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return nil, fmt.Errorf("cannot load flags: %w", err)
		}

		// Re-unmarshal with flags applied
		if err := k.Unmarshal("", cfg); err != nil {
			return nil, fmt.Errorf("cannot unmarshal config: %w", err)
		}
	}

	return cfg, nil
}

// ConnectionString builds a PostgreSQL connection string for the
// optional client session store.
func (p PersistenceConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}
