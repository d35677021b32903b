// Package config loads and validates the findings server configuration.
//
// Configuration is layered: built-in defaults < YAML config file < FINDINGS_
// environment variables < command-line flags. FINDINGS_DATABASE_DSN overrides
// database.dsn in the YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/inspectio/finding-overrides/pkg/cache"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "FINDINGS"

// Config holds all server configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Seed       SeedConfig       `mapstructure:"seed"`
	Cache      cache.Config     `mapstructure:"cache"`
	Resolution ResolutionConfig `mapstructure:"resolution"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig selects the ledger backend. An empty Type runs the server
// without a store; every ledger-backed request then fails with 503.
type DatabaseConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
	// Migrate is "auto" (gorm AutoMigrate), "sql" (embedded SQL migrations,
	// postgres only) or "none".
	Migrate         string        `mapstructure:"migrate"`
	MigrationLock   bool          `mapstructure:"migration_lock"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Configured reports whether a backend is selected.
func (d DatabaseConfig) Configured() bool { return d.Type != "" }

// SeedConfig locates the static finding catalog.
type SeedConfig struct {
	Path        string `mapstructure:"path"`
	DefaultLang string `mapstructure:"default_lang"`
}

// ResolutionConfig controls the resolution engine.
type ResolutionConfig struct {
	// AllowPreview lets callers resolve against drafts.
	AllowPreview bool `mapstructure:"allow_preview"`
}

// AuthConfig controls caller identity.
type AuthConfig struct {
	// Mode is "header" (trusted proxy headers) or "jwt" (bearer tokens).
	Mode                     string `mapstructure:"mode"`
	PrincipalClaim           string `mapstructure:"principal_claim"`
	RoleClaim                string `mapstructure:"role_claim"`
	OperatorRoleValue        string `mapstructure:"operator_role_value"`
	PublicKeyPath            string `mapstructure:"public_key_path"`
	Issuer                   string `mapstructure:"issuer"`
	Audience                 string `mapstructure:"audience"`
	RequireOperatorForWrites bool   `mapstructure:"require_operator_for_writes"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"config":        "",
	"listen":        "server.listen",
	"db-type":       "database.type",
	"db-dsn":        "database.dsn",
	"migrate":       "database.migrate",
	"seed":          "seed.path",
	"default-lang":  "seed.default_lang",
	"allow-preview": "resolution.allow_preview",
	"auth-mode":     "auth.mode",
	"log-level":     "logging.level",
	"log-format":    "logging.format",
}

// RegisterFlags adds the server flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML config file")
	fs.String("listen", "", "Address to listen on (default :8080)")
	fs.String("db-type", "", "Database type: postgres, mysql or sqlite")
	fs.String("db-dsn", "", "Database connection string")
	fs.String("migrate", "", "Schema migration mode: auto, sql or none")
	fs.String("seed", "", "Path to the seed catalog YAML")
	fs.String("default-lang", "", "Fallback language for seed messages")
	fs.Bool("allow-preview", false, "Allow resolution against drafts")
	fs.String("auth-mode", "", "Caller identity mode: header or jwt")
	fs.String("log-level", "", "Log level: debug, info, warn or error")
	fs.String("log-format", "", "Log format: text or json")
}

// Load reads configuration from the file named by configPath (or config.yaml
// in the usual locations), FINDINGS_ environment variables and, when fs is
// non-nil, the flags the caller explicitly set.
func Load(configPath string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/finding-overrides")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	if fs != nil {
		var bindErr error
		fs.Visit(func(f *pflag.Flag) {
			key := flagKeys[f.Name]
			if key == "" || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Database.DSN = os.ExpandEnv(cfg.Database.DSN)
	cfg.Database.Type = strings.ToLower(strings.TrimSpace(cfg.Database.Type))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// bindEnvVars binds every key explicitly; AutomaticEnv alone does not reach
// nested keys during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		"server.listen",
		"server.read_timeout",
		"server.write_timeout",
		"server.shutdown_timeout",
		"server.allowed_origins",

		"database.type",
		"database.dsn",
		"database.migrate",
		"database.migration_lock",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",

		"seed.path",
		"seed.default_lang",

		"cache.enabled",
		"cache.max_size",
		"cache.ttl",

		"resolution.allow_preview",

		"auth.mode",
		"auth.principal_claim",
		"auth.role_claim",
		"auth.operator_role_value",
		"auth.public_key_path",
		"auth.issuer",
		"auth.audience",
		"auth.require_operator_for_writes",

		"logging.level",
		"logging.format",

		"metrics.enabled",
		"metrics.path",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env var %q: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"https://*", "http://*"})

	v.SetDefault("database.type", "")
	v.SetDefault("database.migrate", "auto")
	v.SetDefault("database.migration_lock", true)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("seed.default_lang", "en")

	def := cache.DefaultConfig()
	v.SetDefault("cache.enabled", def.Enabled)
	v.SetDefault("cache.max_size", def.MaxSize)
	v.SetDefault("cache.ttl", def.TTL)

	v.SetDefault("resolution.allow_preview", false)

	v.SetDefault("auth.mode", "header")
	v.SetDefault("auth.principal_claim", "sub")
	v.SetDefault("auth.role_claim", "role")
	v.SetDefault("auth.operator_role_value", "operator")
	v.SetDefault("auth.require_operator_for_writes", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}

	switch c.Database.Type {
	case "", "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("invalid database.type %q (must be postgres, mysql or sqlite)", c.Database.Type)
	}
	if c.Database.Configured() && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.type is %s", c.Database.Type)
	}
	switch c.Database.Migrate {
	case "auto", "none":
	case "sql":
		if c.Database.Type != "postgres" {
			return fmt.Errorf("database.migrate=sql is only supported for postgres")
		}
	default:
		return fmt.Errorf("invalid database.migrate %q (must be auto, sql or none)", c.Database.Migrate)
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database pool sizes must not be negative")
	}

	if c.Cache.MaxSize < 0 {
		return fmt.Errorf("cache.max_size must not be negative")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}

	switch c.Auth.Mode {
	case "header":
	case "jwt":
		if c.Auth.PrincipalClaim == "" || c.Auth.RoleClaim == "" {
			return fmt.Errorf("auth.principal_claim and auth.role_claim are required in jwt mode")
		}
	default:
		return fmt.Errorf("invalid auth.mode %q (must be header or jwt)", c.Auth.Mode)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q (must be text or json)", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return nil
}
