package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.Database.Configured())
	assert.Equal(t, "auto", cfg.Database.Migrate)
	assert.Equal(t, "en", cfg.Seed.DefaultLang)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 256, cfg.Cache.MaxSize)
	assert.False(t, cfg.Resolution.AllowPreview)
	assert.Equal(t, "header", cfg.Auth.Mode)
	assert.Equal(t, "sub", cfg.Auth.PrincipalClaim)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9000"
database:
  type: Postgres
  dsn: "postgres://findings:${FINDINGS_TEST_PW}@db/findings"
  migrate: sql
seed:
  path: /etc/findings/seed.yaml
cache:
  max_size: 32
  ttl: 1m
resolution:
  allow_preview: true
logging:
  level: debug
  format: json
`)
	t.Setenv("FINDINGS_TEST_PW", "s3cret")
	t.Setenv("FINDINGS_SERVER_LISTEN", ":9100")
	t.Setenv("FINDINGS_AUTH_REQUIRE_OPERATOR_FOR_WRITES", "true")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--log-format=text", "--listen=:9200"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)

	assert.Equal(t, ":9200", cfg.Server.Listen, "flag beats env and file")
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "postgres://findings:s3cret@db/findings", cfg.Database.DSN)
	assert.Equal(t, "sql", cfg.Database.Migrate)
	assert.Equal(t, "/etc/findings/seed.yaml", cfg.Seed.Path)
	assert.Equal(t, 32, cfg.Cache.MaxSize)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.True(t, cfg.Resolution.AllowPreview)
	assert.True(t, cfg.Auth.RequireOperatorForWrites)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Listen: ":8080"},
			Database: DatabaseConfig{Type: "sqlite", DSN: "file:findings.db", Migrate: "auto"},
			Auth:     AuthConfig{Mode: "header"},
			Logging:  LoggingConfig{Level: "info", Format: "text"},
			Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Server.Listen = "" }},
		{"unknown db type", func(c *Config) { c.Database.Type = "oracle" }},
		{"db without dsn", func(c *Config) { c.Database.DSN = "" }},
		{"sql migrations on sqlite", func(c *Config) { c.Database.Migrate = "sql" }},
		{"unknown migrate mode", func(c *Config) { c.Database.Migrate = "later" }},
		{"negative pool", func(c *Config) { c.Database.MaxOpenConns = -1 }},
		{"negative cache size", func(c *Config) { c.Cache.MaxSize = -1 }},
		{"unknown auth mode", func(c *Config) { c.Auth.Mode = "basic" }},
		{"jwt without claims", func(c *Config) { c.Auth.Mode = "jwt" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"relative metrics path", func(c *Config) { c.Metrics.Path = "metrics" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadExampleConfig(t *testing.T) {
	t.Setenv("FINDINGS_DB_PASSWORD", "s3cret")
	cfg, err := Load(filepath.Join("..", "..", "config", "config.example.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Contains(t, cfg.Database.DSN, "password=s3cret")
	assert.Equal(t, "sql", cfg.Database.Migrate)
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.True(t, cfg.Resolution.AllowPreview)
}
