package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inspectio/finding-overrides/internal/config"
	"github.com/inspectio/finding-overrides/internal/db"
	"github.com/inspectio/finding-overrides/pkg/cache"
)

const seedYAML = `
default_lang: en
findings:
  - finding_id: HR-01
    title: Loose handrail
    dimensions:
      severity: 3
      priority: RECOMMENDED
    messages:
      en:
        title: Loose handrail
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	seedPath := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(seedYAML), 0o600))
	return &config.Config{
		Server:     config.ServerConfig{Listen: ":0", AllowedOrigins: []string{"https://*"}},
		Database:   config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:", Migrate: db.MigrateAuto, MigrationLock: true},
		Seed:       config.SeedConfig{Path: seedPath, DefaultLang: "en"},
		Cache:      cache.DefaultConfig(),
		Resolution: config.ResolutionConfig{AllowPreview: true},
		Auth:       config.AuthConfig{Mode: "header"},
		Logging:    config.LoggingConfig{Level: "info", Format: "text"},
		Metrics:    config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg, newLogger(cfg.Logging, io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(a.db, nil) })
	return a
}

func serve(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAppServesAPI(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	rec := serve(a.handler, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(a.handler, http.MethodGet, apiPrefix+"/findings/HR-01/effective", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"dimensions_source":"seed"`)

	rec = serve(a.handler, http.MethodPost, apiPrefix+"/findings/HR-01/dimensions/drafts",
		`{"dimensions":{"severity":5}}`, map[string]string{"X-User-Principal": "alice"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(a.handler, http.MethodPost, apiPrefix+"/dimensions/publish", `{"version_text":"2026-10"}`,
		map[string]string{"X-User-Principal": "bob"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(a.handler, http.MethodGet, apiPrefix+"/findings/HR-01/effective", "", nil)
	assert.Contains(t, rec.Body.String(), `"dimensions_source":"override"`)

	rec = serve(a.handler, http.MethodGet, apiPrefix+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAppMetricsEndpoint(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	serve(a.handler, http.MethodGet, apiPrefix+"/effective", "", nil)
	serve(a.handler, http.MethodGet, apiPrefix+"/effective", "", nil)

	rec := serve(a.handler, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `finding_overrides_http_requests_total{method="GET",path="/api/findings/v1/effective",status="200"} 2`)
	assert.Contains(t, body, `finding_overrides_index_cache_lookups_total{kind="dimensions",result="hit"} 1`)
}

func TestAppCORSPreflight(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	rec := serve(a.handler, http.MethodOptions, apiPrefix+"/dimensions/publish", "", map[string]string{
		"Origin":                        "https://admin.example.com",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Equal(t, "https://admin.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAppWithoutDatabaseFailsClosed(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database = config.DatabaseConfig{Migrate: db.MigrateAuto}
	cfg.Metrics.Enabled = false
	a := newTestApp(t, cfg)

	rec := serve(a.handler, http.MethodGet, apiPrefix+"/findings/HR-01/effective", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = serve(a.handler, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAppRejectsBadAuthMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Mode = "kerberos"
	_, err := newApp(context.Background(), cfg, newLogger(cfg.Logging, io.Discard))
	assert.Error(t, err)
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf).Info("hidden")
	assert.Empty(t, buf.String())
	newLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf).Debug("shown", "k", "v")
	assert.True(t, strings.HasPrefix(buf.String(), "{"), buf.String())
}
