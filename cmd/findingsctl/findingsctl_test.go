package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/inspectio/finding-overrides/pkg/cache"
	"github.com/inspectio/finding-overrides/pkg/findings"
	"github.com/inspectio/finding-overrides/pkg/findings/api"
	"github.com/inspectio/finding-overrides/pkg/findings/ledger"
	"github.com/inspectio/finding-overrides/pkg/findings/lifecycle"
	"github.com/inspectio/finding-overrides/pkg/findings/resolve"
	"github.com/inspectio/finding-overrides/pkg/findings/seed"
	"github.com/inspectio/finding-overrides/pkg/priority"
)

func newTestServer(t *testing.T) string {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := ledger.NewStore(db)
	require.NoError(t, store.AutoMigrate())
	catalog, err := seed.NewStaticCatalog("en", []seed.Definition{{
		FindingID:      "HR-01",
		Title:          "Loose handrail",
		LegacyPriority: priority.Ptr(priority.Urgent),
		Dimensions:     findings.Dimensions{Priority: priority.Ptr(priority.Recommended)},
		Messages:       map[string]findings.Messages{"en": {Title: "Loose handrail"}},
	}})
	require.NoError(t, err)

	engine := resolve.NewEngine(catalog, store, resolve.Options{Cache: cache.DefaultConfig(), AllowPreview: true})
	r := chi.NewRouter()
	r.Mount(apiPrefix, api.Router(api.Deps{
		Engine:    engine,
		Store:     store,
		Publisher: lifecycle.NewPublisher(store, engine, nil, nil),
	}))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func run(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server, "--actor", "alice@example.com"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestDraftPublishRollbackFlow(t *testing.T) {
	server := newTestServer(t)
	file := filepath.Join(t.TempDir(), "dims.yaml")
	require.NoError(t, os.WriteFile(file, []byte("severity: 4\npriority: IMMEDIATE\n"), 0o600))

	out, err := run(t, server, "draft", "dimensions", "HR-01", "-f", file, "--note", "field review")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Draft dimensions v1 stored for HR-01")

	out, err = run(t, server, "state", "HR-01")
	require.NoError(t, err, out)
	assert.Regexp(t, `dimensions\s+1\s+-`, out)

	out, err = run(t, server, "publish", "dimensions", "--label", "2026-10", "--dry-run")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Would publish 1 dimensions override(s) as 2026-10")

	out, err = run(t, server, "-o", "json", "publish", "dimensions", "--label", "2026-10")
	require.NoError(t, err, out)
	var published lifecycle.PublishResult
	require.NoError(t, json.Unmarshal([]byte(out), &published))
	assert.Equal(t, 1, published.Published)
	assert.NotEmpty(t, published.BatchID)

	out, err = run(t, server, "effective", "get", "HR-01")
	require.NoError(t, err, out)
	assert.Contains(t, out, "override")
	assert.Contains(t, out, "priority=IMMEDIATE")

	out, err = run(t, server, "audit", "--batch", published.BatchID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "publish")
	assert.Contains(t, out, "alice@example.com")

	require.NoError(t, os.WriteFile(file, []byte("severity: 2\npriority: URGENT\n"), 0o600))
	_, err = run(t, server, "draft", "dimensions", "HR-01", "-f", file)
	require.NoError(t, err)
	_, err = run(t, server, "publish", "dimensions", "--label", "2026-11")
	require.NoError(t, err)

	out, err = run(t, server, "rollback", "dimensions", "--to", "2026-11")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Rolled back 1 dimensions override(s) from 2026-11")

	out, err = run(t, server, "effective", "get", "HR-01")
	require.NoError(t, err, out)
	assert.Contains(t, out, "priority=IMMEDIATE")

	out, err = run(t, server, "rollback", "dimensions", "--to", "2026-10", "--dry-run")
	require.NoError(t, err, out)
	assert.Contains(t, out, "nothing was published before 2026-10")

	out, err = run(t, server, "-o", "yaml", "versions", "dimensions", "HR-01", "--page-size", "2")
	require.NoError(t, err, out)
	assert.Contains(t, out, "updated_by: alice@example.com")
	assert.Contains(t, out, "nextPageToken:")
}

func TestMessagesDraftFromStdinAndReset(t *testing.T) {
	server := newTestServer(t)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(`{"title": "Handrail loose at stair"}`))
	cmd.SetArgs([]string{"--server", server, "--actor", "alice", "draft", "messages", "HR-01", "EN", "-f", "-"})
	require.NoError(t, cmd.Execute(), out.String())
	assert.Contains(t, out.String(), "HR-01/en")

	_, err := run(t, server, "publish", "messages", "--lang", "en", "--label", "m1")
	require.NoError(t, err)
	out2, err := run(t, server, "effective", "list", "--kind", "messages")
	require.NoError(t, err)
	assert.Contains(t, out2, "Handrail loose at stair")

	out2, err = run(t, server, "reset", "messages", "HR-01", "en")
	require.NoError(t, err)
	assert.Contains(t, out2, "reset to seed")
	out2, err = run(t, server, "reset", "messages", "HR-01", "en")
	require.NoError(t, err)
	assert.Contains(t, out2, "had no published override")
}

func TestPriorityResolveCommand(t *testing.T) {
	server := newTestServer(t)

	out, err := run(t, server, "-o", "json", "priority", "resolve", "--finding", "HR-01")
	require.NoError(t, err, out)
	var resp api.PriorityResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, priority.Recommended, resp.Priority)

	out, err = run(t, server, "priority", "resolve", "--calculated", "urgent", "--selected", "plan-monitor", "--reason", "owner repaired")
	require.NoError(t, err, out)
	assert.Contains(t, out, "PLAN_MONITOR")

	_, err = run(t, server, "priority", "resolve", "--selected", "soon")
	assert.ErrorContains(t, err, "unknown priority")

	_, err = run(t, server, "priority", "resolve", "--calculated", "URGENT", "--selected", "IMMEDIATE", "--validate")
	assert.ErrorContains(t, err, "server returned 400")
}

func TestCommandErrors(t *testing.T) {
	server := newTestServer(t)

	_, err := run(t, server, "publish", "widgets")
	assert.ErrorContains(t, err, "unknown entity")

	_, err = run(t, server, "-o", "xml", "health")
	assert.ErrorContains(t, err, "unsupported output format")

	out, err := run(t, server, "health")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	_, err = run(t, server, "rollback", "dimensions")
	assert.Error(t, err, "--to is required")
}

func TestOutputHelpers(t *testing.T) {
	assert.Equal(t, "-", str[int](nil))
	n := 3
	assert.Equal(t, "3", str(&n))
	assert.Equal(t, "URGENT", str(priority.Ptr(priority.Urgent)))

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "ab", truncate("abcdef", 2))

	var buf bytes.Buffer
	printTable(&buf, []string{"a", "b"}, [][]string{{"1", "2"}})
	assert.True(t, strings.HasPrefix(buf.String(), "A"))
}
