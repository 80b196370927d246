package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qter21/legal-codes-search-api/internal/config"
	"github.com/qter21/legal-codes-search-api/internal/embed"
	"github.com/qter21/legal-codes-search-api/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "codes.jsonl")
	require.NoError(t, os.WriteFile(src, []byte(
		`{"document_id":"fam-3044","code":"FAM","section":"3044","content":"presumption","updated_at":"2024-01-01T00:00:00Z"}`+"\n"), 0o644))

	cfg := config.NewConfig()
	cfg.Source.Kind = "jsonl"
	cfg.Source.Path = src
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Embeddings.Provider = "static"
	cfg.Embeddings.Dimensions = 32
	return cfg
}

func find(results []CheckResult, name string) CheckResult {
	for _, r := range results {
		if r.Name == name {
			return r
		}
	}
	return CheckResult{Name: "missing"}
}

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
		{CheckStatus(9), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_JSONUsesStatusName(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "source", Status: StatusWarn})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"warn"`)
}

func TestRunAll_HealthySetup(t *testing.T) {
	// Given: a readable JSONL source and the static embedder
	cfg := testConfig(t)
	c := New(cfg, WithEmbedder(embed.NewStaticEmbedder(32)), WithOutput(&bytes.Buffer{}))

	// When
	results := c.RunAll(context.Background())

	// Then
	for _, name := range []string{"config", "data_dir", "source", "sync_lease", "embedder"} {
		assert.Equal(t, StatusPass, find(results, name).Status, name)
	}
	assert.False(t, c.HasCriticalFailures(results))
	assert.DirExists(t, cfg.Storage.DataDir)
}

func TestCheckSource_MissingFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.Path = filepath.Join(t.TempDir(), "nope.jsonl")

	r := New(cfg).CheckSource(context.Background())

	assert.Equal(t, StatusFail, r.Status)
	assert.True(t, r.IsCritical())
	assert.Contains(t, r.Details, "source.path")
}

func TestCheckSource_EmptyFileWarns(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Source.Path, nil, 0o644))

	r := New(cfg).CheckSource(context.Background())
	assert.Equal(t, StatusWarn, r.Status)
}

func TestCheckConfig_Invalid(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.Kind = "mongodb"

	r := New(cfg).CheckConfig()
	assert.Equal(t, StatusFail, r.Status)
	assert.Contains(t, r.Message, "source.kind")
}

func TestCheckLease_HeldByAnotherRun(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Storage.DataDir, 0o755))
	held := store.NewLease(cfg.Storage.DataDir)
	require.NoError(t, held.TryAcquire())
	defer func() { _ = held.Release() }()

	r := New(cfg).CheckLease(cfg.Storage.DataDir)
	assert.Equal(t, StatusWarn, r.Status)
	assert.False(t, r.IsCritical())
}

// brokenEmbedder fails every call.
type brokenEmbedder struct{ *embed.StaticEmbedder }

func (brokenEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("connection refused")
}

// shortEmbedder returns fewer dimensions than it claims.
type shortEmbedder struct{ *embed.StaticEmbedder }

func (shortEmbedder) Embed(context.Context, string) ([]float32, error) {
	return make([]float32, 8), nil
}

func TestCheckEmbedder(t *testing.T) {
	c := New(testConfig(t))

	r := c.CheckEmbedder(context.Background(), brokenEmbedder{embed.NewStaticEmbedder(32)})
	assert.Equal(t, StatusWarn, r.Status)
	assert.Contains(t, r.Message, "connection refused")

	r = c.CheckEmbedder(context.Background(), shortEmbedder{embed.NewStaticEmbedder(32)})
	assert.Equal(t, StatusFail, r.Status)
	assert.True(t, r.IsCritical())
}

func TestSummaryStatus(t *testing.T) {
	c := New(config.NewConfig())
	pass := CheckResult{Status: StatusPass, Required: true}
	warn := CheckResult{Status: StatusWarn}
	fail := CheckResult{Status: StatusFail, Required: true}

	assert.Equal(t, "ready", c.SummaryStatus([]CheckResult{pass}))
	assert.Equal(t, "ready_with_warnings", c.SummaryStatus([]CheckResult{pass, warn}))
	assert.Equal(t, "failed", c.SummaryStatus([]CheckResult{warn, fail}))
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	c := New(config.NewConfig(), WithOutput(&buf))

	c.PrintResults([]CheckResult{
		{Name: "source", Status: StatusFail, Required: true, Message: "missing", Details: "Set source.path"},
		{Name: "data_dir", Status: StatusPass, Message: "/tmp/data"},
	})

	out := buf.String()
	assert.Contains(t, out, "[FAIL] source: missing")
	assert.Contains(t, out, "Set source.path")
	assert.Contains(t, out, "Status: FAILED")
	assert.Contains(t, out, "1 error(s):")
}
