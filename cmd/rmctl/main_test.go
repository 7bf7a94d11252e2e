package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/roadmapd/internal/extraction"
	"github.com/fyrsmithlabs/roadmapd/internal/run"
	"github.com/fyrsmithlabs/roadmapd/internal/worldmodel"
)

// execute runs rmctl with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// Keep the developer's own config file out of the test.
	t.Setenv("HOME", t.TempDir())

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestHealth(t *testing.T) {
	t.Run("reports status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
		}))
		defer srv.Close()

		out, err := execute(t, "health", "--server", srv.URL)
		require.NoError(t, err)
		assert.Contains(t, out, "Server Status: ok")
	})

	t.Run("fails on non-200", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "down", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := execute(t, "health", "--server", srv.URL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
	})
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "rmctl dev\n", out)
}

func TestExtractAndWorldModel(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "roadmapd.db")
	doc := writeFile(t, dir, "okrs.md", "Product KPI: Weekly Active Teams\n")

	out, err := execute(t, "extract", "--org", "5", "--db", db, "--llm", "none", doc)
	require.NoError(t, err)

	var got ExtractOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.NotNil(t, got.Run)
	assert.Equal(t, run.StatusCompleted, got.Run.Status)
	require.Len(t, got.Entities, 1)
	assert.Equal(t, extraction.TypeProductKPI, got.Entities[0].Type)
	assert.Equal(t, doc, got.Entities[0].SourceDocumentID)

	out, err = execute(t, "world-model", "--org", "5", "--db", db)
	require.NoError(t, err)
	var rec worldmodel.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	require.Len(t, rec.Profile.ProductKPIs, 1)
	assert.Equal(t, "Weekly Active Teams", rec.Profile.ProductKPIs[0].Name)

	_, err = execute(t, "world-model", "--org", "6", "--db", db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no world model for org 6")
}

func TestExtract_Errors(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "roadmapd.db")

	tests := []struct {
		name string
		args []string
	}{
		{"missing org", []string{"extract", "--db", db, "x.md"}},
		{"missing file", []string{"extract", "--org", "1", "--db", db, filepath.Join(dir, "nope.md")}},
		{"unknown provider", []string{"extract", "--org", "1", "--db", db, "--llm", "palm", writeFile(t, dir, "a.md", "x")}},
		{"no files", []string{"extract", "--org", "1", "--db", db}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestPatternsValidate(t *testing.T) {
	dir := t.TempDir()

	t.Run("built-in table", func(t *testing.T) {
		out, err := execute(t, "patterns", "validate", "--sample", "Product KPI: Weekly Active Teams")
		require.NoError(t, err)
		assert.Contains(t, out, "built-in:")
		assert.Contains(t, out, "ProductKPI: Weekly Active Teams")
	})

	t.Run("custom file", func(t *testing.T) {
		p := writeFile(t, dir, "patterns.yaml", "Risk:\n  - 'risk:\\s*([^\\n]+)'\n")
		out, err := execute(t, "patterns", "validate", p)
		require.NoError(t, err)
		assert.Contains(t, out, "1 entity types, 1 patterns")
		assert.Contains(t, out, "  Risk\n")
	})

	t.Run("pattern without capture group", func(t *testing.T) {
		p := writeFile(t, dir, "bad.yaml", "Risk:\n  - 'risk:'\n")
		_, err := execute(t, "patterns", "validate", p)
		assert.ErrorIs(t, err, extraction.ErrInvalidPatternTable)
	})
}
