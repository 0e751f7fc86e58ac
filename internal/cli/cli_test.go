package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/ltm/internal/models"
	"github.com/iammorganparry/clive/apps/ltm/internal/store"
	"github.com/iammorganparry/clive/apps/ltm/internal/testutil"
)

// ollama's default model width; the CLI never calls the vendor in these tests.
const ollamaDims = 768

func seedDB(t *testing.T, entries ...models.Entry) (string, []string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli.db")
	db, err := store.Open(path, testutil.Logger())
	require.NoError(t, err)
	defer db.Close()

	ms := store.NewMemoryStore(db, ollamaDims, testutil.Logger())
	ids := make([]string, 0, len(entries))
	for i, e := range entries {
		e.Vector = testutil.Axis(ollamaDims, i)
		stored, err := ms.Store(context.Background(), e)
		require.NoError(t, err)
		ids = append(ids, stored.ID)
	}

	t.Setenv("LTM_CONFIG", "")
	t.Setenv("LTM_DB_PATH", path)
	t.Setenv("EMBEDDING_PROVIDER", "ollama")
	t.Setenv("EMBEDDING_DIM", "")
	t.Setenv("LOG_LEVEL", "error")
	return path, ids
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd("test")
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func sampleEntries() []models.Entry {
	return []models.Entry{
		{Text: "CI runs on self-hosted runners", Category: models.CategoryFact, Scope: models.GlobalScope},
		{Text: "Prefers short commit messages", Category: models.CategoryPreference, Scope: "agent:claude"},
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "ltm test\n", out)
}

func TestListAndStats(t *testing.T) {
	seedDB(t, sampleEntries()...)

	out, err := run(t, "list", "--json")
	require.NoError(t, err)
	var list models.ListResponse
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Len(t, list.Memories, 2)

	out, err = run(t, "list", "--scope", "agent:claude")
	require.NoError(t, err)
	assert.Contains(t, out, "Prefers short commit messages")
	assert.NotContains(t, out, "self-hosted")

	out, err = run(t, "stats", "--json")
	require.NoError(t, err)
	var stats models.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.TotalCount)
	assert.Equal(t, 1, stats.CategoryCounts[models.CategoryPreference])

	out, err = run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Total: 2")
}

func TestDelete(t *testing.T) {
	_, ids := seedDB(t, sampleEntries()...)

	out, err := run(t, "delete", ids[0][:8])
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted")

	_, err = run(t, "delete", ids[0])
	assert.Error(t, err)

	_, err = run(t, "delete-bulk")
	assert.ErrorContains(t, err, "--scope or --before")

	out, err = run(t, "delete-bulk", "--scope", "agent:claude")
	require.NoError(t, err)
	assert.Equal(t, "Deleted 1 memories\n", out)
}

func TestExportImportDryRun(t *testing.T) {
	seedDB(t, sampleEntries()...)
	file := filepath.Join(t.TempDir(), "export.json")

	_, err := run(t, "export", "-o", file)
	require.NoError(t, err)
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	var doc models.ExportDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 2, doc.Count)
	for _, e := range doc.Memories {
		assert.Nil(t, e.Vector)
	}

	// Into a fresh database: nothing exists yet and every vector must be rebuilt.
	seedDB(t)
	out, err := run(t, "import", "--dry-run", file)
	require.NoError(t, err)
	assert.Equal(t, "[dry run] imported=2 skipped=0 reembedded=2 failed=0\n", out)

	_, err = run(t, "import", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestParseBefore(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
		err  bool
	}{
		{in: "2025-01-02", want: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
		{in: "2025-01-02T03:04:05Z", want: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)},
		{in: "30d", want: now.AddDate(0, 0, -30)},
		{in: "36h", want: now.Add(-36 * time.Hour)},
		{in: "-5d", err: true},
		{in: "yesterday", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseBefore(tt.in, now)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", preview("a\n b\t c"))
	long := strings.Repeat("x", 200)
	p := preview(long)
	assert.Len(t, []rune(p), previewLen)
	assert.True(t, strings.HasSuffix(p, "..."))
}
