package pipeline

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// pagedServer serves {"items":[...]} with `perPage` rows for the first
// `pages` pages and an empty list afterwards, counting requests per page.
func pagedServer(t *testing.T, pages, perPage int, requests *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requests, 1)
		page := r.URL.Query().Get("page")

		var items []string
		for i := 0; i < perPage; i++ {
			items = append(items, fmt.Sprintf(`{"id":"p%s-%d"}`, page, i))
		}
		var n int
		fmt.Sscanf(page, "%d", &n)
		if n > pages {
			items = nil
		}

		w.Header().Set("X-Source-Rev", "rev-42")
		fmt.Fprintf(w, `{"items":[%s],"meta":{"page":%s}}`, strings.Join(items, ","), page)
	}))
}

func TestRunPaginated(t *testing.T) {
	t.Run("stops on the first empty page", func(t *testing.T) {
		var requests int32
		srv := pagedServer(t, 1, 2, &requests)
		defer srv.Close()

		sinkPath := filepath.Join(t.TempDir(), "out.ndjson")
		cfg := writeConfig(t, fmt.Sprintf(`
sources:
  - name: listings
    source_id: 238
    input_format: json
    request:
      url: %s
      params: {page: "{{.page}}"}
    mapping:
      root: "items[*]"
      fields:
        - {name: id, expr: "id"}
    response:
      fields:
        - {name: rev, source: header, expr: "X-Source-Rev"}
        - {name: last_page, source: json, expr: "meta.page"}
    sink: {path: %s}
    paginate: {type: page, start: 1, max_pages: 3}
`, srv.URL, sinkPath))

		result, err := Run(cfg, 238, map[string]interface{}{})
		require.NoError(t, err)

		// Page 1 has rows, page 2 is empty, page 3 is never requested.
		assert.Equal(t, 2, result.Total)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
		require.NotNil(t, result.Sample)
		assert.Equal(t, "p1-0", result.Sample["id"])

		// Metadata comes from the last non-empty page.
		require.NotNil(t, result.ResponseFields)
		assert.Equal(t, "rev-42", result.ResponseFields["rev"])
		assert.Equal(t, float64(1), result.ResponseFields["last_page"])

		data, err := os.ReadFile(sinkPath)
		require.NoError(t, err)
		assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 2)
	})

	t.Run("max pages caps a source that never runs dry", func(t *testing.T) {
		var requests int32
		srv := pagedServer(t, 100, 1, &requests)
		defer srv.Close()

		sinkPath := filepath.Join(t.TempDir(), "out.ndjson")
		cfg := writeConfig(t, fmt.Sprintf(`
sources:
  - name: endless
    source_id: 1
    input_format: json
    request:
      url: %s
      params: {page: "{{.page}}"}
    mapping:
      root: "items[*]"
      fields:
        - {name: id, expr: "id"}
    sink: {path: %s}
    paginate: {type: page, start: 1, max_pages: 3}
`, srv.URL, sinkPath))

		result, err := Run(cfg, 1, map[string]interface{}{})
		require.NoError(t, err)
		assert.Equal(t, 3, result.Total)
		assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
	})

	t.Run("overwrite mode still concatenates all pages", func(t *testing.T) {
		var requests int32
		srv := pagedServer(t, 3, 2, &requests)
		defer srv.Close()

		sinkPath := filepath.Join(t.TempDir(), "out.csv")
		cfg := writeConfig(t, fmt.Sprintf(`
sources:
  - name: listings
    source_id: 238
    input_format: json
    request:
      url: %s
      params: {page: "{{.page}}"}
    mapping:
      root: "items[*]"
      fields:
        - {name: id, expr: "id"}
    sink: {type: csv, path: %s, mode: overwrite}
    paginate: {type: page, start: 1, max_pages: 10}
`, srv.URL, sinkPath))

		result, err := Run(cfg, 238, map[string]interface{}{})
		require.NoError(t, err)
		assert.Equal(t, 6, result.Total)

		f, err := os.Open(sinkPath)
		require.NoError(t, err)
		defer f.Close()
		records, err := csv.NewReader(f).ReadAll()
		require.NoError(t, err)

		// One header plus six rows: page 1 overwrote, pages 2-3 appended.
		require.Len(t, records, 7)
		assert.Equal(t, []string{"id"}, records[0])
		assert.Equal(t, "p1-0", records[1][0])
		assert.Equal(t, "p3-1", records[6][0])
	})
}

func TestRunSingleFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[{"id":"a"},{"id":"b"},{"id":"c"}]}`)
	}))
	defer srv.Close()

	sinkPath := filepath.Join(t.TempDir(), "out.ndjson")
	cfg := writeConfig(t, fmt.Sprintf(`
sources:
  - name: once
    source_id: 5
    input_format: json
    request: {url: %s}
    mapping:
      root: "items[*]"
      fields:
        - {name: id, expr: "id"}
    sink: {path: %s}
`, srv.URL, sinkPath))

	result, err := Run(cfg, 5, map[string]interface{}{"request_id": "r-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, "a", result.Sample["id"])
	assert.Greater(t, result.ElapsedSeconds, 0.0)
}

func TestRunFailures(t *testing.T) {
	t.Run("http error status aborts the run", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		cfg := writeConfig(t, fmt.Sprintf(`
sources:
  - name: denied
    source_id: 9
    input_format: json
    request: {url: %s}
    mapping:
      fields:
        - {name: id, expr: "id"}
    sink: {path: %s}
`, srv.URL, filepath.Join(t.TempDir(), "out.ndjson")))

		_, err := Run(cfg, 9, map[string]interface{}{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "403")
	})

	t.Run("missing config file aborts the run", func(t *testing.T) {
		_, err := Run("nope.yaml", 1, nil)
		assert.Error(t, err)
	})
}
