package document

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const testIndex = "histograph"

// fakeSearch emulates the Elasticsearch endpoints used by Store.
type fakeSearch struct {
	mu       sync.Mutex
	index    string
	exists   bool
	mapping  []byte
	docs     map[string]json.RawMessage
	failures map[string]int // "METHOD kind" -> status, kind is index|doc|mapping|info
	requests []string

	mappingReply []byte // overrides the mapping probe reply when set
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{
		index:    testIndex,
		docs:     make(map[string]json.RawMessage),
		failures: make(map[string]int),
	}
}

func (f *fakeSearch) fail(method, kind string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method+" "+kind] = status
}

func (f *fakeSearch) doc(id string) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.docs[id]
	if !ok {
		return nil, false
	}
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out, true
}

func (f *fakeSearch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	f.requests = append(f.requests, r.Method+" "+r.URL.EscapedPath())

	path := r.URL.EscapedPath()
	kind := "index"
	switch {
	case path == "/":
		kind = "info"
	case strings.HasSuffix(path, "/_mapping"):
		kind = "mapping"
	case strings.Contains(path, "/_doc/"):
		kind = "doc"
	}
	if status, ok := f.failures[r.Method+" "+kind]; ok {
		writeJSON(w, status, map[string]any{"error": map[string]any{"type": "injected"}, "status": status})
		return
	}

	switch kind {
	case "info":
		writeJSON(w, http.StatusOK, map[string]any{
			"version": map[string]any{"number": "8.15.0"},
			"tagline": "You Know, for Search",
		})

	case "mapping":
		if f.mappingReply != nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(f.mappingReply)
			return
		}
		if !f.exists {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error":  map[string]any{"type": "index_not_found_exception"},
				"status": 404,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{f.index: map[string]any{"mappings": json.RawMessage(mappingsOf(f.mapping))}})

	case "index":
		if r.Method != http.MethodPut || path != "/"+f.index {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported"})
			return
		}
		if f.exists {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  map[string]any{"type": "resource_already_exists_exception"},
				"status": 400,
			})
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.exists = true
		f.mapping = body
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "index": f.index})

	case "doc":
		escaped := strings.TrimPrefix(path, "/"+f.index+"/_doc/")
		id, err := url.PathUnescape(escaped)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		switch r.Method {
		case http.MethodPut, http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			result, status := "created", http.StatusCreated
			if _, ok := f.docs[id]; ok {
				result, status = "updated", http.StatusOK
			}
			f.docs[id] = body
			writeJSON(w, status, map[string]any{"_index": f.index, "_id": id, "result": result})
		case http.MethodDelete:
			if _, ok := f.docs[id]; !ok {
				writeJSON(w, http.StatusNotFound, map[string]any{"_index": f.index, "_id": id, "result": "not_found"})
				return
			}
			delete(f.docs, id)
			writeJSON(w, http.StatusOK, map[string]any{"_index": f.index, "_id": id, "result": "deleted"})
		case http.MethodGet:
			doc, ok := f.docs[id]
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]any{"_index": f.index, "_id": id, "found": false})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"_index": f.index, "_id": id, "found": true, "_source": doc})
		}
	}
}

func mappingsOf(body []byte) []byte {
	var parsed struct {
		Mappings json.RawMessage `json:"mappings"`
	}
	if json.Unmarshal(body, &parsed) != nil || parsed.Mappings == nil {
		return []byte(`{}`)
	}
	return parsed.Mappings
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// newTestStore starts a fake backend and returns a Store pointed at it.
func newTestStore(t *testing.T, schemaDir string) (*Store, *fakeSearch) {
	t.Helper()

	fake := newFakeSearch()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	opts := Options{Host: host, Port: port, Index: testIndex, SchemaDir: schemaDir}
	client, err := NewClient(opts, "", "")
	require.NoError(t, err)

	return NewStore(client, opts, nil), fake
}
