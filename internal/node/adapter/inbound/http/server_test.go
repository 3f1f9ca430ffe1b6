package http_handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/anthanhphan/go-docsync/internal/node/adapter/outbound/fsstore"
	"github.com/anthanhphan/go-docsync/internal/node/domain"
	"github.com/anthanhphan/go-docsync/internal/node/metrics"
	"github.com/anthanhphan/go-docsync/internal/node/port"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReplication struct {
	neighbors []port.NeighborStatus
	remote    map[string]port.Digest
	local     port.Digest
	remoteErr error

	triggers atomic.Int32
	resyncs  atomic.Int32
}

func (f *fakeReplication) Neighbors() []port.NeighborStatus { return f.neighbors }
func (f *fakeReplication) Trigger()                         { f.triggers.Add(1) }
func (f *fakeReplication) Resync()                          { f.resyncs.Add(1) }

func (f *fakeReplication) QueryDigest(_ context.Context, key string) (port.Digest, error) {
	if f.remoteErr != nil {
		return port.Digest{}, f.remoteErr
	}
	d, ok := f.remote[key]
	if !ok {
		return port.Digest{}, domain.ErrUnknownNeighbor
	}
	return d, nil
}

func (f *fakeReplication) LocalDigest(context.Context) (port.Digest, error) {
	return f.local, nil
}

func newTestServer(t *testing.T, repl *fakeReplication) (*Server, port.DocumentRepository) {
	t.Helper()
	repo, err := fsstore.New(t.TempDir(), false)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics.New(reg)

	return NewServer(Deps{
		NodeID:      "node-a",
		Replication: repl,
		Documents:   repo,
		Gatherer:    reg,
	}), repo
}

func do(t *testing.T, s *Server, method, target, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	resp, err := s.app.Test(httptest.NewRequest(method, target, r), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	repl := &fakeReplication{neighbors: []port.NeighborStatus{
		{Key: "127.0.0.1:9002", Connected: true},
		{Key: "127.0.0.1:9003"},
	}}
	s, _ := newTestServer(t, repl)

	status, body := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "node-a", body["node_id"])
	assert.EqualValues(t, 2, body["neighbors"])
	assert.EqualValues(t, 1, body["connected"])
	assert.NotContains(t, body, "heartbeat_members")
}

func TestPutDocument(t *testing.T) {
	repl := &fakeReplication{}
	s, repo := newTestServer(t, repl)

	status, body := do(t, s, http.MethodPut, "/documents/report.txt", "hello")
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, true, body["created"])
	assert.EqualValues(t, 1, repl.resyncs.Load())

	doc, err := repo.Read(context.Background(), "report.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(doc.Content))

	// second write keeps the first content
	status, body = do(t, s, http.MethodPut, "/documents/report.txt", "bye")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["created"])
	assert.EqualValues(t, 1, repl.resyncs.Load())

	doc, err = repo.Read(context.Background(), "report.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(doc.Content))
}

func TestPutDocumentRejectsBadInput(t *testing.T) {
	s, repo := newTestServer(t, &fakeReplication{})

	status, _ := do(t, s, http.MethodPut, "/documents/.hidden", "x")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, s, http.MethodPut, "/documents/..%2Fescape", "x")
	assert.NotEqual(t, http.StatusCreated, status)

	status, body := do(t, s, http.MethodPut, "/documents/empty.txt", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Empty document", body["error"])

	names, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestListDocuments(t *testing.T) {
	s, repo := newTestServer(t, &fakeReplication{})
	for _, name := range []string{"b.txt", "a.txt"} {
		_, err := repo.WriteIfAbsent(context.Background(), domain.Document{Name: name, Content: []byte(name)})
		require.NoError(t, err)
	}

	status, body := do(t, s, http.MethodGet, "/documents", "")
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["count"])
	assert.Equal(t, []any{"a.txt", "b.txt"}, body["documents"])
}

func TestNeighborDigest(t *testing.T) {
	same := port.Digest{Root: "abc", Count: 1}
	repl := &fakeReplication{
		local:  same,
		remote: map[string]port.Digest{"127.0.0.1:9002": same},
	}
	s, _ := newTestServer(t, repl)

	status, body := do(t, s, http.MethodGet, "/neighbors/127.0.0.1:9002/digest", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["in_sync"])

	status, _ = do(t, s, http.MethodGet, "/neighbors/127.0.0.1:9999/digest", "")
	assert.Equal(t, http.StatusNotFound, status)

	repl.remoteErr = domain.ErrNotConnected
	status, _ = do(t, s, http.MethodGet, "/neighbors/127.0.0.1:9002/digest", "")
	assert.Equal(t, http.StatusConflict, status)
}

func TestReconcileAndDigest(t *testing.T) {
	repl := &fakeReplication{local: port.Digest{Root: "r", Count: 3}}
	s, _ := newTestServer(t, repl)

	status, _ := do(t, s, http.MethodPost, "/reconcile", "")
	assert.Equal(t, http.StatusAccepted, status)
	assert.EqualValues(t, 1, repl.triggers.Load())

	status, body := do(t, s, http.MethodGet, "/digest", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "r", body["root"])
	assert.EqualValues(t, 3, body["count"])
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &fakeReplication{})

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "docsync_")
}
