package bridge

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/RandomWilder/Covenantrix-2.0/internal/config"
	"github.com/RandomWilder/Covenantrix-2.0/internal/servicectl"
)

func testClient(t *testing.T, srv *httptest.Server, ready bool) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	ep := servicectl.NewEndpoint(u.Hostname(), port)
	return New(ep, config.Default(), func() bool { return ready })
}

func TestCallReturnsEngineData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/personas", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"personas":["legal_advisor"]}`))
	}))
	defer srv.Close()

	res := testClient(t, srv, true).Call(context.Background(), http.MethodGet, "/api/personas", nil)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "legal_advisor", gjson.GetBytes(res.Data, "personas.0").String())
}

func TestCallRejectedLocallyBeforeReady(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	res := testClient(t, srv, false).Call(context.Background(), http.MethodGet, "/api/personas", nil)
	assert.False(t, res.Success)
	assert.Equal(t, servicectl.CodeNotReady, res.Code)
	assert.Zero(t, res.StatusCode)
	assert.Equal(t, int32(0), hits.Load(), "not-ready calls must not touch the network")
}

func TestCallSurfacesEngineDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"query must not be empty"}`))
	}))
	defer srv.Close()

	res := testClient(t, srv, true).Call(context.Background(), http.MethodPost, "/api/query", []byte(`{}`))
	assert.False(t, res.Success)
	assert.Equal(t, servicectl.CodeRequestFailure, res.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	assert.Equal(t, "query must not be empty", res.Message)
}

func TestCallFallsBackToBodySnippet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("engine blew up"))
	}))
	defer srv.Close()

	res := testClient(t, srv, true).Call(context.Background(), http.MethodGet, "/api/analytics", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "engine blew up", res.Message)
}

func TestCallUnreachableEngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := testClient(t, srv, true)
	srv.Close()

	res := c.Call(context.Background(), http.MethodGet, "/health", nil)
	assert.False(t, res.Success)
	assert.Equal(t, servicectl.CodeRequestFailure, res.Code)
	assert.Zero(t, res.StatusCode, "transport faults carry no engine status")
	assert.Contains(t, res.Message, "engine request failed")
}

func TestQueryInjectsDefaults(t *testing.T) {
	var body atomic.Pointer[[]byte]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body.Store(&b)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"answer":"ok"}`))
	}))
	defer srv.Close()

	res := testClient(t, srv, true).Query(context.Background(), "what is clause 4?", "", "", "")
	require.True(t, res.Success, res.Message)

	sent := *body.Load()
	assert.Equal(t, "what is clause 4?", gjson.GetBytes(sent, "query").String())
	assert.Equal(t, "legal_advisor", gjson.GetBytes(sent, "persona").String())
	assert.Equal(t, "hybrid", gjson.GetBytes(sent, "mode").String())
	assert.Len(t, gjson.GetBytes(sent, "conversation_id").String(), 36, "minted conversation ID must be a UUID")
}

func TestQueryKeepsCallerValues(t *testing.T) {
	var body atomic.Pointer[[]byte]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body.Store(&b)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	res := testClient(t, srv, true).Query(context.Background(), "q", "contract_analyst", "semantic", "conv-1")
	require.True(t, res.Success)

	sent := *body.Load()
	assert.Equal(t, "contract_analyst", gjson.GetBytes(sent, "persona").String())
	assert.Equal(t, "semantic", gjson.GetBytes(sent, "mode").String())
	assert.Equal(t, "conv-1", gjson.GetBytes(sent, "conversation_id").String())
}

func TestListDocumentsFolderFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/documents", r.URL.Path)
		assert.Equal(t, "contracts", r.URL.Query().Get("folder_id"))
		_, _ = w.Write([]byte(`{"documents":[]}`))
	}))
	defer srv.Close()

	res := testClient(t, srv, true).ListDocuments(context.Background(), "contracts")
	assert.True(t, res.Success, res.Message)
}

func TestEngineHealthExtraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"healthy","version":"2.0.1"}`))
	}))
	defer srv.Close()

	status, version, ok := testClient(t, srv, true).EngineHealth(context.Background())
	require.True(t, ok)
	assert.Equal(t, "healthy", status)
	assert.Equal(t, "2.0.1", version)
}

func TestUploadReaderEncodesMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/documents/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() { _ = f.Close() }()
		content, err := io.ReadAll(f)
		require.NoError(t, err)

		assert.Equal(t, "lease.pdf", hdr.Filename)
		assert.Equal(t, "fake pdf bytes", string(content))
		assert.Equal(t, "leases", r.FormValue("folder_id"))
		_, _ = w.Write([]byte(`{"file_id":"abc"}`))
	}))
	defer srv.Close()

	res := testClient(t, srv, true).UploadReader(context.Background(), strings.NewReader("fake pdf bytes"), "lease.pdf", "leases")
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "abc", gjson.GetBytes(res.Data, "file_id").String())
}

func TestUploadDocumentDefaultsFolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.txt")
	require.NoError(t, os.WriteFile(path, []byte("exhibit A"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "evidence.txt", hdr.Filename)
		assert.Equal(t, "default", r.FormValue("folder_id"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	res := testClient(t, srv, true).UploadDocument(context.Background(), path, "")
	assert.True(t, res.Success, res.Message)
}

func TestUploadRejectedBeforeReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upload must not reach the engine before readiness")
	}))
	defer srv.Close()

	res := testClient(t, srv, false).UploadReader(context.Background(), strings.NewReader("x"), "a.txt", "")
	assert.False(t, res.Success)
	assert.Equal(t, servicectl.CodeNotReady, res.Code)
}
