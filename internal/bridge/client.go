// Package bridge proxies typed UI requests to the running engine over its
// fixed loopback endpoint. It never exposes raw network primitives or raw
// faults to the UI layer: every call returns a structured Result.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/RandomWilder/Covenantrix-2.0/internal/config"
	"github.com/RandomWilder/Covenantrix-2.0/internal/servicectl"
)

const (
	defaultFolderID = "default"
	defaultPersona  = "legal_advisor"
	defaultMode     = "hybrid"
)

// Result is the uniform outcome of a bridge call. Failures carry a message
// and, when the engine answered at all, its HTTP status code. A failed call
// never changes the connection state.
type Result struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data,omitempty"`
	Message    string          `json:"message,omitempty"`
	Code       servicectl.Code `json:"code,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
}

// ReadyFunc reports whether the connection is established. Calls made before
// readiness are rejected locally without any network attempt.
type ReadyFunc func() bool

// Client is the request bridge. It is constructed once per shell window with
// the fixed endpoint; timeout ceilings are hot-reloadable.
type Client struct {
	ep    servicectl.Endpoint
	http  *http.Client
	ready ReadyFunc

	mu            sync.RWMutex
	callTimeout   time.Duration
	uploadTimeout time.Duration
}

// New builds a bridge client for the endpoint. ready gates every call; pass
// the orchestrator's Ready check.
func New(ep servicectl.Endpoint, cfg *config.Config, ready ReadyFunc) *Client {
	return &Client{
		ep:            ep,
		http:          &http.Client{},
		ready:         ready,
		callTimeout:   cfg.CallTimeout(),
		uploadTimeout: cfg.UploadTimeout(),
	}
}

// ApplyConfig updates the hot-reloadable timeout ceilings.
func (c *Client) ApplyConfig(cfg *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callTimeout = cfg.CallTimeout()
	c.uploadTimeout = cfg.UploadTimeout()
}

func (c *Client) timeouts() (call, upload time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callTimeout, c.uploadTimeout
}

// Call performs a generic JSON request against the engine. method is the
// HTTP verb, path the engine route (for example "/api/personas"), payload an
// optional JSON body. The short call ceiling applies.
func (c *Client) Call(ctx context.Context, method, path string, payload []byte) Result {
	if !c.ready() {
		return Result{Success: false, Code: servicectl.CodeNotReady, Message: "engine connection not established"}
	}
	callTimeout, _ := c.timeouts()
	return c.do(ctx, method, path, payload, callTimeout)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, timeout time.Duration) Result {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, strings.ToUpper(method), c.ep.BaseURL()+path, body)
	if err != nil {
		return failure(0, "invalid bridge request", err)
	}
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return failure(0, "engine request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return decode(resp)
}

// ListDocuments fetches processed documents, optionally filtered to one
// folder.
func (c *Client) ListDocuments(ctx context.Context, folderID string) Result {
	path := "/api/documents"
	if strings.TrimSpace(folderID) != "" {
		path += "?folder_id=" + url.QueryEscape(folderID)
	}
	return c.Call(ctx, http.MethodGet, path, nil)
}

// Query submits a query. Persona defaults to the legal advisor, mode to
// hybrid retrieval, and a conversation ID is minted when the caller has
// none, matching the engine's own defaults.
func (c *Client) Query(ctx context.Context, text, persona, mode, conversationID string) Result {
	payload, err := sjson.SetBytes([]byte(`{}`), "query", text)
	if err != nil {
		return failure(0, "could not encode query", err)
	}
	if strings.TrimSpace(persona) == "" {
		persona = defaultPersona
	}
	if strings.TrimSpace(mode) == "" {
		mode = defaultMode
	}
	if strings.TrimSpace(conversationID) == "" {
		conversationID = uuid.NewString()
	}
	payload, _ = sjson.SetBytes(payload, "persona", persona)
	payload, _ = sjson.SetBytes(payload, "mode", mode)
	payload, _ = sjson.SetBytes(payload, "conversation_id", conversationID)
	return c.Call(ctx, http.MethodPost, "/api/query", payload)
}

// Personas fetches the engine's persona catalogue. Opaque pass-through.
func (c *Client) Personas(ctx context.Context) Result {
	return c.Call(ctx, http.MethodGet, "/api/personas", nil)
}

// Modes fetches the engine's query-mode catalogue. Opaque pass-through.
func (c *Client) Modes(ctx context.Context) Result {
	return c.Call(ctx, http.MethodGet, "/api/modes", nil)
}

// Analytics fetches query analytics. Opaque pass-through.
func (c *Client) Analytics(ctx context.Context) Result {
	return c.Call(ctx, http.MethodGet, "/api/analytics", nil)
}

// ProcessingStatus polls ingestion progress for an uploaded file.
func (c *Client) ProcessingStatus(ctx context.Context, filePath string) Result {
	return c.Call(ctx, http.MethodGet, "/api/documents/processing/"+url.PathEscape(filePath), nil)
}

// DeleteDocument removes one processed document by ID.
func (c *Client) DeleteDocument(ctx context.Context, docID string) Result {
	return c.Call(ctx, http.MethodDelete, "/api/documents/"+url.PathEscape(docID), nil)
}

// DeleteDocumentByName removes one processed document by original filename.
func (c *Client) DeleteDocumentByName(ctx context.Context, filename string) Result {
	return c.Call(ctx, http.MethodDelete, "/api/documents/by-name/"+url.PathEscape(filename), nil)
}

// DeleteAllDocuments clears the engine's document store.
func (c *Client) DeleteAllDocuments(ctx context.Context) Result {
	return c.Call(ctx, http.MethodDelete, "/api/documents", nil)
}

// EngineHealth fetches /health and extracts the engine's reported status and
// version. Any 2xx counts as healthy regardless of payload shape.
func (c *Client) EngineHealth(ctx context.Context) (status, version string, ok bool) {
	res := c.Call(ctx, http.MethodGet, "/health", nil)
	if !res.Success {
		return "", "", false
	}
	return gjson.GetBytes(res.Data, "status").String(), gjson.GetBytes(res.Data, "version").String(), true
}

// decode turns an engine response into a Result. Non-2xx answers surface the
// engine's detail message when present, falling back to a body snippet.
func decode(resp *http.Response) Result {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(resp.StatusCode, "could not read engine response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(data, "detail").String()
		if msg == "" {
			msg = snippet(data)
		}
		if msg == "" {
			msg = resp.Status
		}
		return Result{Success: false, Code: servicectl.CodeRequestFailure, Message: msg, StatusCode: resp.StatusCode}
	}
	return Result{Success: true, Data: data, StatusCode: resp.StatusCode}
}

func failure(status int, msg string, err error) Result {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return Result{Success: false, Code: servicectl.CodeRequestFailure, Message: msg, StatusCode: status}
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
