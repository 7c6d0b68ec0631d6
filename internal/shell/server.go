// Package shell serves the UI-facing bridge surface on a loopback port: the
// connection status and recovery operations, typed document and query
// routes, and a websocket event stream. The UI layer talks only to this
// surface and never touches the engine endpoint directly.
package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/RandomWilder/Covenantrix-2.0/internal/bridge"
	"github.com/RandomWilder/Covenantrix-2.0/internal/buildinfo"
	"github.com/RandomWilder/Covenantrix-2.0/internal/config"
	"github.com/RandomWilder/Covenantrix-2.0/internal/logging"
	"github.com/RandomWilder/Covenantrix-2.0/internal/servicectl"
)

// Server is the shell's local HTTP server.
type Server struct {
	cfg    *config.Config
	orch   *servicectl.Orchestrator
	client *bridge.Client
	diag   *logging.RingBuffer
	hub    *Hub
	logDir string
	srv    *http.Server
}

// NewServer wires the shell server. Orchestrator events are forwarded to
// connected UI websockets as-is.
func NewServer(cfg *config.Config, orch *servicectl.Orchestrator, client *bridge.Client, diag *logging.RingBuffer, logDir string) *Server {
	s := &Server{
		cfg:    cfg,
		orch:   orch,
		client: client,
		diag:   diag,
		hub:    NewHub(),
		logDir: logDir,
	}
	orch.Subscribe(func(ev servicectl.Event) {
		s.hub.Broadcast(ev)
	})
	return s
}

// NotifyMenuUpload publishes the "menu requested upload" notification so the
// UI opens its file picker. Menu wiring calls this.
func (s *Server) NotifyMenuUpload() {
	s.hub.Broadcast(gin.H{"type": "menu-upload-requested"})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(logging.GinRecovery(), logging.GinLogrusLogger())
	s.routes(engine)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", s.cfg.ShellPort),
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.srv.Addr).Info("shell bridge listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.Close()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) routes(engine *gin.Engine) {
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sh := engine.Group("/shell")
	sh.GET("/status", s.handleStatus)
	sh.GET("/diagnostics", s.handleDiagnostics)
	sh.GET("/events", s.hub.Handle)

	sh.POST("/connect", s.handleConnect)
	sh.POST("/retry", s.recoveryHandler(s.orch.Retry))
	sh.POST("/reprobe", s.recoveryHandler(s.orch.Reprobe))
	sh.POST("/instructions", s.handleInstructions)
	sh.POST("/menu-upload", func(c *gin.Context) {
		s.NotifyMenuUpload()
		c.Status(http.StatusNoContent)
	})

	sh.POST("/api-call", s.handleAPICall)
	sh.POST("/upload", s.handleUpload)
	sh.POST("/query", s.handleQuery)
	sh.GET("/documents", s.handleListDocuments)
	sh.GET("/documents/processing/*path", s.handleProcessingStatus)
	sh.DELETE("/documents", s.handleDeleteAll)
	sh.DELETE("/documents/by-name/:name", s.handleDeleteByName)
	sh.DELETE("/documents/:id", s.handleDeleteDocument)
	sh.GET("/personas", s.passthrough(s.client.Personas))
	sh.GET("/modes", s.passthrough(s.client.Modes))
	sh.GET("/analytics", s.passthrough(s.client.Analytics))
}

type statusResponse struct {
	servicectl.Status
	ShellVersion  string `json:"shell_version"`
	EngineStatus  string `json:"engine_status,omitempty"`
	EngineVersion string `json:"engine_version,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	out := statusResponse{
		Status:       s.orch.StatusSnapshot(),
		ShellVersion: buildinfo.Version,
	}
	if out.Running {
		if status, version, ok := s.client.EngineHealth(c.Request.Context()); ok {
			out.EngineStatus = status
			out.EngineVersion = version
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleDiagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entries": s.diag.Snapshot()})
}

// handleConnect triggers (or joins) a connect cycle. The cycle runs in the
// background; its outcome reaches the UI through the event stream.
func (s *Server) handleConnect(c *gin.Context) {
	go func() {
		if err := s.orch.Connect(context.Background()); err != nil {
			log.WithError(err).Debug("connect cycle ended in failure")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"state": s.orch.State()})
}

// recoveryHandler wraps the retry and reprobe recovery options. They are
// rejected while a cycle is in flight so the UI cannot stack decision
// points on top of an active chain. The check and the launch are not
// atomic; a call slipping through the gap coalesces onto the in-flight
// cycle via the orchestrator's single-flight guard instead of starting a
// second chain.
func (s *Server) recoveryHandler(op func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.orch.InFlight() {
			c.JSON(http.StatusConflict, gin.H{"error": "connection cycle already in progress"})
			return
		}
		go func() {
			if err := op(context.Background()); err != nil {
				log.WithError(err).Debug("recovery cycle ended in failure")
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"state": s.orch.State()})
	}
}

func (s *Server) handleInstructions(c *gin.Context) {
	if err := servicectl.OpenInstructions(s.orch.LastError(), s.logDir); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type apiCallRequest struct {
	Method   string `json:"method" binding:"required"`
	Endpoint string `json:"endpoint" binding:"required"`
	Data     any    `json:"data,omitempty"`
}

func (s *Server) handleAPICall(c *gin.Context) {
	var req apiCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !strings.HasPrefix(req.Endpoint, "/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint must start with /"})
		return
	}
	var payload []byte
	if req.Data != nil {
		raw, err := json.Marshal(req.Data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		payload = raw
	}
	s.respond(c, s.client.Call(c.Request.Context(), req.Method, req.Endpoint, payload))
}

type queryRequest struct {
	Query          string `json:"query" binding:"required"`
	Persona        string `json:"persona,omitempty"`
	Mode           string `json:"mode,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.respond(c, s.client.Query(c.Request.Context(), req.Query, req.Persona, req.Mode, req.ConversationID))
}

func (s *Server) handleListDocuments(c *gin.Context) {
	s.respond(c, s.client.ListDocuments(c.Request.Context(), c.Query("folder_id")))
}

func (s *Server) handleProcessingStatus(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	s.respond(c, s.client.ProcessingStatus(c.Request.Context(), path))
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	s.respond(c, s.client.DeleteDocument(c.Request.Context(), c.Param("id")))
}

func (s *Server) handleDeleteByName(c *gin.Context) {
	s.respond(c, s.client.DeleteDocumentByName(c.Request.Context(), c.Param("name")))
}

func (s *Server) handleDeleteAll(c *gin.Context) {
	s.respond(c, s.client.DeleteAllDocuments(c.Request.Context()))
}

func (s *Server) handleUpload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	defer func() { _ = file.Close() }()
	folderID := c.PostForm("folder_id")
	s.respond(c, s.client.UploadReader(c.Request.Context(), file, header.Filename, folderID))
}

func (s *Server) passthrough(op func(context.Context) bridge.Result) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.respond(c, op(c.Request.Context()))
	}
}

// respond maps a bridge Result onto the shell response. A pre-Ready call is
// a caller error (409); request failures keep the engine's status code when
// one exists so the UI can distinguish engine rejections from transport
// faults.
func (s *Server) respond(c *gin.Context, res bridge.Result) {
	switch {
	case res.Success:
		c.JSON(http.StatusOK, res)
	case res.Code == servicectl.CodeNotReady:
		c.JSON(http.StatusConflict, res)
	case res.StatusCode >= 400:
		c.JSON(res.StatusCode, res)
	default:
		c.JSON(http.StatusBadGateway, res)
	}
}

