package kernel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/manthysbr/olorin/internal/config"
	"github.com/manthysbr/olorin/internal/core/domain"
	"github.com/manthysbr/olorin/internal/core/services"
)

// Server exposes the kernel over HTTP: the reasoning loop, conversations,
// the archive pipeline, traces, tools and settings.
type Server struct {
	logger   *slog.Logger
	agent    *services.ReActAgentService
	eventBus *services.EventBus
	settings *config.SettingsStore
	convs    *services.ConversationStore
	tracer   *services.TraceCollector
	tools    *domain.ToolRegistry
	ingest   *services.IngestService
	repo     interface {
		ListDocuments(ctx context.Context) ([]domain.Document, error)
		ListTraces(ctx context.Context, limit int) ([]domain.TraceSummary, error)
		GetTrace(ctx context.Context, id domain.TraceID) (domain.Trace, error)
	}
}

func NewServer(
	logger *slog.Logger,
	agent *services.ReActAgentService,
	eventBus *services.EventBus,
	settings *config.SettingsStore,
	convs *services.ConversationStore,
	tracer *services.TraceCollector,
	tools *domain.ToolRegistry,
	ingest *services.IngestService,
	repo interface {
		ListDocuments(ctx context.Context) ([]domain.Document, error)
		ListTraces(ctx context.Context, limit int) ([]domain.TraceSummary, error)
		GetTrace(ctx context.Context, id domain.TraceID) (domain.Trace, error)
	},
) *Server {
	return &Server{
		logger:   logger,
		agent:    agent,
		eventBus: eventBus,
		settings: settings,
		convs:    convs,
		tracer:   tracer,
		tools:    tools,
		ingest:   ingest,
		repo:     repo,
	}
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/healthz", s.handleHealthz)

	mux.HandleFunc("POST /v1/chat", s.handleChat)

	mux.HandleFunc("GET /v1/conversations", s.handleListConversations)
	mux.HandleFunc("POST /v1/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("PATCH /v1/conversations/{id}", s.handleUpdateConversation)
	mux.HandleFunc("DELETE /v1/conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", s.handleListMessages)
	mux.HandleFunc("GET /v1/conversations/{id}/events", s.handleConversationSSE)

	// Tracing API — Genkit-style observability
	mux.HandleFunc("GET /v1/traces", s.handleListTraces)
	mux.HandleFunc("GET /v1/traces/{id}", s.handleGetTrace)

	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("POST /v1/tools/{name}/run", s.handleRunTool)

	mux.HandleFunc("POST /v1/ingest", s.handleIngest)
	mux.HandleFunc("GET /v1/ingest/events", s.handleIngestSSE)
	mux.HandleFunc("GET /v1/documents", s.handleListDocuments)
	mux.HandleFunc("DELETE /v1/documents/{id}", s.handleDeleteDocument)

	mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /v1/settings", s.handleUpdateSettings)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// GET /v1/healthz
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// chatRequest is one user turn. A non-nil history replaces the stored
// conversation memory before the turn runs; omitting it keeps what is stored.
type chatRequest struct {
	ConversationID string               `json:"conversation_id,omitempty"`
	Message        string               `json:"message"`
	History        []domain.ChatMessage `json:"history,omitempty"`
}

type chatResponse struct {
	ConversationID string                 `json:"conversation_id"`
	Response       string                 `json:"response"`
	Thought        string                 `json:"thought,omitempty"`
	StopReason     domain.StopReason      `json:"stop_reason"`
	Steps          []domain.ReasoningStep `json:"steps"`
}

// handleChat runs one reasoning turn.
// POST /v1/chat
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	// No timeout here: a turn may legitimately span several model calls.
	// Client disconnect cancels through the request context.
	resp, convID, err := s.agent.Chat(r.Context(), domain.ConversationID(req.ConversationID), req.Message, req.History)
	if err != nil {
		s.logger.Error("chat turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	steps := resp.Steps
	if steps == nil {
		steps = []domain.ReasoningStep{}
	}
	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID: string(convID),
		Response:       resp.Response,
		Thought:        resp.Thought,
		StopReason:     resp.StopReason,
		Steps:          steps,
	})
}

// --- Tracing API ---

// handleListTraces returns recent traces, newest first. The in-memory ring
// answers first; after a restart it is empty, so fall back to the store.
// GET /v1/traces?limit=50
func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = min(n, 500)
		}
	}

	traces := s.tracer.ListTraces(limit)
	if len(traces) == 0 && s.repo != nil {
		stored, err := s.repo.ListTraces(r.Context(), limit)
		if err != nil {
			s.logger.Warn("trace store list failed", "error", err)
		} else {
			traces = stored
		}
	}
	if traces == nil {
		traces = []domain.TraceSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"traces": traces,
		"count":  len(traces),
	})
}

// handleGetTrace returns a single trace with all spans, checking the ring
// first and the store second.
// GET /v1/traces/{id}
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	id := domain.TraceID(r.PathValue("id"))

	if trace, err := s.tracer.GetTrace(id); err == nil {
		writeJSON(w, http.StatusOK, trace)
		return
	}
	if s.repo != nil {
		if trace, err := s.repo.GetTrace(r.Context(), id); err == nil {
			writeJSON(w, http.StatusOK, trace)
			return
		}
	}
	writeError(w, http.StatusNotFound, "trace not found: "+string(id))
}

// --- Tools API ---

// toolDTO is the JSON representation of a tool (Execute func is excluded).
type toolDTO struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Parameters  domain.ToolParameters `json:"parameters"`
}

// handleListTools returns all registered tools with their schemas.
// GET /v1/tools
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools := s.tools.ListTools()
	dtos := make([]toolDTO, 0, len(tools))
	for _, t := range tools {
		dtos = append(dtos, toolDTO{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": dtos,
		"count": len(dtos),
	})
}

// handleRunTool executes a tool by name with the provided JSON params.
// POST /v1/tools/{name}/run
// Body: {"params": {...}}
func (s *Server) handleRunTool(w http.ResponseWriter, r *http.Request) {
	toolName := r.PathValue("name")

	var body struct {
		Params map[string]interface{} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err.Error() != "EOF" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Params == nil {
		body.Params = map[string]interface{}{}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	startTime := time.Now()
	result, err := s.tools.Execute(ctx, toolName, body.Params)
	elapsed := time.Since(startTime).Milliseconds()

	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"ok":          false,
			"tool":        toolName,
			"error":       err.Error(),
			"duration_ms": elapsed,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"tool":        toolName,
		"result":      result,
		"duration_ms": elapsed,
	})
}

// --- Archive API ---

// handleIngest runs the archive pipeline over a directory and reports the
// outcome. Progress events stream on /v1/ingest/events while it runs.
// POST /v1/ingest
// Body: {"dir": "/path/to/archive"}
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Dir string `json:"dir"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.Dir) == "" {
		writeError(w, http.StatusBadRequest, "dir is required")
		return
	}

	report, err := s.ingest.Run(r.Context(), body.Dir)
	if err != nil {
		s.logger.Error("ingest failed", "error", err, "dir", body.Dir)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleListDocuments returns all ingested documents.
// GET /v1/documents
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.repo.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"count":     len(docs),
	})
}

// handleDeleteDocument removes a document, its chunks and its index entries.
// DELETE /v1/documents/{id}
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := domain.DocumentID(r.PathValue("id"))
	if err := s.ingest.DeleteDocument(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
