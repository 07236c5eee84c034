package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/olorin/internal/adapters/duckdb"
	"github.com/manthysbr/olorin/internal/adapters/loader"
	appconfig "github.com/manthysbr/olorin/internal/config"
	"github.com/manthysbr/olorin/internal/core/domain"
	"github.com/manthysbr/olorin/internal/core/services"
)

// scriptedBackend replays canned completions in order.
type scriptedBackend struct {
	outputs []string
	calls   int
}

func (b *scriptedBackend) Chat(_ context.Context, _ []domain.ChatMessage) (domain.ChatCompletion, error) {
	if b.calls >= len(b.outputs) {
		return domain.ChatCompletion{}, fmt.Errorf("no scripted output for call %d", b.calls+1)
	}
	content := b.outputs[b.calls]
	b.calls++
	return domain.ChatCompletion{
		Raw: domain.RawCompletion{
			Model: "scripted",
			Choices: []domain.RawChoice{{
				Message:      domain.RawMessage{Role: "assistant", Content: content},
				FinishReason: "stop",
			}},
		},
		Message: domain.ChatMessage{Role: domain.RoleAssistant, Content: content},
	}, nil
}

func (b *scriptedBackend) Model() string { return "scripted" }

// flatEmbedder maps every text onto the same unit vector, so anything
// indexed is a perfect retrieval hit.
type flatEmbedder struct{}

func (flatEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func newTestServer(t *testing.T, backend *scriptedBackend) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo, err := duckdb.NewRepository(filepath.Join(t.TempDir(), "kernel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	t.Setenv("OLORIN_SECRET_KEY", "kernel-test-key")
	secretKey, err := appconfig.NewSecretKey()
	require.NoError(t, err)
	settings, err := appconfig.NewSettingsStore(logger, repo, secretKey)
	require.NoError(t, err)

	bus := services.NewEventBus(logger)
	tracer := services.NewTraceCollector(logger, bus, repo)

	index := services.NewVectorIndex()
	require.NoError(t, index.Add(domain.Chunk{
		ID:         "chunk-1",
		DocumentID: "doc-1",
		Title:      "amm-liquidity",
		Seq:        0,
		Text:       "Impermanent loss grows with price divergence between the pooled assets.",
		Embedding:  []float32{1, 0, 0},
	}))

	engine := services.NewArchiveQueryEngine(logger, backend, flatEmbedder{}, index, tracer, 3)
	tools := domain.NewToolRegistry()
	require.NoError(t, tools.Register(services.NewQueryArchiveTool(engine)))

	convs := services.NewConversationStore(repo, 16)
	agent := services.NewReActAgentService(logger, backend, tools, convs, bus, tracer, settings.GetConfig().Agent)

	ingest := services.NewIngestService(
		logger,
		loader.NewFSLoader(logger),
		services.NewSplitter(64, 10),
		flatEmbedder{},
		services.NewTokenGovernor(logger, 0),
		index,
		repo,
		bus,
		tracer,
		2,
	)

	server := NewServer(logger, agent, bus, settings, convs, tracer, tools, ingest, repo)
	return server.Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var resp map[string]interface{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func TestServer_ChatFlow(t *testing.T) {
	backend := &scriptedBackend{outputs: []string{
		"Thought: This is an archive question, I should search it.\nAction: query_archive\nAction Input: {\"input\": \"impermanent loss\"}",
		"Impermanent loss grows with price divergence between the pooled assets.",
		"Thought: The archive answered it.\nAnswer: Impermanent loss grows with price divergence.",
	}}
	handler := newTestServer(t, backend)

	w, resp := doJSON(t, handler, "POST", "/v1/chat", `{"message": "What is impermanent loss?"}`)
	require.Equal(t, 200, w.Code, w.Body.String())

	assert.Equal(t, "Impermanent loss grows with price divergence.", resp["response"])
	assert.Equal(t, "final_answer", resp["stop_reason"])
	convID, _ := resp["conversation_id"].(string)
	require.NotEmpty(t, convID)

	// action + observation + final answer
	steps, _ := resp["steps"].([]interface{})
	require.Len(t, steps, 3)
	assert.Equal(t, 3, backend.calls)

	// The turn persisted exactly the user/assistant pair.
	w, resp = doJSON(t, handler, "GET", "/v1/conversations/"+convID+"/messages", "")
	require.Equal(t, 200, w.Code)
	assert.Equal(t, float64(2), resp["count"])

	// The turn left a finished trace in the ring.
	w, resp = doJSON(t, handler, "GET", "/v1/traces", "")
	require.Equal(t, 200, w.Code)
	traces, _ := resp["traces"].([]interface{})
	require.NotEmpty(t, traces)

	first, _ := traces[0].(map[string]interface{})
	traceID, _ := first["id"].(string)
	require.NotEmpty(t, traceID)

	req := httptest.NewRequest("GET", "/v1/traces/"+traceID, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
}

func TestServer_ChatRequiresMessage(t *testing.T) {
	handler := newTestServer(t, &scriptedBackend{})

	w, resp := doJSON(t, handler, "POST", "/v1/chat", `{"message": "   "}`)
	assert.Equal(t, 400, w.Code)
	assert.Contains(t, resp["error"], "message is required")
}

func TestServer_ConversationLifecycle(t *testing.T) {
	handler := newTestServer(t, &scriptedBackend{})

	w, resp := doJSON(t, handler, "POST", "/v1/conversations", `{"title": "AMM notes"}`)
	require.Equal(t, 201, w.Code)
	id, _ := resp["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "AMM notes", resp["title"])

	w, resp = doJSON(t, handler, "GET", "/v1/conversations", "")
	require.Equal(t, 200, w.Code)
	assert.Equal(t, float64(1), resp["count"])

	w, resp = doJSON(t, handler, "PATCH", "/v1/conversations/"+id, `{"title": "MEV notes"}`)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "MEV notes", resp["title"])

	w, _ = doJSON(t, handler, "DELETE", "/v1/conversations/"+id, "")
	require.Equal(t, 204, w.Code)

	w, _ = doJSON(t, handler, "GET", "/v1/conversations/"+id, "")
	assert.Equal(t, 404, w.Code)
}

func TestServer_ToolsAPI(t *testing.T) {
	backend := &scriptedBackend{outputs: []string{
		"The pooled assets diverge in price.",
	}}
	handler := newTestServer(t, backend)

	w, resp := doJSON(t, handler, "GET", "/v1/tools", "")
	require.Equal(t, 200, w.Code)
	assert.Equal(t, float64(1), resp["count"])
	tools, _ := resp["tools"].([]interface{})
	require.Len(t, tools, 1)
	tool, _ := tools[0].(map[string]interface{})
	assert.Equal(t, "query_archive", tool["name"])

	// Valid run goes through retrieval and synthesis.
	w, resp = doJSON(t, handler, "POST", "/v1/tools/query_archive/run", `{"params": {"input": "impermanent loss"}}`)
	require.Equal(t, 200, w.Code, w.Body.String())
	assert.Equal(t, true, resp["ok"])
	result, _ := resp["result"].(map[string]interface{})
	assert.Equal(t, "The pooled assets diverge in price.", result["answer"])

	// Missing required argument is rejected before dispatch.
	w, resp = doJSON(t, handler, "POST", "/v1/tools/query_archive/run", `{"params": {}}`)
	assert.Equal(t, 422, w.Code)
	assert.Equal(t, false, resp["ok"])

	// Unknown tool name reports the nearest registered one.
	w, resp = doJSON(t, handler, "POST", "/v1/tools/search_archive/run", `{"params": {"input": "x"}}`)
	assert.Equal(t, 422, w.Code)
	errMsg, _ := resp["error"].(string)
	assert.Contains(t, errMsg, "query_archive")
}

func TestServer_IngestAndDocuments(t *testing.T) {
	handler := newTestServer(t, &scriptedBackend{})

	dir := t.TempDir()
	content := strings.Repeat("validator incentives and consensus rewards ", 40)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "consensus.md"), []byte(content), 0o644))

	body, _ := json.Marshal(map[string]string{"dir": dir})
	w, resp := doJSON(t, handler, "POST", "/v1/ingest", string(body))
	require.Equal(t, 200, w.Code, w.Body.String())
	assert.Equal(t, float64(1), resp["documents"])
	assert.Equal(t, float64(0), resp["failed"])

	w, resp = doJSON(t, handler, "GET", "/v1/documents", "")
	require.Equal(t, 200, w.Code)
	assert.Equal(t, float64(1), resp["count"])
	docs, _ := resp["documents"].([]interface{})
	require.Len(t, docs, 1)
	doc, _ := docs[0].(map[string]interface{})
	docID, _ := doc["id"].(string)
	require.NotEmpty(t, docID)

	w, _ = doJSON(t, handler, "DELETE", "/v1/documents/"+docID, "")
	require.Equal(t, 204, w.Code)

	w, resp = doJSON(t, handler, "GET", "/v1/documents", "")
	require.Equal(t, 200, w.Code)
	assert.Equal(t, float64(0), resp["count"])
}

func TestServer_SettingsRoundtrip(t *testing.T) {
	handler := newTestServer(t, &scriptedBackend{})

	w, resp := doJSON(t, handler, "GET", "/v1/settings", "")
	require.Equal(t, 200, w.Code)
	providers, _ := resp["providers"].(map[string]interface{})
	llm, _ := providers["llm"].(map[string]interface{})
	assert.Equal(t, "local", llm["mode"])

	// Partial update touches one section and leaves the rest alone.
	w, resp = doJSON(t, handler, "PUT", "/v1/settings", `{"agent": {"max_iterations": 4, "history_window": 20, "top_k": 5}}`)
	require.Equal(t, 200, w.Code, w.Body.String())
	agent, _ := resp["agent"].(map[string]interface{})
	assert.Equal(t, float64(4), agent["max_iterations"])

	providers, _ = resp["providers"].(map[string]interface{})
	llm, _ = providers["llm"].(map[string]interface{})
	assert.Equal(t, "local", llm["mode"])

	// Remote mode without an URL is rejected.
	w, resp = doJSON(t, handler, "PUT", "/v1/settings", `{"providers": {"llm": {"mode": "remote", "remote_url": ""}}}`)
	assert.Equal(t, 400, w.Code)
	assert.NotEmpty(t, resp["error"])
}

func TestServer_Healthz(t *testing.T) {
	handler := newTestServer(t, &scriptedBackend{})

	w, resp := doJSON(t, handler, "GET", "/v1/healthz", "")
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "ok", resp["status"])
}
