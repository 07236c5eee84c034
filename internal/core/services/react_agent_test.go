package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/olorin/internal/adapters/duckdb"
	"github.com/manthysbr/olorin/internal/core/domain"
)

// scriptedChat replays canned completions in order.
type scriptedChat struct {
	outputs []string
	calls   int
}

func (b *scriptedChat) Chat(_ context.Context, _ []domain.ChatMessage) (domain.ChatCompletion, error) {
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

func (b *scriptedChat) Model() string { return "scripted" }

type agentFixture struct {
	agent   *ReActAgentService
	backend *scriptedChat
	repo    *duckdb.Repository
	bus     *EventBus
}

func newAgentFixture(t *testing.T, outputs []string, cfg domain.AgentConfig) *agentFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo, err := duckdb.NewRepository(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	bus := NewEventBus(logger)
	// No trace repo here: async persistence would race test teardown.
	tracer := NewTraceCollector(logger, bus, nil)

	tools := domain.NewToolRegistry()
	require.NoError(t, tools.Register(&domain.Tool{
		Name:        "query_archive",
		Description: "Search the research archive.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"input": map[string]interface{}{"type": "string"},
			},
			Required: []string{"input"},
		},
		Execute: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"answer": "archived answer"}, nil
		},
	}))
	require.NoError(t, tools.Register(&domain.Tool{
		Name:        "broken_tool",
		Description: "Always fails.",
		Parameters:  domain.ToolParameters{Type: "object", Properties: map[string]interface{}{}},
		Execute: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			return nil, fmt.Errorf("boom")
		},
	}))

	backend := &scriptedChat{outputs: outputs}
	agent := NewReActAgentService(logger, backend, tools, NewConversationStore(repo, 8), bus, tracer, cfg)

	return &agentFixture{agent: agent, backend: backend, repo: repo, bus: bus}
}

func TestReActAgent_DirectAnswer(t *testing.T) {
	fx := newAgentFixture(t, []string{"Thought: greeting, no tool needed.\nAnswer: Hello!"}, domain.AgentConfig{})
	ctx := context.Background()

	resp, convID, err := fx.agent.Chat(ctx, "", "hi", nil)
	require.NoError(t, err)
	require.NotEmpty(t, convID)

	assert.Equal(t, "Hello!", resp.Response)
	assert.Equal(t, domain.StopFinalAnswer, resp.StopReason)
	assert.Equal(t, "greeting, no tool needed.", resp.Thought)
	require.Len(t, resp.Steps, 1)
	assert.NoError(t, domain.ValidateTrace(resp.Steps))
	assert.Equal(t, 1, fx.backend.calls)

	// One turn writes exactly two messages: augmented user + assistant.
	msgs, err := fx.repo.ListMessages(ctx, convID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "hi")
	assert.Contains(t, msgs[0].Content, "archive tool")
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello!", msgs[1].Content)

	// The conversation was auto-created and titled from the message.
	conv, err := fx.repo.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, "hi", conv.Title)
}

func TestReActAgent_ToolRoundtrip(t *testing.T) {
	fx := newAgentFixture(t, []string{
		"Thought: archive question.\nAction: query_archive\nAction Input: {\"input\": \"the model paraphrase\"}",
		"Thought: the archive answered.\nAnswer: The archive says so.",
	}, domain.AgentConfig{})
	ctx := context.Background()

	resp, convID, err := fx.agent.Chat(ctx, "", "What is restaking?", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StopFinalAnswer, resp.StopReason)
	require.Len(t, resp.Steps, 3)
	assert.NoError(t, domain.ValidateTrace(resp.Steps))
	assert.Equal(t, 2, fx.backend.calls)

	// The action carries the framed verbatim question, not the paraphrase.
	action := resp.Steps[0]
	assert.Equal(t, domain.StepAction, action.Kind)
	assert.Equal(t, "query_archive", action.Action)
	input, _ := action.ActionInput["input"].(string)
	assert.Contains(t, input, "Question: What is restaking?")
	assert.NotContains(t, input, "the model paraphrase")

	obs := resp.Steps[1]
	assert.Equal(t, domain.StepObservation, obs.Kind)
	assert.Equal(t, `{"answer":"archived answer"}`, obs.Observation)

	// Tool traffic never leaks into conversation memory.
	msgs, err := fx.repo.ListMessages(ctx, convID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestReActAgent_UnknownToolContinues(t *testing.T) {
	fx := newAgentFixture(t, []string{
		"Thought: I need the web.\nAction: fetch_webpage\nAction Input: {\"input\": \"x\"}",
		"Thought: no such tool, answer directly.\nAnswer: I cannot browse, but here is what I know.",
	}, domain.AgentConfig{})

	resp, _, err := fx.agent.Chat(context.Background(), "", "look this up", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StopFinalAnswer, resp.StopReason)
	require.Len(t, resp.Steps, 3)
	assert.NoError(t, domain.ValidateTrace(resp.Steps))
	assert.Contains(t, resp.Steps[1].Observation, "unknown tool")
}

func TestReActAgent_ToolErrorBecomesObservation(t *testing.T) {
	fx := newAgentFixture(t, []string{
		"Thought: try the broken one.\nAction: broken_tool\nAction Input: {}",
		"Thought: it failed, answer anyway.\nAnswer: done",
	}, domain.AgentConfig{})

	resp, _, err := fx.agent.Chat(context.Background(), "", "do the thing", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StopFinalAnswer, resp.StopReason)
	require.Len(t, resp.Steps, 3)
	assert.Contains(t, resp.Steps[1].Observation, "boom")
}

func TestReActAgent_MalformedOutputBestEffort(t *testing.T) {
	fx := newAgentFixture(t, []string{
		"Let me ponder this question without any structure at all.",
	}, domain.AgentConfig{})
	ctx := context.Background()

	resp, convID, err := fx.agent.Chat(ctx, "", "hard question", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StopParseFailure, resp.StopReason)
	assert.Empty(t, resp.Steps)
	// The unparseable text itself is the best-effort answer.
	assert.Equal(t, "Let me ponder this question without any structure at all.", resp.Response)
	assert.Equal(t, 1, fx.backend.calls)

	// The fallback answer still lands in memory as the second write.
	msgs, err := fx.repo.ListMessages(ctx, convID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, resp.Response, msgs[1].Content)
}

func TestReActAgent_BudgetExhausted(t *testing.T) {
	action := "Thought: keep digging.\nAction: query_archive\nAction Input: {\"input\": \"more\"}"
	fx := newAgentFixture(t, []string{action, action, action}, domain.AgentConfig{MaxIterations: 2})

	resp, _, err := fx.agent.Chat(context.Background(), "", "endless question", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StopBudgetExhausted, resp.StopReason)
	// The budget caps backend calls, not just parsed steps.
	assert.Equal(t, 2, fx.backend.calls)
	require.Len(t, resp.Steps, 4)
	assert.NoError(t, domain.ValidateTrace(resp.Steps))

	// Best effort: the latest observation stands in for the missing answer.
	assert.Equal(t, `{"answer":"archived answer"}`, resp.Response)
}

func TestReActAgent_HistoryReplacesMemory(t *testing.T) {
	fx := newAgentFixture(t, []string{
		"Thought: t\nAnswer: first",
		"Thought: t\nAnswer: second",
	}, domain.AgentConfig{})
	ctx := context.Background()

	history := []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "earlier question"},
		{Role: domain.RoleAssistant, Content: "earlier answer"},
	}
	_, convID, err := fx.agent.Chat(ctx, "", "follow-up", history)
	require.NoError(t, err)

	msgs, err := fx.repo.ListMessages(ctx, convID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "earlier question", msgs[0].Content)
	assert.Equal(t, "earlier answer", msgs[1].Content)

	// nil history keeps what is stored.
	_, _, err = fx.agent.Chat(ctx, convID, "again", nil)
	require.NoError(t, err)

	msgs, err = fx.repo.ListMessages(ctx, convID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 6)
}

func TestReActAgent_PublishesAssistantMessage(t *testing.T) {
	fx := newAgentFixture(t, []string{"Thought: t\nAnswer: hello back"}, domain.AgentConfig{})
	ctx := context.Background()

	conv := domain.Conversation{
		ID:        domain.NewConversationID(),
		Title:     "events",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, fx.repo.CreateConversation(ctx, conv))

	ch, unsub := fx.bus.Subscribe(string(conv.ID))
	defer unsub()

	_, _, err := fx.agent.Chat(ctx, conv.ID, "hi", nil)
	require.NoError(t, err)

	select {
	case evt := <-ch:
		assert.Equal(t, EventTypeNewMessage, evt.Type)
		assert.Contains(t, evt.Data, "hello back")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for new_message event")
	}
}
