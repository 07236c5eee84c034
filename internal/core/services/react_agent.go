package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/manthysbr/olorin/internal/core/domain"
	"github.com/manthysbr/olorin/internal/core/ports"
)

// ReActAgentService drives the reasoning loop over a stateless chat backend:
// format the window, call the model, parse a step, run the tool, fold the
// observation back in, repeat until an answer or the iteration budget.
type ReActAgentService struct {
	logger   *slog.Logger
	backend  ports.ChatBackend
	tools    *domain.ToolRegistry
	convs    *ConversationStore
	bus      *EventBus
	tracer   *TraceCollector
	maxIters int
	window   int
}

// NewReActAgentService creates a new ReAct-enabled agent.
func NewReActAgentService(
	logger *slog.Logger,
	backend ports.ChatBackend,
	tools *domain.ToolRegistry,
	convs *ConversationStore,
	bus *EventBus,
	tracer *TraceCollector,
	cfg domain.AgentConfig,
) *ReActAgentService {
	maxIters := cfg.MaxIterations
	if maxIters <= 0 {
		maxIters = 10
	}
	window := cfg.HistoryWindow
	if window <= 0 {
		window = 20
	}
	return &ReActAgentService{
		logger:   logger,
		backend:  backend,
		tools:    tools,
		convs:    convs,
		bus:      bus,
		tracer:   tracer,
		maxIters: maxIters,
		window:   window,
	}
}

// Chat processes a user message using ReAct reasoning, within a conversation.
// If convID is empty, a new conversation is created automatically. A non-nil
// history replaces the stored conversation memory wholesale before the turn
// runs (nil means: keep what is stored).
//
// Each turn writes exactly two messages into memory: the augmented user
// message before the loop and the assistant answer after it. Recoverable
// loop failures (malformed output, unknown tools, tool errors, exhausted
// budget) surface as a best-effort answer with a stop reason, never as an
// error; only infrastructure failures (backend transport, storage) do.
func (s *ReActAgentService) Chat(ctx context.Context, convID domain.ConversationID, message string, history []domain.ChatMessage) (*domain.AgentResponse, domain.ConversationID, error) {
	s.logger.Info("starting ReAct loop", "message", message, "conversation_id", string(convID))

	traceName := "chat: " + message
	if len(traceName) > 80 {
		traceName = traceName[:80] + "..."
	}
	ctx, traceID, _ := s.tracer.StartTrace(ctx, traceName, map[string]string{"conversation_id": string(convID)})

	// Auto-create conversation if needed
	if convID == "" {
		title := message
		if len(title) > 50 {
			title = title[:50] + "..."
		}
		conv, err := s.convs.CreateConversation(ctx, title)
		if err != nil {
			s.tracer.EndTrace(traceID, domain.SpanStatusError, err.Error())
			return nil, "", fmt.Errorf("create conversation: %w", err)
		}
		convID = conv.ID
		s.logger.Info("auto-created conversation", "conversation_id", string(convID))
	}

	s.tracer.SetTraceConversation(traceID, string(convID))

	memory := s.convs.Memory(convID)

	if history != nil {
		if err := memory.Set(ctx, history); err != nil {
			s.tracer.EndTrace(traceID, domain.SpanStatusError, err.Error())
			return nil, convID, fmt.Errorf("set history: %w", err)
		}
	}

	// First memory write of the turn: user message plus the router suffix.
	if _, err := memory.Put(ctx, domain.RoleUser, AugmentUserMessage(message)); err != nil {
		s.tracer.EndTrace(traceID, domain.SpanStatusError, err.Error())
		return nil, convID, fmt.Errorf("persist user message: %w", err)
	}

	window, err := memory.Get(ctx, s.window)
	if err != nil {
		s.tracer.EndTrace(traceID, domain.SpanStatusError, err.Error())
		return nil, convID, fmt.Errorf("load memory: %w", err)
	}

	var steps []domain.ReasoningStep
	stop := domain.StopBudgetExhausted
	response := ""

	for i := 0; i < s.maxIters; i++ {
		s.logger.Info("ReAct iteration", "iteration", i+1)

		prompt := FormatReActPrompt(s.tools, window, steps)

		llmCtx, llmSpanID := s.tracer.StartSpan(ctx, fmt.Sprintf("llm.chat (iter %d)", i+1), domain.SpanKindLLM, map[string]string{
			"iteration": fmt.Sprintf("%d", i+1),
		})
		s.tracer.SetSpanInput(llmSpanID, promptTail(prompt))
		s.tracer.SetSpanModel(llmSpanID, s.backend.Model())

		completion, err := s.backend.Chat(llmCtx, prompt)
		if err != nil {
			s.tracer.EndSpan(llmSpanID, domain.SpanStatusError, "", err.Error())
			s.tracer.EndTrace(traceID, domain.SpanStatusError, err.Error())
			return nil, convID, fmt.Errorf("backend chat: %w", err)
		}
		s.tracer.EndSpan(llmSpanID, domain.SpanStatusOK, head(completion.Content()), "")

		// Restore the verbatim question inside any Action Input before
		// parsing; the model's paraphrase degrades retrieval.
		if rewritten, applied := RewriteActionInput(completion.Content(), message); applied {
			completion = completion.WithContent(rewritten)
		}

		step, perr := ParseReasoning(completion.Content())
		if perr != nil {
			s.logger.Warn("unparseable reasoning output", "error", perr, "output", head(completion.Content()))
			stop = domain.StopParseFailure
			// The model said something, just not in a shape we recognize;
			// the raw text beats discarding the turn.
			response = strings.TrimSpace(completion.Content())
			break
		}
		steps = append(steps, step)

		if step.IsTerminal() {
			s.logger.Info("final answer reached", "answer", step.Response)
			response = step.Response
			stop = domain.StopFinalAnswer
			break
		}

		steps = append(steps, s.dispatch(ctx, step))
	}

	if stop != domain.StopFinalAnswer && response == "" {
		response = bestEffortAnswer(steps, stop)
		s.logger.Warn("loop ended without final answer", "stop_reason", string(stop), "steps", len(steps))
	}

	// Second memory write of the turn: the assistant answer.
	assistantMsg, err := memory.Put(ctx, domain.RoleAssistant, response)
	if err != nil {
		s.logger.Error("failed to persist assistant message", "error", err)
	} else if s.bus != nil {
		payload, _ := json.Marshal(assistantMsg)
		s.bus.Publish(Event{
			Key:       string(convID),
			Type:      EventTypeNewMessage,
			Data:      string(payload),
			Timestamp: time.Now().UnixMilli(),
		})
	}

	if stop == domain.StopFinalAnswer {
		s.tracer.EndTrace(traceID, domain.SpanStatusOK, "")
	} else {
		s.tracer.EndTrace(traceID, domain.SpanStatusError, string(stop))
	}

	return &domain.AgentResponse{
		Response:   response,
		Thought:    lastThought(steps),
		Steps:      steps,
		StopReason: stop,
	}, convID, nil
}

// dispatch runs one tool call and folds the result into an observation.
// Tool failures never abort the loop: the error text becomes the observation
// the model sees on the next iteration.
func (s *ReActAgentService) dispatch(ctx context.Context, step domain.ReasoningStep) domain.ReasoningStep {
	s.logger.Info("executing tool", "tool", step.Action, "params", step.ActionInput)

	toolCtx, toolSpanID := s.tracer.StartSpan(ctx, "tool."+step.Action, domain.SpanKindTool, map[string]string{
		"tool": step.Action,
	})
	inputJSON, _ := json.Marshal(step.ActionInput)
	s.tracer.SetSpanInput(toolSpanID, string(inputJSON))

	var observation string
	result, err := s.tools.Execute(toolCtx, step.Action, step.ActionInput)
	if err != nil {
		observation = fmt.Sprintf("Error: %v", err)
		s.tracer.EndSpan(toolSpanID, domain.SpanStatusError, observation, err.Error())
	} else {
		resultJSON, _ := json.Marshal(result)
		observation = string(resultJSON)
		s.tracer.EndSpan(toolSpanID, domain.SpanStatusOK, observation, "")
	}

	s.logger.Info("tool executed", "observation", head(observation))
	return domain.NewObservationStep(observation)
}

// bestEffortAnswer salvages a response when the loop stopped without one:
// the latest observation first, then the latest thought, then a fixed line.
func bestEffortAnswer(steps []domain.ReasoningStep, stop domain.StopReason) string {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Kind == domain.StepObservation && steps[i].Observation != "" {
			return steps[i].Observation
		}
	}
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Thought != "" {
			return steps[i].Thought
		}
	}
	if stop == domain.StopParseFailure {
		return "I could not produce a well-formed answer to that. Please try rephrasing the question."
	}
	return "I ran out of reasoning steps before reaching an answer. Please try rephrasing the question."
}

func lastThought(steps []domain.ReasoningStep) string {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Thought != "" {
			return steps[i].Thought
		}
	}
	return ""
}

func head(s string) string {
	return s[:min(500, len(s))]
}

func promptTail(msgs []domain.ChatMessage) string {
	if len(msgs) == 0 {
		return ""
	}
	last := msgs[len(msgs)-1].Content
	return last[max(0, len(last)-500):]
}
