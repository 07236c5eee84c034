package services

import (
	"fmt"

	"github.com/manthysbr/olorin/internal/core/domain"
)

// archiveRouterSuffix is appended to every incoming user message before it is
// stored. It steers the model between answering directly and routing the
// question through the archive tool.
const archiveRouterSuffix = `If the question is about the research archive (papers, talks, protocols, or their authors), use the archive tool to answer it. For greetings or questions unrelated to the archive, answer directly.`

// archiveQuestionFrame wraps the user's original question before it is handed
// to the archive tool, replacing whatever paraphrase the model produced.
const archiveQuestionFrame = `You are an expert assistant. Answer the question below using the retrieved archive passages, and be precise about sources.
Question: %s`

// reactSystemHeader is the fixed preamble of every prompt window. The single
// %s slot receives the rendered tool list.
const reactSystemHeader = `You are an AI research assistant with access to tools.

You use the ReAct pattern: Thought, then either a tool call or an answer.

FORMAT (tool call):
Thought: <reasoning>
Action: <EXACT tool name from list below>
Action Input: <JSON params on one line>

FORMAT (direct answer):
Thought: <reasoning>
Answer: <response>

%s
RULES:
1. Always start with "Thought:"
2. For simple chat (greetings, conversation), go DIRECTLY to "Answer:" with no tools.
3. Use the EXACT tool name from the "Available Tools" list above. Do NOT invent tool names.
4. Action Input must be valid JSON on one line.
5. After an Observation, either call another tool or give the final "Answer:".

EXAMPLES:

Example 1 - simple chat:
User: Hello!
Thought: Simple greeting, no tool needed.
Answer: Hello! How can I help you today?

Example 2 - archive question:
User: What does the archive say about MEV auctions?
Thought: This is an archive question, I should search it.
Action: query_archive
Action Input: {"input": "What does the archive say about MEV auctions?"}`

// AugmentUserMessage appends the fixed router instruction to a user message.
func AugmentUserMessage(message string) string {
	return message + "\n" + archiveRouterSuffix
}

// FrameQuestion renders the user's original question into the template sent
// to the archive tool.
func FrameQuestion(question string) string {
	return fmt.Sprintf(archiveQuestionFrame, question)
}

// BuildSystemHeader renders the fixed preamble with the current tool list.
func BuildSystemHeader(tools *domain.ToolRegistry) string {
	return fmt.Sprintf(reactSystemHeader, tools.FormatToolsForPrompt())
}

// FormatReActPrompt assembles the full message window for one backend call:
// the system header, the conversation memory, then the current turn's
// reasoning steps. Action and answer steps replay as assistant messages;
// observations replay as user messages. The rendering is pure, so identical
// inputs always produce an identical window.
func FormatReActPrompt(tools *domain.ToolRegistry, history []domain.Message, steps []domain.ReasoningStep) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(history)+len(steps)+1)
	out = append(out, domain.ChatMessage{Role: domain.RoleSystem, Content: BuildSystemHeader(tools)})

	for _, m := range history {
		out = append(out, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}

	for _, s := range steps {
		role := domain.RoleAssistant
		if s.Kind == domain.StepObservation {
			role = domain.RoleUser
		}
		out = append(out, domain.ChatMessage{Role: role, Content: s.Content()})
	}

	return out
}
