package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// StepKind classifies one entry in the ReAct reasoning chain.
type StepKind string

const (
	StepAction      StepKind = "action"       // model chose a tool
	StepObservation StepKind = "observation"  // tool result fed back
	StepFinalAnswer StepKind = "final_answer" // model answered the user
)

// StopReason records why the reasoning loop ended.
type StopReason string

const (
	StopFinalAnswer     StopReason = "final_answer"
	StopBudgetExhausted StopReason = "budget_exhausted"
	StopParseFailure    StopReason = "parse_failure"
)

// ReasoningStep represents one step in the ReAct reasoning chain.
// Exactly one of the three shapes is populated, selected by Kind.
type ReasoningStep struct {
	Kind        StepKind               `json:"kind"`
	Thought     string                 `json:"thought,omitempty"`
	Action      string                 `json:"action,omitempty"`
	ActionInput map[string]interface{} `json:"action_input,omitempty"`
	Observation string                 `json:"observation,omitempty"`
	Response    string                 `json:"response,omitempty"`
}

// NewActionStep builds a tool-selection step.
func NewActionStep(thought, action string, input map[string]interface{}) ReasoningStep {
	return ReasoningStep{Kind: StepAction, Thought: thought, Action: action, ActionInput: input}
}

// NewObservationStep builds a tool-result step.
func NewObservationStep(observation string) ReasoningStep {
	return ReasoningStep{Kind: StepObservation, Observation: observation}
}

// NewFinalAnswerStep builds the terminal step carrying the user-facing answer.
func NewFinalAnswerStep(thought, response string) ReasoningStep {
	return ReasoningStep{Kind: StepFinalAnswer, Thought: thought, Response: response}
}

// IsTerminal reports whether the step ends the reasoning loop.
func (s ReasoningStep) IsTerminal() bool {
	return s.Kind == StepFinalAnswer
}

// Content renders the step back into its textual dialect so it can be
// replayed into the next prompt window.
func (s ReasoningStep) Content() string {
	switch s.Kind {
	case StepAction:
		input := "{}"
		if s.ActionInput != nil {
			if b, err := json.Marshal(s.ActionInput); err == nil {
				input = string(b)
			}
		}
		return fmt.Sprintf("Thought: %s\nAction: %s\nAction Input: %s", s.Thought, s.Action, input)
	case StepObservation:
		return "Observation: " + s.Observation
	case StepFinalAnswer:
		return fmt.Sprintf("Thought: %s\nAnswer: %s", s.Thought, s.Response)
	}
	return ""
}

var (
	// ErrMalformedReasoning marks model output that matches neither the
	// action shape nor the final-answer shape.
	ErrMalformedReasoning = errors.New("reasoning output matches no known step shape")

	// ErrMalformedActionInput marks an Action Input block that does not
	// decode to a JSON object.
	ErrMalformedActionInput = errors.New("action input is not a JSON object")

	// ErrUnknownTool marks an action naming a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")
)

// AgentResponse wraps the agent's answer with the reasoning chain that
// produced it.
type AgentResponse struct {
	Response   string          `json:"response"`
	Thought    string          `json:"thought,omitempty"`
	Steps      []ReasoningStep `json:"steps"`
	StopReason StopReason      `json:"stop_reason"`
}

// ValidateTrace checks the structural invariants of a finished chain:
// every action is immediately followed by an observation, and a final
// answer may only appear as the last step.
func ValidateTrace(steps []ReasoningStep) error {
	for i, s := range steps {
		switch s.Kind {
		case StepAction:
			if i+1 >= len(steps) || steps[i+1].Kind != StepObservation {
				return fmt.Errorf("action step %d has no observation", i)
			}
		case StepObservation:
			if i == 0 || steps[i-1].Kind != StepAction {
				return fmt.Errorf("observation step %d does not follow an action", i)
			}
		case StepFinalAnswer:
			if i != len(steps)-1 {
				return fmt.Errorf("final answer at step %d is not last", i)
			}
		default:
			return fmt.Errorf("step %d has unknown kind %q", i, s.Kind)
		}
	}
	return nil
}
