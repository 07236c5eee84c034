package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/manthysbr/olorin/internal/core/domain"
)

var (
	answerRe      = regexp.MustCompile(`(?is)(?:Final\s+)?Answer:\s*(.*)`)
	thoughtRe     = regexp.MustCompile(`(?i)Thought:\s*([^\n]+)`)
	actionRe      = regexp.MustCompile(`(?i)Action:\s*([a-z][a-z0-9_]*)`)
	actionInputRe = regexp.MustCompile(`(?i)Action\s*Input:\s*`)
)

// ParseReasoning extracts one reasoning step from raw model output. Exactly
// two shapes are legal: Thought+Action+Action Input (tool call) and
// Thought+Answer (final answer). The answer marker wins when both appear.
// Anything else is ErrMalformedReasoning; an Action Input block that is not
// a JSON object is ErrMalformedActionInput.
func ParseReasoning(content string) (domain.ReasoningStep, error) {
	thought := ""
	if m := thoughtRe.FindStringSubmatch(content); len(m) > 1 {
		thought = strings.TrimSpace(m[1])
	}

	// Check for the answer marker first: models sometimes emit a leftover
	// Action block after deciding to answer, and the answer takes precedence.
	if m := answerRe.FindStringSubmatch(content); len(m) > 1 {
		return domain.NewFinalAnswerStep(thought, strings.TrimSpace(m[1])), nil
	}

	action := ""
	if m := actionRe.FindStringSubmatch(content); len(m) > 1 {
		action = strings.TrimSpace(m[1])
	}
	if action == "" {
		return domain.ReasoningStep{}, fmt.Errorf("%w: no action or answer marker", domain.ErrMalformedReasoning)
	}

	start, end, ok := findActionInputSpan(content)
	if !ok {
		if actionInputRe.FindStringIndex(content) != nil {
			return domain.ReasoningStep{}, fmt.Errorf("%w: no JSON object after marker", domain.ErrMalformedActionInput)
		}
		return domain.ReasoningStep{}, fmt.Errorf("%w: action %q has no Action Input", domain.ErrMalformedReasoning, action)
	}

	input, err := decodeActionInput(content[start:end])
	if err != nil {
		return domain.ReasoningStep{}, fmt.Errorf("%w: %v", domain.ErrMalformedActionInput, err)
	}

	return domain.NewActionStep(thought, action, input), nil
}

// findActionInputSpan locates the JSON object following the "Action Input:"
// marker using brace-depth counting, so nested objects and braces inside
// strings are handled. Returns the absolute [start, end) span of the object.
func findActionInputSpan(content string) (int, int, bool) {
	loc := actionInputRe.FindStringIndex(content)
	if loc == nil {
		return 0, 0, false
	}

	rest := content[loc[1]:]
	start := strings.Index(rest, "{")
	if start < 0 {
		return 0, 0, false
	}

	depth := 0
	inStr := false
	escaped := false
	for i := start; i < len(rest); i++ {
		ch := rest[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inStr {
			escaped = true
			continue
		}
		if ch == '"' {
			inStr = !inStr
			continue
		}
		if inStr {
			continue
		}
		if ch == '{' {
			depth++
		} else if ch == '}' {
			depth--
			if depth == 0 {
				return loc[1] + start, loc[1] + i + 1, true
			}
		}
	}

	return 0, 0, false
}

// decodeActionInput parses the extracted block into an object, running a
// JSON repair pass when the model produced almost-JSON (single quotes,
// trailing commas, unquoted keys).
func decodeActionInput(jsonStr string) (map[string]interface{}, error) {
	var params map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &params); err == nil {
		return params, nil
	}

	repaired, err := jsonrepair.JSONRepair(jsonStr)
	if err != nil {
		return nil, fmt.Errorf("repair: %v", err)
	}
	if err := json.Unmarshal([]byte(repaired), &params); err != nil {
		return nil, err
	}
	return params, nil
}
