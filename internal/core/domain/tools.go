package domain

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Tool represents an executable capability available to the agent
type Tool struct {
	Name        string
	Description string
	Parameters  ToolParameters
	Execute     ToolExecutor
}

// ToolParameters defines the schema for tool inputs
type ToolParameters struct {
	Type       string                 `json:"type"`       // "object"
	Properties map[string]interface{} `json:"properties"` // param definitions
	Required   []string               `json:"required"`   // required param names
}

// Schema converts the parameter definition into an OpenAPI object schema
// used to validate arguments before dispatch.
func (p ToolParameters) Schema() *openapi3.Schema {
	schema := openapi3.NewObjectSchema()
	for _, name := range sortedKeys(p.Properties) {
		pType, pDesc := "", ""
		if pm, ok := p.Properties[name].(map[string]interface{}); ok {
			pType, _ = pm["type"].(string)
			pDesc, _ = pm["description"].(string)
		}
		var prop *openapi3.Schema
		switch pType {
		case "integer":
			prop = openapi3.NewIntegerSchema()
		case "number":
			prop = openapi3.NewFloat64Schema()
		case "boolean":
			prop = openapi3.NewBoolSchema()
		case "array":
			prop = openapi3.NewArraySchema()
		case "object":
			prop = openapi3.NewObjectSchema()
		default:
			prop = openapi3.NewStringSchema()
		}
		prop.Description = pDesc
		schema = schema.WithProperty(name, prop)
	}
	schema.Required = append([]string(nil), p.Required...)
	return schema
}

// ValidateArgs checks the given arguments against the parameter schema.
func (p ToolParameters) ValidateArgs(args map[string]interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}
	return p.Schema().VisitJSON(args)
}

// ToolExecutor is the function signature for tool execution
type ToolExecutor func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolRegistry manages available tools
type ToolRegistry struct {
	tools map[string]*Tool
}

// NewToolRegistry creates a new empty registry
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*Tool),
	}
}

// Register adds a tool to the registry
func (r *ToolRegistry) Register(tool *Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	r.tools[tool.Name] = tool
	return nil
}

// Execute runs a tool with the given arguments. Lookup is exact: a
// hallucinated name is reported back as ErrUnknownTool, with the closest
// registered name as a hint when one exists. Arguments are validated
// against the tool's schema before dispatch.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tool, ok := r.tools[name]
	if !ok {
		if hint := r.nearestName(name); hint != "" {
			return nil, fmt.Errorf("%w: %s (did you mean %q?)", ErrUnknownTool, name, hint)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if err := tool.Parameters.ValidateArgs(args); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", name, err)
	}

	return tool.Execute(ctx, args)
}

// nearestName finds the closest registered name for a hallucinated/wrong one.
// It uses word-overlap scoring + Levenshtein distance as tiebreaker.
// Returns empty string if no reasonable match is found.
func (r *ToolRegistry) nearestName(input string) string {
	inputWords := splitToolWords(input)

	bestName := ""
	bestScore := 0

	for _, name := range sortedKeys(r.tools) {
		nameWords := splitToolWords(name)
		score := wordOverlapScore(inputWords, nameWords)

		if score > bestScore {
			bestScore = score
			bestName = name
		} else if score == bestScore && score > 0 {
			// Tiebreak: prefer shorter Levenshtein distance
			if levenshtein(input, name) < levenshtein(input, bestName) {
				bestName = name
			}
		}
	}

	// Only accept if score >= 1 (at least 1 word overlap)
	if bestScore >= 1 {
		return bestName
	}
	return ""
}

func splitToolWords(name string) []string {
	parts := []string{}
	for _, p := range strings.Split(strings.ToLower(name), "_") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func wordOverlapScore(a, b []string) int {
	set := make(map[string]bool, len(b))
	for _, w := range b {
		set[w] = true
	}
	score := 0
	for _, w := range a {
		if set[w] {
			score++
		}
	}
	return score
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, min(prev[j]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

// GetTool returns a tool by name
func (r *ToolRegistry) GetTool(name string) (*Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// ListTools returns all registered tools, sorted by name.
func (r *ToolRegistry) ListTools() []*Tool {
	tools := make([]*Tool, 0, len(r.tools))
	for _, name := range sortedKeys(r.tools) {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// FormatToolsForPrompt generates a concise description of available tools for
// the LLM prompt. Names and parameters are walked in sorted order so the
// rendered block is byte-stable for identical registries.
func (r *ToolRegistry) FormatToolsForPrompt() string {
	result := "Available Tools:\n"
	for _, tool := range r.ListTools() {
		// Compact required params list
		reqParams := ""
		if len(tool.Parameters.Required) > 0 {
			reqParams = " | required: " + strings.Join(tool.Parameters.Required, ", ")
		}

		// List all param names with types
		paramsList := ""
		if len(tool.Parameters.Properties) > 0 {
			parts := make([]string, 0, len(tool.Parameters.Properties))
			for _, pName := range sortedKeys(tool.Parameters.Properties) {
				pType := "any"
				if pm, ok := tool.Parameters.Properties[pName].(map[string]interface{}); ok {
					if t, ok := pm["type"].(string); ok {
						pType = t
					}
				}
				parts = append(parts, pName+":"+pType)
			}
			paramsList = " | params: {" + strings.Join(parts, ", ") + "}"
		}

		result += fmt.Sprintf("- %s: %s%s%s\n", tool.Name, tool.Description, paramsList, reqParams)
	}
	return result
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
