package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/manthysbr/olorin/internal/core/domain"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
// Works with: OpenAI, Azure OpenAI, Together AI, vLLM, local Ollama /v1.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *resty.Client
}

// NewOpenAIClient creates a chat client for an OpenAI-compatible API.
func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	if model == "" {
		model = "gpt-4o-mini"
	}

	client := resty.New()
	client.SetTimeout(120 * time.Second)
	client.SetRetryCount(3)
	client.SetRetryWaitTime(1 * time.Second)
	client.SetRetryMaxWaitTime(5 * time.Second)

	return &OpenAIClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  client,
	}
}

// Model returns the model identifier requests are issued against.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Chat issues one chat completion. The provider payload is preserved as
// received, with the first choice mirrored into the canonical message.
func (c *OpenAIClient) Chat(ctx context.Context, messages []domain.ChatMessage) (domain.ChatCompletion, error) {
	request := map[string]interface{}{
		"model":    c.model,
		"messages": messages,
	}

	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(request)
	if c.apiKey != "" {
		req.SetHeader("Authorization", "Bearer "+c.apiKey)
	}

	response, err := req.Post(c.baseURL + "/chat/completions")
	if err != nil {
		return domain.ChatCompletion{}, fmt.Errorf("chat completions request: %w", err)
	}
	if response.StatusCode() != http.StatusOK {
		return domain.ChatCompletion{}, fmt.Errorf("chat completions returned %d: %s", response.StatusCode(), response.String())
	}

	var raw domain.RawCompletion
	if err := json.Unmarshal(response.Body(), &raw); err != nil {
		return domain.ChatCompletion{}, fmt.Errorf("decode chat completions response: %w", err)
	}
	if len(raw.Choices) == 0 {
		return domain.ChatCompletion{}, fmt.Errorf("chat completions returned no choices")
	}

	return domain.ChatCompletion{
		Raw: raw,
		Message: domain.ChatMessage{
			Role:    domain.MessageRole(raw.Choices[0].Message.Role),
			Content: raw.Choices[0].Message.Content,
		},
	}, nil
}
