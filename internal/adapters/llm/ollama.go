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

// OllamaClient talks to a local Ollama instance over its native chat API.
type OllamaClient struct {
	baseURL string
	model   string
	client  *resty.Client
}

// NewOllamaClient creates a chat client for a local Ollama instance.
func NewOllamaClient(baseURL, model string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "gemma3:12b"
	}

	client := resty.New()
	client.SetTimeout(120 * time.Second)

	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		client:  client,
	}
}

// Model returns the model identifier requests are issued against.
func (c *OllamaClient) Model() string {
	return c.model
}

type ollamaChatRequest struct {
	Model    string               `json:"model"`
	Messages []domain.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
}

type ollamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

// Chat issues one chat completion against the native /api/chat endpoint.
// The native payload is mapped into the canonical single-choice shape.
func (c *OllamaClient) Chat(ctx context.Context, messages []domain.ChatMessage) (domain.ChatCompletion, error) {
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(ollamaChatRequest{Model: c.model, Messages: messages, Stream: false}).
		Post(c.baseURL + "/api/chat")
	if err != nil {
		return domain.ChatCompletion{}, fmt.Errorf("ollama connection failed: %w", err)
	}
	if response.StatusCode() != http.StatusOK {
		return domain.ChatCompletion{}, fmt.Errorf("ollama returned status %d: %s", response.StatusCode(), response.String())
	}

	var res ollamaChatResponse
	if err := json.Unmarshal(response.Body(), &res); err != nil {
		return domain.ChatCompletion{}, fmt.Errorf("decode ollama response: %w", err)
	}

	raw := domain.RawCompletion{
		Model: res.Model,
		Choices: []domain.RawChoice{{
			Index:        0,
			Message:      domain.RawMessage{Role: res.Message.Role, Content: res.Message.Content},
			FinishReason: "stop",
		}},
		Usage: domain.TokenUsage{
			PromptTokens:     res.PromptEvalCount,
			CompletionTokens: res.EvalCount,
			TotalTokens:      res.PromptEvalCount + res.EvalCount,
		},
	}

	return domain.ChatCompletion{
		Raw: raw,
		Message: domain.ChatMessage{
			Role:    domain.MessageRole(res.Message.Role),
			Content: res.Message.Content,
		},
	}, nil
}
