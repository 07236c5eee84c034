package providers

import (
	"fmt"
	"os"
	"strings"

	"github.com/manthysbr/olorin/internal/adapters/llm"
	"github.com/manthysbr/olorin/internal/core/domain"
	"github.com/manthysbr/olorin/internal/core/ports"
)

// Build creates chat and embedding backends from app configuration.
// It hides local/remote provider selection from callers.
func Build(config *domain.AppConfig) (ports.ChatBackend, ports.EmbeddingBackend, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}

	chat, err := buildChatBackend(config)
	if err != nil {
		return nil, nil, err
	}

	embedder, err := buildEmbeddingBackend(config)
	if err != nil {
		return nil, nil, err
	}

	return chat, embedder, nil
}

func buildChatBackend(config *domain.AppConfig) (ports.ChatBackend, error) {
	cfg := config.Providers.LLM
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case "", "local":
		baseURL := strings.TrimSpace(os.Getenv("OLLAMA_HOST"))
		if baseURL == "" {
			baseURL = strings.TrimSpace(cfg.LocalURL)
		}
		baseURL = normalizeOllamaBaseURL(baseURL)
		return llm.NewOllamaClient(baseURL, strings.TrimSpace(cfg.DefaultModel)), nil
	case "remote":
		if strings.TrimSpace(cfg.RemoteURL) == "" {
			return nil, fmt.Errorf("llm remote_url is required when mode=remote")
		}
		return llm.NewOpenAIClient(
			strings.TrimSpace(cfg.RemoteURL),
			strings.TrimSpace(cfg.APIKey),
			strings.TrimSpace(cfg.DefaultModel),
		), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider mode: %s", cfg.Mode)
	}
}

func buildEmbeddingBackend(config *domain.AppConfig) (ports.EmbeddingBackend, error) {
	cfg := config.Providers.Embedding
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case "", "local":
		baseURL := strings.TrimSpace(os.Getenv("OLLAMA_HOST"))
		if baseURL == "" {
			baseURL = strings.TrimSpace(cfg.LocalURL)
		}
		baseURL = normalizeOllamaBaseURL(baseURL)
		return llm.NewOllamaEmbedder(baseURL, strings.TrimSpace(cfg.DefaultModel)), nil
	case "remote":
		if strings.TrimSpace(cfg.RemoteURL) == "" {
			return nil, fmt.Errorf("embedding remote_url is required when mode=remote")
		}
		return llm.NewOpenAIEmbedder(
			strings.TrimSpace(cfg.RemoteURL),
			strings.TrimSpace(cfg.APIKey),
			strings.TrimSpace(cfg.DefaultModel),
		), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider mode: %s", cfg.Mode)
	}
}

// Ollama's OpenAI-compatible endpoint lives under /v1, but the native API
// does not. Configs often carry the /v1 form, so strip it here.
func normalizeOllamaBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return strings.TrimSuffix(trimmed, "/v1")
	}
	return trimmed
}
