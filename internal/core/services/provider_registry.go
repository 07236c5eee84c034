package services

import (
	"context"
	"sync"

	"github.com/manthysbr/olorin/internal/core/domain"
	"github.com/manthysbr/olorin/internal/core/ports"
)

// ProviderRegistry holds the active chat and embedding backends and swaps
// them atomically when settings change. It implements the backend ports
// itself, so long-lived services never see the swap.
type ProviderRegistry struct {
	mu       sync.RWMutex
	config   *domain.AppConfig
	chat     ports.ChatBackend
	embedder ports.EmbeddingBackend
}

// NewProviderRegistry creates a registry with the initial backends.
func NewProviderRegistry(config *domain.AppConfig, chat ports.ChatBackend, embedder ports.EmbeddingBackend) *ProviderRegistry {
	if config == nil {
		config = domain.DefaultConfig()
	}
	return &ProviderRegistry{
		config:   config,
		chat:     chat,
		embedder: embedder,
	}
}

// Chat forwards to the currently active chat backend.
func (r *ProviderRegistry) Chat(ctx context.Context, messages []domain.ChatMessage) (domain.ChatCompletion, error) {
	r.mu.RLock()
	backend := r.chat
	r.mu.RUnlock()
	return backend.Chat(ctx, messages)
}

// Model reports the active chat backend's model identifier.
func (r *ProviderRegistry) Model() string {
	r.mu.RLock()
	backend := r.chat
	r.mu.RUnlock()
	return backend.Model()
}

// Embed forwards to the currently active embedding backend.
func (r *ProviderRegistry) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	r.mu.RLock()
	embedder := r.embedder
	r.mu.RUnlock()
	return embedder.Embed(ctx, texts)
}

// UpdateProviders swaps both backends in one step.
func (r *ProviderRegistry) UpdateProviders(chat ports.ChatBackend, embedder ports.EmbeddingBackend) {
	r.mu.Lock()
	r.chat = chat
	r.embedder = embedder
	r.mu.Unlock()
}

// UpdateConfig records the configuration the backends were built from.
func (r *ProviderRegistry) UpdateConfig(config *domain.AppConfig) {
	r.mu.Lock()
	r.config = config
	r.mu.Unlock()
}

// GetConfig returns the current configuration.
func (r *ProviderRegistry) GetConfig() *domain.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}
