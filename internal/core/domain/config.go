package domain

// ProviderConfig holds configuration for all AI providers
type ProviderConfig struct {
	LLM       LLMProviderConfig       `json:"llm"`
	Embedding EmbeddingProviderConfig `json:"embedding"`
}

// LLMProviderConfig configures the chat-completion provider
type LLMProviderConfig struct {
	Mode         string `json:"mode"`          // "local" or "remote"
	LocalURL     string `json:"local_url"`     // "http://localhost:11434/v1"
	RemoteURL    string `json:"remote_url"`    // "https://api.openai.com/v1"
	APIKey       string `json:"api_key"`       // Encrypted in storage
	DefaultModel string `json:"default_model"` // "gemma3:12b" or "gpt-4o-mini"
}

// EmbeddingProviderConfig configures the embedding provider
type EmbeddingProviderConfig struct {
	Mode         string `json:"mode"`          // "local" or "remote"
	LocalURL     string `json:"local_url"`     // "http://localhost:11434/v1"
	RemoteURL    string `json:"remote_url"`    // "https://api.openai.com/v1"
	APIKey       string `json:"api_key"`       // Encrypted in storage
	DefaultModel string `json:"default_model"` // "nomic-embed-text" or "text-embedding-3-small"
}

// AgentConfig tunes the reasoning loop.
type AgentConfig struct {
	MaxIterations int `json:"max_iterations"` // backend calls per chat turn
	HistoryWindow int `json:"history_window"` // messages loaded into the prompt
	TopK          int `json:"top_k"`          // chunks retrieved per archive query
}

// IngestConfig tunes the archive ingestion pipeline.
type IngestConfig struct {
	ChunkSize           int `json:"chunk_size"`            // words per chunk
	ChunkOverlapPercent int `json:"chunk_overlap_percent"` // overlap between neighbors
	Workers             int `json:"workers"`               // concurrent embedding workers
	TokensPerMinute     int `json:"tokens_per_minute"`     // embedding token budget
}

// AppConfig is the main application configuration
type AppConfig struct {
	Providers ProviderConfig `json:"providers"`
	Agent     AgentConfig    `json:"agent"`
	Ingest    IngestConfig   `json:"ingest"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Providers: ProviderConfig{
			LLM: LLMProviderConfig{
				Mode:         "local",
				LocalURL:     "http://localhost:11434/v1",
				DefaultModel: "gemma3:12b",
			},
			Embedding: EmbeddingProviderConfig{
				Mode:         "local",
				LocalURL:     "http://localhost:11434/v1",
				DefaultModel: "nomic-embed-text",
			},
		},
		Agent: AgentConfig{
			MaxIterations: 10,
			HistoryWindow: 20,
			TopK:          5,
		},
		Ingest: IngestConfig{
			ChunkSize:           512,
			ChunkOverlapPercent: 10,
			Workers:             4,
			TokensPerMinute:     900_000,
		},
	}
}
