package ports

import (
	"context"

	"github.com/manthysbr/olorin/internal/core/domain"
)

// ChatBackend abstracts the stateless chat-completion provider. One call,
// one completion; all conversation state lives on our side of the wire.
type ChatBackend interface {
	Chat(ctx context.Context, messages []domain.ChatMessage) (domain.ChatCompletion, error)

	// Model returns the model identifier requests are issued against.
	Model() string
}

// EmbeddingBackend abstracts the embedding provider.
type EmbeddingBackend interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Repository abstracts the persistent storage (DuckDB)
type Repository interface {
	// Conversations
	CreateConversation(ctx context.Context, conv domain.Conversation) error
	GetConversation(ctx context.Context, id domain.ConversationID) (domain.Conversation, error)
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id domain.ConversationID, title string) error
	DeleteConversation(ctx context.Context, id domain.ConversationID) error

	// Messages
	AddMessage(ctx context.Context, msg domain.Message) error
	ListMessages(ctx context.Context, convID domain.ConversationID, limit int) ([]domain.Message, error)
	// ReplaceMessages atomically swaps a conversation's full message set.
	ReplaceMessages(ctx context.Context, convID domain.ConversationID, msgs []domain.Message) error

	// Traces
	SaveTrace(ctx context.Context, trace domain.Trace, spans []domain.Span) error
	ListTraces(ctx context.Context, limit int) ([]domain.TraceSummary, error)
	GetTrace(ctx context.Context, id domain.TraceID) (domain.Trace, error)

	// Documents and chunks
	SaveDocument(ctx context.Context, doc domain.Document) error
	ListDocuments(ctx context.Context) ([]domain.Document, error)
	DeleteDocument(ctx context.Context, id domain.DocumentID) error
	SaveChunks(ctx context.Context, chunks []domain.Chunk) error
	ListChunks(ctx context.Context) ([]domain.Chunk, error)

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key string, value string) error

	Close() error
}
