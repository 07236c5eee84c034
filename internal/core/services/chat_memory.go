package services

import (
	"context"
	"time"

	"github.com/manthysbr/olorin/internal/core/domain"
)

// ChatMemory is a conversation-scoped view over the ConversationStore. It is
// the buffer the reasoning loop reads at the start of a turn and writes the
// user/assistant pair into.
type ChatMemory struct {
	store  *ConversationStore
	convID domain.ConversationID
}

// ConversationID returns the bound conversation.
func (m *ChatMemory) ConversationID() domain.ConversationID {
	return m.convID
}

// Get returns the most recent messages, oldest first. limit<=0 returns all.
func (m *ChatMemory) Get(ctx context.Context, limit int) ([]domain.Message, error) {
	if limit < 0 {
		limit = 0
	}
	return m.store.GetMessages(ctx, m.convID, limit)
}

// Put appends one message and returns the stored record.
func (m *ChatMemory) Put(ctx context.Context, role domain.MessageRole, content string) (domain.Message, error) {
	msg := domain.Message{
		ID:             domain.NewMessageID(),
		ConversationID: m.convID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if err := m.store.AddMessage(ctx, msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// Set replaces the whole buffer with the provided history. The caller's
// history wins over anything previously stored for the conversation.
func (m *ChatMemory) Set(ctx context.Context, history []domain.ChatMessage) error {
	now := time.Now()
	msgs := make([]domain.Message, 0, len(history))
	for i, h := range history {
		msgs = append(msgs, domain.Message{
			ID:             domain.NewMessageID(),
			ConversationID: m.convID,
			Role:           h.Role,
			Content:        h.Content,
			// Stagger timestamps so time-ordered reads preserve input order.
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		})
	}
	return m.store.ReplaceMessages(ctx, m.convID, msgs)
}
