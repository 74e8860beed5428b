package storage

import (
	"context"

	"chatrelay/internal/chat"
)

// ChatPersister adapts Store to the chat package's persistence boundary.
type ChatPersister struct {
	store *Store
}

func NewChatPersister(s *Store) *ChatPersister {
	return &ChatPersister{store: s}
}

func (p *ChatPersister) SaveChat(ctx context.Context, c chat.Chat) error {
	rec := Chat{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Messages:  make([]Message, 0, len(c.Messages)),
	}
	for i, m := range c.Messages {
		rec.Messages = append(rec.Messages, Message{
			ID:        m.ID,
			ChatID:    c.ID,
			Seq:       i,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	return p.store.SaveChat(ctx, rec)
}

func (p *ChatPersister) SetMessageContent(ctx context.Context, chatID, messageID, content string) error {
	return p.store.SetMessageContent(ctx, chatID, messageID, content)
}

func (p *ChatPersister) DeleteChat(ctx context.Context, chatID string) error {
	return p.store.DeleteChat(ctx, chatID)
}

// LoadChats reads full chat histories for hydrating the in-memory store.
func (p *ChatPersister) LoadChats(ctx context.Context) ([]chat.Chat, error) {
	rows, err := p.store.ListChats(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]chat.Chat, 0, len(rows))
	for _, row := range rows {
		full, err := p.store.GetChat(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		c := chat.Chat{
			ID:        full.ID,
			Title:     full.Title,
			CreatedAt: full.CreatedAt,
			UpdatedAt: full.UpdatedAt,
			Messages:  make([]chat.Message, 0, len(full.Messages)),
		}
		for _, m := range full.Messages {
			c.Messages = append(c.Messages, chat.Message{
				ID:        m.ID,
				Role:      m.Role,
				Content:   m.Content,
				CreatedAt: m.CreatedAt,
			})
		}
		out = append(out, c)
	}
	return out, nil
}
