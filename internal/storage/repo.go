package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var ErrNotFound = errors.New("not found")

// SaveChat upserts the chat row and replaces its message set with the given
// snapshot. The chat store persists whole-chat snapshots, so replace keeps
// history and storage trivially consistent.
func (s *Store) SaveChat(ctx context.Context, chat Chat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save chat: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := s.sql.Insert("chats").
		Columns("id", "title", "created_at", "updated_at").
		Values(chat.ID, chat.Title, chat.CreatedAt.UTC(), chat.UpdatedAt.UTC()).
		Suffix("ON CONFLICT(id) DO UPDATE SET title=excluded.title, updated_at=excluded.updated_at")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build chat upsert query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}

	sqlStr, args, err = s.sql.Delete("messages").Where(sq.Eq{"chat_id": chat.ID}).ToSql()
	if err != nil {
		return fmt.Errorf("build message delete query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	if len(chat.Messages) > 0 {
		ins := s.sql.Insert("messages").Columns("id", "chat_id", "seq", "role", "content", "created_at")
		for i, m := range chat.Messages {
			ins = ins.Values(m.ID, chat.ID, i, m.Role, m.Content, m.CreatedAt.UTC())
		}
		sqlStr, args, err = ins.ToSql()
		if err != nil {
			return fmt.Errorf("build message insert query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("insert messages: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save chat: %w", err)
	}
	return nil
}

// SetMessageContent writes the final accumulated content of a message once a
// generation reaches a terminal state.
func (s *Store) SetMessageContent(ctx context.Context, chatID, messageID, content string) error {
	q := s.sql.Update("messages").
		Set("content", content).
		Where(sq.Eq{"chat_id": chatID, "id": messageID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build message update query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("set message content: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	sqlStr, args, err = s.sql.Update("chats").
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": chatID}).ToSql()
	if err != nil {
		return fmt.Errorf("build chat touch query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return nil
}

// ListChats returns chat rows without messages, most recently updated first.
func (s *Store) ListChats(ctx context.Context) ([]Chat, error) {
	q := s.sql.Select("id", "title", "created_at", "updated_at").
		From("chats").
		OrderBy("updated_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list chats query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return chats, nil
}

func (s *Store) GetChat(ctx context.Context, chatID string) (Chat, error) {
	q := s.sql.Select("id", "title", "created_at", "updated_at").
		From("chats").
		Where(sq.Eq{"id": chatID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Chat{}, fmt.Errorf("build get chat query: %w", err)
	}

	var c Chat
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chat{}, ErrNotFound
		}
		return Chat{}, fmt.Errorf("get chat: %w", err)
	}

	sqlStr, args, err = s.sql.Select("id", "chat_id", "seq", "role", "content", "created_at").
		From("messages").
		Where(sq.Eq{"chat_id": chatID}).
		OrderBy("seq ASC").ToSql()
	if err != nil {
		return Chat{}, fmt.Errorf("build get messages query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return Chat{}, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Seq, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return Chat{}, fmt.Errorf("scan message: %w", err)
		}
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return Chat{}, fmt.Errorf("iterate messages: %w", err)
	}
	return c, nil
}

func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	for _, table := range []string{"messages", "chats"} {
		col := "chat_id"
		if table == "chats" {
			col = "id"
		}
		sqlStr, args, err := s.sql.Delete(table).Where(sq.Eq{col: chatID}).ToSql()
		if err != nil {
			return fmt.Errorf("build delete query: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
	}
	return nil
}

func (s *Store) RenameChat(ctx context.Context, chatID, title string) error {
	q := s.sql.Update("chats").
		Set("title", title).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": chatID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build rename query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("rename chat: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ClearChat(ctx context.Context, chatID string) error {
	sqlStr, args, err := s.sql.Delete("messages").Where(sq.Eq{"chat_id": chatID}).ToSql()
	if err != nil {
		return fmt.Errorf("build clear query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("clear chat: %w", err)
	}
	sqlStr, args, err = s.sql.Update("chats").
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": chatID}).ToSql()
	if err != nil {
		return fmt.Errorf("build clear touch query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("touch cleared chat: %w", err)
	}
	return nil
}

// SearchChats matches the query against chat titles and message contents.
func (s *Store) SearchChats(ctx context.Context, query string) ([]Chat, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.ListChats(ctx)
	}
	pattern := "%" + strings.ToLower(query) + "%"

	q := s.sql.Select("DISTINCT c.id", "c.title", "c.created_at", "c.updated_at").
		From("chats c").
		LeftJoin("messages m ON m.chat_id = c.id").
		Where(sq.Or{
			sq.Like{"LOWER(c.title)": pattern},
			sq.Like{"LOWER(m.content)": pattern},
		}).
		OrderBy("c.updated_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("search chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}
	return chats, nil
}
