package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/sse"
	"chatrelay/internal/upstream"
)

const readBufSize = 8 * 1024

// SendMessage appends the user message optimistically, creates the in-flight
// assistant placeholder and streams the relay response into it. At most one
// generation is active; a prior one is cancelled first. Blank text with no
// staged attachments is a no-op.
func (s *Store) SendMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	if strings.TrimSpace(text) == "" && len(s.attachments) == 0 {
		s.mu.Unlock()
		return nil
	}
	prior := s.cancelStreamingLocked()

	now := time.Now().UTC()
	userMsg := Message{ID: uuid.NewString(), Role: RoleUser, Content: text, CreatedAt: now}

	chat := s.findChatLocked(s.currentChatID)
	if chat == nil {
		chat = &Chat{
			ID:        uuid.NewString(),
			Title:     chatTitle(text),
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.chats = append([]*Chat{chat}, s.chats...)
		s.currentChatID = chat.ID
	}
	chat.Messages = append(chat.Messages, userMsg)
	chat.UpdatedAt = now

	assistantMsg := Message{ID: uuid.NewString(), Role: RoleAssistant, CreatedAt: now}
	chat.Messages = append(chat.Messages, assistantMsg)

	genCtx, cancel := context.WithCancel(ctx)
	st := &streamingState{chatID: chat.ID, messageID: assistantMsg.ID, cancel: cancel}
	s.streaming = st
	s.status = StatusSending

	envelope := upstream.Request{
		Messages:         buildEnvelopeMessages(chat.Messages, assistantMsg.ID, userMsg.ID, s.attachments),
		Model:            s.model,
		SystemPrompt:     s.systemPrompt,
		WebSearchEnabled: s.webSearch,
	}
	snapshot := cloneChat(chat)
	s.mu.Unlock()

	if prior != nil {
		prior()
	}
	s.scheduleSave(snapshot)
	return s.run(genCtx, st, envelope)
}

// StopGeneration cancels the active generation, if any. Idempotent.
func (s *Store) StopGeneration() {
	s.mu.Lock()
	cancel := s.cancelStreamingLocked()
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RegenerateLastMessage truncates the current chat back to just before its
// most recent user message and re-sends that text. No-op without a current
// chat or with fewer than two messages.
func (s *Store) RegenerateLastMessage(ctx context.Context) error {
	s.mu.Lock()
	chat := s.findChatLocked(s.currentChatID)
	if chat == nil || len(chat.Messages) < 2 {
		s.mu.Unlock()
		return nil
	}
	idx := -1
	for i := len(chat.Messages) - 1; i >= 0; i-- {
		if chat.Messages[i].Role == RoleUser {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return nil
	}
	text := chat.Messages[idx].Content
	chat.Messages = chat.Messages[:idx]
	s.mu.Unlock()

	return s.SendMessage(ctx, text)
}

func (s *Store) run(ctx context.Context, st *streamingState, envelope upstream.Request) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return s.finish(st, fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.relayURL, bytes.NewReader(body))
	if err != nil {
		return s.finish(st, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return s.finish(st, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return s.finish(st, fmt.Errorf("API error: %d", resp.StatusCode))
	}

	parser := sse.NewParser()
	buf := make([]byte, readBufSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, delta := range parser.Feed(buf[:n]) {
				s.applyDelta(st, delta)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return s.finish(st, nil)
			}
			return s.finish(st, err)
		}
	}
}

func (s *Store) applyDelta(st *streamingState, delta string) {
	s.mu.Lock()
	st.content += delta
	if s.streaming == st && s.status == StatusSending {
		// First byte of content: out of the waiting state.
		s.status = StatusStreaming
	}
	content := st.content
	cb := s.onDelta
	s.mu.Unlock()

	if cb != nil {
		cb(st.chatID, st.messageID, content)
	}
}

// finish reconciles the terminal state of one generation. Cancellation is a
// successful outcome that keeps whatever was accumulated; only genuine
// transport or HTTP failures mark the message as a retryable error.
func (s *Store) finish(st *streamingState, cause error) error {
	var final string
	var status Status
	switch {
	case cause == nil:
		status = StatusCommitted
	case isCancellation(cause):
		status = StatusStoppedByUser
	default:
		status = StatusFailed
	}

	s.mu.Lock()
	switch status {
	case StatusCommitted:
		final = st.content
	case StatusStoppedByUser:
		final = st.content
		if final == "" {
			final = StoppedPlaceholder
		}
	case StatusFailed:
		final = ErrorPrefix + cause.Error()
	}

	var snapshot Chat
	var saved bool
	if chat := s.findChatLocked(st.chatID); chat != nil {
		for i := range chat.Messages {
			if chat.Messages[i].ID == st.messageID {
				chat.Messages[i].Content = final
				chat.UpdatedAt = time.Now().UTC()
				snapshot = cloneChat(chat)
				saved = true
				break
			}
		}
	}
	if s.streaming == st {
		s.streaming = nil
		s.status = status
		if status == StatusCommitted {
			s.attachments = nil
		}
	}
	s.mu.Unlock()

	if saved {
		s.scheduleSave(snapshot)
		if s.persister != nil {
			// Write-through so the final content survives even if the
			// debounced snapshot never fires (e.g. shutdown right after).
			if err := s.persister.SetMessageContent(context.Background(), st.chatID, st.messageID, final); err != nil {
				s.logger.Debug().Err(err).Str("message_id", st.messageID).Msg("reconciliation write skipped")
			}
		}
	}

	if status == StatusFailed {
		s.logger.Error().Err(cause).Str("chat_id", st.chatID).Msg("generation failed")
		return cause
	}
	return nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
