package chat

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const titleLimit = 50

// Persister is the persistence boundary. The store never touches storage
// directly; it hands over chat snapshots (debounced) and the final message
// content of every terminal generation state.
type Persister interface {
	SaveChat(ctx context.Context, chat Chat) error
	SetMessageContent(ctx context.Context, chatID, messageID, content string) error
	DeleteChat(ctx context.Context, chatID string) error
}

// DeltaFunc receives the accumulated in-flight content after each delta.
type DeltaFunc func(chatID, messageID, content string)

type streamingState struct {
	chatID    string
	messageID string
	content   string
	cancel    context.CancelFunc
}

type Config struct {
	RelayURL         string
	HTTPClient       *http.Client
	Model            string
	SystemPrompt     string
	WebSearchEnabled bool
	Persister        Persister
	OnDelta          DeltaFunc
	SaveDebounce     time.Duration
	Logger           zerolog.Logger
}

// Store is the client-side chat state machine: it owns the chat list, the
// staged attachments and the single in-flight generation, and reconciles
// every terminal state into history.
type Store struct {
	mu sync.Mutex

	relayURL   string
	httpClient *http.Client
	logger     zerolog.Logger
	persister  Persister
	saver      *saver
	onDelta    DeltaFunc

	chats         []*Chat
	currentChatID string
	attachments   []Attachment

	model        string
	systemPrompt string
	webSearch    bool

	status    Status
	streaming *streamingState
}

func NewStore(cfg Config) *Store {
	if cfg.HTTPClient == nil {
		// No client timeout: stream lifetime is bounded by the relay and by
		// explicit cancellation.
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.SaveDebounce <= 0 {
		cfg.SaveDebounce = 600 * time.Millisecond
	}
	s := &Store{
		relayURL:     cfg.RelayURL,
		httpClient:   cfg.HTTPClient,
		logger:       cfg.Logger,
		persister:    cfg.Persister,
		onDelta:      cfg.OnDelta,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		webSearch:    cfg.WebSearchEnabled,
		status:       StatusIdle,
	}
	if cfg.Persister != nil {
		s.saver = newSaver(cfg.SaveDebounce, func(chat Chat) {
			if err := cfg.Persister.SaveChat(context.Background(), chat); err != nil {
				s.logger.Error().Err(err).Str("chat_id", chat.ID).Msg("failed to persist chat")
			}
		})
	}
	return s
}

// Hydrate seeds the in-memory chat list, newest first. Called once at
// startup before any generation.
func (s *Store) Hydrate(chats []Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = s.chats[:0]
	for i := range chats {
		c := chats[i]
		s.chats = append(s.chats, &c)
	}
}

// Close flushes pending snapshot saves.
func (s *Store) Close() {
	s.StopGeneration()
	if s.saver != nil {
		s.saver.close()
	}
}

func (s *Store) SetModel(model string) { s.mu.Lock(); s.model = model; s.mu.Unlock() }

func (s *Store) SetSystemPrompt(prompt string) { s.mu.Lock(); s.systemPrompt = prompt; s.mu.Unlock() }

func (s *Store) SetWebSearchEnabled(on bool) { s.mu.Lock(); s.webSearch = on; s.mu.Unlock() }

func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// StreamingContent returns the in-flight message identity and its content
// accumulated so far.
func (s *Store) StreamingContent() (chatID, messageID, content string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming == nil {
		return "", "", "", false
	}
	return s.streaming.chatID, s.streaming.messageID, s.streaming.content, true
}

// Chats returns a snapshot of all chats, newest first.
func (s *Store) Chats() []Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, cloneChat(c))
	}
	return out
}

func (s *Store) CurrentChat() (Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.findChatLocked(s.currentChatID)
	if c == nil {
		return Chat{}, false
	}
	return cloneChat(c), true
}

// NewChat cancels any in-flight generation and resets selection so the next
// send starts a fresh chat.
func (s *Store) NewChat() {
	s.mu.Lock()
	cancel := s.cancelStreamingLocked()
	s.currentChatID = ""
	s.attachments = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Store) SelectChat(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findChatLocked(chatID) != nil {
		s.currentChatID = chatID
		s.attachments = nil
	}
}

func (s *Store) DeleteChat(chatID string) {
	s.mu.Lock()
	for i, c := range s.chats {
		if c.ID == chatID {
			s.chats = append(s.chats[:i], s.chats[i+1:]...)
			break
		}
	}
	if s.currentChatID == chatID {
		s.currentChatID = ""
	}
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.DeleteChat(context.Background(), chatID); err != nil {
			s.logger.Error().Err(err).Str("chat_id", chatID).Msg("failed to delete chat")
		}
	}
}

func (s *Store) RenameChat(chatID, title string) {
	s.mu.Lock()
	c := s.findChatLocked(chatID)
	if c == nil {
		s.mu.Unlock()
		return
	}
	c.Title = title
	c.UpdatedAt = time.Now().UTC()
	snapshot := cloneChat(c)
	s.mu.Unlock()
	s.scheduleSave(snapshot)
}

func (s *Store) ClearCurrentChatHistory() {
	s.mu.Lock()
	c := s.findChatLocked(s.currentChatID)
	if c == nil {
		s.mu.Unlock()
		return
	}
	c.Messages = nil
	c.UpdatedAt = time.Now().UTC()
	snapshot := cloneChat(c)
	s.mu.Unlock()
	s.scheduleSave(snapshot)
}

// SearchChats matches the query against titles and message contents.
func (s *Store) SearchChats(query string) []Chat {
	query = strings.ToLower(strings.TrimSpace(query))
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chat, 0, len(s.chats))
	for _, c := range s.chats {
		if query == "" || chatMatches(c, query) {
			out = append(out, cloneChat(c))
		}
	}
	return out
}

func chatMatches(c *Chat, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(c.Title), lowerQuery) {
		return true
	}
	for _, m := range c.Messages {
		if strings.Contains(strings.ToLower(m.Content), lowerQuery) {
			return true
		}
	}
	return false
}

func (s *Store) AddAttachment(att Attachment) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	att.ID = uuid.NewString()
	s.attachments = append(s.attachments, att)
	return att.ID
}

func (s *Store) RemoveAttachment(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.attachments {
		if a.ID == id {
			s.attachments = append(s.attachments[:i], s.attachments[i+1:]...)
			return
		}
	}
}

func (s *Store) ClearAttachments() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments = nil
}

func (s *Store) findChatLocked(chatID string) *Chat {
	if chatID == "" {
		return nil
	}
	for _, c := range s.chats {
		if c.ID == chatID {
			return c
		}
	}
	return nil
}

func (s *Store) cancelStreamingLocked() context.CancelFunc {
	if s.streaming == nil {
		return nil
	}
	return s.streaming.cancel
}

func (s *Store) scheduleSave(chat Chat) {
	if s.saver != nil {
		s.saver.schedule(chat)
	}
}

func cloneChat(c *Chat) Chat {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

func chatTitle(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "New Chat"
	}
	runes := []rune(text)
	if len(runes) > titleLimit {
		return string(runes[:titleLimit])
	}
	return text
}
