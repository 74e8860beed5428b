package chat

import (
	"sync"
	"time"
)

// saver batches chat snapshot writes behind a debounce window so a burst of
// state changes produces one persistence call per chat, decoupled from the
// state transitions themselves.
type saver struct {
	mu      sync.Mutex
	delay   time.Duration
	persist func(Chat)
	timer   *time.Timer
	pending map[string]Chat
	closed  bool
}

func newSaver(delay time.Duration, persist func(Chat)) *saver {
	return &saver{
		delay:   delay,
		persist: persist,
		pending: make(map[string]Chat),
	}
}

func (s *saver) schedule(chat Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending[chat.ID] = chat
	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, s.flush)
	} else {
		s.timer.Reset(s.delay)
	}
}

func (s *saver) flush() {
	s.mu.Lock()
	batch := s.pending
	s.pending = make(map[string]Chat)
	s.timer = nil
	s.mu.Unlock()

	for _, chat := range batch {
		s.persist(chat)
	}
}

// close flushes whatever is pending and rejects further schedules.
func (s *saver) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.flush()
}
