package chat

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakePersister struct {
	mu         sync.Mutex
	saves      []Chat
	reconciled map[string]string
	deleted    []string
}

func newFakePersister() *fakePersister {
	return &fakePersister{reconciled: make(map[string]string)}
}

func (f *fakePersister) SaveChat(_ context.Context, chat Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, chat)
	return nil
}

func (f *fakePersister) SetMessageContent(_ context.Context, chatID, messageID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled[messageID] = content
	return nil
}

func (f *fakePersister) DeleteChat(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, chatID)
	return nil
}

func TestTerminalStateIsReconciled(t *testing.T) {
	p := newFakePersister()
	s := newTestStore(t, sseHandler("Hello"), func(cfg *Config) {
		cfg.Persister = p
		cfg.SaveDebounce = 10 * time.Millisecond
	})

	if err := s.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs := currentMessages(t, s)

	p.mu.Lock()
	got := p.reconciled[msgs[1].ID]
	p.mu.Unlock()
	if got != "Hello" {
		t.Fatalf("expected reconciliation write with final content, got %q", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		p.mu.Lock()
		n := len(p.saves)
		p.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("debounced snapshot save never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDebounceBatchesSaves(t *testing.T) {
	var mu sync.Mutex
	var calls int
	sv := newSaver(30*time.Millisecond, func(Chat) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	defer sv.close()

	for i := 0; i < 10; i++ {
		sv.schedule(Chat{ID: "c1"})
	}
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected one batched save, got %d", calls)
	}
}

func TestSaverCloseFlushesPending(t *testing.T) {
	var mu sync.Mutex
	var calls int
	sv := newSaver(time.Hour, func(Chat) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	sv.schedule(Chat{ID: "c1"})
	sv.close()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("close must flush the pending save, got %d calls", calls)
	}
}

func TestDeleteChatPropagates(t *testing.T) {
	p := newFakePersister()
	s := newTestStore(t, sseHandler("x"), func(cfg *Config) {
		cfg.Persister = p
	})

	now := time.Now().UTC()
	s.Hydrate([]Chat{{ID: "c1", Title: "a", CreatedAt: now, UpdatedAt: now}})
	s.SelectChat("c1")
	s.DeleteChat("c1")

	if len(s.Chats()) != 0 {
		t.Fatalf("chat still listed after delete")
	}
	if _, ok := s.CurrentChat(); ok {
		t.Fatalf("deleted chat still selected")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.deleted) != 1 || p.deleted[0] != "c1" {
		t.Fatalf("delete not propagated: %v", p.deleted)
	}
}

func TestSearchChats(t *testing.T) {
	s := newTestStore(t, sseHandler("x"), nil)
	now := time.Now().UTC()
	s.Hydrate([]Chat{
		{ID: "c1", Title: "travel plans", CreatedAt: now, UpdatedAt: now},
		{ID: "c2", Title: "other", Messages: []Message{{ID: "m", Role: RoleUser, Content: "Weather in Oslo"}}},
	})

	if got := s.SearchChats("travel"); len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("title search failed: %+v", got)
	}
	if got := s.SearchChats("oslo"); len(got) != 1 || got[0].ID != "c2" {
		t.Fatalf("content search failed: %+v", got)
	}
	if got := s.SearchChats(""); len(got) != 2 {
		t.Fatalf("empty query must return everything, got %d", len(got))
	}
}

func TestClearCurrentChatHistory(t *testing.T) {
	s := newTestStore(t, sseHandler("x"), nil)
	now := time.Now().UTC()
	s.Hydrate([]Chat{{
		ID:       "c1",
		Messages: []Message{{ID: "m1", Role: RoleUser, Content: "hi"}},
		CreatedAt: now, UpdatedAt: now,
	}})
	s.SelectChat("c1")
	s.ClearCurrentChatHistory()

	if msgs := currentMessages(t, s); len(msgs) != 0 {
		t.Fatalf("expected cleared history, got %d messages", len(msgs))
	}
}
