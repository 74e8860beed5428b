package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chatrelay/internal/chat"
	"chatrelay/internal/config"
	"chatrelay/internal/storage"
)

// chatcli is a line-oriented client for a running chatrelay instance. It
// drives the same stream-consumer state machine a UI would, with chat
// history persisted through the storage layer when DB_DRIVER is set.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	relayURL := os.Getenv("RELAY_URL")
	if relayURL == "" {
		relayURL = "http://localhost:8080/chat"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var persister *storage.ChatPersister
	if cfg.DB.Driver != "" {
		store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, "migrations")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open storage")
		}
		defer store.Close()
		persister = storage.NewChatPersister(store)
	}

	var printed int
	storeCfg := chat.Config{
		RelayURL: relayURL,
		Model:    cfg.Upstream.DefaultModel,
		OnDelta: func(_, _, content string) {
			fmt.Print(content[printed:])
			printed = len(content)
		},
		Logger: log.Logger,
	}
	if persister != nil {
		storeCfg.Persister = persister
	}
	s := chat.NewStore(storeCfg)
	defer s.Close()

	if persister != nil {
		chats, err := persister.LoadChats(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load chat history")
		}
		s.Hydrate(chats)
		if len(chats) > 0 {
			s.SelectChat(chats[0].ID)
			fmt.Printf("resumed %q (%d messages)\n", chats[0].Title, len(chats[0].Messages))
		}
	}

	fmt.Println("chatrelay cli — /new /regen /chats /quit")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "/quit":
			return
		case line == "/new":
			s.NewChat()
			fmt.Println("started a new chat")
			continue
		case line == "/chats":
			for _, c := range s.Chats() {
				marker := " "
				if cur, ok := s.CurrentChat(); ok && cur.ID == c.ID {
					marker = "*"
				}
				fmt.Printf("%s %s  %s (%d messages, %s)\n", marker, c.ID, c.Title, len(c.Messages), c.UpdatedAt.Format(time.RFC3339))
			}
			continue
		case line == "/regen":
			printed = 0
			if err := s.RegenerateLastMessage(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "\nregenerate failed: %v\n", err)
			}
			fmt.Println()
			continue
		case line == "":
			continue
		}

		printed = 0
		if err := s.SendMessage(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "\nsend failed: %v\n", err)
		}
		fmt.Println()
	}
}
