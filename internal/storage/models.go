package storage

import "time"

type Chat struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []Message
}

type Message struct {
	ID        string
	ChatID    string
	Seq       int
	Role      string
	Content   string
	CreatedAt time.Time
}
