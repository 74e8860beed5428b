package chat

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// StoppedPlaceholder is committed when a generation is stopped before any
// content arrived.
const StoppedPlaceholder = "[Generation stopped]"

// ErrorPrefix marks assistant messages holding a retryable failure. The UI
// detects it to offer regeneration.
const ErrorPrefix = "Error: "

type Message struct {
	ID        string
	Role      string
	Content   string
	CreatedAt time.Time
}

type Chat struct {
	ID        string
	Title     string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentPDF   AttachmentType = "pdf"
)

// Attachment is a staged upload converted to provider content parts at send
// time, never kept in chat history.
type Attachment struct {
	ID       string
	Type     AttachmentType
	Name     string
	MimeType string
	Data     []byte
}

// Status tracks the generation state machine:
// Idle -> Sending -> Streaming -> {Committed | StoppedByUser | Failed}.
type Status int

const (
	StatusIdle Status = iota
	StatusSending
	StatusStreaming
	StatusCommitted
	StatusStoppedByUser
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSending:
		return "sending"
	case StatusStreaming:
		return "streaming"
	case StatusCommitted:
		return "committed"
	case StatusStoppedByUser:
		return "stopped_by_user"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}
