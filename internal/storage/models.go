package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Conversation status values.
const (
	ConversationActive  = "active"
	ConversationStopped = "stopped"
)

// Message directions, relative to the row's recipient.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message status values.
const (
	MessageUnread     = "unread"
	MessageRead       = "read"
	MessageProcessing = "processing"
	MessageProcessed  = "processed"
	MessageStopped    = "stopped"
)

// Sender types accepted by the ledger after normalization.
const (
	SenderFriend   = "friend"
	SenderMerchant = "merchant"
	SenderSystem   = "system"
)

// Task status values.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

// Schedule status values.
const (
	ScheduleActive    = "active"
	SchedulePaused    = "paused"
	ScheduleCompleted = "completed"
	ScheduleCancelled = "cancelled"
)

// Contact status values.
const (
	ContactUnknown = "unknown"
	ContactPending = "pending"
	ContactActive  = "active"
)

type Conversation struct {
	ID            string
	ParticipantA  string
	ParticipantB  string
	Status        string
	AutoRespond   bool
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// Message is one recipient's copy of a ledger entry.
type Message struct {
	ID             string
	ConversationID string
	RecipientID    string
	SenderName     string
	SenderType     string
	Direction      string
	Content        string
	Status         string
	ProcessingLog  json.RawMessage
	CreatedAt      time.Time
	ProcessedAt    *time.Time
}

// IsFromMe reports whether the recipient of this copy authored it.
func (m Message) IsFromMe() bool {
	return m.Direction == DirectionOutbound
}

// ConversationSummary is one row of a user's inbox listing.
type ConversationSummary struct {
	Conversation
	Partner     string
	UnreadCount int
	LastMessage *Message
}

// ProgressEntry is one line of a task's progress log.
type ProgressEntry struct {
	TS  string `json:"ts"`
	Msg string `json:"msg"`
}

type Task struct {
	ID            string
	Owner         string
	Intent        string
	Status        string
	Phase         string
	ProgressLog   []ProgressEntry
	ResultSummary string
	SessionID     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

type ScheduledTask struct {
	ID         string
	Owner      string
	Intent     string
	TriggerAt  time.Time
	Recurrence string
	Status     string
	LastRunAt  *time.Time
	TaskID     string
	CreatedAt  time.Time
}

type User struct {
	Handle            string
	DisplayName       string
	AgentInstructions string
	AutoInboxEnabled  bool
	A2AMaxTurns       int
	CreatedAt         time.Time
}

type Contact struct {
	ID           string
	Owner        string
	Name         string
	Type         string
	AgentCardURL string
	Description  string
	Tags         string // JSON array stored as text
	Status       string
	CreatedAt    time.Time
}

// TrustedAgent is a pre-registered external agent that outbound contact is
// allowed to reach.
type TrustedAgent struct {
	ID           string
	Name         string
	Type         string
	Description  string
	AgentCardURL string
	CreatedAt    time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
