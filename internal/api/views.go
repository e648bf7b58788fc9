package api

import (
	"encoding/json"
	"time"

	"github.com/kalambet/agentrelay/internal/storage"
)

// JSON shapes served by the REST API. Storage types carry no tags.

type messageView struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	RecipientID    string          `json:"recipient_id"`
	SenderName     string          `json:"sender_name"`
	SenderType     string          `json:"sender_type"`
	Direction      string          `json:"direction"`
	IsFromMe       bool            `json:"is_from_me"`
	Message        string          `json:"message"`
	Status         string          `json:"status"`
	ProcessingLog  json.RawMessage `json:"processing_log"`
	CreatedAt      time.Time       `json:"created_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
}

func viewMessage(m storage.Message) messageView {
	plog := m.ProcessingLog
	if len(plog) == 0 {
		plog = json.RawMessage("[]")
	}
	return messageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		RecipientID:    m.RecipientID,
		SenderName:     m.SenderName,
		SenderType:     m.SenderType,
		Direction:      m.Direction,
		IsFromMe:       m.IsFromMe(),
		Message:        m.Content,
		Status:         m.Status,
		ProcessingLog:  plog,
		CreatedAt:      m.CreatedAt,
		ProcessedAt:    m.ProcessedAt,
	}
}

func viewMessages(list []storage.Message) []messageView {
	out := make([]messageView, 0, len(list))
	for _, m := range list {
		out = append(out, viewMessage(m))
	}
	return out
}

type conversationView struct {
	ID            string       `json:"id"`
	Partner       string       `json:"partner"`
	Status        string       `json:"status"`
	AutoRespond   bool         `json:"auto_respond"`
	UnreadCount   int          `json:"unread_count"`
	LastMessageAt time.Time    `json:"last_message_at"`
	LastMessage   *messageView `json:"last_message,omitempty"`
}

func viewConversations(list []storage.ConversationSummary) []conversationView {
	out := make([]conversationView, 0, len(list))
	for _, c := range list {
		v := conversationView{
			ID:            c.ID,
			Partner:       c.Partner,
			Status:        c.Status,
			AutoRespond:   c.AutoRespond,
			UnreadCount:   c.UnreadCount,
			LastMessageAt: c.LastMessageAt,
		}
		if c.LastMessage != nil {
			m := viewMessage(*c.LastMessage)
			v.LastMessage = &m
		}
		out = append(out, v)
	}
	return out
}

type taskView struct {
	ID            string                  `json:"id"`
	Owner         string                  `json:"owner"`
	Intent        string                  `json:"intent"`
	Status        string                  `json:"status"`
	Phase         string                  `json:"phase"`
	ProgressLog   []storage.ProgressEntry `json:"progress_log"`
	ResultSummary string                  `json:"result_summary"`
	SessionID     string                  `json:"session_id"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
}

func viewTask(t storage.Task) taskView {
	plog := t.ProgressLog
	if plog == nil {
		plog = []storage.ProgressEntry{}
	}
	return taskView{
		ID:            t.ID,
		Owner:         t.Owner,
		Intent:        t.Intent,
		Status:        t.Status,
		Phase:         t.Phase,
		ProgressLog:   plog,
		ResultSummary: t.ResultSummary,
		SessionID:     t.SessionID,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		CompletedAt:   t.CompletedAt,
	}
}

type scheduleView struct {
	ID         string     `json:"id"`
	Owner      string     `json:"owner"`
	Intent     string     `json:"intent"`
	TriggerAt  time.Time  `json:"trigger_at"`
	Recurrence string     `json:"recurrence"`
	Status     string     `json:"status"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	TaskID     string     `json:"task_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func viewSchedule(s storage.ScheduledTask) scheduleView {
	return scheduleView{
		ID:         s.ID,
		Owner:      s.Owner,
		Intent:     s.Intent,
		TriggerAt:  s.TriggerAt,
		Recurrence: s.Recurrence,
		Status:     s.Status,
		LastRunAt:  s.LastRunAt,
		TaskID:     s.TaskID,
		CreatedAt:  s.CreatedAt,
	}
}

type contactView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	AgentCardURL string    `json:"agent_card_url"`
	Description  string    `json:"description"`
	Tags         []string  `json:"tags"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

func viewContact(c storage.Contact) contactView {
	tags := []string{}
	if c.Tags != "" {
		_ = json.Unmarshal([]byte(c.Tags), &tags)
	}
	return contactView{
		ID:           c.ID,
		Name:         c.Name,
		Type:         c.Type,
		AgentCardURL: c.AgentCardURL,
		Description:  c.Description,
		Tags:         tags,
		Status:       c.Status,
		CreatedAt:    c.CreatedAt,
	}
}
