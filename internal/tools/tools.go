// Package tools holds the capabilities a personal agent can call: reaching
// contacts over the agent protocol, starting and scheduling background tasks,
// and reading its owner's inbox.
package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/agentrelay/internal/a2a"
	"github.com/kalambet/agentrelay/internal/agent"
	"github.com/kalambet/agentrelay/internal/storage"
)

// Contacts is the owner's address book.
type Contacts interface {
	GetContactByName(owner, name string) (storage.Contact, error)
	ListContacts(owner string) ([]storage.Contact, error)
	AddContact(c storage.Contact) (storage.Contact, error)
}

// Ledger is the part of the conversation ledger the tools write and read.
type Ledger interface {
	EnsureConversation(id, participantA, participantB string) error
	Deliver(p storage.DeliverParams) (storage.Message, error)
	ListConversations(user string) ([]storage.ConversationSummary, error)
	UnreadMessages(recipient string) ([]storage.Message, error)
}

// Messenger delivers one message to an external agent and returns its reply
// as text, including failures.
type Messenger interface {
	MessageAgent(ctx context.Context, cardURL string, out a2a.Outgoing) string
}

// Trust decides whether an agent URL may be contacted or added.
type Trust interface {
	Check(cardURL string) error
}

// TaskStarter creates and launches a background task.
type TaskStarter interface {
	Start(ctx context.Context, owner, intent string) (storage.Task, error)
}

// TaskLister lists an owner's tasks, newest first.
type TaskLister interface {
	ListTasks(owner string, limit int) ([]storage.Task, error)
}

// Scheduler registers a future task.
type Scheduler interface {
	Create(owner, intent string, triggerAt time.Time, recurrence string) (storage.ScheduledTask, error)
}

// Deps wires the tools to the rest of the service. Tools whose dependency is
// nil are left out of New.
type Deps struct {
	Contacts  Contacts
	Ledger    Ledger
	Messenger Messenger
	Trust     Trust
	Addresses a2a.Addresses
	Tasks     TaskStarter
	TaskList  TaskLister
	Schedules Scheduler
}

// New returns every tool the dependencies allow.
func New(d Deps) []agent.Tool {
	var out []agent.Tool
	if d.Contacts != nil {
		out = append(out, &GetMyContacts{Contacts: d.Contacts})
		if d.Ledger != nil && d.Messenger != nil && d.Trust != nil {
			out = append(out, &SendMessageToContact{
				Contacts:  d.Contacts,
				Ledger:    d.Ledger,
				Messenger: d.Messenger,
				Trust:     d.Trust,
				Addresses: d.Addresses,
			})
		}
		if d.Trust != nil {
			out = append(out, &AddContact{Contacts: d.Contacts, Trust: d.Trust, Addresses: d.Addresses})
		}
	}
	if d.Tasks != nil {
		out = append(out, &CreateTask{Tasks: d.Tasks})
	}
	if d.Schedules != nil {
		out = append(out, &ScheduleTask{Schedules: d.Schedules})
	}
	if d.TaskList != nil {
		out = append(out, &GetActiveTasks{Tasks: d.TaskList})
	}
	if d.Ledger != nil {
		out = append(out, &ListConversations{Ledger: d.Ledger}, &CheckInbox{Ledger: d.Ledger})
	}
	return out
}

// ByName indexes tools by their name.
func ByName(list []agent.Tool) map[string]agent.Tool {
	m := make(map[string]agent.Tool, len(list))
	for _, t := range list {
		m[t.Name()] = t
	}
	return m
}

type param struct {
	name        string
	kind        string
	description string
	required    bool
}

func schema(params ...param) map[string]any {
	props := make(map[string]any, len(params))
	required := []string{}
	for _, p := range params {
		props[p.name] = map[string]any{"type": p.kind, "description": p.description}
		if p.required {
			required = append(required, p.name)
		}
	}
	return map[string]any{"type": "object", "properties": props, "required": required}
}

func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func requireString(args map[string]any, key string) (string, error) {
	v := stringArg(args, key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// intArg accepts JSON numbers and numeric strings.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
