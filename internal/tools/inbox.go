package tools

import (
	"context"
	"fmt"
	"strings"
)

// ListConversations summarizes the owner's inbox threads.
type ListConversations struct {
	Ledger Ledger
}

func (t *ListConversations) Name() string { return "list_conversations" }

func (t *ListConversations) Description() string {
	return "List your inbox conversations with their unread counts and latest message."
}

func (t *ListConversations) Parameters() map[string]any {
	return schema()
}

func (t *ListConversations) Call(ctx context.Context, owner string, args map[string]any) (string, error) {
	list, err := t.Ledger.ListConversations(owner)
	if err != nil {
		return "", fmt.Errorf("listing conversations: %w", err)
	}
	if len(list) == 0 {
		return "No conversations yet.", nil
	}
	var b strings.Builder
	for _, c := range list {
		fmt.Fprintf(&b, "- %s with %s (%s, %d unread)", c.ID, c.Partner, c.Status, c.UnreadCount)
		if c.LastMessage != nil {
			fmt.Fprintf(&b, ": %s: %s", c.LastMessage.SenderName, truncate(c.LastMessage.Content, 80))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// CheckInbox returns the owner's unread messages.
type CheckInbox struct {
	Ledger Ledger
}

func (t *CheckInbox) Name() string { return "check_inbox" }

func (t *CheckInbox) Description() string {
	return "Read your unread inbox messages."
}

func (t *CheckInbox) Parameters() map[string]any {
	return schema(param{"limit", "integer", "Maximum number of messages (default 10)", false})
}

func (t *CheckInbox) Call(ctx context.Context, owner string, args map[string]any) (string, error) {
	limit := intArg(args, "limit", 10)
	if limit <= 0 {
		limit = 10
	}
	msgs, err := t.Ledger.UnreadMessages(owner)
	if err != nil {
		return "", fmt.Errorf("reading inbox: %w", err)
	}
	if len(msgs) == 0 {
		return "No unread messages.", nil
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d unread message(s):\n", len(msgs))
	for _, m := range msgs {
		fmt.Fprintf(&b, "- [%s] from %s (%s): %s\n", m.ConversationID, m.SenderName, m.SenderType, truncate(m.Content, 200))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
