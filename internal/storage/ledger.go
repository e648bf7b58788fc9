package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeliverParams describes one recipient's copy of a message.
type DeliverParams struct {
	ConversationID string
	RecipientID    string
	SenderName     string
	SenderType     string
	Direction      string
	Content        string
}

// NormalizeSenderType maps caller supplied sender types onto the ledger's
// closed set. Protocol peers say "personal" where the ledger says "friend".
func NormalizeSenderType(senderType string) string {
	switch v := strings.ToLower(strings.TrimSpace(senderType)); v {
	case "personal", "user", "human", "contact":
		return SenderFriend
	case SenderFriend, SenderMerchant, SenderSystem:
		return v
	default:
		return SenderSystem
	}
}

// EnsureConversation creates the conversation if it does not exist. Calling
// it again with the same id is a no-op.
func (s *Store) EnsureConversation(id, participantA, participantB string) error {
	now := s.stamp()
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO conversations (id, participant_a, participant_b, status, auto_respond, last_message_at, created_at)
		VALUES (?, ?, ?, 'active', 0, ?, ?)`,
		id, participantA, participantB, now, now,
	)
	if err != nil {
		return fmt.Errorf("ensuring conversation %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetConversation(id string) (Conversation, error) {
	row := s.db.QueryRow(`
		SELECT id, participant_a, participant_b, status, auto_respond, last_message_at, created_at
		FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	return c, err
}

// Deliver appends one message row and bumps the conversation's
// last_message_at. Outbound copies are stored as read since their recipient
// wrote them.
func (s *Store) Deliver(p DeliverParams) (Message, error) {
	direction := p.Direction
	if direction == "" {
		direction = DirectionInbound
	}
	if direction != DirectionInbound && direction != DirectionOutbound {
		return Message{}, fmt.Errorf("invalid direction %q", direction)
	}
	status := MessageUnread
	if direction == DirectionOutbound {
		status = MessageRead
	}

	m := Message{
		ID:             uuid.New().String(),
		ConversationID: p.ConversationID,
		RecipientID:    p.RecipientID,
		SenderName:     p.SenderName,
		SenderType:     NormalizeSenderType(p.SenderType),
		Direction:      direction,
		Content:        p.Content,
		Status:         status,
		ProcessingLog:  json.RawMessage("[]"),
	}
	now := s.now().UTC()
	m.CreatedAt, _ = parseTime(formatTime(now))

	tx, err := s.db.Begin()
	if err != nil {
		return Message{}, fmt.Errorf("beginning deliver transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO inbox_messages (id, conversation_id, recipient_id, sender_name, sender_type, direction, content, status, processing_log, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '[]', ?)`,
		m.ID, m.ConversationID, m.RecipientID, m.SenderName, m.SenderType, m.Direction, m.Content, m.Status, formatTime(now),
	); err != nil {
		return Message{}, fmt.Errorf("inserting message: %w", err)
	}
	if m.ConversationID != "" {
		if _, err := tx.Exec(`UPDATE conversations SET last_message_at = ? WHERE id = ?`, formatTime(now), m.ConversationID); err != nil {
			return Message{}, fmt.Errorf("touching conversation: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("committing message: %w", err)
	}
	return m, nil
}

func (s *Store) GetMessage(id string) (Message, error) {
	row := s.db.QueryRow(`SELECT `+messageColumns+` FROM inbox_messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return Message{}, ErrNotFound
	}
	return m, err
}

// MarkRead moves an unread message to read. Other statuses are left alone.
func (s *Store) MarkRead(id string) error {
	_, err := s.db.Exec(`UPDATE inbox_messages SET status = 'read' WHERE id = ? AND status = 'unread'`, id)
	return err
}

// MarkConversationRead marks every unread copy addressed to recipient in the
// conversation as read.
func (s *Store) MarkConversationRead(conversationID, recipient string) error {
	_, err := s.db.Exec(`
		UPDATE inbox_messages SET status = 'read'
		WHERE conversation_id = ? AND recipient_id = ? AND status = 'unread'`,
		conversationID, recipient)
	return err
}

func (s *Store) MarkProcessing(id string) error {
	res, err := s.db.Exec(`UPDATE inbox_messages SET status = 'processing' WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) MarkProcessed(id string) error {
	res, err := s.db.Exec(`UPDATE inbox_messages SET status = 'processed', processed_at = ? WHERE id = ?`, s.stamp(), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// UpdateProcessingLog replaces the message's processing log with entries
// encoded as a JSON array.
func (s *Store) UpdateProcessingLog(id string, entries any) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding processing log: %w", err)
	}
	if string(data) == "null" {
		data = []byte("[]")
	}
	res, err := s.db.Exec(`UPDATE inbox_messages SET processing_log = ? WHERE id = ?`, string(data), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) SetAutoRespond(conversationID string, enabled bool) error {
	res, err := s.db.Exec(`UPDATE conversations SET auto_respond = ? WHERE id = ?`, boolInt(enabled), conversationID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// IsAutoRespond reports the conversation flag. Unknown conversations are
// reported as false.
func (s *Store) IsAutoRespond(conversationID string) (bool, error) {
	var v int
	err := s.db.QueryRow(`SELECT auto_respond FROM conversations WHERE id = ?`, conversationID).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return v != 0, err
}

// StopConversation halts a conversation and demotes its unread messages to
// stopped so they are never auto-processed.
func (s *Store) StopConversation(conversationID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning stop transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE conversations SET status = 'stopped' WHERE id = ?`, conversationID); err != nil {
		return fmt.Errorf("stopping conversation: %w", err)
	}
	if _, err := tx.Exec(`UPDATE inbox_messages SET status = 'stopped' WHERE conversation_id = ? AND status = 'unread'`, conversationID); err != nil {
		return fmt.Errorf("demoting unread messages: %w", err)
	}
	return tx.Commit()
}

func (s *Store) ResumeConversation(conversationID string) error {
	_, err := s.db.Exec(`UPDATE conversations SET status = 'active' WHERE id = ?`, conversationID)
	return err
}

// IsConversationStopped reports false for unknown conversations.
func (s *Store) IsConversationStopped(conversationID string) (bool, error) {
	var status string
	err := s.db.QueryRow(`SELECT status FROM conversations WHERE id = ?`, conversationID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == ConversationStopped, nil
}

// CountRecent counts every copy in the conversation created within window of
// the store clock. Both rows of an exchange count.
func (s *Store) CountRecent(conversationID string, window time.Duration) (int, error) {
	cutoff := formatTime(s.now().Add(-window))
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM inbox_messages
		WHERE conversation_id = ? AND created_at > ?`,
		conversationID, cutoff).Scan(&n)
	return n, err
}

// ConversationMessages returns the transcript visible to recipient, oldest
// first.
func (s *Store) ConversationMessages(conversationID, recipient string) ([]Message, error) {
	rows, err := s.db.Query(`SELECT `+messageColumns+` FROM inbox_messages
		WHERE conversation_id = ? AND recipient_id = ?
		ORDER BY created_at ASC, rowid ASC`, conversationID, recipient)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// ListMessages returns the newest copies addressed to recipient.
func (s *Store) ListMessages(recipient string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+messageColumns+` FROM inbox_messages
		WHERE recipient_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, recipient, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (s *Store) UnreadMessages(recipient string) ([]Message, error) {
	rows, err := s.db.Query(`SELECT `+messageColumns+` FROM inbox_messages
		WHERE recipient_id = ? AND status = 'unread'
		ORDER BY created_at ASC, rowid ASC`, recipient)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (s *Store) UnreadCount(recipient string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM inbox_messages WHERE recipient_id = ? AND status = 'unread'`, recipient).Scan(&n)
	return n, err
}

// ListConversations returns every conversation user participates in, most
// recently active first, with the partner, unread count and the last copy
// visible to user.
func (s *Store) ListConversations(user string) ([]ConversationSummary, error) {
	rows, err := s.db.Query(`
		SELECT c.id, c.participant_a, c.participant_b, c.status, c.auto_respond, c.last_message_at, c.created_at,
			(SELECT COUNT(*) FROM inbox_messages m
			 WHERE m.conversation_id = c.id AND m.recipient_id = ? AND m.status = 'unread')
		FROM conversations c
		WHERE c.participant_a = ? OR c.participant_b = ?
		ORDER BY c.last_message_at DESC, c.rowid DESC`, user, user, user)
	if err != nil {
		return nil, err
	}

	var out []ConversationSummary
	for rows.Next() {
		var sum ConversationSummary
		var autoRespond int
		var lastAt, createdAt string
		if err := rows.Scan(&sum.ID, &sum.ParticipantA, &sum.ParticipantB, &sum.Status, &autoRespond, &lastAt, &createdAt, &sum.UnreadCount); err != nil {
			rows.Close()
			return nil, err
		}
		sum.AutoRespond = autoRespond != 0
		if sum.LastMessageAt, err = parseTime(lastAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parsing last_message_at: %w", err)
		}
		if sum.CreatedAt, err = parseTime(createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		sum.Partner = sum.ParticipantA
		if sum.ParticipantA == user {
			sum.Partner = sum.ParticipantB
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// The connection pool holds a single connection, so the per-row lookups
	// run after the listing cursor is closed.
	for i := range out {
		row := s.db.QueryRow(`SELECT `+messageColumns+` FROM inbox_messages
			WHERE conversation_id = ? AND recipient_id = ?
			ORDER BY created_at DESC, rowid DESC LIMIT 1`, out[i].ID, user)
		m, err := scanMessage(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[i].LastMessage = &m
	}
	return out, nil
}

// DeleteConversation purges the conversation and every copy in it.
func (s *Store) DeleteConversation(conversationID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM inbox_messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	return tx.Commit()
}

// DeleteConversationsFor purges every conversation user participates in and
// returns how many were removed.
func (s *Store) DeleteConversationsFor(user string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	const match = `SELECT id FROM conversations WHERE participant_a = ? OR participant_b = ?`
	if _, err := tx.Exec(`DELETE FROM inbox_messages WHERE conversation_id IN (`+match+`)`, user, user); err != nil {
		return 0, fmt.Errorf("deleting messages: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM conversations WHERE participant_a = ? OR participant_b = ?`, user, user)
	if err != nil {
		return 0, fmt.Errorf("deleting conversations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

const messageColumns = `id, conversation_id, recipient_id, sender_name, sender_type, direction, content, status, processing_log, created_at, processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (Message, error) {
	var m Message
	var log, createdAt string
	var processedAt sql.NullString
	if err := r.Scan(&m.ID, &m.ConversationID, &m.RecipientID, &m.SenderName, &m.SenderType,
		&m.Direction, &m.Content, &m.Status, &log, &createdAt, &processedAt); err != nil {
		return Message{}, err
	}
	if log == "" {
		log = "[]"
	}
	m.ProcessingLog = json.RawMessage(log)
	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return Message{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if m.ProcessedAt, err = parseNullTime(processedAt); err != nil {
		return Message{}, fmt.Errorf("parsing processed_at: %w", err)
	}
	return m, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanConversation(r rowScanner) (Conversation, error) {
	var c Conversation
	var autoRespond int
	var lastAt, createdAt string
	if err := r.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.Status, &autoRespond, &lastAt, &createdAt); err != nil {
		return Conversation{}, err
	}
	c.AutoRespond = autoRespond != 0
	var err error
	if c.LastMessageAt, err = parseTime(lastAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing last_message_at: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return c, nil
}
