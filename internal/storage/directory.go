package storage

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// --- Users ---

// CreateUser registers a platform user. A zero A2AMaxTurns defaults to 3.
func (s *Store) CreateUser(u User) (User, error) {
	if u.Handle == "" {
		return User{}, fmt.Errorf("user handle is required")
	}
	if u.A2AMaxTurns == 0 {
		u.A2AMaxTurns = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO users (handle, display_name, agent_instructions, auto_inbox_enabled, a2a_max_turns, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.Handle, u.DisplayName, u.AgentInstructions, boolInt(u.AutoInboxEnabled), u.A2AMaxTurns, s.stamp(),
	)
	if err != nil {
		return User{}, fmt.Errorf("creating user %s: %w", u.Handle, err)
	}
	return s.GetUser(u.Handle)
}

func (s *Store) GetUser(handle string) (User, error) {
	var u User
	var autoInbox int
	var createdAt string
	err := s.db.QueryRow(`
		SELECT handle, display_name, agent_instructions, auto_inbox_enabled, a2a_max_turns, created_at
		FROM users WHERE handle = ?`, handle,
	).Scan(&u.Handle, &u.DisplayName, &u.AgentInstructions, &autoInbox, &u.A2AMaxTurns, &createdAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.AutoInboxEnabled = autoInbox != 0
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return User{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return u, nil
}

// UserUpdate carries optional preference changes. Nil fields are untouched.
type UserUpdate struct {
	DisplayName       *string
	AgentInstructions *string
	AutoInboxEnabled  *bool
	A2AMaxTurns       *int
}

func (s *Store) UpdateUser(handle string, up UserUpdate) (User, error) {
	u, err := s.GetUser(handle)
	if err != nil {
		return User{}, err
	}
	if up.DisplayName != nil {
		u.DisplayName = *up.DisplayName
	}
	if up.AgentInstructions != nil {
		u.AgentInstructions = *up.AgentInstructions
	}
	if up.AutoInboxEnabled != nil {
		u.AutoInboxEnabled = *up.AutoInboxEnabled
	}
	if up.A2AMaxTurns != nil {
		u.A2AMaxTurns = *up.A2AMaxTurns
	}
	_, err = s.db.Exec(`
		UPDATE users SET display_name = ?, agent_instructions = ?, auto_inbox_enabled = ?, a2a_max_turns = ?
		WHERE handle = ?`,
		u.DisplayName, u.AgentInstructions, boolInt(u.AutoInboxEnabled), u.A2AMaxTurns, handle)
	if err != nil {
		return User{}, fmt.Errorf("updating user %s: %w", handle, err)
	}
	return u, nil
}

// --- Contacts ---

// AddContact inserts or replaces the owner's contact with the same name. An
// empty type defaults to personal.
func (s *Store) AddContact(c Contact) (Contact, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Type == "" {
		c.Type = "personal"
	}
	if c.Status == "" {
		c.Status = ContactUnknown
	}
	if c.Tags == "" {
		c.Tags = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO contacts (id, owner, name, type, agent_card_url, description, tags, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, name) DO UPDATE SET
			type = excluded.type,
			agent_card_url = excluded.agent_card_url,
			description = excluded.description,
			tags = excluded.tags,
			status = excluded.status`,
		c.ID, c.Owner, c.Name, c.Type, c.AgentCardURL, c.Description, c.Tags, c.Status, s.stamp(),
	)
	if err != nil {
		return Contact{}, fmt.Errorf("adding contact %s: %w", c.Name, err)
	}
	return s.GetContactByName(c.Owner, c.Name)
}

func (s *Store) GetContact(owner, id string) (Contact, error) {
	return s.queryContact(`WHERE owner = ? AND id = ?`, owner, id)
}

func (s *Store) GetContactByName(owner, name string) (Contact, error) {
	return s.queryContact(`WHERE owner = ? AND name = ? COLLATE NOCASE`, owner, name)
}

func (s *Store) GetContactByURL(owner, cardURL string) (Contact, error) {
	return s.queryContact(`WHERE owner = ? AND agent_card_url = ?`, owner, cardURL)
}

func (s *Store) ListContacts(owner string) ([]Contact, error) {
	rows, err := s.db.Query(`SELECT `+contactColumns+` FROM contacts WHERE owner = ? ORDER BY name ASC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetContactStatus(id, status string) error {
	res, err := s.db.Exec(`UPDATE contacts SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) queryContact(where string, args ...any) (Contact, error) {
	row := s.db.QueryRow(`SELECT `+contactColumns+` FROM contacts `+where+` LIMIT 1`, args...)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return Contact{}, ErrNotFound
	}
	return c, err
}

const contactColumns = `id, owner, name, type, agent_card_url, description, tags, status, created_at`

func scanContact(r rowScanner) (Contact, error) {
	var c Contact
	var createdAt string
	if err := r.Scan(&c.ID, &c.Owner, &c.Name, &c.Type, &c.AgentCardURL, &c.Description, &c.Tags, &c.Status, &createdAt); err != nil {
		return Contact{}, err
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Contact{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return c, nil
}

// --- Trusted agents ---

func (s *Store) RegisterAgent(a TrustedAgent) (TrustedAgent, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Type == "" {
		a.Type = "service"
	}
	_, err := s.db.Exec(`
		INSERT INTO agents (id, name, type, description, agent_card_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_card_url) DO UPDATE SET name = excluded.name, type = excluded.type, description = excluded.description`,
		a.ID, a.Name, a.Type, a.Description, a.AgentCardURL, s.stamp(),
	)
	if err != nil {
		return TrustedAgent{}, fmt.Errorf("registering agent %s: %w", a.Name, err)
	}
	return s.GetAgentByURL(a.AgentCardURL)
}

func (s *Store) GetAgentByURL(cardURL string) (TrustedAgent, error) {
	var a TrustedAgent
	var createdAt string
	err := s.db.QueryRow(`SELECT id, name, type, description, agent_card_url, created_at FROM agents WHERE agent_card_url = ?`, cardURL).
		Scan(&a.ID, &a.Name, &a.Type, &a.Description, &a.AgentCardURL, &createdAt)
	if err == sql.ErrNoRows {
		return TrustedAgent{}, ErrNotFound
	}
	if err != nil {
		return TrustedAgent{}, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return TrustedAgent{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return a, nil
}

// IsTrustedAgentURL reports whether cardURL belongs to a registered agent.
func (s *Store) IsTrustedAgentURL(cardURL string) (bool, error) {
	_, err := s.GetAgentByURL(cardURL)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}
