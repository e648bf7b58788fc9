// Package gateway answers agent-protocol traffic addressed to platform users:
// it serves their agent cards, threads inbound messages into the ledger and
// decides whether the user's agent replies.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/agentrelay/internal/a2a"
	"github.com/kalambet/agentrelay/internal/agent"
	"github.com/kalambet/agentrelay/internal/interaction"
	"github.com/kalambet/agentrelay/internal/outbox"
	"github.com/kalambet/agentrelay/internal/storage"
)

var (
	// ErrEmptyMessage is returned when an inbound message carries no text.
	ErrEmptyMessage = errors.New("empty message")
	// ErrMissingSender is returned when an inbound call names no card URL.
	ErrMissingSender = errors.New("agent_card_url is required")
)

// Ack is the agent reply sent when the user's agent does not answer.
const Ack = "Message received."

// Directory resolves recipients and keeps their contact lists.
type Directory interface {
	GetUser(handle string) (storage.User, error)
	GetContactByURL(owner, cardURL string) (storage.Contact, error)
	AddContact(c storage.Contact) (storage.Contact, error)
	SetContactStatus(id, status string) error
}

type Ledger interface {
	EnsureConversation(id, participantA, participantB string) error
	Deliver(p storage.DeliverParams) (storage.Message, error)
}

type Agents interface {
	Get(handle string) (agent.Agent, error)
}

// CardFetcher looks up a sender's card for its description.
type CardFetcher interface {
	FetchCard(ctx context.Context, cardURL string) (map[string]any, error)
}

type Deps struct {
	Directory Directory
	Ledger    Ledger
	Agents    Agents
	Cards     CardFetcher
	Queue     outbox.JobStore
}

type Config struct {
	Addresses       a2a.Addresses
	DefaultMaxTurns int
	Organization    string
	OrganizationURL string
}

type Gateway struct {
	dir    Directory
	ledger Ledger
	agents Agents
	cards  CardFetcher
	queue  outbox.JobStore
	cfg    Config
	logger *slog.Logger
}

func New(deps Deps, cfg Config) *Gateway {
	if cfg.DefaultMaxTurns <= 0 {
		cfg.DefaultMaxTurns = 3
	}
	if cfg.Organization == "" {
		cfg.Organization = "agentrelay"
	}
	return &Gateway{
		dir:    deps.Directory,
		ledger: deps.Ledger,
		agents: deps.Agents,
		cards:  deps.Cards,
		queue:  deps.Queue,
		cfg:    cfg,
		logger: slog.Default(),
	}
}

// Card returns the discovery document for handle.
func (g *Gateway) Card(handle string) a2a.AgentCard {
	handle = strings.ToLower(strings.TrimSpace(handle))
	rpc := g.cfg.Addresses.RPCURL(handle)
	return a2a.AgentCard{
		Name:        handle + "_personal_agent",
		Description: fmt.Sprintf("Personal agent for @%s on %s.", handle, g.cfg.Organization),
		URL:         rpc,
		SupportedInterfaces: []a2a.Interface{
			{URL: rpc, ProtocolBinding: "JSONRPC", ProtocolVersion: "0.3"},
		},
		Provider:           a2a.Provider{Organization: g.cfg.Organization, URL: g.cfg.OrganizationURL},
		Version:            "0.1.0",
		DefaultInputModes:  []string{"text/plain", "application/json"},
		DefaultOutputModes: []string{"application/json", "text/plain"},
		Skills:             []any{},
	}
}

// Send handles message/send for handle and returns the agent-role reply:
// the user's agent's answer, or Ack when it does not respond.
func (g *Gateway) Send(ctx context.Context, handle string, p a2a.SendParams) (a2a.Message, error) {
	handle = strings.ToLower(strings.TrimSpace(handle))
	text := p.Message.Text()
	if text == "" {
		return a2a.Message{}, ErrEmptyMessage
	}
	user, err := g.dir.GetUser(handle)
	if err != nil {
		return a2a.Message{}, err
	}

	senderName := strings.TrimSpace(p.SenderName)
	if senderName == "" {
		senderName = "External Agent"
	}
	senderType := p.SenderType
	if senderType == "" {
		senderType = "personal"
	}
	senderURL := p.SenderURL()
	_, internal := g.cfg.Addresses.InternalHandle(senderURL)

	status := storage.ContactPending
	if senderURL != "" {
		status, err = g.registerSender(handle, senderName, senderURL, senderType, "External agent", internal)
		if err != nil {
			return a2a.Message{}, err
		}
	}

	conv := p.ConversationID
	if conv == "" {
		seed := senderURL
		if seed == "" {
			seed = senderName
		}
		conv = a2a.ExternalConversationID(handle, senderName, seed)
	}
	if err := g.deliverInbound(conv, handle, senderName, senderType, text); err != nil {
		return a2a.Message{}, err
	}

	if status != storage.ContactActive || !(user.AutoInboxEnabled || internal) {
		return a2a.NewTextMessage("agent", Ack), nil
	}

	reply, err := g.respond(ctx, user, senderName, text, conv)
	if err != nil {
		return a2a.Message{}, err
	}
	return a2a.NewTextMessage("agent", reply), nil
}

// InboundParams is the body of the asynchronous inbound endpoint.
type InboundParams struct {
	RecipientHandle string `json:"recipient_handle"`
	SenderName      string `json:"sender_name"`
	AgentCardURL    string `json:"agent_card_url"`
	Message         string `json:"message"`
	SenderType      string `json:"sender_type"`
	ConversationID  string `json:"conversation_id,omitempty"`
}

type InboundResult struct {
	Status        string `json:"status"`
	ContactStatus string `json:"contact_status,omitempty"`
	JobID         string `json:"job_id,omitempty"`
}

// Inbound records a message from an external agent. Unknown senders become
// pending contacts. When the sender is approved and the user has automatic
// replies on, the reply is queued for delivery back to the sender.
func (g *Gateway) Inbound(ctx context.Context, in InboundParams) (InboundResult, error) {
	recipient := strings.ToLower(strings.TrimSpace(in.RecipientHandle))
	text := strings.TrimSpace(in.Message)
	if text == "" {
		return InboundResult{}, ErrEmptyMessage
	}
	user, err := g.dir.GetUser(recipient)
	if err != nil {
		return InboundResult{}, err
	}

	senderName := strings.TrimSpace(in.SenderName)
	if senderName == "" {
		senderName = "External Agent"
	}
	senderType := in.SenderType
	if senderType == "" {
		senderType = "personal"
	}
	cardURL := strings.TrimSpace(in.AgentCardURL)
	if cardURL == "" {
		return InboundResult{}, ErrMissingSender
	}

	status, err := g.registerSender(recipient, senderName, cardURL, senderType, g.describe(ctx, recipient, cardURL), false)
	if err != nil {
		return InboundResult{}, err
	}

	conv := in.ConversationID
	if conv == "" {
		conv = a2a.ExternalConversationID(recipient, senderName, cardURL)
	}
	if err := g.deliverInbound(conv, recipient, senderName, senderType, text); err != nil {
		return InboundResult{}, err
	}

	if status != storage.ContactActive || !user.AutoInboxEnabled {
		return InboundResult{Status: "queued", ContactStatus: status}, nil
	}

	reply, err := g.respond(ctx, user, senderName, text, conv)
	if err != nil {
		return InboundResult{}, err
	}
	jobID, err := outbox.Enqueue(g.queue, outbox.Reply{
		CardURL:        cardURL,
		Text:           reply,
		SenderName:     recipient,
		SenderCardURL:  g.cfg.Addresses.CardURL(recipient),
		ConversationID: conv,
	})
	if err != nil {
		return InboundResult{}, err
	}
	return InboundResult{Status: "responded", ContactStatus: status, JobID: jobID}, nil
}

// registerSender finds or creates the recipient's contact for senderURL and
// returns its status. Internal senders are promoted to active when promote
// is set.
func (g *Gateway) registerSender(owner, name, senderURL, senderType, description string, promote bool) (string, error) {
	existing, err := g.dir.GetContactByURL(owner, senderURL)
	if err == nil {
		if promote && existing.Status != storage.ContactActive {
			if err := g.dir.SetContactStatus(existing.ID, storage.ContactActive); err != nil {
				return "", fmt.Errorf("promoting contact: %w", err)
			}
			return storage.ContactActive, nil
		}
		return existing.Status, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("looking up sender contact: %w", err)
	}

	kind := "personal"
	if senderType == "merchant" {
		kind = "merchant"
	}
	status := storage.ContactPending
	if promote {
		status = storage.ContactActive
	}
	c, err := g.dir.AddContact(storage.Contact{
		Owner:        owner,
		Name:         name,
		Type:         kind,
		AgentCardURL: senderURL,
		Description:  description,
		Tags:         `["external"]`,
		Status:       status,
	})
	if err != nil {
		return "", fmt.Errorf("registering sender: %w", err)
	}
	g.logger.Info("registered sender contact", "owner", owner, "sender", name, "status", c.Status)
	return c.Status, nil
}

// describe fetches the sender card's description, falling back to a
// generic one.
func (g *Gateway) describe(ctx context.Context, owner, cardURL string) string {
	const fallback = "External agent"
	if g.cards == nil {
		return fallback
	}
	if _, err := g.dir.GetContactByURL(owner, cardURL); err == nil {
		return fallback
	}
	card, err := g.cards.FetchCard(ctx, cardURL)
	if err != nil {
		g.logger.Debug("sender card unavailable", "card_url", cardURL, "error", err)
		return fallback
	}
	if d, ok := card["description"].(string); ok && strings.TrimSpace(d) != "" {
		return strings.TrimSpace(d)
	}
	return fallback
}

func (g *Gateway) deliverInbound(conv, recipient, senderName, senderType, text string) error {
	if err := g.ledger.EnsureConversation(conv, recipient, senderName); err != nil {
		return fmt.Errorf("ensuring conversation: %w", err)
	}
	if _, err := g.ledger.Deliver(storage.DeliverParams{
		ConversationID: conv,
		RecipientID:    recipient,
		SenderName:     senderName,
		SenderType:     senderType,
		Direction:      storage.DirectionInbound,
		Content:        text,
	}); err != nil {
		return fmt.Errorf("delivering inbound message: %w", err)
	}
	return nil
}

// respond runs the recipient's agent with the conversation pinned and a turn
// budget for follow-up outreach, then logs the reply as the recipient's
// outbound copy.
func (g *Gateway) respond(ctx context.Context, user storage.User, senderName, text, conv string) (string, error) {
	a, err := g.agents.Get(user.Handle)
	if err != nil {
		return "", err
	}
	turns := user.A2AMaxTurns
	if turns == 0 {
		turns = g.cfg.DefaultMaxTurns
	}
	runCtx := interaction.WithChannel(ctx, interaction.ChannelInbox)
	runCtx = interaction.WithTurnBudget(runCtx, turns)
	runCtx = interaction.WithConversationID(runCtx, conv)

	events, err := a.Invoke(runCtx, "inbox_ext_"+conv, inboundPrompt(senderName, text))
	if err != nil {
		return "", fmt.Errorf("invoking agent: %w", err)
	}
	reply, _, err := agent.Collect(events)
	if err != nil {
		return "", fmt.Errorf("agent run: %w", err)
	}
	if strings.TrimSpace(reply) == "" {
		reply = "[No response generated]"
	}

	if _, err := g.ledger.Deliver(storage.DeliverParams{
		ConversationID: conv,
		RecipientID:    user.Handle,
		SenderName:     user.Handle,
		SenderType:     storage.SenderFriend,
		Direction:      storage.DirectionOutbound,
		Content:        reply,
	}); err != nil {
		return "", fmt.Errorf("logging reply: %w", err)
	}
	return reply, nil
}

func inboundPrompt(sender, text string) string {
	return fmt.Sprintf("You received an incoming message from %s:\n\n\"%s\"\n\n", sender, text) +
		fmt.Sprintf("RESPOND DIRECTLY: just write your reply as text. Your response will be sent back to %s automatically. ", sender) +
		fmt.Sprintf("Do NOT use send_message_to_contact to reply to %s, that would create a loop.\n", sender) +
		"You MAY use other tools (get_my_contacts, check_inbox) to look up information before responding. " +
		"If this is casual conversation, just chat naturally like a friend. Do not create background tasks."
}
