package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/agentrelay/internal/a2a"
	"github.com/kalambet/agentrelay/internal/interaction"
	"github.com/kalambet/agentrelay/internal/storage"
)

// SendMessageToContact relays a message to one of the owner's contacts and
// returns the contact agent's reply. Both directions are mirrored into the
// owner's inbox thread with that contact.
type SendMessageToContact struct {
	Contacts  Contacts
	Ledger    Ledger
	Messenger Messenger
	Trust     Trust
	Addresses a2a.Addresses
}

func (t *SendMessageToContact) Name() string { return "send_message_to_contact" }

func (t *SendMessageToContact) Description() string {
	return "Send a message to one of your contacts' agents (a friend or a merchant) and get their reply."
}

func (t *SendMessageToContact) Parameters() map[string]any {
	return schema(
		param{"contact_name", "string", "Name of the contact, as listed by get_my_contacts", true},
		param{"message", "string", "The message to send", true},
	)
}

func (t *SendMessageToContact) Call(ctx context.Context, owner string, args map[string]any) (string, error) {
	name, err := requireString(args, "contact_name")
	if err != nil {
		return "", err
	}
	message, err := requireString(args, "message")
	if err != nil {
		return "", err
	}

	contact, err := t.Contacts.GetContactByName(owner, name)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Sprintf("Contact '%s' not found in your contacts. Use get_my_contacts to see available contacts.", name), nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up contact: %w", err)
	}

	cardURL := t.Addresses.Resolve(contact.AgentCardURL)
	if cardURL == "" {
		return fmt.Sprintf("Contact '%s' has no agent card URL.", contact.Name), nil
	}
	if contact.Status != storage.ContactActive {
		if err := t.Trust.Check(cardURL); err != nil {
			slog.Warn("refusing untrusted contact", "owner", owner, "contact", contact.Name, "card_url", cardURL)
			return fmt.Sprintf("Refused to contact '%s': agent_card_url is not trusted. Only platform users, pre-registered agents or approved contacts can be messaged.", contact.Name), nil
		}
	}

	inboxConv := a2a.PairConversationID(owner, contact.Name)
	if err := t.Ledger.EnsureConversation(inboxConv, owner, contact.Name); err != nil {
		return "", fmt.Errorf("ensuring conversation: %w", err)
	}

	// Chat checks the budget before writing anything; the inbox records the
	// outbound copy first.
	if interaction.Channel(ctx) == interaction.ChannelInbox {
		if err := t.logOutbound(inboxConv, owner, message); err != nil {
			return "", err
		}
		if !interaction.TakeTurn(ctx) {
			return interaction.TurnLimitReached, nil
		}
	} else {
		if !interaction.TakeTurn(ctx) {
			return interaction.TurnLimitReached, nil
		}
		if err := t.logOutbound(inboxConv, owner, message); err != nil {
			return "", err
		}
	}

	convID, ok := interaction.ConversationID(ctx)
	if !ok {
		convID = a2a.ContactConversationID(owner, cardURL)
	}
	reply := t.Messenger.MessageAgent(ctx, cardURL, a2a.Outgoing{
		Text:           message,
		SenderName:     owner,
		SenderCardURL:  t.Addresses.CardURL(owner),
		SenderType:     "personal",
		ConversationID: convID,
	})

	senderType := storage.SenderFriend
	if contact.Type == "merchant" {
		senderType = storage.SenderMerchant
	}
	if _, err := t.Ledger.Deliver(storage.DeliverParams{
		ConversationID: inboxConv,
		RecipientID:    owner,
		SenderName:     contact.Name,
		SenderType:     senderType,
		Direction:      storage.DirectionInbound,
		Content:        reply,
	}); err != nil {
		return "", fmt.Errorf("logging reply: %w", err)
	}
	return fmt.Sprintf("Response from %s: %s", contact.Name, reply), nil
}

func (t *SendMessageToContact) logOutbound(conv, owner, message string) error {
	_, err := t.Ledger.Deliver(storage.DeliverParams{
		ConversationID: conv,
		RecipientID:    owner,
		SenderName:     owner,
		SenderType:     storage.SenderFriend,
		Direction:      storage.DirectionOutbound,
		Content:        message,
	})
	if err != nil {
		return fmt.Errorf("logging outbound message: %w", err)
	}
	return nil
}

// GetMyContacts lists the owner's address book.
type GetMyContacts struct {
	Contacts Contacts
}

func (t *GetMyContacts) Name() string { return "get_my_contacts" }

func (t *GetMyContacts) Description() string {
	return "List your contacts: friends' personal agents and merchant agents you can message."
}

func (t *GetMyContacts) Parameters() map[string]any {
	return schema()
}

func (t *GetMyContacts) Call(ctx context.Context, owner string, args map[string]any) (string, error) {
	list, err := t.Contacts.ListContacts(owner)
	if err != nil {
		return "", fmt.Errorf("listing contacts: %w", err)
	}
	if len(list) == 0 {
		return "You have no contacts yet.", nil
	}
	var b strings.Builder
	b.WriteString("Your contacts:\n")
	for _, c := range list {
		fmt.Fprintf(&b, "- %s (%s)", c.Name, c.Type)
		if c.Description != "" {
			fmt.Fprintf(&b, ": %s", c.Description)
		}
		var tags []string
		if json.Unmarshal([]byte(c.Tags), &tags) == nil && len(tags) > 0 {
			fmt.Fprintf(&b, " [tags: %s]", strings.Join(tags, ", "))
		}
		fmt.Fprintf(&b, " [status: %s]\n", c.Status)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// AddContact saves a trusted agent into the owner's address book.
type AddContact struct {
	Contacts  Contacts
	Trust     Trust
	Addresses a2a.Addresses
}

func (t *AddContact) Name() string { return "add_contact" }

func (t *AddContact) Description() string {
	return "Add a platform user or a registered agent to your contacts."
}

func (t *AddContact) Parameters() map[string]any {
	return schema(
		param{"name", "string", "Display name for the contact", true},
		param{"agent_card_url", "string", "Agent card URL, or platform://user/<handle>", true},
		param{"type", "string", "personal or merchant (default personal)", false},
		param{"description", "string", "Short description", false},
	)
}

func (t *AddContact) Call(ctx context.Context, owner string, args map[string]any) (string, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return "", err
	}
	cardURL, err := requireString(args, "agent_card_url")
	if err != nil {
		return "", err
	}
	kind := strings.ToLower(stringArg(args, "type"))
	if kind != "merchant" {
		kind = "personal"
	}

	if err := t.Trust.Check(t.Addresses.Resolve(cardURL)); err != nil {
		return "Refused to add contact: agent_card_url is not trusted. Only platform users or pre-registered agents can be added.", nil
	}

	c, err := t.Contacts.AddContact(storage.Contact{
		Owner:        owner,
		Name:         name,
		Type:         kind,
		AgentCardURL: cardURL,
		Description:  stringArg(args, "description"),
		Status:       storage.ContactActive,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Added contact '%s' (%s).", c.Name, c.Type), nil
}
