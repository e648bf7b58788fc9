// Package a2a implements the subset of the agent-to-agent JSON-RPC protocol
// this service speaks: agent cards and message/send.
package a2a

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// MethodSendMessage is the only RPC method accepted or sent.
const MethodSendMessage = "message/send"

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Part is one piece of message content. Only text parts carry meaning here.
type Part struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

type Message struct {
	Kind      string         `json:"kind"`
	MessageID string         `json:"messageId"`
	Role      string         `json:"role"`
	Parts     []Part         `json:"parts"`
	ContextID string         `json:"contextId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewTextMessage builds a single-part text message with a fresh id.
func NewTextMessage(role, text string) Message {
	return Message{
		Kind:      "message",
		MessageID: uuid.New().String(),
		Role:      role,
		Parts:     []Part{{Kind: "text", Text: text}},
	}
}

// Text joins the message's text parts with newlines and trims the result.
func (m Message) Text() string {
	return joinParts(m.Parts)
}

func joinParts(parts []Part) string {
	var texts []string
	for _, p := range parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.TrimSpace(strings.Join(texts, "\n"))
}

// SendParams are the message/send params. The sender fields are an extension
// that lets the receiver register and thread the sender.
type SendParams struct {
	Message            Message `json:"message"`
	SenderName         string  `json:"sender_name,omitempty"`
	SenderAgentCardURL string  `json:"sender_agent_card_url,omitempty"`
	AgentCardURL       string  `json:"agent_card_url,omitempty"`
	SenderType         string  `json:"sender_type,omitempty"`
	ConversationID     string  `json:"conversation_id,omitempty"`
}

// SenderURL returns the sender's card URL from either accepted field.
func (p SendParams) SenderURL() string {
	if p.SenderAgentCardURL != "" {
		return strings.TrimSpace(p.SenderAgentCardURL)
	}
	return strings.TrimSpace(p.AgentCardURL)
}

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// NewRequestID returns an id in the msg-<hex> form.
func NewRequestID() string {
	return "msg-" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// AgentCard is the discovery document served for every platform user.
type AgentCard struct {
	Name                string       `json:"name"`
	Description         string       `json:"description"`
	URL                 string       `json:"url"`
	SupportedInterfaces []Interface  `json:"supportedInterfaces"`
	Provider            Provider     `json:"provider"`
	Version             string       `json:"version"`
	Capabilities        Capabilities `json:"capabilities"`
	DefaultInputModes   []string     `json:"defaultInputModes"`
	DefaultOutputModes  []string     `json:"defaultOutputModes"`
	Skills              []any        `json:"skills"`
}

type Interface struct {
	URL             string `json:"url"`
	ProtocolBinding string `json:"protocolBinding"`
	ProtocolVersion string `json:"protocolVersion"`
}

type Provider struct {
	Organization string `json:"organization"`
	URL          string `json:"url"`
}

type Capabilities struct {
	Streaming         bool `json:"streaming"`
	PushNotifications bool `json:"pushNotifications"`
	ExtendedAgentCard bool `json:"extendedAgentCard"`
}

// result covers both response shapes: a Message, or a Task whose text lives
// in status.message and artifacts.
type result struct {
	Kind   string `json:"kind"`
	Parts  []Part `json:"parts"`
	Status *struct {
		State   string   `json:"state"`
		Message *Message `json:"message"`
	} `json:"status"`
	Artifacts []struct {
		Parts []Part `json:"parts"`
	} `json:"artifacts"`
}

// ResultText extracts readable text from a message/send result.
func ResultText(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "[No response from agent]"
	}
	var r result
	if err := json.Unmarshal(raw, &r); err != nil {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
		return trimmed
	}
	if r.Parts != nil {
		if text := joinParts(r.Parts); text != "" {
			return text
		}
		return "[Empty message from agent]"
	}
	if r.Status != nil || r.Artifacts != nil {
		var texts []string
		if r.Status != nil && r.Status.Message != nil {
			if t := r.Status.Message.Text(); t != "" {
				texts = append(texts, t)
			}
		}
		for _, a := range r.Artifacts {
			if t := joinParts(a.Parts); t != "" {
				texts = append(texts, t)
			}
		}
		if len(texts) > 0 {
			return strings.Join(texts, "\n")
		}
		state := "unknown"
		if r.Status != nil && r.Status.State != "" {
			state = r.Status.State
		}
		return "[No text in task response, status=" + state + "]"
	}
	return trimmed
}
