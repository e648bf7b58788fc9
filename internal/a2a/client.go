package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	cardTimeout = 15 * time.Second
	sendTimeout = 120 * time.Second
)

// Client sends message/send calls to external agents.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client. A nil httpClient uses a default one.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient, logger: slog.Default()}
}

// Outgoing describes one message sent to an external agent.
type Outgoing struct {
	Text           string
	SenderName     string
	SenderCardURL  string
	SenderType     string
	ConversationID string
}

// FetchCard retrieves an agent card as a generic document so that cards in
// older layouts still resolve.
func (c *Client) FetchCard(ctx context.Context, cardURL string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, cardTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cardURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating card request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching agent card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("agent card returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var card map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("decoding agent card: %w", err)
	}
	return card, nil
}

// ResolveRPCURL picks the JSON-RPC endpoint from a card: a JSONRPC entry in
// supportedInterfaces, then a jsonrpc or a2a entry in endpoints, then the
// card's url, then the origin of the card URL itself.
func ResolveRPCURL(card map[string]any, cardURL string) string {
	for _, key := range []string{"supportedInterfaces", "supported_interfaces"} {
		for _, item := range asList(card[key]) {
			binding := strings.ToLower(str(item["protocolBinding"]) + str(item["protocol"]))
			if strings.Contains(binding, "jsonrpc") {
				if u := str(item["url"]); u != "" {
					return u
				}
			}
		}
	}
	for _, item := range asList(card["endpoints"]) {
		binding := strings.ToLower(str(item["binding"]))
		if binding == "jsonrpc" || binding == "a2a" {
			if u := str(item["endpoint"]); u != "" {
				return u
			}
			if u := str(item["url"]); u != "" {
				return u
			}
		}
	}
	if u := str(card["url"]); u != "" {
		return u
	}
	parsed, err := url.Parse(cardURL)
	if err != nil || parsed.Host == "" {
		return cardURL
	}
	return parsed.Scheme + "://" + parsed.Host
}

func asList(v any) []map[string]any {
	items, _ := v.([]any)
	var out []map[string]any
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// Send resolves the agent's RPC endpoint and delivers one message/send call,
// returning the text of the result.
func (c *Client) Send(ctx context.Context, cardURL string, out Outgoing) (string, error) {
	card, err := c.FetchCard(ctx, cardURL)
	if err != nil {
		return "", err
	}
	rpcURL := ResolveRPCURL(card, cardURL)

	params := SendParams{
		Message:            NewTextMessage("user", out.Text),
		SenderName:         out.SenderName,
		SenderAgentCardURL: out.SenderCardURL,
		SenderType:         out.SenderType,
		ConversationID:     out.ConversationID,
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshaling params: %w", err)
	}
	body, err := json.Marshal(Request{JSONRPC: "2.0", ID: NewRequestID(), Method: MethodSendMessage, Params: rawParams})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("sending a2a message", "rpc_url", rpcURL, "conversation_id", out.ConversationID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return "", fmt.Errorf("decoding rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return "", fmt.Errorf("rpc error %d: %w", rpcResp.Error.Code, rpcResp.Error)
	}
	return ResultText(rpcResp.Result), nil
}

// MessageAgent is Send for callers that relay the outcome as text: failures
// become a readable error line instead of an error value.
func (c *Client) MessageAgent(ctx context.Context, cardURL string, out Outgoing) string {
	text, err := c.Send(ctx, cardURL, out)
	if err != nil {
		c.logger.Warn("a2a send failed", "card_url", cardURL, "error", err)
		return fmt.Sprintf("[Error contacting agent at %s] %v", cardURL, err)
	}
	return text
}
