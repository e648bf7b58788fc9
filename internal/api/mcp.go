package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/agentrelay/internal/agent"
	"github.com/kalambet/agentrelay/internal/storage"
)

// MCPInbox is the ledger view behind the inbox resource.
type MCPInbox interface {
	UnreadMessages(recipient string) ([]storage.Message, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Tools []agent.Tool
	Owner string   // every tool call acts on behalf of this user
	Inbox MCPInbox // optional; if nil, the inbox resource is not registered
}

// NewMCPServer exposes the agent tools to MCP clients for the configured
// owner.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"agentrelay",
		"0.1.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("agentrelay: message your contacts' agents, check your inbox, and run background tasks."),
		server.WithRecovery(),
	)

	for _, t := range deps.Tools {
		s.AddTool(mcpToolFor(t), mcpCall(t, deps.Owner))
	}

	if deps.Inbox != nil {
		s.AddResource(
			mcp.NewResource(
				"user://inbox",
				"Unread Inbox",
				mcp.WithResourceDescription("Unread messages addressed to the owner"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceInbox(deps),
		)
	}
	return s
}

// mcpToolFor converts a tool's JSON schema into an MCP tool definition.
func mcpToolFor(t agent.Tool) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(t.Description())}

	params := t.Parameters()
	props, _ := params["properties"].(map[string]any)
	required := map[string]bool{}
	switch req := params["required"].(type) {
	case []string:
		for _, r := range req {
			required[r] = true
		}
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		desc, _ := prop["description"].(string)
		popts := []mcp.PropertyOption{mcp.Description(desc)}
		if required[name] {
			popts = append(popts, mcp.Required())
		}
		switch prop["type"] {
		case "integer", "number":
			opts = append(opts, mcp.WithNumber(name, popts...))
		case "boolean":
			opts = append(opts, mcp.WithBoolean(name, popts...))
		default:
			opts = append(opts, mcp.WithString(name, popts...))
		}
	}
	return mcp.NewTool(t.Name(), opts...)
}

func mcpCall(t agent.Tool, owner string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if owner == "" {
			return mcpError("no owner configured: set mcp.owner"), nil
		}
		out, err := t.Call(ctx, owner, req.GetArguments())
		if err != nil {
			return mcpError(fmt.Sprintf("%s failed: %v", t.Name(), err)), nil
		}
		return mcpText(out), nil
	}
}

func mcpResourceInbox(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		msgs, err := deps.Inbox.UnreadMessages(deps.Owner)
		if err != nil {
			return nil, fmt.Errorf("failed to get unread messages: %w", err)
		}

		type unread struct {
			ID             string `json:"id"`
			ConversationID string `json:"conversation_id"`
			From           string `json:"from"`
			Message        string `json:"message"`
			CreatedAt      string `json:"created_at"`
		}
		out := make([]unread, len(msgs))
		for i, m := range msgs {
			out[i] = unread{
				ID:             m.ID,
				ConversationID: m.ConversationID,
				From:           m.SenderName,
				Message:        m.Content,
				CreatedAt:      m.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal inbox: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
