package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/karmayogi/saarthi/internal/inference"
	"github.com/karmayogi/saarthi/internal/kb"
	"github.com/karmayogi/saarthi/internal/session"
	"github.com/karmayogi/saarthi/internal/storage"
	"github.com/karmayogi/saarthi/internal/ticketing"
)

// MCPSearcher abstracts KB search for the MCP layer.
type MCPSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]kb.Passage, error)
}

// MCPTicketReader looks up ticket status.
type MCPTicketReader interface {
	GetTicket(ctx context.Context, id string) (ticketing.Ticket, error)
}

// MCPChatter abstracts the inference client for summarization.
type MCPChatter interface {
	Chat(ctx context.Context, model string, messages []inference.Message, schema *inference.Schema) (string, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   *storage.Store
	KB      MCPSearcher
	Tickets MCPTicketReader
	Chatter MCPChatter // optional; if nil, session_summary returns an error
	Model   string
}

// NewMCPServer exposes the assistant's retrieval and lookup surface as
// MCP tools, for operator tooling and agent integrations.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"saarthi",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("saarthi — learner support assistant: knowledge base search, ticket status, and session summaries."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_kb",
			mcp.WithDescription("Search the support knowledge base and return relevant help passages."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchKB(deps),
	)

	s.AddTool(
		mcp.NewTool("ticket_status",
			mcp.WithDescription("Look up the current status of a support ticket by id."),
			mcp.WithString("id", mcp.Description("Ticket id"), mcp.Required()),
		),
		mcpTicketStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("session_summary",
			mcp.WithDescription("Summarize a conversation session's turns."),
			mcp.WithString("session_id", mcp.Description("Session id"), mcp.Required()),
		),
		mcpSessionSummary(deps),
	)

	return s
}

func mcpSearchKB(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 20 {
			limit = 20
		}

		passages, err := deps.KB.Search(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(passages) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(passages)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpTicketStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		t, err := deps.Tickets.GetTicket(ctx, id)
		if errors.Is(err, ticketing.ErrNotFound) {
			return mcpError(fmt.Sprintf("no ticket with id %s", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("ticket lookup failed: %v", err)), nil
		}

		b, err := json.Marshal(t)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal ticket: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSessionSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Chatter == nil {
			return mcpError("summarization not available: no model configured"), nil
		}
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		turns, err := deps.Store.ListTurns(ctx, sessionID, 50)
		if err != nil {
			return mcpError(fmt.Sprintf("loading session: %v", err)), nil
		}
		if len(turns) == 0 {
			return mcpError("session has no turns"), nil
		}

		summary, err := deps.Chatter.Chat(ctx, deps.Model, summaryPrompt(turns), nil)
		if err != nil {
			return mcpError(fmt.Sprintf("summarization failed: %v", err)), nil
		}
		return mcpText(summary), nil
	}
}

func summaryPrompt(turns []session.Turn) []inference.Message {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "[user]: %s\n[assistant]: %s\n", t.CanonicalInput, t.Reply)
	}
	return []inference.Message{
		{
			Role:    "system",
			Content: "Summarize the following support conversation concisely: what the user needed, what was resolved, and any open follow-ups. Output a single paragraph.",
		},
		{
			Role:    "user",
			Content: b.String(),
		},
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
