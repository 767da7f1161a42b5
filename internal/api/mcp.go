package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mattsre/lore/internal/chunker"
	"github.com/mattsre/lore/internal/feedback"
	"github.com/mattsre/lore/internal/pipeline"
	"github.com/mattsre/lore/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Asker    Asker
	Feedback *feedback.Aggregator
}

// NewMCPServer creates an MCP server exposing the knowledge base to chat
// surfaces: ask a question, ingest a document, react to an answer.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"lore",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("lore — team knowledge base with grounded, cited answers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the knowledge base a question and get a grounded, cited answer."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("conversation_id", mcp.Description("Conversation to continue; omit to start a new one")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("ingest_document",
			mcp.WithDescription("Add a document to the knowledge base. Indexing happens asynchronously."),
			mcp.WithString("content", mcp.Description("The document text"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Title for the document")),
			mcp.WithString("source_type", mcp.Description("One of markdown, html (default markdown)")),
		),
		mcpIngestDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("react",
			mcp.WithDescription("Record a reaction to an answer turn."),
			mcp.WithString("turn_id", mcp.Description("ID of the answer turn"), mcp.Required()),
			mcp.WithString("kind", mcp.Description("One of positive, negative, neutral, removed"), mcp.Required()),
			mcp.WithString("author", mcp.Description("Who is reacting (default mcp)")),
			mcp.WithString("comment", mcp.Description("Optional free-form comment")),
		),
		mcpReact(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		conversationID := req.GetString("conversation_id", "")

		turn, err := deps.Asker.Ask(ctx, conversationID, question)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		var b strings.Builder
		b.WriteString(turn.Answer)
		if len(turn.Citations) > 0 {
			b.WriteString("\n\nSources: ")
			b.WriteString(strings.Join(turn.Citations, ", "))
		}
		fmt.Fprintf(&b, "\n\nconversation_id: %s\nturn_id: %s", turn.ConversationID, turn.ID)

		return mcpText(b.String()), nil
	}
}

func mcpIngestDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		title := req.GetString("title", "")
		sourceType := req.GetString("source_type", chunker.SourceMarkdown)

		docID := uuid.NewString()
		doc := storage.Document{
			ID:         docID,
			Title:      title,
			SourceType: sourceType,
			Content:    []byte(content),
		}
		if err := deps.Store.SaveDocument(doc); err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}

		if err := pipeline.EnqueueIngest(deps.Store, docID); err != nil {
			return mcpError(fmt.Sprintf("saved document but failed to queue indexing: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Queued document %s", docID)), nil
	}
}

func mcpReact(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		turnID, err := req.RequireString("turn_id")
		if err != nil {
			return mcpError("turn_id is required"), nil
		}
		kind, err := req.RequireString("kind")
		if err != nil {
			return mcpError("kind is required"), nil
		}
		author := req.GetString("author", "mcp")
		comment := req.GetString("comment", "")

		fb, err := deps.Feedback.Record(turnID, author, feedback.Kind(kind), comment)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record reaction: %v", err)), nil
		}

		b, err := json.Marshal(fb)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal reaction: %v", err)), nil
		}
		return mcpText(string(b)), nil
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
