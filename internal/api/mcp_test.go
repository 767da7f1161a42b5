package api

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mattsre/lore/internal/feedback"
	"github.com/mattsre/lore/internal/pipeline"
	"github.com/mattsre/lore/internal/storage"
)

func newTestMCPDeps(t *testing.T, asker Asker) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if asker == nil {
		asker = &fakeAsker{askFn: func(ctx context.Context, conversationID, question string) (storage.Turn, error) {
			if conversationID == "" {
				conversationID = "conv-new"
			}
			return storage.Turn{
				ID:             "turn-1",
				ConversationID: conversationID,
				Question:       question,
				Answer:         "Run terraform apply. [S1]",
				Citations:      []string{"chunk-a"},
			}, nil
		}}
	}

	return MCPDeps{
		Store:    store,
		Asker:    asker,
		Feedback: feedback.NewAggregator(store),
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_Ask(t *testing.T) {
	deps, _ := newTestMCPDeps(t, nil)
	handler := mcpAsk(deps)

	req := makeCallToolRequest("ask", map[string]interface{}{
		"question": "How do I deploy?",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	text := toolText(t, result)
	if !strings.Contains(text, "terraform apply") {
		t.Errorf("answer text missing, got: %s", text)
	}
	if !strings.Contains(text, "conversation_id: conv-new") {
		t.Errorf("conversation id missing, got: %s", text)
	}
	if !strings.Contains(text, "Sources: chunk-a") {
		t.Errorf("citations missing, got: %s", text)
	}
}

func TestMCPTool_Ask_MissingQuestion(t *testing.T) {
	deps, _ := newTestMCPDeps(t, nil)
	handler := mcpAsk(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing question")
	}
}

func TestMCPTool_IngestDocument(t *testing.T) {
	deps, store := newTestMCPDeps(t, nil)
	handler := mcpIngestDocument(deps)

	req := makeCallToolRequest("ingest_document", map[string]interface{}{
		"title":   "Runbook",
		"content": "# Deploys\nUse terraform.",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	docs, err := store.ListDocuments(10)
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("len(docs) = %d, want 1", len(docs))
	}
	if docs[0].Title != "Runbook" {
		t.Errorf("doc.Title = %q, want %q", docs[0].Title, "Runbook")
	}

	job, err := store.ClaimNextJob([]string{pipeline.JobIngestDocument})
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if job == nil {
		t.Fatal("no ingest job enqueued")
	}
}

func TestMCPTool_React(t *testing.T) {
	deps, store := newTestMCPDeps(t, nil)
	turn := seedTurn(t, store)
	handler := mcpReact(deps)

	req := makeCallToolRequest("react", map[string]interface{}{
		"turn_id": turn.ID,
		"kind":    "negative",
		"author":  "bob",
		"comment": "outdated",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	fbs, err := store.GetFeedback(turn.ID)
	if err != nil {
		t.Fatalf("GetFeedback failed: %v", err)
	}
	if len(fbs) != 1 {
		t.Fatalf("len(fbs) = %d, want 1", len(fbs))
	}
	if fbs[0].Kind != string(feedback.KindNegative) || fbs[0].Author != "bob" {
		t.Errorf("feedback = %+v, want negative by bob", fbs[0])
	}
}

func TestMCPTool_React_UnknownTurn(t *testing.T) {
	deps, _ := newTestMCPDeps(t, nil)
	handler := mcpReact(deps)

	req := makeCallToolRequest("react", map[string]interface{}{
		"turn_id": "missing",
		"kind":    "positive",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unknown turn")
	}
}
