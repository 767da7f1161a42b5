package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattsre/lore/internal/engine"
	"github.com/mattsre/lore/internal/storage"
)

const resolveTimeout = 3 * time.Second

// historyDepth is how many recent turns inform follow-up resolution.
const historyDepth = 3

// Chatter is the chat completion surface the Resolver depends on.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Resolver rewrites elliptical follow-up questions ("what about day one?")
// into standalone questions using recent turns as context.
type Resolver struct {
	client Chatter
	model  string
}

// NewResolver creates a Resolver using the given chat client and model name.
func NewResolver(client Chatter, model string) *Resolver {
	return &Resolver{client: client, model: model}
}

// Resolve returns the standalone form of question. With no usable history it
// is the identity function. On any failure (timeout, malformed JSON, engine
// error) it falls back to the raw question — answering must not block on
// resolution.
func (r *Resolver) Resolve(ctx context.Context, question string, history []storage.Turn) string {
	if question == "" || len(history) == 0 {
		return question
	}

	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	raw, err := r.client.Chat(ctx, r.model, buildResolvePrompt(question, history), resolveSchema())
	if err != nil {
		slog.Warn("follow-up resolution chat failed", "error", err)
		return question
	}

	var result struct {
		ResolvedQuestion string `json:"resolved_question"`
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		slog.Warn("failed to unmarshal resolved question", "error", err, "response", raw)
		return question
	}
	if strings.TrimSpace(result.ResolvedQuestion) == "" {
		return question
	}
	return result.ResolvedQuestion
}

const resolveSystemPrompt = `You rewrite follow-up questions so they can be answered standalone. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Rules:
- Replace pronouns and elisions ("it", "that one", "what about X") with the concrete subject from the conversation.
- Keep the user's intent and wording otherwise unchanged.
- If the question is already standalone, return it verbatim.`

// buildResolvePrompt constructs the chat messages for follow-up resolution.
func buildResolvePrompt(question string, history []storage.Turn) []engine.Message {
	if len(history) > historyDepth {
		history = history[len(history)-historyDepth:]
	}

	var sb strings.Builder
	sb.WriteString("Conversation so far:\n")
	for _, t := range history {
		fmt.Fprintf(&sb, "Q: %s\nA: %s\n", t.Question, t.Answer)
	}
	fmt.Fprintf(&sb, "\nNew question: %s", question)

	return []engine.Message{
		{Role: "system", Content: resolveSystemPrompt},
		{Role: "user", Content: sb.String()},
	}
}

// resolveSchema returns the JSON schema for structured resolver output.
func resolveSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"resolved_question": {Type: "string", Description: "The question rewritten to stand alone"},
		},
		Required: []string{"resolved_question"},
	}
}
