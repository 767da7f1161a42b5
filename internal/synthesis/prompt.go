package synthesis

import (
	"fmt"
	"strings"

	"github.com/mattsre/lore/internal/engine"
	"github.com/mattsre/lore/internal/retrieval"
	"github.com/mattsre/lore/internal/storage"
)

const defaultContextBudget = 6000

// historyDepth is how many recent turns are replayed into the prompt.
const historyDepth = 3

// Grounding is the context actually packed into a prompt: the chunks that
// fit the budget, in rank order, with their [S#] labels.
type Grounding struct {
	Chunks []retrieval.Hit
}

// Label returns the source marker for the i-th grounding chunk.
func (g Grounding) Label(i int) string {
	return fmt.Sprintf("[S%d]", i+1)
}

// ChunkFor maps a 1-based source number back to its chunk, as referenced by
// a [S#] marker in the answer.
func (g Grounding) ChunkFor(n int) (retrieval.Hit, bool) {
	if n < 1 || n > len(g.Chunks) {
		return retrieval.Hit{}, false
	}
	return g.Chunks[n-1], true
}

// PromptBuilder assembles grounded prompts from retrieved chunks and
// conversation history, bounded by a character budget.
type PromptBuilder struct {
	ContextBudget int
}

// NewPromptBuilder creates a PromptBuilder with the given character budget
// for injected chunk text. If budget <= 0, the default (6000) is used.
func NewPromptBuilder(budget int) *PromptBuilder {
	if budget <= 0 {
		budget = defaultContextBudget
	}
	return &PromptBuilder{ContextBudget: budget}
}

const answerSystemPrompt = `You answer questions using ONLY the provided sources. Each source is labeled [S1], [S2], and so on.

Rules:
- Cite a source marker like [S1] immediately after every claim it supports.
- Use only the provided sources. If they do not contain the answer, say so.
- Be concise and direct.`

// Build packs the highest-ranked chunks into the budget and returns the chat
// messages plus the grounding that was actually used. Chunks are dropped
// whole, lowest rank first; a chunk is never truncated mid-text.
func (b *PromptBuilder) Build(question string, hits []retrieval.Hit, history []storage.Turn) ([]engine.Message, Grounding) {
	var g Grounding
	remaining := b.ContextBudget
	for _, h := range hits {
		if len(h.Text) > remaining {
			continue
		}
		g.Chunks = append(g.Chunks, h)
		remaining -= len(h.Text)
	}

	var sb strings.Builder
	sb.WriteString("Sources:\n")
	for i, h := range g.Chunks {
		fmt.Fprintf(&sb, "%s %s\n\n", g.Label(i), h.Text)
	}
	fmt.Fprintf(&sb, "Question: %s", question)

	messages := []engine.Message{{Role: "system", Content: answerSystemPrompt}}
	if len(history) > historyDepth {
		history = history[len(history)-historyDepth:]
	}
	for _, t := range history {
		messages = append(messages,
			engine.Message{Role: "user", Content: t.Question},
			engine.Message{Role: "assistant", Content: t.Answer},
		)
	}
	messages = append(messages, engine.Message{Role: "user", Content: sb.String()})

	return messages, g
}
