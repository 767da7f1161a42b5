package synthesis

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/mattsre/lore/internal/engine"
	"github.com/mattsre/lore/internal/retrieval"
	"github.com/mattsre/lore/internal/storage"
)

// NoGroundingMessage is the fixed response when retrieval produced nothing
// to ground an answer on.
const NoGroundingMessage = "I couldn't find anything in the knowledge base to answer that."

// GenerationError marks a model failure during answer synthesis.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Answer is a synthesized response with its grounding.
type Answer struct {
	Text string
	// Citations lists the chunk IDs the answer actually referenced, in
	// order of first reference.
	Citations []string
	// Used lists the chunk IDs packed into the prompt.
	Used []string
}

// Chatter is the chat completion surface the Synthesizer depends on.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Synthesizer turns a resolved question plus retrieved chunks into a cited
// answer.
type Synthesizer struct {
	client  Chatter
	model   string
	builder *PromptBuilder
}

// NewSynthesizer creates a Synthesizer using the given chat client, model
// name, and prompt builder.
func NewSynthesizer(client Chatter, model string, builder *PromptBuilder) *Synthesizer {
	if builder == nil {
		builder = NewPromptBuilder(0)
	}
	return &Synthesizer{client: client, model: model, builder: builder}
}

var sourceMarker = regexp.MustCompile(`\[S(\d+)\]`)

// Answer generates a grounded answer. With no chunks it returns the
// no-grounding message without calling the model. A transient model failure
// is retried once; then a GenerationError surfaces to the caller.
func (s *Synthesizer) Answer(ctx context.Context, question string, hits []retrieval.Hit, history []storage.Turn) (Answer, error) {
	if len(hits) == 0 {
		return Answer{Text: NoGroundingMessage}, nil
	}

	messages, grounding := s.builder.Build(question, hits, history)

	text, err := s.client.Chat(ctx, s.model, messages, nil)
	if err != nil && engine.Retryable(err) && ctx.Err() == nil {
		text, err = s.client.Chat(ctx, s.model, messages, nil)
	}
	if err != nil {
		return Answer{}, &GenerationError{Err: err}
	}

	a := Answer{Text: text, Citations: extractCitations(text, grounding)}
	for _, h := range grounding.Chunks {
		a.Used = append(a.Used, h.ChunkID)
	}
	return a, nil
}

// extractCitations maps [S#] markers in the answer back to chunk IDs, in
// order of first reference. Markers that do not correspond to a grounding
// chunk are ignored; the model cannot fabricate a citable source.
func extractCitations(text string, g Grounding) []string {
	var citations []string
	seen := make(map[string]bool)
	for _, m := range sourceMarker.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		h, ok := g.ChunkFor(n)
		if !ok || seen[h.ChunkID] {
			continue
		}
		seen[h.ChunkID] = true
		citations = append(citations, h.ChunkID)
	}
	return citations
}
