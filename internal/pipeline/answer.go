package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattsre/lore/internal/convo"
	"github.com/mattsre/lore/internal/retrieval"
	"github.com/mattsre/lore/internal/storage"
	"github.com/mattsre/lore/internal/synthesis"
)

// ChunkSearcher is the retrieval surface the Answerer depends on.
type ChunkSearcher interface {
	Search(ctx context.Context, query string, k int, filter retrieval.Filter) ([]retrieval.Hit, error)
}

// AnswerSynthesizer produces a cited answer from retrieved chunks.
type AnswerSynthesizer interface {
	Answer(ctx context.Context, question string, hits []retrieval.Hit, history []storage.Turn) (synthesis.Answer, error)
}

// Answerer orchestrates the query path: follow-up resolution, hybrid
// retrieval, synthesis, and turn persistence. The whole sequence runs under
// the conversation's lock so concurrent turns for one conversation cannot
// interleave.
type Answerer struct {
	convos    *convo.Manager
	resolver  *convo.Resolver
	retriever ChunkSearcher
	synth     AnswerSynthesizer
	topK      int
}

// NewAnswerer creates an Answerer wired to all query-path components.
// topK controls how many chunks are retrieved (default 5 if <= 0).
func NewAnswerer(convos *convo.Manager, resolver *convo.Resolver, retriever ChunkSearcher, synth AnswerSynthesizer, topK int) *Answerer {
	if topK <= 0 {
		topK = 5
	}
	return &Answerer{convos: convos, resolver: resolver, retriever: retriever, synth: synth, topK: topK}
}

// Ask answers a question within a conversation, creating the conversation
// when conversationID is empty, and returns the persisted turn.
func (a *Answerer) Ask(ctx context.Context, conversationID, question string) (storage.Turn, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	unlock := a.convos.Lock(conversationID)
	defer unlock()

	conv, err := a.convos.Ensure(conversationID)
	if err != nil {
		return storage.Turn{}, err
	}
	history := a.convos.History(conv)

	start := time.Now()
	resolved := a.resolver.Resolve(ctx, question, history)

	hits, err := a.retriever.Search(ctx, resolved, a.topK, retrieval.Filter{})
	if err != nil {
		return storage.Turn{}, err
	}

	ans, err := a.synth.Answer(ctx, resolved, hits, history)
	if err != nil {
		return storage.Turn{}, err
	}

	turn, err := a.convos.Append(storage.Turn{
		ID:               uuid.NewString(),
		ConversationID:   conv.ID,
		Question:         question,
		ResolvedQuestion: resolved,
		ChunkIDs:         ans.Used,
		Answer:           ans.Text,
		Citations:        ans.Citations,
	})
	if err != nil {
		return storage.Turn{}, err
	}

	slog.Debug("question answered",
		"conversation_id", conv.ID,
		"turn", turn.Seq,
		"chunks", len(hits),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return turn, nil
}
