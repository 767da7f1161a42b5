package feedback

import (
	"fmt"

	"github.com/mattsre/lore/internal/storage"
)

// Kind is a reaction category. KindRemoved models retraction: it supersedes
// the author's prior reaction in the aggregates while the event history
// keeps the full trail.
type Kind string

const (
	KindPositive Kind = "positive"
	KindNegative Kind = "negative"
	KindNeutral  Kind = "neutral"
	KindRemoved  Kind = "removed"
)

// Valid reports whether k is a known reaction kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPositive, KindNegative, KindNeutral, KindRemoved:
		return true
	}
	return false
}

// Stats holds aggregate reaction counts. Fields are always present so a
// window with no feedback reports explicit zeros.
type Stats struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
	Removed  int `json:"removed"`
	Total    int `json:"total"`
}

// Store is the persistence surface the Aggregator depends on.
type Store interface {
	SaveFeedback(f storage.Feedback) error
	GetFeedback(turnID string) ([]storage.Feedback, error)
	CountFeedback(day string) (map[string]int, error)
}

// Aggregator records reactions against answers and computes aggregate
// statistics. Last write wins per (turn, author).
type Aggregator struct {
	store Store
}

// NewAggregator creates an Aggregator backed by the given store.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// Record saves a reaction, superseding the author's prior reaction on the
// same turn.
func (a *Aggregator) Record(turnID, author string, kind Kind, comment string) (storage.Feedback, error) {
	if turnID == "" || author == "" {
		return storage.Feedback{}, fmt.Errorf("turn and author are required")
	}
	if !kind.Valid() {
		return storage.Feedback{}, fmt.Errorf("unknown feedback kind %q", kind)
	}

	f := storage.Feedback{TurnID: turnID, Author: author, Kind: string(kind), Comment: comment}
	if err := a.store.SaveFeedback(f); err != nil {
		return storage.Feedback{}, err
	}
	return f, nil
}

// ForTurn returns the active reactions on a turn.
func (a *Aggregator) ForTurn(turnID string) ([]storage.Feedback, error) {
	return a.store.GetFeedback(turnID)
}

// Stats aggregates active reactions by kind. day scopes the window to one
// UTC day ("2006-01-02"); empty means all time.
func (a *Aggregator) Stats(day string) (Stats, error) {
	counts, err := a.store.CountFeedback(day)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{
		Positive: counts[string(KindPositive)],
		Negative: counts[string(KindNegative)],
		Neutral:  counts[string(KindNeutral)],
		Removed:  counts[string(KindRemoved)],
	}
	s.Total = s.Positive + s.Negative + s.Neutral
	return s, nil
}
