package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document parse statuses.
const (
	DocPending = "pending"
	DocIndexed = "indexed"
	DocFailed  = "failed"
)

// Document is an uploaded source document. Content is immutable for a given
// version; re-upload supersedes it by bumping the version.
type Document struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	SourceType string    `json:"source_type"`
	Content    []byte    `json:"-"`
	Status     string    `json:"status"`
	Version    int       `json:"version"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Conversation groups an ordered sequence of turns.
type Conversation struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Turns        []Turn    `json:"turns"`
}

// Turn is one question/answer exchange. Immutable once created.
type Turn struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversation_id"`
	Seq              int       `json:"seq"`
	Question         string    `json:"question"`
	ResolvedQuestion string    `json:"resolved_question"`
	ChunkIDs         []string  `json:"chunk_ids"`
	Answer           string    `json:"answer"`
	Citations        []string  `json:"citations"`
	CreatedAt        time.Time `json:"created_at"`
}

// Feedback is the active reaction of one author on one turn. A later
// feedback from the same author supersedes the prior one; the full history
// lives in feedback_events.
type Feedback struct {
	TurnID    string    `json:"turn_id"`
	Author    string    `json:"author"`
	Kind      string    `json:"kind"`
	Comment   string    `json:"comment,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Job is one unit of queued background work.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
