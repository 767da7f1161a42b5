package convo

import (
	"errors"
	"sync"
	"time"

	"github.com/mattsre/lore/internal/storage"
)

// DefaultWindow is the inactivity window after which a conversation's
// history stops informing follow-up resolution. The record itself is kept
// for audit.
const DefaultWindow = 30 * time.Minute

// State is a conversation's lifecycle phase, derived from its turn count and
// last activity rather than stored.
type State int

const (
	StateEmpty State = iota
	StateActive
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Store is the persistence surface the Manager depends on.
type Store interface {
	GetConversation(id string) (storage.Conversation, error)
	CreateConversation(id string) (storage.Conversation, error)
	AppendTurn(t storage.Turn) (storage.Turn, error)
}

// Manager owns conversation lifecycle and per-conversation serialization.
// Callers hold the conversation's lock across their whole resolve-and-append
// sequence so two concurrent turns for the same conversation cannot
// interleave.
type Manager struct {
	store  Store
	window time.Duration
	now    func() time.Time
	locks  sync.Map // conversation ID -> *sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithWindow overrides the inactivity window.
func WithWindow(d time.Duration) Option {
	return func(m *Manager) { m.window = d }
}

// NewManager creates a Manager backed by the given store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{store: store, window: DefaultWindow, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lock acquires the conversation's mutex and returns the unlock function.
func (m *Manager) Lock(conversationID string) func() {
	mu, _ := m.locks.LoadOrStore(conversationID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

// Ensure loads the conversation, creating it when it does not exist yet.
func (m *Manager) Ensure(id string) (storage.Conversation, error) {
	c, err := m.store.GetConversation(id)
	if errors.Is(err, storage.ErrNotFound) {
		return m.store.CreateConversation(id)
	}
	return c, err
}

// Get loads an existing conversation.
func (m *Manager) Get(id string) (storage.Conversation, error) {
	return m.store.GetConversation(id)
}

// State classifies the conversation as of now.
func (m *Manager) State(c storage.Conversation) State {
	if len(c.Turns) == 0 {
		return StateEmpty
	}
	if m.now().Sub(c.LastActivity) > m.window {
		return StateExpired
	}
	return StateActive
}

// History returns the turns usable for follow-up resolution: all of them
// while the conversation is Active, none once it is Empty or Expired.
func (m *Manager) History(c storage.Conversation) []storage.Turn {
	if m.State(c) != StateActive {
		return nil
	}
	return c.Turns
}

// Append adds a turn. Prior turns are never touched; the store assigns the
// next sequence number and refreshes last activity.
func (m *Manager) Append(t storage.Turn) (storage.Turn, error) {
	return m.store.AppendTurn(t)
}
