package convo

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mattsre/lore/internal/storage"
)

func testManager(t *testing.T, opts ...Option) (*Manager, *storage.Store) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewManager(s, opts...), s
}

func appendTestTurn(t *testing.T, m *Manager, conversationID, question string) storage.Turn {
	t.Helper()
	turn, err := m.Append(storage.Turn{
		ID:               uuid.NewString(),
		ConversationID:   conversationID,
		Question:         question,
		ResolvedQuestion: question,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return turn
}

func TestEnsure_CreatesThenLoads(t *testing.T) {
	m, _ := testManager(t)
	id := uuid.NewString()

	c, err := m.Ensure(id)
	if err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	if c.ID != id {
		t.Errorf("ID: got %q, want %q", c.ID, id)
	}

	appendTestTurn(t, m, id, "q1")

	c, err = m.Ensure(id)
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if len(c.Turns) != 1 {
		t.Errorf("turns: got %d, want 1", len(c.Turns))
	}
}

func TestState_Transitions(t *testing.T) {
	m, _ := testManager(t)
	id := uuid.NewString()

	c, err := m.Ensure(id)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if got := m.State(c); got != StateEmpty {
		t.Errorf("fresh conversation: got %v, want empty", got)
	}

	appendTestTurn(t, m, id, "q1")
	c, err = m.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := m.State(c); got != StateActive {
		t.Errorf("after turn: got %v, want active", got)
	}

	m.now = func() time.Time { return time.Now().Add(DefaultWindow + time.Minute) }
	if got := m.State(c); got != StateExpired {
		t.Errorf("after window: got %v, want expired", got)
	}
}

func TestHistory_EmptyOnceExpired(t *testing.T) {
	m, _ := testManager(t)
	id := uuid.NewString()

	if _, err := m.Ensure(id); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	appendTestTurn(t, m, id, "q1")

	c, err := m.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := m.History(c); len(got) != 1 {
		t.Fatalf("active history: got %d turns, want 1", len(got))
	}

	m.now = func() time.Time { return time.Now().Add(DefaultWindow + time.Minute) }
	if got := m.History(c); got != nil {
		t.Errorf("expired history: got %v, want nil", got)
	}
}

func TestLock_SerializesSameConversation(t *testing.T) {
	m, _ := testManager(t)

	var inCritical, maxInCritical int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("conv-1")
			defer unlock()

			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxInCritical != 1 {
		t.Errorf("max concurrent holders: got %d, want 1", maxInCritical)
	}
}
