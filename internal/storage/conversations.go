package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateConversation inserts an empty conversation.
func (s *Store) CreateConversation(id string) (Conversation, error) {
	now := time.Now().UTC()
	ts := now.Format(time.RFC3339)
	_, err := s.db.Exec(`INSERT INTO conversations (id, created_at, last_activity) VALUES (?, ?, ?)`, id, ts, ts)
	if err != nil {
		return Conversation{}, err
	}
	return Conversation{ID: id, CreatedAt: now, LastActivity: now}, nil
}

// GetConversation returns a conversation with its turns in seq order.
func (s *Store) GetConversation(id string) (Conversation, error) {
	var c Conversation
	var createdAt, lastActivity string
	err := s.db.QueryRow(`SELECT id, created_at, last_activity FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &createdAt, &lastActivity)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.LastActivity, err = time.Parse(time.RFC3339, lastActivity); err != nil {
		return Conversation{}, fmt.Errorf("parsing last_activity: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT id, conversation_id, seq, question, resolved_question, chunk_ids, answer, citations, created_at
		FROM turns WHERE conversation_id = ? ORDER BY seq ASC`, id,
	)
	if err != nil {
		return Conversation{}, err
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return Conversation{}, err
		}
		c.Turns = append(c.Turns, t)
	}
	return c, rows.Err()
}

// AppendTurn adds a turn with the next sequence number and bumps the
// conversation's last_activity. The caller serializes appends per
// conversation; the unique (conversation_id, seq) index backstops races.
func (s *Store) AppendTurn(t Turn) (Turn, error) {
	now := time.Now().UTC()
	ts := now.Format(time.RFC3339)

	chunkIDs, err := json.Marshal(t.ChunkIDs)
	if err != nil {
		return Turn{}, fmt.Errorf("marshaling chunk ids: %w", err)
	}
	citations, err := json.Marshal(t.Citations)
	if err != nil {
		return Turn{}, fmt.Errorf("marshaling citations: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Turn{}, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM conversations WHERE id = ?`, t.ConversationID).Scan(&exists); err != nil {
		return Turn{}, err
	}
	if exists == 0 {
		return Turn{}, ErrNotFound
	}

	var seq int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE conversation_id = ?`, t.ConversationID).Scan(&seq); err != nil {
		return Turn{}, err
	}

	_, err = tx.Exec(`
		INSERT INTO turns (id, conversation_id, seq, question, resolved_question, chunk_ids, answer, citations, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ConversationID, seq, t.Question, t.ResolvedQuestion, string(chunkIDs), t.Answer, string(citations), ts,
	)
	if err != nil {
		return Turn{}, err
	}

	if _, err := tx.Exec(`UPDATE conversations SET last_activity = ? WHERE id = ?`, ts, t.ConversationID); err != nil {
		return Turn{}, err
	}
	if err := tx.Commit(); err != nil {
		return Turn{}, err
	}

	t.Seq = seq
	t.CreatedAt = now
	return t, nil
}

// GetTurn returns a single turn by id.
func (s *Store) GetTurn(id string) (Turn, error) {
	row := s.db.QueryRow(`
		SELECT id, conversation_id, seq, question, resolved_question, chunk_ids, answer, citations, created_at
		FROM turns WHERE id = ?`, id,
	)
	t, err := scanTurn(row)
	if err == sql.ErrNoRows {
		return Turn{}, ErrNotFound
	}
	return t, err
}

// TouchConversation bumps last_activity to now.
func (s *Store) TouchConversation(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE conversations SET last_activity = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(row rowScanner) (Turn, error) {
	var t Turn
	var chunkIDs, citations, createdAt string
	err := row.Scan(&t.ID, &t.ConversationID, &t.Seq, &t.Question, &t.ResolvedQuestion, &chunkIDs, &t.Answer, &citations, &createdAt)
	if err != nil {
		return Turn{}, err
	}
	if err := json.Unmarshal([]byte(chunkIDs), &t.ChunkIDs); err != nil {
		return Turn{}, fmt.Errorf("unmarshaling chunk ids: %w", err)
	}
	if err := json.Unmarshal([]byte(citations), &t.Citations); err != nil {
		return Turn{}, fmt.Errorf("unmarshaling citations: %w", err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Turn{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}
