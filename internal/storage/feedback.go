package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveFeedback records a reaction. The feedback table holds the active
// reaction per (turn, author), last write wins; every write is also appended
// to feedback_events for the audit trail.
func (s *Store) SaveFeedback(f Feedback) error {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM turns WHERE id = ?`, f.TurnID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	_, err = tx.Exec(`
		INSERT INTO feedback (turn_id, author, kind, comment, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(turn_id, author) DO UPDATE SET kind = excluded.kind, comment = excluded.comment, updated_at = excluded.updated_at`,
		f.TurnID, f.Author, f.Kind, f.Comment, now,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO feedback_events (id, turn_id, author, kind, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), f.TurnID, f.Author, f.Kind, f.Comment, now,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// GetFeedback returns the active reactions for a turn.
func (s *Store) GetFeedback(turnID string) ([]Feedback, error) {
	rows, err := s.db.Query(`
		SELECT turn_id, author, kind, comment, updated_at
		FROM feedback WHERE turn_id = ? ORDER BY author ASC`, turnID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Feedback
	for rows.Next() {
		var f Feedback
		var updatedAt string
		if err := rows.Scan(&f.TurnID, &f.Author, &f.Kind, &f.Comment, &updatedAt); err != nil {
			return nil, err
		}
		if f.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, f)
	}
	return results, rows.Err()
}

// CountFeedback tallies active reactions by kind, scoped to a single day
// (UTC, "2006-01-02") when day is non-empty.
func (s *Store) CountFeedback(day string) (map[string]int, error) {
	query := `SELECT kind, COUNT(*) FROM feedback GROUP BY kind`
	args := []any{}
	if day != "" {
		query = `SELECT kind, COUNT(*) FROM feedback WHERE substr(updated_at, 1, 10) = ? GROUP BY kind`
		args = append(args, day)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
