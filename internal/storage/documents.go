package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveDocument inserts a new document in pending state.
func (s *Store) SaveDocument(doc Document) error {
	now := time.Now().UTC().Format(time.RFC3339)
	status := doc.Status
	if status == "" {
		status = DocPending
	}
	version := doc.Version
	if version == 0 {
		version = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (id, title, source_type, content, status, version, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.SourceType, doc.Content, status, version, doc.LastError, now, now,
	)
	return err
}

// GetDocument returns a document including its raw content.
func (s *Store) GetDocument(id string) (Document, error) {
	var d Document
	var lastError sql.NullString
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, title, source_type, content, status, version, last_error, created_at, updated_at
		FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.Title, &d.SourceType, &d.Content, &d.Status, &d.Version, &lastError, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	d.LastError = lastError.String
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Document{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return d, nil
}

// ListDocuments returns documents newest-first, without content.
func (s *Store) ListDocuments(limit int) ([]Document, error) {
	rows, err := s.db.Query(`
		SELECT id, title, source_type, status, version, last_error, created_at, updated_at
		FROM documents ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var d Document
		var lastError sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&d.ID, &d.Title, &d.SourceType, &d.Status, &d.Version, &lastError, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		d.LastError = lastError.String
		if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// ReplaceDocumentContent stores new content for an existing document, bumps
// its version, and resets it to pending. Returns the new version.
func (s *Store) ReplaceDocumentContent(id, title, sourceType string, content []byte) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRow(`SELECT version FROM documents WHERE id = ?`, id).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	version++
	_, err = tx.Exec(`
		UPDATE documents SET title = ?, source_type = ?, content = ?, status = ?, version = ?, last_error = '', updated_at = ?
		WHERE id = ?`,
		title, sourceType, content, DocPending, version, now, id,
	)
	if err != nil {
		return 0, err
	}
	return version, tx.Commit()
}

// SetDocumentStatus records the outcome of an indexing run. A non-empty
// errMsg marks the document failed regardless of the status argument.
func (s *Store) SetDocumentStatus(id, status, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if errMsg != "" {
		status = DocFailed
	}
	res, err := s.db.Exec(`UPDATE documents SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, now, id)
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

// DeleteDocument removes the registry row. Chunk rows are removed separately
// by the index layer.
func (s *Store) DeleteDocument(id string) error {
	res, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
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
