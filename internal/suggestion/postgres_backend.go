package suggestion

import (
	"encoding/json"
	"strings"
	"time"
)

func (s *Store) ensureSchema() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS suggestions (
  suggestion_id TEXT PRIMARY KEY,
  status TEXT NOT NULL DEFAULT 'draft',
  doc JSONB NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
  updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_suggestions_status ON suggestions (status);
`)
	})
	return s.schemaErr
}

func decodeDoc(raw []byte) (Suggestion, bool) {
	var sg Suggestion
	if err := json.Unmarshal(raw, &sg); err != nil {
		return Suggestion{}, false
	}
	return normalize(sg), true
}

func (s *Store) getDB(id string) (Suggestion, bool) {
	if err := s.ensureSchema(); err != nil {
		return Suggestion{}, false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Suggestion{}, false
	}
	var raw []byte
	err := s.db.QueryRow(`SELECT doc FROM suggestions WHERE suggestion_id = $1`, id).Scan(&raw)
	if err != nil {
		return Suggestion{}, false
	}
	return decodeDoc(raw)
}

func (s *Store) putDB(sg Suggestion) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	n := normalize(sg)
	if n.ID == "" {
		return nil
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
INSERT INTO suggestions (suggestion_id, status, doc, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (suggestion_id)
DO UPDATE SET status = EXCLUDED.status, doc = EXCLUDED.doc, updated_at = NOW()`,
		n.ID, string(n.Status), raw)
	return err
}

func (s *Store) updateDB(id string, mutate func(*Suggestion) error) (Suggestion, error) {
	if err := s.ensureSchema(); err != nil {
		return Suggestion{}, err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return Suggestion{}, err
	}
	defer func() { _ = tx.Rollback() }()

	id = strings.TrimSpace(id)
	var raw []byte
	if err := tx.QueryRow(`SELECT doc FROM suggestions WHERE suggestion_id = $1 FOR UPDATE`, id).Scan(&raw); err != nil {
		return Suggestion{}, ErrNotFound
	}
	cur, ok := decodeDoc(raw)
	if !ok {
		return Suggestion{}, ErrNotFound
	}
	next := cur
	if err := mutate(&next); err != nil {
		return Suggestion{}, err
	}
	next.ID = id
	next.UpdatedAt = time.Now().UTC()
	out, err := json.Marshal(next)
	if err != nil {
		return Suggestion{}, err
	}
	if _, err := tx.Exec(`
UPDATE suggestions SET status = $2, doc = $3, updated_at = NOW()
WHERE suggestion_id = $1`, id, string(next.Status), out); err != nil {
		return Suggestion{}, err
	}
	if err := tx.Commit(); err != nil {
		return Suggestion{}, err
	}
	return next, nil
}

func (s *Store) listDB() []Suggestion {
	if err := s.ensureSchema(); err != nil {
		return nil
	}
	rows, err := s.db.Query(`SELECT doc FROM suggestions ORDER BY created_at DESC`)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []Suggestion
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			continue
		}
		if sg, ok := decodeDoc(raw); ok {
			out = append(out, sg)
		}
	}
	return out
}

func (s *Store) deleteDB(id string) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM suggestions WHERE suggestion_id = $1`, strings.TrimSpace(id))
	return err
}
