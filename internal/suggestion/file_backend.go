package suggestion

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"time"

	"suggestify/internal/safeio"
)

func (s *Store) ensureLoadedFile() {
	s.loadOnce.Do(func() {
		b, err := os.ReadFile(s.path)
		if err != nil {
			return
		}
		var rows []Suggestion
		if err := json.Unmarshal(b, &rows); err != nil {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, row := range rows {
			id := strings.TrimSpace(row.ID)
			if id == "" {
				continue
			}
			s.byID[id] = normalize(row)
		}
	})
}

func (s *Store) saveFileLocked() error {
	rows := make([]Suggestion, 0, len(s.byID))
	for _, sg := range s.byID {
		rows = append(rows, sg)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	b, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	return safeio.WriteFileAtomic(s.path, b, 0o644)
}

func (s *Store) getFile(id string) (Suggestion, bool) {
	s.ensureLoadedFile()
	id = strings.TrimSpace(id)
	if id == "" {
		return Suggestion{}, false
	}
	s.mu.RLock()
	sg, ok := s.byID[id]
	s.mu.RUnlock()
	return sg, ok
}

func (s *Store) putFile(sg Suggestion) error {
	s.ensureLoadedFile()
	n := normalize(sg)
	if n.ID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[n.ID] = n
	return s.saveFileLocked()
}

func (s *Store) updateFile(id string, mutate func(*Suggestion) error) (Suggestion, error) {
	s.ensureLoadedFile()
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[id]
	if !ok {
		return Suggestion{}, ErrNotFound
	}
	next := cur
	if err := mutate(&next); err != nil {
		return Suggestion{}, err
	}
	next.ID = id
	next.UpdatedAt = time.Now().UTC()
	s.byID[id] = next
	if err := s.saveFileLocked(); err != nil {
		// Keep the in-memory write; the next successful save persists it.
		return next, nil
	}
	return next, nil
}

func (s *Store) listFile() []Suggestion {
	s.ensureLoadedFile()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Suggestion, 0, len(s.byID))
	for _, sg := range s.byID {
		out = append(out, sg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Store) deleteFile(id string) error {
	s.ensureLoadedFile()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, strings.TrimSpace(id))
	return s.saveFileLocked()
}
