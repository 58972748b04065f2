package suggestion

import (
	"database/sql"
	"errors"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var ErrNotFound = errors.New("suggestion: not found")

// Store owns the Suggestion entity and is the only place suggestion status
// is persisted or mutated. Two backends, file JSON and postgres, behind one
// surface; the per-id locks serialize whole operations (refine, generate,
// reject, redeploy) so at most one mutation is in flight per suggestion.
type Store struct {
	path string
	db   *sql.DB

	loadOnce sync.Once
	mu       sync.RWMutex
	byID     map[string]Suggestion

	schemaOnce sync.Once
	schemaErr  error

	opMu  sync.Mutex
	opLks map[string]*sync.Mutex
}

func New(path string) *Store {
	return &Store{
		path:  path,
		byID:  make(map[string]Suggestion),
		opLks: make(map[string]*sync.Mutex),
	}
}

func NewPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{
		db:    db,
		byID:  make(map[string]Suggestion),
		opLks: make(map[string]*sync.Mutex),
	}, nil
}

// Open prefers postgres when a DSN is configured and falls back to the
// file backend at path.
func Open(path, dsn string) *Store {
	if strings.TrimSpace(dsn) == "" {
		return New(path)
	}
	s, err := NewPostgres(dsn)
	if err != nil {
		return New(path)
	}
	return s
}

// Acquire takes the per-id operation lock and returns its release func.
// Callers hold it across the whole mutation, including generation and
// platform calls, so concurrent requests for the same id serialize while
// different ids proceed in parallel.
func (s *Store) Acquire(id string) func() {
	id = strings.TrimSpace(id)
	s.opMu.Lock()
	lk, ok := s.opLks[id]
	if !ok {
		lk = &sync.Mutex{}
		s.opLks[id] = lk
	}
	s.opMu.Unlock()
	lk.Lock()
	return lk.Unlock
}

func (s *Store) Get(id string) (Suggestion, bool) {
	if s == nil {
		return Suggestion{}, false
	}
	if s.db != nil {
		return s.getDB(id)
	}
	return s.getFile(id)
}

func (s *Store) Put(sg Suggestion) error {
	if s == nil {
		return nil
	}
	if s.db != nil {
		return s.putDB(sg)
	}
	return s.putFile(sg)
}

// Update applies mutate under the store's write path. If mutate returns an
// error nothing is persisted, which is what makes generate/redeploy writes
// all-or-nothing for the caller.
func (s *Store) Update(id string, mutate func(*Suggestion) error) (Suggestion, error) {
	if s == nil {
		return Suggestion{}, ErrNotFound
	}
	if s.db != nil {
		return s.updateDB(id, mutate)
	}
	return s.updateFile(id, mutate)
}

func (s *Store) List() []Suggestion {
	if s == nil {
		return nil
	}
	if s.db != nil {
		return s.listDB()
	}
	return s.listFile()
}

func (s *Store) Delete(id string) error {
	if s == nil {
		return nil
	}
	if s.db != nil {
		return s.deleteDB(id)
	}
	return s.deleteFile(id)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
