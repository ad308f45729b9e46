package convo

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultContextSize is the number of prior utterances handed to the
// language-completion collaborator when the caller does not say otherwise.
const DefaultContextSize = 10

// SnapshotTTL is how long a persisted conversation snapshot stays loadable.
const SnapshotTTL = 24 * time.Hour

// now is swapped out by tests that exercise the expiry boundary.
var now = time.Now

// Speaker identifies who produced an utterance.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Source records how the utterance entered the conversation.
type Source string

const (
	SourceVoice Source = "voice"
	SourceTyped Source = "typed"
)

// Utterance is one recognized chunk of user or agent speech/text.
// Append-only; never mutated after creation.
type Utterance struct {
	Speaker   Speaker
	Text      string
	Source    Source
	Timestamp time.Time
}

// Pair is the speaker/text shape included in completion requests.
type Pair struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Store is the ordered conversation log. The in-memory list is authoritative
// for the session's lifetime; every append also snapshots to SQLite so a
// restarted session within the TTL resumes the same conversation.
type Store struct {
	mu         sync.Mutex
	utterances []Utterance
	db         *sql.DB
	ttl        time.Duration
}

// NewMemory returns a store with no persistence, for tests and ephemeral use.
func NewMemory() *Store { return &Store{ttl: SnapshotTTL} }

// Open opens (creating if needed) the snapshot database at dbPath and loads
// the prior conversation unless the snapshot has expired.
func Open(dbPath string, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = SnapshotTTL
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open snapshot database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping snapshot database: %w", err)
	}
	s := &Store{db: db, ttl: ttl}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS utterances (
		pos INTEGER PRIMARY KEY AUTOINCREMENT,
		speaker TEXT NOT NULL,
		text TEXT NOT NULL,
		source TEXT NOT NULL,
		ts INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS snapshot_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		saved_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create snapshot schema: %w", err)
	}
	return nil
}

// load restores the snapshot, or clears it when older than the TTL.
func (s *Store) load() error {
	var savedAtMs int64
	err := s.db.QueryRow(`SELECT saved_at FROM snapshot_meta WHERE id = 1`).Scan(&savedAtMs)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot age: %w", err)
	}
	age := now().Sub(time.UnixMilli(savedAtMs))
	if age > s.ttl {
		log.Printf("conversation snapshot expired (age %s), starting fresh", age.Round(time.Minute))
		return s.clearLocked()
	}

	rows, err := s.db.Query(`SELECT speaker, text, source, ts FROM utterances ORDER BY pos`)
	if err != nil {
		return fmt.Errorf("load snapshot rows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u Utterance
		var tsMs int64
		if err := rows.Scan((*string)(&u.Speaker), &u.Text, (*string)(&u.Source), &tsMs); err != nil {
			return fmt.Errorf("scan snapshot row: %w", err)
		}
		u.Timestamp = time.UnixMilli(tsMs)
		s.utterances = append(s.utterances, u)
	}
	return rows.Err()
}

func (s *Store) clearLocked() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec(`DELETE FROM utterances; DELETE FROM snapshot_meta;`); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

// Append adds one utterance, preserving arrival order, and snapshots it.
// Persistence failures are logged, never fatal: the in-memory log is the
// source of truth for the running session.
func (s *Store) Append(u Utterance) {
	if u.Timestamp.IsZero() {
		u.Timestamp = now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utterances = append(s.utterances, u)
	if s.db == nil {
		return
	}
	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("conversation snapshot append: %v", err)
		return
	}
	if _, err := tx.Exec(`INSERT INTO utterances (speaker, text, source, ts) VALUES (?, ?, ?, ?)`,
		string(u.Speaker), u.Text, string(u.Source), u.Timestamp.UnixMilli()); err != nil {
		_ = tx.Rollback()
		log.Printf("conversation snapshot append: %v", err)
		return
	}
	if _, err := tx.Exec(`INSERT INTO snapshot_meta (id, saved_at) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET saved_at = excluded.saved_at`, now().UnixMilli()); err != nil {
		_ = tx.Rollback()
		log.Printf("conversation snapshot touch: %v", err)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("conversation snapshot commit: %v", err)
	}
}

// RecentContext returns the last n utterances, oldest first, as speaker/text
// pairs. n <= 0 selects DefaultContextSize.
func (s *Store) RecentContext(n int) []Pair {
	if n <= 0 {
		n = DefaultContextSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	start := len(s.utterances) - n
	if start < 0 {
		start = 0
	}
	out := make([]Pair, 0, len(s.utterances)-start)
	for _, u := range s.utterances[start:] {
		out = append(out, Pair{Speaker: u.Speaker, Text: u.Text})
	}
	return out
}

// All returns a copy of the full ordered log.
func (s *Store) All() []Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Utterance, len(s.utterances))
	copy(out, s.utterances)
	return out
}

// Len reports the number of utterances recorded.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.utterances)
}

// Close releases the snapshot database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
