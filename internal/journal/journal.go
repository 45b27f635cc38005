// Package journal keeps a local, per-user SQLite log of what village
// sessions did: joins, claims, reservations, messages, completions.
//
// The journal is observability only. Nothing that decides lease ownership
// or message visibility reads it, and it is never shared between machines.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// FileName is the database file inside the journal directory.
const FileName = "journal.db"

// tsLayout is fixed width so stored timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DefaultLimit is how many events Recent returns when asked for none.
const DefaultLimit = 20

// MaxLimit caps Recent.
const MaxLimit = 200

// Event kinds recorded by the tool surface.
const (
	KindJoin      = "join"
	KindClaim     = "claim"
	KindDone      = "done"
	KindAdd       = "add"
	KindReserve   = "reserve"
	KindRelease   = "release"
	KindConflict  = "conflict"
	KindMessage   = "msg"
	KindBroadcast = "broadcast"
	KindCleanup   = "cleanup"
	KindSync      = "sync"
)

// ErrSessionNotFound is returned by EndSession for an unknown id.
var ErrSessionNotFound = errors.New("journal session not found")

// Session is one server or CLI run.
type Session struct {
	ID        string  `json:"id"`
	Agent     string  `json:"agent"`
	Workspace string  `json:"workspace"`
	Team      string  `json:"team"`
	StartedAt string  `json:"started_at"`
	EndedAt   *string `json:"ended_at,omitempty"`
}

// Event is one journal entry.
type Event struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	Agent     string `json:"agent"`
	Workspace string `json:"workspace"`
	Team      string `json:"team"`
	Kind      string `json:"kind"`
	Subject   string `json:"subject,omitempty"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Filter narrows Recent. Empty fields match everything.
type Filter struct {
	Agent     string
	Workspace string
	Kind      string
	SessionID string
}

// Stats holds aggregate journal counts.
type Stats struct {
	Sessions int            `json:"sessions"`
	Events   int            `json:"events"`
	Kinds    map[string]int `json:"kinds"`
}

// Config holds journal configuration.
type Config struct {
	DataDir string
}

// Store is the journal database.
type Store struct {
	db  *sql.DB
	cfg Config
}

// New opens (creating if needed) the journal in cfg.DataDir.
func New(cfg Config) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("journal: data dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("journal: create data dir: %w", err)
	}

	db, err := openDB("sqlite", filepath.Join(cfg.DataDir, FileName))
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: pragma %q: %w", p, err)
		}
	}

	// One connection keeps the per-connection pragmas in force.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migration: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return filepath.Join(s.cfg.DataDir, FileName)
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			agent      TEXT NOT NULL,
			workspace  TEXT NOT NULL,
			team       TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			ended_at   TEXT
		);

		CREATE TABLE IF NOT EXISTS events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			agent      TEXT NOT NULL,
			workspace  TEXT NOT NULL,
			team       TEXT NOT NULL DEFAULT '',
			kind       TEXT NOT NULL,
			subject    TEXT NOT NULL DEFAULT '',
			detail     TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_events_session   ON events(session_id);
		CREATE INDEX IF NOT EXISTS idx_events_agent     ON events(agent);
		CREATE INDEX IF NOT EXISTS idx_events_workspace ON events(workspace);
		CREATE INDEX IF NOT EXISTS idx_events_kind      ON events(kind);
	`)
	return err
}

func stamp() string {
	return timeNow().UTC().Format(tsLayout)
}

// StartSession opens a session and returns its id.
func (s *Store) StartSession(agent, workspace, team string) (string, error) {
	id := uuid.NewString()
	err := retryOp(defaultRetryConfig, func() error {
		_, err := s.db.Exec(
			`INSERT INTO sessions (id, agent, workspace, team, started_at) VALUES (?, ?, ?, ?, ?)`,
			id, agent, workspace, team, stamp(),
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("journal: start session: %w", err)
	}
	return id, nil
}

// EndSession stamps the session's end time.
func (s *Store) EndSession(id string) error {
	var n int64
	err := retryOp(defaultRetryConfig, func() error {
		res, err := s.db.Exec(`UPDATE sessions SET ended_at = ? WHERE id = ?`, stamp(), id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("journal: end session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// GetSession returns one session.
func (s *Store) GetSession(id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRow(
		`SELECT id, agent, workspace, team, started_at, ended_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Agent, &sess.Workspace, &sess.Team, &sess.StartedAt, &sess.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("journal: get session: %w", err)
	}
	return &sess, nil
}

// Record appends e and returns its id. CreatedAt is assigned here.
func (s *Store) Record(e Event) (int64, error) {
	if e.SessionID == "" || e.Kind == "" {
		return 0, errors.New("journal: session id and kind are required")
	}
	var id int64
	err := retryOp(defaultRetryConfig, func() error {
		res, err := s.db.Exec(
			`INSERT INTO events (session_id, agent, workspace, team, kind, subject, detail, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.SessionID, e.Agent, e.Workspace, e.Team, e.Kind, e.Subject, e.Detail, stamp(),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("journal: record %s: %w", e.Kind, err)
	}
	return id, nil
}

// Recent returns the newest events matching f, newest first.
func (s *Store) Recent(f Filter, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var where []string
	var args []any
	for _, c := range []struct{ col, val string }{
		{"agent", f.Agent},
		{"workspace", f.Workspace},
		{"kind", f.Kind},
		{"session_id", f.SessionID},
	} {
		if c.val != "" {
			where = append(where, c.col+" = ?")
			args = append(args, c.val)
		}
	}
	query := `SELECT id, session_id, agent, workspace, team, kind, subject, detail, created_at FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Agent, &e.Workspace, &e.Team, &e.Kind, &e.Subject, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Stats returns aggregate counts.
func (s *Store) Stats() (*Stats, error) {
	st := &Stats{Kinds: map[string]int{}}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&st.Sessions); err != nil {
		return nil, fmt.Errorf("journal: count sessions: %w", err)
	}
	rows, err := s.db.Query(`SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("journal: count events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("journal: scan count: %w", err)
		}
		st.Kinds[kind] = n
		st.Events += n
	}
	return st, rows.Err()
}

// Prune deletes events older than cutoff, and ended sessions left with no
// events. It returns the number of events deleted.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	ts := cutoff.UTC().Format(tsLayout)
	var n int64
	err := retryOp(defaultRetryConfig, func() error {
		res, err := s.db.Exec(`DELETE FROM events WHERE created_at < ?`, ts)
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = s.db.Exec(`
			DELETE FROM sessions
			WHERE ended_at IS NOT NULL
			  AND NOT EXISTS (SELECT 1 FROM events WHERE events.session_id = sessions.id)`)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return n, nil
}
