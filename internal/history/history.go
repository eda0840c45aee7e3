package history

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/droidpool/droidpool/internal/errors"
	_ "modernc.org/sqlite"
)

// Kind classifies a recorded event.
type Kind string

const (
	KindCheck        Kind = "check"
	KindFailover     Kind = "failover"
	KindFailoverFail Kind = "failover_failed"
	KindImport       Kind = "import"
	KindSwitch       Kind = "switch"
)

// Event is one recorded pool event.
type Event struct {
	ID           int64     `json:"id"`
	At           time.Time `json:"at"`
	CredentialID string    `json:"credential_id,omitempty"`
	Kind         Kind      `json:"kind"`
	Ratio        float64   `json:"ratio"`
	Detail       string    `json:"detail,omitempty"`
}

// History is a SQLite-backed event log with WAL mode enabled. It is
// thread-safe; database/sql serializes access.
type History struct {
	db            *sql.DB
	retentionDays int
}

// New opens (or creates) the history database.
func New(dbPath string, retentionDays int) (*History, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	if retentionDays <= 0 {
		retentionDays = 30
	}

	return &History{db: db, retentionDays: retentionDays}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at INTEGER NOT NULL,
			credential_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			ratio REAL NOT NULL DEFAULT -1,
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create events table", Err: err}
	}
	return nil
}

// Record appends an event. A zero At is stamped with the current time.
func (h *History) Record(e Event) error {
	if h == nil {
		return nil
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := h.db.Exec(
		`INSERT INTO events (at, credential_id, kind, ratio, detail) VALUES (?, ?, ?, ?, ?)`,
		at.UnixMilli(), e.CredentialID, string(e.Kind), e.Ratio, e.Detail,
	)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "insert event", Err: err}
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (h *History) Recent(limit int) ([]Event, error) {
	if h == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.Query(
		`SELECT id, at, credential_id, kind, ratio, detail FROM events ORDER BY at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "select recent events", Err: err}
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var atMillis int64
		var kind string
		if err := rows.Scan(&e.ID, &atMillis, &e.CredentialID, &kind, &e.Ratio, &e.Detail); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan event", Err: err}
		}
		e.At = time.UnixMilli(atMillis)
		e.Kind = Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune removes events older than the retention window.
func (h *History) Prune() (int64, error) {
	if h == nil {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -h.retentionDays).UnixMilli()
	res, err := h.db.Exec(`DELETE FROM events WHERE at < ?`, cutoff)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "prune events", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the database.
func (h *History) Close() error {
	if h == nil {
		return nil
	}
	return h.db.Close()
}
