package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"moodcam/internal/pipeline"
)

// ErrLogWrite marks a failed append
var ErrLogWrite = pipeline.ErrLogWrite

// SessionRecord represents one run of the pipeline
type SessionRecord struct {
	ID        string
	Source    string
	StartedAt time.Time
	EndedAt   *time.Time
}

// EntryRecord is a stored log entry
type EntryRecord struct {
	ID        int64
	SessionID string
	pipeline.LogEntry
}

// Log is a detection log backed by a database
type Log interface {
	pipeline.DetectionLog

	// StartSession creates a session row; later appends reference it
	StartSession(ctx context.Context, source string) (*SessionRecord, error)

	// Entries returns the newest entries of a session, oldest first
	Entries(ctx context.Context, sessionID string, limit int) ([]EntryRecord, error)
}

// Database handles SQLite database operations
type Database struct {
	db        *sql.DB
	mu        sync.Mutex
	sessionID string
	closeOnce sync.Once
	closeErr  error
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serializes writes
	db.SetMaxOpenConns(1)

	pragmas := []struct {
		stmt string
		name string
	}{
		{"PRAGMA journal_mode=WAL", "WAL mode"},
		{"PRAGMA synchronous=FULL", "synchronous commits"},
		{"PRAGMA foreign_keys=ON", "foreign keys"},
		{"PRAGMA busy_timeout=5000", "busy timeout"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable %s: %w", p.name, err)
		}
	}

	return &Database{db: db}, nil
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS emotion_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT REFERENCES sessions(id),
			timestamp TEXT NOT NULL,
			face_id INTEGER NOT NULL,
			emotion TEXT NOT NULL,
			confidence REAL NOT NULL,
			foreground_app TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emotion_logs_session ON emotion_logs(session_id, id)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// StartSession creates a session row and binds subsequent appends to it
func (d *Database) StartSession(ctx context.Context, source string) (*SessionRecord, error) {
	rec := &SessionRecord{
		ID:        uuid.New().String(),
		Source:    source,
		StartedAt: time.Now().UTC(),
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO sessions (id, source, started_at) VALUES (?, ?, ?)`,
		rec.ID, rec.Source, rec.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	d.mu.Lock()
	d.sessionID = rec.ID
	d.mu.Unlock()

	log.Printf("[Database] Session %s started (%s)", rec.ID, source)
	return rec, nil
}

func (d *Database) currentSession() sql.NullString {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sql.NullString{String: d.sessionID, Valid: d.sessionID != ""}
}

// Append inserts one entry. The row is committed when Append returns.
func (d *Database) Append(ctx context.Context, entry pipeline.LogEntry) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO emotion_logs (session_id, timestamp, face_id, emotion, confidence, foreground_app)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.currentSession(), entry.Timestamp, entry.SubjectIndex, entry.DominantLabel, entry.Confidence, entry.ContextLabel,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLogWrite, err)
	}
	return nil
}

// Entries returns up to limit of the newest entries for a session, oldest
// first. An empty sessionID selects all sessions; limit <= 0 means no limit.
func (d *Database) Entries(ctx context.Context, sessionID string, limit int) ([]EntryRecord, error) {
	query := `SELECT id, COALESCE(session_id, ''), timestamp, face_id, emotion, confidence, foreground_app
		FROM emotion_logs`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var out []EntryRecord
	for rows.Next() {
		var r EntryRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Timestamp, &r.SubjectIndex, &r.DominantLabel, &r.Confidence, &r.ContextLabel); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// GetSession returns a session by ID
func (d *Database) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var rec SessionRecord
	var ended sql.NullTime
	err := d.db.QueryRowContext(ctx,
		`SELECT id, source, started_at, ended_at FROM sessions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Source, &rec.StartedAt, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if ended.Valid {
		t := ended.Time
		rec.EndedAt = &t
	}
	return &rec, nil
}

// Close ends the current session and closes the database. Safe to call more than once.
func (d *Database) Close() error {
	d.closeOnce.Do(func() {
		if s := d.currentSession(); s.Valid {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := d.db.ExecContext(ctx,
				`UPDATE sessions SET ended_at = ? WHERE id = ?`, time.Now().UTC(), s.String,
			); err != nil {
				log.Printf("[Database] Failed to end session %s: %v", s.String, err)
			}
		}
		d.closeErr = d.db.Close()
	})
	return d.closeErr
}

var _ Log = (*Database)(nil)
