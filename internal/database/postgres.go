package database

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"moodcam/internal/pipeline"
)

// PostgresLog stores detections in PostgreSQL. Every statement autocommits.
type PostgresLog struct {
	conn      *pgx.Conn
	mu        sync.Mutex
	sessionID string
	closed    bool
}

// NewPostgres connects and ensures the schema exists
func NewPostgres(ctx context.Context, connString string) (*PostgresLog, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &PostgresLog{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			source TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS emotion_logs (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID REFERENCES sessions(id),
			timestamp TEXT NOT NULL,
			face_id INT NOT NULL,
			emotion TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			foreground_app TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS emotion_logs_session_idx ON emotion_logs (session_id, id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

func (p *PostgresLog) StartSession(ctx context.Context, source string) (*SessionRecord, error) {
	rec := &SessionRecord{
		ID:        uuid.New().String(),
		Source:    source,
		StartedAt: time.Now().UTC(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.conn.Exec(ctx,
		`INSERT INTO sessions (id, source, started_at) VALUES ($1, $2, $3)`,
		rec.ID, rec.Source, rec.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	p.sessionID = rec.ID

	log.Printf("[Database] Session %s started (%s, postgres)", rec.ID, source)
	return rec, nil
}

func (p *PostgresLog) Append(ctx context.Context, entry pipeline.LogEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("%w: connection closed", ErrLogWrite)
	}

	var session *string
	if p.sessionID != "" {
		session = &p.sessionID
	}

	_, err := p.conn.Exec(ctx, `
		INSERT INTO emotion_logs (session_id, timestamp, face_id, emotion, confidence, foreground_app)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		session, entry.Timestamp, entry.SubjectIndex, entry.DominantLabel, entry.Confidence, entry.ContextLabel,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLogWrite, err)
	}
	return nil
}

func (p *PostgresLog) Entries(ctx context.Context, sessionID string, limit int) ([]EntryRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	query := `SELECT id, COALESCE(session_id::text, ''), timestamp, face_id, emotion, confidence, foreground_app
		FROM emotion_logs`
	var args []any
	if sessionID != "" {
		args = append(args, sessionID)
		query += fmt.Sprintf(` WHERE session_id = $%d`, len(args))
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := p.conn.Query(ctx, query, args...)
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

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close ends the session and terminates the connection. Safe to call more than once.
func (p *PostgresLog) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if p.sessionID != "" {
		if _, err := p.conn.Exec(ctx, `UPDATE sessions SET ended_at = NOW() WHERE id = $1`, p.sessionID); err != nil {
			log.Printf("[Database] Failed to end session %s: %v", p.sessionID, err)
		}
	}
	return p.conn.Close(ctx)
}

var _ Log = (*PostgresLog)(nil)
