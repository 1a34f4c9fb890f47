package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/runway/internal/observability"
	"github.com/harun/runway/internal/tracing"
	"github.com/harun/runway/pkg/event"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	app_name   TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	session_id TEXT NOT NULL,
	state      TEXT NOT NULL DEFAULT '{}',
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (app_name, user_id, session_id)
);

CREATE TABLE IF NOT EXISTS events (
	app_name   TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	PRIMARY KEY (app_name, user_id, session_id, seq)
);
`

// SQLiteService persists sessions in a local SQLite database: one row per
// session holding the state map, one row per event in production order.
type SQLiteService struct {
	db *sql.DB
}

// NewSQLiteService opens (creating if needed) the database at path.
func NewSQLiteService(path string) (*SQLiteService, error) {
	observability.EnsureRegistered()

	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".runway", "sessions.db")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sessions database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteService{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteService) Close() error {
	return s.db.Close()
}

// Get loads a working copy of the session, including its full event log.
func (s *SQLiteService) Get(ctx context.Context, appName, userID, sessionID string) (*Session, error) {
	if err := validateKey(appName, userID, sessionID); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartSpan(ctx, "session.get",
		attribute.String("session_id", sessionID),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	var stateJSON string
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT state, updated_at FROM sessions WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		appName, userID, sessionID,
	).Scan(&stateJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	sess := &Session{
		AppName:   appName,
		UserID:    userID,
		ID:        sessionID,
		State:     make(map[string]interface{}),
		UpdatedAt: time.UnixMilli(updatedAt),
	}
	if err := json.Unmarshal([]byte(stateJSON), &sess.State); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM events WHERE app_name = ? AND user_id = ? AND session_id = ? ORDER BY seq`,
		appName, userID, sessionID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var ev event.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		sess.Events = append(sess.Events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	return sess, nil
}

// Create inserts a new empty session. Creating an existing session returns
// the stored one unchanged.
func (s *SQLiteService) Create(ctx context.Context, appName, userID, sessionID string) (*Session, error) {
	if err := validateKey(appName, userID, sessionID); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartSpan(ctx, "session.create",
		attribute.String("session_id", sessionID),
	)
	defer span.End()

	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (app_name, user_id, session_id, state, updated_at) VALUES (?, ?, ?, '{}', ?)`,
		appName, userID, sessionID, now.UnixMilli(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return s.Get(ctx, appName, userID, sessionID)
}

// AppendEvent persists one event and folds its state delta into the stored
// state map, in a single transaction.
func (s *SQLiteService) AppendEvent(ctx context.Context, sess *Session, ev *event.Event) error {
	ctx, span := tracing.StartSpan(ctx, "session.append_event",
		attribute.String("session_id", sess.ID),
		attribute.String("author", ev.Author),
	)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stateJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		sess.AppName, sess.UserID, sess.ID,
	).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to load session state: %w", err)
	}

	if len(ev.Actions.StateDelta) > 0 {
		state := make(map[string]interface{})
		if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
			return fmt.Errorf("failed to decode session state: %w", err)
		}
		for k, v := range ev.Actions.StateDelta {
			state[k] = v
		}
		merged, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to encode session state: %w", err)
		}
		stateJSON = string(merged)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM events WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		sess.AppName, sess.UserID, sess.ID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("failed to allocate event sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (app_name, user_id, session_id, seq, payload) VALUES (?, ?, ?, ?, ?)`,
		sess.AppName, sess.UserID, sess.ID, seq, string(payload),
	); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to persist event: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET state = ?, updated_at = ? WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		stateJSON, time.Now().UnixMilli(), sess.AppName, sess.UserID, sess.ID,
	); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to commit event: %w", err)
	}

	return nil
}

// Delete removes a session and its events.
func (s *SQLiteService) Delete(ctx context.Context, appName, userID, sessionID string) error {
	if err := validateKey(appName, userID, sessionID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		appName, userID, sessionID,
	); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		appName, userID, sessionID,
	); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return tx.Commit()
}

// List returns the session IDs stored for one app/user pair.
func (s *SQLiteService) List(ctx context.Context, appName, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM sessions WHERE app_name = ? AND user_id = ? ORDER BY updated_at DESC`,
		appName, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PurgeIdle deletes sessions whose last update is older than the retention
// window. Returns the number of sessions removed.
func (s *SQLiteService) PurgeIdle(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM events WHERE (app_name, user_id, session_id) IN (
			SELECT app_name, user_id, session_id FROM sessions WHERE updated_at < ?
		)`, cutoff,
	); err != nil {
		return 0, fmt.Errorf("failed to purge events: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	removed, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return int(removed), nil
}
