// Package session persists conversation sessions in SQLite. Saves use
// optimistic locking on a version column so concurrent turns for the same
// session cannot silently overwrite each other.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chatstack/kotae/internal/models"
)

var (
	ErrConflict       = errors.New("session conflict: stored session is newer")
	ErrMaxRetries     = errors.New("max retries exceeded")
	ErrInvalidSession = errors.New("invalid session")
	ErrInvalidParam   = errors.New("invalid parameter")
)

// Store is a SQLite-backed session store.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens or creates the session database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// DiskUsageBytes returns the on-disk size of the database including the
// WAL sidecar files. Missing files contribute zero.
func (s *Store) DiskUsageBytes() int64 {
	var total int64
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if info, err := os.Stat(s.dbPath + suffix); err == nil {
			total += info.Size()
		}
	}
	return total
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		state TEXT NOT NULL,
		flow_id TEXT,
		current_step TEXT,
		flow_state TEXT,
		messages TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Get returns a session by id, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is empty", ErrInvalidParam)
	}

	var (
		sess          models.Session
		flowStateJSON sql.NullString
		messagesJSON  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, state, flow_id, current_step, flow_state, messages, version, created_at, updated_at
		 FROM sessions WHERE id = ?`, sessionID,
	).Scan(&sess.ID, &sess.UserID, (*string)(&sess.State), &sess.FlowID,
		&sess.CurrentStep, &flowStateJSON, &messagesJSON, &sess.Version,
		&sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if flowStateJSON.Valid && flowStateJSON.String != "" {
		if err := json.Unmarshal([]byte(flowStateJSON.String), &sess.FlowState); err != nil {
			return nil, fmt.Errorf("failed to unmarshal flow state: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(messagesJSON), &sess.Messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}
	return &sess, nil
}

// Save upserts a session unconditionally, bumping version and updated_at.
func (s *Store) Save(ctx context.Context, sess *models.Session) error {
	if err := validateSession(sess); err != nil {
		return err
	}
	now := time.Now().Format(time.RFC3339)
	if sess.CreatedAt == "" {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if sess.Version <= 0 {
		sess.Version = 1
	}

	flowStateJSON, messagesJSON, err := encodeSession(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, state, flow_id, current_step, flow_state, messages, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			state = excluded.state,
			flow_id = excluded.flow_id,
			current_step = excluded.current_step,
			flow_state = excluded.flow_state,
			messages = excluded.messages,
			version = sessions.version + 1,
			updated_at = excluded.updated_at`,
		sess.ID, sess.UserID, string(sess.State), sess.FlowID, sess.CurrentStep,
		flowStateJSON, messagesJSON, sess.Version, sess.CreatedAt, sess.UpdatedAt,
	)
	return err
}

// SaveWithLock saves a session only when the stored version still matches
// the session's version. On conflict it merges the stored session with
// the incoming one and retries, up to maxRetries times.
func (s *Store) SaveWithLock(ctx context.Context, sess *models.Session, maxRetries int) error {
	if err := validateSession(sess); err != nil {
		return err
	}
	if maxRetries < 0 {
		return fmt.Errorf("%w: maxRetries cannot be negative", ErrInvalidParam)
	}

	for attempt := 0; ; attempt++ {
		err := s.saveCAS(ctx, sess)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if attempt >= maxRetries {
			return fmt.Errorf("%w for session %s", ErrMaxRetries, sess.ID)
		}

		stored, getErr := s.Get(ctx, sess.ID)
		if getErr != nil {
			return getErr
		}
		if stored != nil {
			merged := mergeSessions(*stored, *sess)
			*sess = merged
		}
		// Backoff grows with each attempt so racing writers separate.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(10*(attempt+1)) * time.Millisecond):
		}
	}
}

// saveCAS performs one compare-and-swap write on the version column.
func (s *Store) saveCAS(ctx context.Context, sess *models.Session) error {
	now := time.Now().Format(time.RFC3339)
	if sess.CreatedAt == "" {
		sess.CreatedAt = now
	}
	flowStateJSON, messagesJSON, err := encodeSession(sess)
	if err != nil {
		return err
	}

	if sess.Version <= 0 {
		// New session: insert must win the race for the id.
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions (id, user_id, state, flow_id, current_step, flow_state, messages, version, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			sess.ID, sess.UserID, string(sess.State), sess.FlowID, sess.CurrentStep,
			flowStateJSON, messagesJSON, sess.CreatedAt, now,
		)
		if err != nil {
			// Another writer created the row first.
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		sess.Version = 1
		sess.UpdatedAt = now
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET
			user_id = ?, state = ?, flow_id = ?, current_step = ?,
			flow_state = ?, messages = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		sess.UserID, string(sess.State), sess.FlowID, sess.CurrentStep,
		flowStateJSON, messagesJSON, now, sess.ID, sess.Version,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConflict
	}
	sess.Version++
	sess.UpdatedAt = now
	return nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id is empty", ErrInvalidParam)
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	return err
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func validateSession(sess *models.Session) error {
	if sess == nil {
		return fmt.Errorf("%w: session is nil", ErrInvalidSession)
	}
	if sess.ID == "" {
		return fmt.Errorf("%w: session id is empty", ErrInvalidSession)
	}
	return nil
}

func encodeSession(sess *models.Session) (flowState, messages string, err error) {
	if len(sess.FlowState) > 0 {
		b, err := json.Marshal(sess.FlowState)
		if err != nil {
			return "", "", fmt.Errorf("failed to marshal flow state: %w", err)
		}
		flowState = string(b)
	}
	if sess.Messages == nil {
		sess.Messages = []models.Message{}
	}
	b, err := json.Marshal(sess.Messages)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal messages: %w", err)
	}
	return flowState, string(b), nil
}

// mergeSessions combines a stored session with the losing writer's copy:
// messages are united and ordered by timestamp, state only moves forward,
// and the new flow position wins when set.
func mergeSessions(stored, incoming models.Session) models.Session {
	merged := stored
	merged.Messages = mergeMessages(stored.Messages, incoming.Messages)
	if stateRank(incoming.State) > stateRank(stored.State) {
		merged.State = incoming.State
	}
	if incoming.FlowID != "" {
		merged.FlowID = incoming.FlowID
	}
	if incoming.CurrentStep != "" {
		merged.CurrentStep = incoming.CurrentStep
	}
	if len(incoming.FlowState) > 0 {
		merged.FlowState = incoming.FlowState
	}
	return merged
}

// mergeMessages unites two histories, deduplicating identical turns and
// restoring timestamp order.
func mergeMessages(a, b []models.Message) []models.Message {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]models.Message, 0, len(a)+len(b))
	for _, msg := range append(append([]models.Message{}, a...), b...) {
		key := string(msg.Role) + ":" + msg.Content + ":" + msg.Timestamp
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, msg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

func stateRank(state models.SessionState) int {
	switch state {
	case models.SessionNew:
		return 0
	case models.SessionActive:
		return 1
	case models.SessionOnFlow:
		return 2
	case models.SessionComplete:
		return 3
	default:
		return -1
	}
}
