package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/timetick/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. The tick loop, the HTTP API
	// and CLI commands share one connection so writes never see "database is locked".
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so a second process waits instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sessions ---

const sessionColumns = `id, start_time, end_time, task, end_reason, max_inactivity_seconds`

// CreateSession persists a closed session and assigns it an ID if it has none.
// Sessions are appended in call order.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	rec := sess.Record()
	if !rec.Closed || rec.EndTime == nil {
		return fmt.Errorf("create session: session is still open")
	}
	if rec.ID == "" {
		sess.AssignID(newULID())
		rec.ID = sess.ID()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, seq, start_time, end_time, task, end_reason, max_inactivity_seconds, created_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM sessions), ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StartTime.UTC(), rec.EndTime.UTC(), rec.Task, string(rec.EndReason),
		rec.MaxInactivityReachedSeconds, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	sessions, err := s.scanSessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sessions[0], nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var conditions []string
	var args []any

	if !filter.IncludeArchived {
		conditions = append(conditions, "archived_at IS NULL")
	}
	if filter.From != nil {
		conditions = append(conditions, "start_time >= ?")
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		conditions = append(conditions, "start_time < ?")
		args = append(args, filter.To.UTC())
	}
	if filter.Reason != "" {
		conditions = append(conditions, "end_reason = ?")
		args = append(args, string(filter.Reason))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	sessions, err := s.scanSessions(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// scanSessions is a shared helper for scanning session rows.
func (s *SQLiteStore) scanSessions(ctx context.Context, query string, args ...any) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		var rec models.SessionRecord
		var reason string
		var end time.Time

		if err := rows.Scan(&rec.ID, &rec.StartTime, &end, &rec.Task, &reason, &rec.MaxInactivityReachedSeconds); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}

		rec.StartTime = rec.StartTime.UTC()
		end = end.UTC()
		rec.EndTime = &end
		rec.EndReason = models.EndReason(reason)
		rec.Closed = true

		sess, err := models.SessionFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("decode session %s: %w", rec.ID, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ArchiveSessions hides the given sessions from default listings.
// Already archived sessions are not counted.
func (s *SQLiteStore) ArchiveSessions(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC())
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(
		"UPDATE sessions SET archived_at=? WHERE archived_at IS NULL AND id IN (%s)",
		strings.Join(placeholders, ","),
	)
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("archive sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Exports ---

func (s *SQLiteStore) CreateExport(ctx context.Context, e *models.Export) error {
	if e.ID == "" {
		e.ID = newULID()
	}
	e.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exports (id, path, session_count, total_seconds, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Path, e.SessionCount, e.TotalSeconds, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create export: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListExports(ctx context.Context, limit int) ([]*models.Export, error) {
	query := `SELECT id, path, session_count, total_seconds, created_at FROM exports ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var exports []*models.Export
	for rows.Next() {
		e := &models.Export{}
		if err := rows.Scan(&e.ID, &e.Path, &e.SessionCount, &e.TotalSeconds, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan export: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		exports = append(exports, e)
	}
	return exports, rows.Err()
}

// IsNotFound reports whether err came from a lookup that matched nothing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
