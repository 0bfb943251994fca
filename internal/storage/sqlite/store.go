package sqlite

// Package sqlite stores users and history in a single SQLite file.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

// Store persists users and history records
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database file at path
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "./data/aigen.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	store, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.path = path

	log.Info().
		Str("path", path).
		Msg("SQLite store initialized")

	return store, nil
}

// New wraps db and bootstraps the schema
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	statements := []string{
		`PRAGMA foreign_keys = ON`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL UNIQUE,
			hashed_password TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			item_type TEXT NOT NULL,
			query TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_user_created ON history (user_id, created_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	log.Info().Msg("Closing SQLite store")
	return s.db.Close()
}

// Ping checks the database
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser inserts a user and returns its id
func (s *Store) CreateUser(ctx context.Context, user *types.User) (int64, error) {
	role := user.Role
	if role == "" {
		role = types.DefaultRole
	}
	created := user.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, hashed_password, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		user.Username, strings.ToLower(user.Email), user.HashedPassword, role, created.UTC())
	if err != nil {
		if mapped := uniqueViolation(err); mapped != nil {
			return 0, mapped
		}
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read user id: %w", err)
	}
	return id, nil
}

func uniqueViolation(err error) error {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) || sqlErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return nil
	}
	msg := sqlErr.Error()
	switch {
	case strings.Contains(msg, "users.email"):
		return types.ErrEmailTaken
	case strings.Contains(msg, "users.username"):
		return types.ErrUsernameTaken
	}
	return nil
}

const userColumns = `id, username, email, hashed_password, role, created_at`

// GetUserByID returns a user by id
func (s *Store) GetUserByID(ctx context.Context, id int64) (*types.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row, fmt.Sprintf("user %d", id))
}

// GetUserByEmail returns a user by email, case-insensitively
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(email))
	return scanUser(row, fmt.Sprintf("user %q", email))
}

func scanUser(row *sql.Row, label string) (*types.User, error) {
	var u types.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.HashedPassword, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", label, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// DeleteUser removes a user and, through the foreign key, their history
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireAffected(res, fmt.Sprintf("user %d", id))
}

// Append inserts a history record and returns its id
func (s *Store) Append(ctx context.Context, rec *types.HistoryRecord) (int64, error) {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	data := rec.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO history (item_type, query, data, created_at, user_id) VALUES (?, ?, ?, ?, ?)`,
		string(rec.ItemType), rec.Query, string(data), created.UTC(), rec.UserID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert history record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read history id: %w", err)
	}
	return id, nil
}

const historyColumns = `id, item_type, query, data, created_at, user_id`

// List returns the user's records newest first
func (s *Store) List(ctx context.Context, userID int64, filter types.ListFilter) ([]*types.HistoryRecord, error) {
	query := `SELECT ` + historyColumns + ` FROM history WHERE user_id = ?`
	args := []interface{}{userID}
	if filter.ItemType != "" {
		query += ` AND item_type = ?`
		args = append(args, string(filter.ItemType))
	}
	if filter.Keyword != "" {
		query += ` AND LOWER(query) LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(strings.ToLower(filter.Keyword))+"%")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records := make([]*types.HistoryRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return records, nil
}

// Get returns one record owned by userID
func (s *Store) Get(ctx context.Context, userID, id int64) (*types.HistoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM history WHERE id = ? AND user_id = ?`, id, userID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history %d: %w", id, types.ErrNotFound)
	}
	return rec, err
}

// Delete removes one record owned by userID
func (s *Store) Delete(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete history record: %w", err)
	}
	return requireAffected(res, fmt.Sprintf("history %d", id))
}

// GetStats returns connection pool statistics
func (s *Store) GetStats() map[string]interface{} {
	st := s.db.Stats()
	return map[string]interface{}{
		"driver":           "sqlite",
		"path":             s.path,
		"open_connections": st.OpenConnections,
		"in_use":           st.InUse,
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*types.HistoryRecord, error) {
	var (
		rec      types.HistoryRecord
		itemType string
		data     string
	)
	if err := row.Scan(&rec.ID, &itemType, &rec.Query, &data, &rec.CreatedAt, &rec.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan history record: %w", err)
	}
	rec.ItemType = types.ItemType(itemType)
	rec.Data = json.RawMessage(data)
	return &rec, nil
}

func requireAffected(res sql.Result, label string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", label, types.ErrNotFound)
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
