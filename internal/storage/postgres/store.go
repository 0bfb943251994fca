// Package postgres stores users and history in PostgreSQL through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

const (
	constraintEmail    = "users_email_key"
	constraintUsername = "users_username_key"

	codeUniqueViolation = "23505"
)

// DB defines the database capabilities required by the store.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

var _ DB = (*pgxpool.Pool)(nil)

// Store persists users and history records.
type Store struct {
	db    DB
	close func()
}

// Open connects a pool to dsn and bootstraps the schema.
func Open(ctx context.Context, cfg types.PostgresConfig) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	store, err := New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	store.close = pool.Close

	log.Info().
		Str("host", poolCfg.ConnConfig.Host).
		Str("database", poolCfg.ConnConfig.Database).
		Int32("max_conns", poolCfg.MaxConns).
		Msg("PostgreSQL store initialized")

	return store, nil
}

// New wraps an existing connection and bootstraps the schema.
func New(ctx context.Context, db DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if err := runMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrate postgres schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the pool when the store owns it.
func (s *Store) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// CreateUser inserts a user and returns its id.
func (s *Store) CreateUser(ctx context.Context, user *types.User) (int64, error) {
	role := user.Role
	if role == "" {
		role = types.DefaultRole
	}
	created := user.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (username, email, hashed_password, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, user.Username, strings.ToLower(user.Email), user.HashedPassword, role, created).Scan(&id)
	if err != nil {
		if mapped := uniqueViolation(err); mapped != nil {
			return 0, mapped
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case constraintEmail:
		return types.ErrEmailTaken
	case constraintUsername:
		return types.ErrUsernameTaken
	}
	return fmt.Errorf("unique violation on %s: %w", pgErr.ConstraintName, err)
}

const userColumns = `id, username, email, hashed_password, role, created_at`

// GetUserByID returns a user by id.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*types.User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row, fmt.Sprintf("user %d", id))
}

// GetUserByEmail returns a user by email, case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email))
	return scanUser(row, fmt.Sprintf("user %q", email))
}

func scanUser(row pgx.Row, label string) (*types.User, error) {
	var u types.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.HashedPassword, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", label, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// DeleteUser removes a user. History rows follow through ON DELETE CASCADE.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", id, types.ErrNotFound)
	}
	return nil
}

// Append inserts a history record and returns its id.
func (s *Store) Append(ctx context.Context, rec *types.HistoryRecord) (int64, error) {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	data := rec.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}

	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO history (item_type, query, data, created_at, user_id)
		VALUES ($1, $2, $3::jsonb, $4, $5)
		RETURNING id
	`, string(rec.ItemType), rec.Query, string(data), created, rec.UserID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert history record: %w", err)
	}
	return id, nil
}

const historyColumns = `id, item_type, query, data, created_at, user_id`

// List returns the user's records newest first.
func (s *Store) List(ctx context.Context, userID int64, filter types.ListFilter) ([]*types.HistoryRecord, error) {
	clauses := []string{"user_id = $1"}
	args := []any{userID}
	argID := 2
	if filter.ItemType != "" {
		clauses = append(clauses, fmt.Sprintf("item_type = $%d", argID))
		args = append(args, string(filter.ItemType))
		argID++
	}
	if filter.Keyword != "" {
		clauses = append(clauses, fmt.Sprintf("query ILIKE $%d", argID))
		args = append(args, "%"+escapeLike(filter.Keyword)+"%")
	}

	rows, err := s.db.Query(ctx, `SELECT `+historyColumns+` FROM history WHERE `+
		strings.Join(clauses, " AND ")+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
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
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return records, nil
}

// Get returns one record owned by userID.
func (s *Store) Get(ctx context.Context, userID, id int64) (*types.HistoryRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+historyColumns+` FROM history WHERE id = $1 AND user_id = $2`, id, userID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("history %d: %w", id, types.ErrNotFound)
	}
	return rec, err
}

// Delete removes one record owned by userID.
func (s *Store) Delete(ctx context.Context, userID, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM history WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete history record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("history %d: %w", id, types.ErrNotFound)
	}
	return nil
}

// GetStats returns pool statistics when available.
func (s *Store) GetStats() map[string]interface{} {
	stats := map[string]interface{}{"driver": "postgres"}
	if pool, ok := s.db.(*pgxpool.Pool); ok {
		st := pool.Stat()
		stats["total_conns"] = st.TotalConns()
		stats["idle_conns"] = st.IdleConns()
		stats["acquired_conns"] = st.AcquiredConns()
	}
	return stats
}

func scanRecord(row pgx.Row) (*types.HistoryRecord, error) {
	var (
		rec      types.HistoryRecord
		itemType string
		data     []byte
	)
	if err := row.Scan(&rec.ID, &itemType, &rec.Query, &data, &rec.CreatedAt, &rec.UserID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan history record: %w", err)
	}
	rec.ItemType = types.ItemType(itemType)
	rec.Data = json.RawMessage(data)
	return &rec, nil
}

// escapeLike treats the keyword literally inside a LIKE pattern.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// runMigrations creates tables and indexes when absent.
func runMigrations(ctx context.Context, db DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username VARCHAR(80) NOT NULL,
			email VARCHAR(255) NOT NULL,
			hashed_password VARCHAR(255) NOT NULL,
			role VARCHAR(32) NOT NULL DEFAULT 'user',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT users_username_key UNIQUE (username),
			CONSTRAINT users_email_key UNIQUE (email)
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			id BIGSERIAL PRIMARY KEY,
			item_type VARCHAR(16) NOT NULL,
			query TEXT NOT NULL,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_user_created ON history (user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_history_item_type ON history (item_type)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}
	return nil
}
