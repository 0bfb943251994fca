package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "aigen.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustUser(t *testing.T, s *Store, name string) int64 {
	t.Helper()
	id, err := s.CreateUser(context.Background(), &types.User{
		Username:       name,
		Email:          name + "@example.com",
		HashedPassword: "hash",
	})
	require.NoError(t, err)
	return id
}

func mustAppend(t *testing.T, s *Store, userID int64, kind types.ItemType, query string, at time.Time) int64 {
	t.Helper()
	id, err := s.Append(context.Background(), &types.HistoryRecord{
		ItemType:  kind,
		Query:     query,
		Data:      json.RawMessage(`{"ok":true}`),
		UserID:    userID,
		CreatedAt: at,
	})
	require.NoError(t, err)
	return id
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := mustUser(t, s, "alice")

	u, err := s.GetUserByEmail(ctx, "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, types.DefaultRole, u.Role)

	u, err = s.GetUserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = s.GetUserByID(ctx, id+100)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = s.CreateUser(ctx, &types.User{Username: "other", Email: "ALICE@example.com", HashedPassword: "h"})
	assert.ErrorIs(t, err, types.ErrEmailTaken)

	_, err = s.CreateUser(ctx, &types.User{Username: "alice", Email: "new@example.com", HashedPassword: "h"})
	assert.ErrorIs(t, err, types.ErrUsernameTaken)

	assert.NoError(t, s.Ping(ctx))
}

func TestHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := mustAppend(t, s, alice, types.ItemSearch, "Capital of France", base)
	b := mustAppend(t, s, alice, types.ItemImage, "a red fox in snow", base.Add(time.Second))
	c := mustAppend(t, s, alice, types.ItemSearch, "100% juice", base.Add(2*time.Second))
	mustAppend(t, s, bob, types.ItemSearch, "france", base)

	all, err := s.List(ctx, alice, types.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{c, b, a}, []int64{all[0].ID, all[1].ID, all[2].ID})
	assert.JSONEq(t, `{"ok":true}`, string(all[0].Data))
	assert.Equal(t, base.Add(2*time.Second), all[0].CreatedAt.UTC())

	france, err := s.List(ctx, alice, types.ListFilter{Keyword: "FRANCE"})
	require.NoError(t, err)
	require.Len(t, france, 1)
	assert.Equal(t, a, france[0].ID)

	percent, err := s.List(ctx, alice, types.ListFilter{Keyword: "0%"})
	require.NoError(t, err)
	require.Len(t, percent, 1)
	assert.Equal(t, c, percent[0].ID)

	images, err := s.List(ctx, alice, types.ListFilter{ItemType: types.ItemImage})
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, b, images[0].ID)

	_, err = s.Get(ctx, bob, a)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, bob, a), types.ErrNotFound)

	require.NoError(t, s.Delete(ctx, alice, a))
	_, err = s.Get(ctx, alice, a)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDeleteUser_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustUser(t, s, "alice")
	id := mustAppend(t, s, alice, types.ItemSearch, "q", time.Now())

	require.NoError(t, s.DeleteUser(ctx, alice))

	_, err := s.Get(ctx, alice, id)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, s.DeleteUser(ctx, alice), types.ErrNotFound)
}

func TestAppend_RejectsUnknownUser(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(context.Background(), &types.HistoryRecord{
		ItemType: types.ItemSearch,
		Query:    "q",
		Data:     json.RawMessage(`{}`),
		UserID:   12345,
	})
	assert.Error(t, err)
}

func expectMigrations(mock sqlmock.Sqlmock) {
	mock.ExpectExec("PRAGMA foreign_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS history").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestNew_MigrationError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("PRAGMA foreign_keys").WillReturnError(errors.New("disk I/O error"))

	_, err = New(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to migrate sqlite schema")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestErrorPaths(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectMigrations(mock)
	s, err := New(context.Background(), db)
	require.NoError(t, err)

	ctx := context.Background()

	mock.ExpectExec("INSERT INTO history").WillReturnError(errors.New("database is locked"))
	_, err = s.Append(ctx, &types.HistoryRecord{ItemType: types.ItemSearch, Query: "q", UserID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert history record")

	mock.ExpectQuery("FROM history WHERE user_id").WillReturnError(errors.New("no such table: history"))
	_, err = s.List(ctx, 1, types.ListFilter{})
	assert.Error(t, err)

	mock.ExpectQuery("FROM history WHERE user_id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "item_type", "query", "data", "created_at", "user_id"}).
			AddRow("not-a-number", "search", "q", "{}", time.Now(), 1))
	_, err = s.List(ctx, 1, types.ListFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to scan history record")

	mock.ExpectExec("DELETE FROM history").WillReturnResult(sqlmock.NewErrorResult(errors.New("driver cannot count")))
	err = s.Delete(ctx, 1, 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrNotFound)

	mock.ExpectExec("INSERT INTO users").WillReturnError(errors.New("readonly database"))
	_, err = s.CreateUser(ctx, &types.User{Username: "a", Email: "a@example.com"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrEmailTaken)

	assert.NoError(t, mock.ExpectationsWereMet())
}
