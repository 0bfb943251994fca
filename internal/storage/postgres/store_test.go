package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS history").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_history_user_created").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_history_item_type").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	store, err := New(context.Background(), mock)
	require.NoError(t, err)
	return store, mock
}

var anyUserArgs = []interface{}{pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()}

var historyCols = []string{"id", "item_type", "query", "data", "created_at", "user_id"}

func TestNew_MigrationFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnError(errors.New("permission denied"))

	_, err = New(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate postgres schema")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO users").
		WithArgs("alice", "alice@example.com", "hash", types.DefaultRole, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := store.CreateUser(context.Background(), &types.User{
		Username:       "alice",
		Email:          "Alice@Example.com",
		HashedPassword: "hash",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_UniqueViolations(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("INSERT INTO users").
		WithArgs(anyUserArgs...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})
	_, err := store.CreateUser(ctx, &types.User{Username: "a", Email: "a@example.com"})
	assert.ErrorIs(t, err, types.ErrEmailTaken)

	mock.ExpectQuery("INSERT INTO users").
		WithArgs(anyUserArgs...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"})
	_, err = store.CreateUser(ctx, &types.User{Username: "a", Email: "b@example.com"})
	assert.ErrorIs(t, err, types.ErrUsernameTaken)

	mock.ExpectQuery("INSERT INTO users").
		WithArgs(anyUserArgs...).
		WillReturnError(&pgconn.PgError{Code: "53300"})
	_, err = store.CreateUser(ctx, &types.User{Username: "a", Email: "c@example.com"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrEmailTaken)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1")).
		WithArgs("alice@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "username", "email", "hashed_password", "role", "created_at"}).
			AddRow(int64(1), "alice", "alice@example.com", "hash", "user", created))

	user, err := store.GetUserByEmail(context.Background(), "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "hash", user.HashedPassword)
	assert.Equal(t, created, user.CreatedAt)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs(int64(2)).
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetUserByID(context.Background(), 2)
	assert.ErrorIs(t, err, types.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = $1")).
		WithArgs(int64(2)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.NoError(t, store.DeleteUser(context.Background(), 1))
	assert.ErrorIs(t, store.DeleteUser(context.Background(), 2), types.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO history").
		WithArgs("search", "capital of france", `{"results":[]}`, pgxmock.AnyArg(), int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))

	id, err := store.Append(context.Background(), &types.HistoryRecord{
		ItemType: types.ItemSearch,
		Query:    "capital of france",
		Data:     json.RawMessage(`{"results":[]}`),
		UserID:   3,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_ForeignKeyFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO history").
		WithArgs("image", "q", pgxmock.AnyArg(), pgxmock.AnyArg(), int64(99)).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "history_user_id_fkey"})

	_, err := store.Append(context.Background(), &types.HistoryRecord{ItemType: types.ItemImage, Query: "q", UserID: 99})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert history record")
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "23503", pgErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_BuildsFilters(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND item_type = $2 AND query ILIKE $3 ORDER BY created_at DESC, id DESC")).
		WithArgs(int64(5), "image", `%50\%%`).
		WillReturnRows(pgxmock.NewRows(historyCols).
			AddRow(int64(2), "image", "50% off fox", []byte(`{"image_url":"u"}`), at, int64(5)).
			AddRow(int64(1), "image", "50% fox", []byte(`{}`), at.Add(-time.Hour), int64(5)))

	records, err := store.List(context.Background(), 5, types.ListFilter{ItemType: types.ItemImage, Keyword: "50%"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, types.ItemImage, records[0].ItemType)
	assert.JSONEq(t, `{"image_url":"u"}`, string(records[0].Data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_NoFilters(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 ORDER BY")).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows(historyCols))

	records, err := store.List(context.Background(), 5, types.ListFilter{})
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAndDelete_OwnershipScoped(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND user_id = $2")).
		WithArgs(int64(10), int64(2)).
		WillReturnError(pgx.ErrNoRows)
	_, err := store.Get(ctx, 2, 10)
	assert.ErrorIs(t, err, types.ErrNotFound)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM history WHERE id = $1 AND user_id = $2")).
		WithArgs(int64(10), int64(2)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	assert.ErrorIs(t, store.Delete(ctx, 2, 10), types.ErrNotFound)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM history WHERE id = $1 AND user_id = $2")).
		WithArgs(int64(10), int64(1)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	assert.NoError(t, store.Delete(ctx, 1, 10))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `a\%b\_c\\d`, escapeLike(`a%b_c\d`))
}

func TestOpen_RequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), types.PostgresConfig{})
	assert.Error(t, err)
}
