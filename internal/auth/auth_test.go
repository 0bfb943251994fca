package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

type memUsers struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*types.User
	err    error
	getErr error
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[int64]*types.User)}
}

func (m *memUsers) CreateUser(ctx context.Context, u *types.User) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	for _, existing := range m.byID {
		if existing.Email == u.Email {
			return 0, types.ErrEmailTaken
		}
		if existing.Username == u.Username {
			return 0, types.ErrUsernameTaken
		}
	}
	m.nextID++
	cp := *u
	cp.ID = m.nextID
	m.byID[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memUsers) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, types.ErrNotFound
}

func (m *memUsers) GetUserByID(ctx context.Context, id int64) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if u, ok := m.byID[id]; ok {
		return u, nil
	}
	return nil, types.ErrNotFound
}

func newTestService(users UserStore) *Service {
	return NewService(users, Config{Secret: "test-secret", BcryptCost: bcrypt.MinCost})
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret123", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", hash)
	assert.True(t, CheckPassword("secret123", hash))
	assert.False(t, CheckPassword("wrong", hash))
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("s3cret", time.Hour)

	token, err := issuer.Issue(42)
	require.NoError(t, err)

	id, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	require.NoError(t, err)
	assert.Equal(t, "HS256", parsed.Method.Alg())
	assert.Equal(t, "42", parsed.Claims.(*Claims).Subject)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer := NewTokenIssuer("s3cret", time.Hour)

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewTokenIssuer("other", time.Hour).Issue(1)
		require.NoError(t, err)
		_, err = issuer.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		old := NewTokenIssuer("s3cret", time.Hour)
		old.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, err := old.Issue(1)
		require.NoError(t, err)
		_, err = issuer.Verify(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Verify("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("non numeric subject", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
		require.NoError(t, err)
		_, err = issuer.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = issuer.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestRegister(t *testing.T) {
	users := newMemUsers()
	svc := newTestService(users)
	ctx := context.Background()

	id, err := svc.Register(ctx, "  alice  ", "Alice@Example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	stored, err := users.GetUserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.Username)
	assert.Equal(t, "alice@example.com", stored.Email)
	assert.NotEqual(t, "secret123", stored.HashedPassword)
	assert.Equal(t, types.DefaultRole, stored.Role)
}

func TestRegister_Validation(t *testing.T) {
	svc := newTestService(newMemUsers())

	tests := []struct {
		name     string
		username string
		email    string
		password string
	}{
		{"short username", "al", "a@example.com", "secret123"},
		{"blank username", "    ", "a@example.com", "secret123"},
		{"long username", strings.Repeat("x", 81), "a@example.com", "secret123"},
		{"bad email", "alice", "not-an-email", "secret123"},
		{"display name email", "alice", "Alice <a@example.com>", "secret123"},
		{"short password", "alice", "a@example.com", "12345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.username, tt.email, tt.password)
			require.Error(t, err)
			assert.Equal(t, types.KindInvalidArgument, types.KindOf(err))
		})
	}
}

func TestRegister_Duplicates(t *testing.T) {
	svc := newTestService(newMemUsers())
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "alice@example.com", "secret123")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice2", "ALICE@example.com", "secret123")
	require.Error(t, err)
	assert.Equal(t, types.KindConflict, types.KindOf(err))
	assert.Contains(t, err.Error(), "Email already registered")

	_, err = svc.Register(ctx, "alice", "other@example.com", "secret123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Username already taken")
}

func TestRegister_StoreFailure(t *testing.T) {
	users := newMemUsers()
	users.err = assert.AnError
	svc := newTestService(users)

	_, err := svc.Register(context.Background(), "alice", "alice@example.com", "secret123")
	require.Error(t, err)
	assert.Equal(t, types.KindInternal, types.KindOf(err))
	assert.Contains(t, err.Error(), "Registration failed")
}

func TestLoginAndAuthenticate(t *testing.T) {
	svc := newTestService(newMemUsers())
	ctx := context.Background()

	id, err := svc.Register(ctx, "alice", "alice@example.com", "secret123")
	require.NoError(t, err)

	session, err := svc.Login(ctx, "Alice@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "bearer", session.TokenType)
	assert.Equal(t, types.UserInfo{ID: id, Username: "alice", Email: "alice@example.com"}, session.User)

	got, err := svc.Authenticate(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := newTestService(newMemUsers())
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "alice@example.com", "secret123")
	require.NoError(t, err)

	for _, creds := range [][2]string{
		{"alice@example.com", "wrong"},
		{"bob@example.com", "secret123"},
		{"", ""},
	} {
		_, err := svc.Login(ctx, creds[0], creds[1])
		require.Error(t, err)
		assert.Equal(t, types.KindUnauthorized, types.KindOf(err))
		assert.Contains(t, err.Error(), "Invalid credentials")
	}
}

func TestAuthenticate_Rejects(t *testing.T) {
	svc := newTestService(newMemUsers())
	ctx := context.Background()

	_, err := svc.Authenticate(ctx, "")
	assert.Equal(t, types.KindUnauthorized, types.KindOf(err))

	_, err = svc.Authenticate(ctx, "garbage")
	assert.Equal(t, types.KindUnauthorized, types.KindOf(err))

	// valid signature, but the user no longer exists
	token, err := svc.tokens.Issue(99)
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, token)
	require.Error(t, err)
	assert.Equal(t, types.KindUnauthorized, types.KindOf(err))
	assert.Contains(t, err.Error(), "Invalid or expired token")
}

func TestAuthenticate_StoreOutageKeepsValidToken(t *testing.T) {
	users := newMemUsers()
	svc := newTestService(users)
	ctx := context.Background()

	id, err := svc.Register(ctx, "alice", "alice@example.com", "secret123")
	require.NoError(t, err)
	session, err := svc.Login(ctx, "alice@example.com", "secret123")
	require.NoError(t, err)

	users.getErr = errors.New("DB Closed")

	got, err := svc.Authenticate(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	// the signature is still checked
	_, err = svc.Authenticate(ctx, session.AccessToken+"x")
	assert.Equal(t, types.KindUnauthorized, types.KindOf(err))
}
