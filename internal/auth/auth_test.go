package auth

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/recipevault/internal/remote/remotetest"
	"github.com/tonimelisma/recipevault/internal/tokenfile"
)

func testConfig(t *testing.T, srv *remotetest.Server) Config {
	t.Helper()

	return Config{
		TokenURL:  srv.TokenURL(),
		TokenPath: filepath.Join(t.TempDir(), "token.json"),
		Logger:    slog.New(slog.DiscardHandler),
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()

	srv := remotetest.New(t)
	srv.AddUser("cook@example.com", "secret", "user-1")
	cfg := testConfig(t, srv)

	s, err := Login(context.Background(), cfg, "cook@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "user-1", s.OwnerID())
	assert.Equal(t, "cook@example.com", s.Email())
	assert.True(t, s.Expiry().After(time.Now()))

	f, err := tokenfile.Load(cfg.TokenPath)
	require.NoError(t, err)
	assert.Equal(t, "user-1", f.OwnerID)
	assert.NotEmpty(t, f.Token.RefreshToken)
}

func TestLogin_WrongPassword(t *testing.T) {
	t.Parallel()

	srv := remotetest.New(t)
	srv.AddUser("cook@example.com", "secret", "user-1")
	cfg := testConfig(t, srv)

	_, err := Login(context.Background(), cfg, "cook@example.com", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")

	_, err = Open(cfg)
	assert.True(t, errors.Is(err, ErrNotLoggedIn), "failed sign-in saves nothing")
}

func TestOpen_NotLoggedIn(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{TokenPath: filepath.Join(t.TempDir(), "none.json")})
	assert.True(t, errors.Is(err, ErrNotLoggedIn))
}

func TestToken_ValidTokenIsReused(t *testing.T) {
	t.Parallel()

	srv := remotetest.New(t)
	srv.AddUser("cook@example.com", "secret", "user-1")
	cfg := testConfig(t, srv)
	ctx := context.Background()

	_, err := Login(ctx, cfg, "cook@example.com", "secret")
	require.NoError(t, err)

	s, err := Open(cfg)
	require.NoError(t, err)

	first, err := s.Token(ctx)
	require.NoError(t, err)

	second, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, srv.Calls("POST /oauth/token"))
}

func TestToken_RefreshesWhenExpired(t *testing.T) {
	t.Parallel()

	srv := remotetest.New(t)
	srv.AddUser("cook@example.com", "secret", "user-1")
	cfg := testConfig(t, srv)
	ctx := context.Background()

	s, err := Login(ctx, cfg, "cook@example.com", "secret")
	require.NoError(t, err)

	old := s.file.Token.AccessToken
	s.file.Token.Expiry = time.Now().Add(-time.Minute)

	tok, err := s.Token(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, old, tok)
	assert.Equal(t, 2, srv.Calls("POST /oauth/token"))

	saved, err := tokenfile.Load(cfg.TokenPath)
	require.NoError(t, err)
	assert.Equal(t, tok, saved.Token.AccessToken, "refreshed token is persisted")
	assert.Equal(t, "user-1", saved.OwnerID)
}

func TestRefresh_Rejected(t *testing.T) {
	t.Parallel()

	srv := remotetest.New(t)
	srv.AddUser("cook@example.com", "secret", "user-1")
	cfg := testConfig(t, srv)
	ctx := context.Background()

	s, err := Login(ctx, cfg, "cook@example.com", "secret")
	require.NoError(t, err)

	srv.RevokeAll()

	_, err = s.Refresh(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRefreshFailed))
}

func TestLogout(t *testing.T) {
	t.Parallel()

	srv := remotetest.New(t)
	srv.AddUser("cook@example.com", "secret", "user-1")
	cfg := testConfig(t, srv)

	_, err := Login(context.Background(), cfg, "cook@example.com", "secret")
	require.NoError(t, err)

	require.NoError(t, Logout(cfg.TokenPath, nil))
	require.NoError(t, Logout(cfg.TokenPath, nil), "second logout is a no-op")

	_, err = Open(cfg)
	assert.True(t, errors.Is(err, ErrNotLoggedIn))
}
