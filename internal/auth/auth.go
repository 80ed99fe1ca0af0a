// Package auth is the credential collaborator for the sync engine and the
// remote client. It signs the user in with the OAuth2 password grant,
// persists the token with the owner identity, and refreshes it with the
// refresh_token grant.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/recipevault/internal/tokenfile"
)

// DefaultClientID identifies the CLI to the token endpoint.
const DefaultClientID = "recipevault-cli"

var (
	// ErrNotLoggedIn means no token file exists: run "recipevault login".
	ErrNotLoggedIn = errors.New("auth: not logged in")
	// ErrRefreshFailed means the token endpoint rejected the refresh token.
	ErrRefreshFailed = errors.New("auth: credential refresh failed")
)

// Config describes the token endpoint and where the token is stored.
type Config struct {
	TokenURL  string
	ClientID  string
	TokenPath string
	// HTTPClient is used for token requests. Nil means a client with a 30s
	// timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Session holds the signed-in user's credential. It satisfies
// remote.TokenSource and is safe for concurrent use.
type Session struct {
	oauth      oauth2.Config
	path       string
	httpClient *http.Client
	logger     *slog.Logger
	nowFunc    func() time.Time

	mu   sync.Mutex
	file *tokenfile.File
}

func newSession(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}

	return &Session{
		oauth: oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		path:       cfg.TokenPath,
		httpClient: hc,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// Login exchanges email and password for a token and saves it at
// cfg.TokenPath, replacing any previous session.
func Login(ctx context.Context, cfg Config, email, password string) (*Session, error) {
	s := newSession(cfg)

	s.logger.Info("signing in", slog.String("email", email))

	tok, err := s.oauth.PasswordCredentialsToken(s.clientContext(ctx), email, password)
	if err != nil {
		return nil, fmt.Errorf("auth: sign in failed: %w", err)
	}

	owner, serverEmail := userFromToken(tok)
	if owner == "" {
		return nil, errors.New("auth: token response carried no user id")
	}

	if serverEmail == "" {
		serverEmail = email
	}

	f := &tokenfile.File{
		Token:   tok,
		OwnerID: owner,
		Email:   serverEmail,
		SavedAt: s.nowFunc().UTC(),
	}

	if err := tokenfile.Save(s.path, f); err != nil {
		return nil, fmt.Errorf("auth: saving token: %w", err)
	}

	s.file = f

	s.logger.Info("signed in",
		slog.String("owner", owner),
		slog.Time("expiry", tok.Expiry),
	)

	return s, nil
}

// Open resumes the session saved at cfg.TokenPath. It returns
// ErrNotLoggedIn when there is none.
func Open(cfg Config) (*Session, error) {
	s := newSession(cfg)

	f, err := tokenfile.Load(s.path)
	if errors.Is(err, tokenfile.ErrNotFound) {
		return nil, ErrNotLoggedIn
	}

	if err != nil {
		return nil, err
	}

	s.file = f

	s.logger.Debug("loaded saved session",
		slog.String("owner", f.OwnerID),
		slog.Time("expiry", f.Token.Expiry),
	)

	return s, nil
}

// Logout removes the saved session. A missing file is not an error.
func Logout(tokenPath string, logger *slog.Logger) error {
	if err := tokenfile.Remove(tokenPath); err != nil {
		return err
	}

	if logger != nil {
		logger.Info("signed out", slog.String("path", tokenPath))
	}

	return nil
}

// OwnerID is the authenticated identity whose recipes are synced.
func (s *Session) OwnerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.file.OwnerID
}

// Email is the address the user signed in with.
func (s *Session) Email() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.file.Email
}

// Expiry is the access token's expiry, zero when unknown.
func (s *Session) Expiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.file.Token.Expiry
}

// Token returns a valid access token, refreshing it first when it has
// expired.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file.Token.Valid() {
		return s.file.Token.AccessToken, nil
	}

	return s.refreshLocked(ctx)
}

// Refresh obtains a new access token even if the current one looks valid.
// The remote client calls it once after the service answers 401.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) (string, error) {
	rt := s.file.Token.RefreshToken
	if rt == "" {
		return "", fmt.Errorf("%w: no refresh token saved", ErrRefreshFailed)
	}

	// A token without an access token is never valid, so the source always
	// hits the endpoint.
	src := s.oauth.TokenSource(s.clientContext(ctx), &oauth2.Token{RefreshToken: rt})

	tok, err := src.Token()
	if err != nil {
		s.logger.Warn("credential refresh failed", slog.String("error", err.Error()))

		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	f := *s.file
	f.Token = tok
	f.SavedAt = s.nowFunc().UTC()

	if err := tokenfile.Save(s.path, &f); err != nil {
		// The new token still works for this process.
		s.logger.Warn("could not persist refreshed token", slog.String("error", err.Error()))
	}

	s.file = &f

	s.logger.Debug("credential refreshed", slog.Time("expiry", tok.Expiry))

	return tok.AccessToken, nil
}

func (s *Session) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// userFromToken reads {"user": {"id", "email"}} from the token response.
func userFromToken(tok *oauth2.Token) (id, email string) {
	u, ok := tok.Extra("user").(map[string]any)
	if !ok {
		return "", ""
	}

	id, _ = u["id"].(string)
	email, _ = u["email"].(string)

	return id, email
}
