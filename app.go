package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tonimelisma/recipevault/internal/auth"
	"github.com/tonimelisma/recipevault/internal/recipe"
	"github.com/tonimelisma/recipevault/internal/remote"
	"github.com/tonimelisma/recipevault/internal/store"
	"github.com/tonimelisma/recipevault/internal/sync"
	"github.com/tonimelisma/recipevault/internal/syncstatus"
)

// tokenHTTPTimeout bounds token endpoint requests during login and refresh.
const tokenHTTPTimeout = 30 * time.Second

// openStore opens the local recipe database. Callers must Close it.
func openStore(ctx context.Context, cc *CLIContext) (*store.Store, error) {
	st, err := store.Open(ctx, cc.Cfg.DBPath, cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening recipe store: %w", err)
	}

	return st, nil
}

func authConfig(cc *CLIContext) auth.Config {
	return auth.Config{
		TokenURL:   cc.Cfg.TokenURL,
		ClientID:   cc.Cfg.ClientID,
		TokenPath:  cc.Cfg.TokenPath,
		HTTPClient: &http.Client{Timeout: tokenHTTPTimeout},
		Logger:     cc.Logger,
	}
}

// openSession resumes the saved login. It needs no network.
func openSession(cc *CLIContext) (*auth.Session, error) {
	s, err := auth.Open(authConfig(cc))
	if errors.Is(err, auth.ErrNotLoggedIn) {
		return nil, errNotSignedIn
	}

	if err != nil {
		return nil, fmt.Errorf("loading saved login: %w", err)
	}

	return s, nil
}

// newRemoteClient builds the gateway with separate clients for metadata
// calls and for uploads and extraction.
func newRemoteClient(cc *CLIContext, tokens remote.TokenSource) *remote.Client {
	return remote.NewClient(remote.Config{
		BaseURL:      cc.Cfg.APIURL,
		Tokens:       tokens,
		UserAgent:    cc.Cfg.UserAgent,
		Logger:       cc.Logger,
		MetaHTTP:     &http.Client{Timeout: cc.Cfg.MetadataTimeout},
		TransferHTTP: &http.Client{Timeout: cc.Cfg.UploadTimeout},
	})
}

// syncSession bundles everything a sync command drives.
type syncSession struct {
	store   *store.Store
	auth    *auth.Session
	client  *remote.Client
	status  *syncstatus.Publisher
	engine  *sync.Engine
	cleanup func()
}

// newSyncSession opens the store and the saved login and wires the engine.
// The publisher resumes from the persisted status and writes every
// transition back to the store.
func newSyncSession(ctx context.Context, cc *CLIContext) (*syncSession, error) {
	sess, err := openSession(cc)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cc)
	if err != nil {
		return nil, err
	}

	initial, err := st.LoadStatus(ctx)
	if err != nil {
		cc.Logger.Warn("could not load persisted sync status", slog.String("error", err.Error()))
	}

	client := newRemoteClient(cc, sess)
	pub := syncstatus.NewPublisher(initial, st, cc.Logger)

	engine := sync.NewEngine(&sync.EngineConfig{
		Store:       st,
		Gateway:     client,
		Credentials: sess,
		Status:      pub,
		Logger:      cc.Logger,
	})

	return &syncSession{
		store:  st,
		auth:   sess,
		client: client,
		status: pub,
		engine: engine,
		cleanup: func() {
			if err := st.Close(); err != nil {
				cc.Logger.Warn("closing recipe store", slog.String("error", err.Error()))
			}
		},
	}, nil
}

// ownerStore opens the store and the saved login for commands that only
// touch local data.
func ownerStore(ctx context.Context, cc *CLIContext) (*store.Store, string, error) {
	sess, err := openSession(cc)
	if err != nil {
		return nil, "", err
	}

	st, err := openStore(ctx, cc)
	if err != nil {
		return nil, "", err
	}

	return st, sess.OwnerID(), nil
}

// ownedRecipe loads id and hides recipes that belong to another account.
func ownedRecipe(ctx context.Context, st *store.Store, owner, id string) (*recipe.Recipe, error) {
	r, err := st.GetRecipe(ctx, id)
	if errors.Is(err, recipe.ErrNotFound) || (err == nil && r.OwnerID != owner) {
		return nil, fmt.Errorf("recipe %s not found", id)
	}

	if err != nil {
		return nil, err
	}

	return r, nil
}

// importMedia copies a local image into the media directory so the recipe
// keeps a valid reference after the original moves. Remote URLs pass
// through unchanged.
func importMedia(cc *CLIContext, ref string, now time.Time) (string, error) {
	if ref == "" || recipe.IsRemoteRef(ref) {
		return ref, nil
	}

	src, err := os.Open(ref)
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(cc.Cfg.MediaDir, 0o700); err != nil {
		return "", fmt.Errorf("creating media directory: %w", err)
	}

	dst := filepath.Join(cc.Cfg.MediaDir, fmt.Sprintf("%d_%s", now.UnixMilli(), filepath.Base(ref)))

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("copying image: %w", err)
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)

		return "", fmt.Errorf("copying image: %w", err)
	}

	if err := out.Close(); err != nil {
		os.Remove(dst)

		return "", fmt.Errorf("copying image: %w", err)
	}

	cc.Logger.Debug("image copied into media directory", "src", ref, "dst", dst)

	return dst, nil
}
