package sync

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/recipevault/internal/recipe"
	"github.com/tonimelisma/recipevault/internal/remote"
	"github.com/tonimelisma/recipevault/internal/remote/remotetest"
	"github.com/tonimelisma/recipevault/internal/store"
	"github.com/tonimelisma/recipevault/internal/syncstatus"
)

const owner = "user-1"

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))

	return len(p), nil
}

// staticCreds is a signed-in owner.
type staticCreds string

func (c staticCreds) OwnerID() string { return string(c) }

// serverTokens hands out tokens issued directly by the fake server.
type serverTokens struct {
	srv       *remotetest.Server
	owner     string
	noRefresh bool
}

func (s *serverTokens) Token(context.Context) (string, error) {
	return s.srv.IssueToken(s.owner), nil
}

func (s *serverTokens) Refresh(context.Context) (string, error) {
	if s.noRefresh {
		return "", errors.New("refresh token revoked")
	}

	return s.srv.IssueToken(s.owner), nil
}

type harness struct {
	store     *store.Store
	srv       *remotetest.Server
	client    *remote.Client
	tokens    *serverTokens
	publisher *syncstatus.Publisher
	engine    *Engine
	dbPath    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := testLogger(t)
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "recipes.db")

	st, err := store.Open(ctx, dbPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv := remotetest.New(t)
	tokens := &serverTokens{srv: srv, owner: owner}

	client := remote.NewClient(remote.Config{
		BaseURL: srv.URL(),
		Tokens:  tokens,
		Logger:  logger,
	})

	pub := syncstatus.NewPublisher(syncstatus.Snapshot{Status: syncstatus.Idle}, st, logger)

	eng := NewEngine(&EngineConfig{
		Store:       st,
		Gateway:     client,
		Credentials: staticCreds(owner),
		Status:      pub,
		Logger:      logger,
	})

	return &harness{
		store:     st,
		srv:       srv,
		client:    client,
		tokens:    tokens,
		publisher: pub,
		engine:    eng,
		dbPath:    dbPath,
	}
}

func draft(title string) *recipe.Draft {
	return &recipe.Draft{
		Title:       title,
		Description: "for testing",
		Ingredients: []recipe.IngredientDraft{{Name: "flour", Amount: 2, Unit: "cup"}, {Name: "eggs", Amount: 3}},
		Steps:       []recipe.StepDraft{{Description: "Mix"}, {Description: "Bake", Duration: 30}},
		Tags:        []string{"dessert"},
	}
}

func (h *harness) create(t *testing.T, title string) *recipe.Recipe {
	t.Helper()

	r, err := h.store.CreateRecipe(context.Background(), owner, draft(title))
	require.NoError(t, err)

	return r
}

func (h *harness) unsynced(t *testing.T) []recipe.Recipe {
	t.Helper()

	rs, err := h.store.ListUnsynced(context.Background(), owner)
	require.NoError(t, err)

	return rs
}

func TestTryRun_CreatesAndRewritesIdentifiers(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	a := h.create(t, "Apple Pie")
	b := h.create(t, "Banana Bread")

	report, err := h.engine.TryRun(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 2, report.Attempted)
	require.Len(t, report.Synced, 2)
	assert.Empty(t, report.Failed)

	assert.Empty(t, h.unsynced(t))
	assert.Len(t, h.srv.Recipes(owner), 2)
	assert.Zero(t, h.srv.PayloadsWithID())

	for i, old := range []*recipe.Recipe{a, b} {
		_, err := h.store.GetRecipe(ctx, old.ID.Value)
		assert.True(t, errors.Is(err, recipe.ErrNotFound), "local id %s is gone", old.ID.Value)

		got, err := h.store.GetRecipe(ctx, report.Synced[i])
		require.NoError(t, err)
		assert.Equal(t, recipe.KindCanonical, got.ID.Kind)
		assert.True(t, got.IsSynced)
		assert.False(t, got.SyncedAt.Before(got.CreatedAt))
		assert.Equal(t, old.Title, got.Title)
		assert.Len(t, got.Ingredients, 2)
		assert.Len(t, got.Steps, 2)
		assert.Equal(t, []string{"dessert"}, got.TagNames())
	}

	snap := h.publisher.Snapshot()
	assert.Equal(t, syncstatus.Success, snap.Status)
	assert.Empty(t, snap.LastError)
	assert.False(t, snap.LastSyncAt.IsZero())
}

func TestTryRun_NothingToDo(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	report, err := h.engine.TryRun(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
	assert.Equal(t, syncstatus.Success, h.publisher.Snapshot().Status)
}

func TestTryRun_PartialFailureIsolation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	h.create(t, "One")
	second := h.create(t, "Two")
	h.create(t, "Three")

	h.srv.Fail("POST /api/v1/recipes/", "Two", http.StatusInternalServerError, -1)

	report, err := h.engine.TryRun(ctx)
	require.Error(t, err)

	var pf *PartialFailureError
	require.True(t, errors.As(err, &pf))
	require.Len(t, pf.Failed, 1)
	assert.Equal(t, second.ID.Value, pf.Failed[0].ID)
	assert.True(t, errors.Is(pf.Failed[0].Err, remote.ErrServerError))

	assert.Len(t, report.Synced, 2)

	left := h.unsynced(t)
	require.Len(t, left, 1)
	assert.Equal(t, second.ID, left[0].ID)
	assert.False(t, left[0].IsSynced)

	titles := make([]string, 0, 2)
	for _, r := range h.srv.Recipes(owner) {
		titles = append(titles, r.Title)
	}

	assert.ElementsMatch(t, []string{"One", "Three"}, titles)

	snap := h.publisher.Snapshot()
	assert.Equal(t, syncstatus.Error, snap.Status)
	assert.Contains(t, snap.LastError, "1 of 3")
	assert.Contains(t, snap.LastError, second.ID.Value)

	// The next pass retries only the failed recipe.
	h.srv.ClearFailures()

	report, err = h.engine.TryRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted)
	assert.Empty(t, h.unsynced(t))
	assert.Equal(t, 4, h.srv.Calls("POST /api/v1/recipes/"))
}

func TestTryRun_ConcurrentTriggerIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	h.create(t, "Slow")

	release := h.srv.BlockCreates()

	done := make(chan error, 1)

	go func() {
		_, err := h.engine.TryRun(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return h.srv.Calls("POST /api/v1/recipes/") == 1
	}, 5*time.Second, 5*time.Millisecond)

	report, err := h.engine.TryRun(ctx)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.True(t, h.engine.Running())
	assert.Equal(t, syncstatus.Syncing, h.publisher.Snapshot().Status)

	release()
	require.NoError(t, <-done)

	assert.Equal(t, 1, h.srv.Calls("POST /api/v1/recipes/"))
	assert.Len(t, h.srv.Recipes(owner), 1)
	assert.False(t, h.engine.Running())
	assert.Equal(t, syncstatus.Success, h.publisher.Snapshot().Status)
}

func TestTryRun_NoIdentityAbortsPass(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.create(t, "Orphan")

	eng := NewEngine(&EngineConfig{
		Store:       h.store,
		Gateway:     h.client,
		Credentials: staticCreds(""),
		Status:      h.publisher,
		Logger:      testLogger(t),
	})

	_, err := eng.TryRun(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthenticated))
	assert.Zero(t, h.srv.Calls("POST /api/v1/recipes/"))

	snap := h.publisher.Snapshot()
	assert.Equal(t, syncstatus.Error, snap.Status)
	assert.Contains(t, snap.LastError, "unauthenticated")
}

func TestTryRun_RejectedCredentialAbortsRemainingEntities(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.create(t, "First")
	h.create(t, "Second")

	h.tokens.noRefresh = true
	h.srv.Fail("POST /api/v1/recipes/", "", http.StatusUnauthorized, -1)

	_, err := h.engine.TryRun(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthenticated))
	assert.True(t, errors.Is(err, remote.ErrUnauthenticated))

	assert.Equal(t, 1, h.srv.Calls("POST /api/v1/recipes/"), "second recipe never attempted")
	assert.Len(t, h.unsynced(t), 2)
	assert.Equal(t, syncstatus.Error, h.publisher.Snapshot().Status)
}

func TestTryRun_NetworkTimeoutFailsOnlyThatEntity(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.create(t, "Remote is slow")

	release := h.srv.BlockCreates()
	t.Cleanup(release)

	client := remote.NewClient(remote.Config{
		BaseURL:  h.srv.URL(),
		Tokens:   h.tokens,
		Logger:   testLogger(t),
		MetaHTTP: &http.Client{Timeout: 50 * time.Millisecond},
	})

	eng := NewEngine(&EngineConfig{
		Store:       h.store,
		Gateway:     client,
		Credentials: staticCreds(owner),
		Logger:      testLogger(t),
	})

	report, err := eng.TryRun(context.Background())

	var pf *PartialFailureError
	require.True(t, errors.As(err, &pf))
	require.Len(t, report.Failed, 1)
	assert.True(t, errors.Is(report.Failed[0].Err, remote.ErrNetworkUnavailable))
	assert.Len(t, h.unsynced(t), 1)
}

func TestTryRun_EditAfterSyncUsesUpdate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	h.create(t, "Soup")

	report, err := h.engine.TryRun(ctx)
	require.NoError(t, err)
	require.Len(t, report.Synced, 1)

	id := report.Synced[0]
	title := "Tomato Soup"

	_, err = h.store.UpdateRecipe(ctx, id, &recipe.Patch{Title: &title})
	require.NoError(t, err)

	report, err = h.engine.TryRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, report.Synced)

	assert.Equal(t, 1, h.srv.Calls("POST /api/v1/recipes/"))
	assert.Equal(t, 1, h.srv.Calls("PUT /api/v1/recipes/{id}"))

	remoteRec, ok := h.srv.Recipe(id)
	require.True(t, ok)
	assert.Equal(t, "Tomato Soup", remoteRec.Title)
}

func TestTryRun_ResumesAfterCrashBetweenRewriteAndMark(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	local := h.create(t, "Half done")

	// The service accepted the create and the rewrite landed, but the
	// process died before the synced flag was set.
	canonical := h.srv.Seed(remotetest.Recipe{UserID: owner, Title: "Half done"})
	require.NoError(t, h.store.RewriteIdentifier(ctx, local.ID.Value, canonical))

	report, err := h.engine.TryRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{canonical}, report.Synced)

	assert.Zero(t, h.srv.Calls("POST /api/v1/recipes/"), "no duplicate create")
	assert.Equal(t, 1, h.srv.Calls("PUT /api/v1/recipes/{id}"))
	assert.Len(t, h.srv.Recipes(owner), 1)
}

func TestTryRun_UpdateOfRemotelyDeletedRecipeRecreates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	h.create(t, "Gone remotely")

	report, err := h.engine.TryRun(ctx)
	require.NoError(t, err)

	first := report.Synced[0]
	require.NoError(t, h.client.Delete(ctx, first))

	notes := "edited offline"
	_, err = h.store.UpdateRecipe(ctx, first, &recipe.Patch{Notes: &notes})
	require.NoError(t, err)

	report, err = h.engine.TryRun(ctx)
	require.NoError(t, err)
	require.Len(t, report.Synced, 1)

	second := report.Synced[0]
	assert.NotEqual(t, first, second)

	got, err := h.store.GetRecipe(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "edited offline", got.Notes)
	assert.True(t, got.IsSynced)
}

func TestTryRun_EditDuringPushIsNotLost(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	local := h.create(t, "Racing")

	release := h.srv.BlockCreates()
	done := make(chan *PassReport, 1)

	go func() {
		report, err := h.engine.TryRun(ctx)
		assert.NoError(t, err)
		done <- report
	}()

	require.Eventually(t, func() bool {
		return h.srv.Calls("POST /api/v1/recipes/") == 1
	}, 5*time.Second, 5*time.Millisecond)

	title := "Racing, edited"
	_, err := h.store.UpdateRecipe(ctx, local.ID.Value, &recipe.Patch{Title: &title})
	require.NoError(t, err)

	release()

	report := <-done
	require.Len(t, report.Requeued, 1)
	assert.Empty(t, report.Synced)

	id := report.Requeued[0]

	got, err := h.store.GetRecipe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, recipe.KindCanonical, got.ID.Kind, "rewrite still applied")
	assert.False(t, got.IsSynced, "edit made during the push stays pending")
	assert.Equal(t, "Racing, edited", got.Title)

	report, err = h.engine.TryRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, report.Synced)

	remoteRec, ok := h.srv.Recipe(id)
	require.True(t, ok)
	assert.Equal(t, "Racing, edited", remoteRec.Title)
	assert.Equal(t, 1, h.srv.Calls("POST /api/v1/recipes/"))
}

func TestTryRun_DeleteDuringCreateRemovesRemoteCopy(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	local := h.create(t, "Doomed")

	release := h.srv.BlockCreates()
	done := make(chan *PassReport, 1)

	go func() {
		report, err := h.engine.TryRun(ctx)
		assert.NoError(t, err)
		done <- report
	}()

	require.Eventually(t, func() bool {
		return h.srv.Calls("POST /api/v1/recipes/") == 1
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, h.store.DeleteRecipe(ctx, local.ID.Value))

	release()

	report := <-done
	require.Len(t, report.Dropped, 1)
	assert.Empty(t, report.Failed)
	assert.Empty(t, report.Synced)
	assert.Equal(t, 1, report.DeletesPushed, "remote copy deleted in the same pass")

	assert.Empty(t, h.srv.Recipes(owner))

	tombstones, err := h.store.ListPendingDeletes(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, tombstones)

	_, err = h.engine.Pull(ctx)
	require.NoError(t, err)

	all, err := h.store.ListRecipes(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, all, "pull does not bring the deleted recipe back")
}

func TestSyncRecipe_DeleteDuringCreateRemovesRemoteCopy(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	local := h.create(t, "Doomed")

	release := h.srv.BlockCreates()
	done := make(chan *PassReport, 1)

	go func() {
		report, err := h.engine.SyncRecipe(ctx, local.ID.Value)
		assert.NoError(t, err)
		done <- report
	}()

	require.Eventually(t, func() bool {
		return h.srv.Calls("POST /api/v1/recipes/") == 1
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, h.store.DeleteRecipe(ctx, local.ID.Value))

	release()

	report := <-done
	require.Len(t, report.Dropped, 1)
	assert.Equal(t, 1, report.DeletesPushed)
	assert.Empty(t, h.srv.Recipes(owner))
}

func TestTryRun_RemoteCreatedAtAheadOfLocalClock(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	id := h.srv.Seed(remotetest.Recipe{UserID: owner, Title: "From a fast server"})

	ahead := time.Now().Add(10 * time.Minute)
	_, err := h.store.UpsertCanonical(ctx, &recipe.Recipe{
		ID:        recipe.Canonical(id),
		OwnerID:   owner,
		Title:     "From a fast server",
		CreatedAt: ahead,
		UpdatedAt: ahead,
	})
	require.NoError(t, err)

	title := "Edited on a slow device"
	_, err = h.store.UpdateRecipe(ctx, id, &recipe.Patch{Title: &title})
	require.NoError(t, err)

	report, err := h.engine.TryRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, report.Synced)

	got, err := h.store.GetRecipe(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.IsSynced)
	assert.False(t, got.SyncedAt.Before(got.CreatedAt))
}

func TestTryRun_UploadsLocalMedia(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	img := filepath.Join(t.TempDir(), "cake.png")
	require.NoError(t, os.WriteFile(img, []byte("png-bytes"), 0o600))

	d := draft("With photo")
	d.ImageRef = img

	_, err := h.store.CreateRecipe(ctx, owner, d)
	require.NoError(t, err)

	report, err := h.engine.TryRun(ctx)
	require.NoError(t, err)
	require.Len(t, report.Synced, 1)

	keys := h.srv.MediaKeys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], owner+"/"))
	assert.True(t, strings.HasSuffix(keys[0], ".png"))

	data, ok := h.srv.Media(keys[0])
	require.True(t, ok)
	assert.Equal(t, []byte("png-bytes"), data)

	got, err := h.store.GetRecipe(ctx, report.Synced[0])
	require.NoError(t, err)
	assert.True(t, got.HasRemoteImage())

	remoteRec, ok := h.srv.Recipe(report.Synced[0])
	require.True(t, ok)
	assert.Equal(t, got.ImageRef, remoteRec.ImageURL)
}

func TestTryRun_MediaFailureStillSyncsRecipe(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	img := filepath.Join(t.TempDir(), "cake.jpg")
	require.NoError(t, os.WriteFile(img, []byte("jpg-bytes"), 0o600))

	d := draft("Photo fails")
	d.ImageRef = img

	_, err := h.store.CreateRecipe(ctx, owner, d)
	require.NoError(t, err)

	h.srv.Fail("POST /api/v1/media/{namespace}", "", http.StatusServiceUnavailable, -1)

	report, err := h.engine.TryRun(ctx)
	require.NoError(t, err)
	require.Len(t, report.Synced, 1)

	got, err := h.store.GetRecipe(ctx, report.Synced[0])
	require.NoError(t, err)
	assert.True(t, got.IsSynced)
	assert.Equal(t, img, got.ImageRef, "local path kept")

	remoteRec, ok := h.srv.Recipe(report.Synced[0])
	require.True(t, ok)
	assert.Empty(t, remoteRec.ImageURL)
}

func TestTryRun_MissingMediaFileStillSyncsRecipe(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	d := draft("Photo missing")
	d.ImageRef = filepath.Join(t.TempDir(), "absent.jpg")

	_, err := h.store.CreateRecipe(context.Background(), owner, d)
	require.NoError(t, err)

	report, err := h.engine.TryRun(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Synced, 1)
	assert.Zero(t, h.srv.Calls("POST /api/v1/media/{namespace}"))
}

func TestTryRun_PushesDeletes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	h.create(t, "Keep")
	h.create(t, "Drop")
	h.create(t, "Already gone")

	report, err := h.engine.TryRun(ctx)
	require.NoError(t, err)
	require.Len(t, report.Synced, 3)

	drop, gone := report.Synced[1], report.Synced[2]

	require.NoError(t, h.client.Delete(ctx, gone))
	require.NoError(t, h.store.DeleteRecipe(ctx, drop))
	require.NoError(t, h.store.DeleteRecipe(ctx, gone))

	report, err = h.engine.TryRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.DeletesPushed)

	_, ok := h.srv.Recipe(drop)
	assert.False(t, ok)
	assert.Len(t, h.srv.Recipes(owner), 1)

	pending, err := h.store.ListPendingDeletes(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTryRun_FailedDeleteKeepsTombstone(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	h.create(t, "Sticky")

	report, err := h.engine.TryRun(ctx)
	require.NoError(t, err)

	id := report.Synced[0]
	require.NoError(t, h.store.DeleteRecipe(ctx, id))

	h.srv.Fail("DELETE /api/v1/recipes/{id}", id, http.StatusBadGateway, 1)

	_, err = h.engine.TryRun(ctx)

	var pf *PartialFailureError
	require.True(t, errors.As(err, &pf))
	assert.Equal(t, id, pf.Failed[0].ID)

	pending, err := h.store.ListPendingDeletes(ctx, owner)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = h.engine.TryRun(ctx)
	require.NoError(t, err)

	pending, err = h.store.ListPendingDeletes(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTryRun_RejectsReservedCanonicalID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	local := h.create(t, "Bad id")

	h.srv.OverrideNextIDs("local_0_collision")

	_, err := h.engine.TryRun(context.Background())

	var pf *PartialFailureError
	require.True(t, errors.As(err, &pf))
	assert.True(t, errors.Is(pf.Failed[0].Err, remote.ErrProtocol))

	left := h.unsynced(t)
	require.Len(t, left, 1)
	assert.Equal(t, local.ID, left[0].ID, "local row untouched")
}

func TestSyncRecipe(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	a := h.create(t, "Only me")
	h.create(t, "Not me")

	report, err := h.engine.SyncRecipe(ctx, a.ID.Value)
	require.NoError(t, err)
	require.Len(t, report.Synced, 1)
	assert.Len(t, h.unsynced(t), 1)
	assert.Len(t, h.srv.Recipes(owner), 1)

	report, err = h.engine.SyncRecipe(ctx, report.Synced[0])
	require.NoError(t, err)
	assert.Zero(t, report.Attempted, "already synced")

	_, err = h.engine.SyncRecipe(ctx, "local_1_missing00")
	assert.True(t, errors.Is(err, recipe.ErrNotFound))
}

func TestPull(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	id := h.srv.Seed(remotetest.Recipe{
		UserID:      owner,
		Title:       "From another device",
		Ingredients: []remotetest.Ingredient{{ID: "i1", Name: "salt", OrderIndex: 0}},
	})
	h.srv.Seed(remotetest.Recipe{UserID: "user-2", Title: "Someone else's"})

	report, err := h.engine.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pulled)

	got, err := h.store.GetRecipe(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.IsSynced)
	assert.Equal(t, "From another device", got.Title)
	require.Len(t, got.Ingredients, 1)
	assert.Equal(t, "salt", got.Ingredients[0].Name)

	// A local edit wins over the remote copy until it is pushed.
	title := "Edited here"
	_, err = h.store.UpdateRecipe(ctx, id, &recipe.Patch{Title: &title})
	require.NoError(t, err)

	report, err = h.engine.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.PullSkipped)

	got, err = h.store.GetRecipe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Edited here", got.Title)
}

func TestPartialFailureError_Message(t *testing.T) {
	t.Parallel()

	err := &PartialFailureError{
		Attempted: 3,
		Failed: []EntityFailure{
			{ID: "a", Err: errors.New("boom")},
			{ID: "b", Err: errors.New("bang")},
		},
	}

	assert.Equal(t, "sync: 2 of 3 items failed: a: boom; b: bang", err.Error())
}

func TestGuard(t *testing.T) {
	t.Parallel()

	var g Guard

	require.True(t, g.TryAcquire())
	assert.True(t, g.Running())
	assert.False(t, g.TryAcquire())

	g.Release()
	assert.False(t, g.Running())
	assert.True(t, g.TryAcquire())
}
