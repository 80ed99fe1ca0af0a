package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/recipevault/internal/config"
	"github.com/tonimelisma/recipevault/internal/remote/remotetest"
	"github.com/tonimelisma/recipevault/internal/syncstatus"
)

const (
	testEmail    = "cook@example.com"
	testPassword = "hunter2"
	testOwner    = "user-1"
)

// cliEnv points the CLI at a fake server and a fresh data directory through
// the environment, the way a user would. Tests using it cannot run in
// parallel because of t.Setenv.
type cliEnv struct {
	t       *testing.T
	srv     *remotetest.Server
	dataDir string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	srv := remotetest.New(t)
	srv.AddUser(testEmail, testPassword, testOwner)

	dir := t.TempDir()
	t.Setenv(config.EnvDataDir, dir)
	t.Setenv(config.EnvConfig, filepath.Join(dir, "config.toml"))
	t.Setenv(config.EnvAPIURL, srv.URL())
	t.Setenv(config.EnvLogLevel, "")
	t.Setenv(envPassword, "")

	return &cliEnv{t: t, srv: srv, dataDir: dir}
}

func (e *cliEnv) run(args ...string) (string, string, error) {
	e.t.Helper()

	cmd := newRootCmd()

	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return stdout.String(), stderr.String(), err
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()

	stdout, stderr, err := e.run(args...)
	require.NoError(e.t, err, "recipevault %s\nstderr: %s", strings.Join(args, " "), stderr)

	return stdout
}

func (e *cliEnv) login() {
	e.t.Helper()
	e.mustRun("login", "--email", testEmail, "--password", testPassword)
}

func decodeJSON[T any](t *testing.T, s string) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal([]byte(s), &v), "output: %s", s)

	return v
}

func TestCLI_AddSyncStatus(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	who := decodeJSON[whoamiOutput](t, e.mustRun("whoami", "--json"))
	assert.Equal(t, testOwner, who.OwnerID)
	assert.Equal(t, testEmail, who.Email)

	id := strings.TrimSpace(e.mustRun("recipe", "add",
		"--title", "Pancakes",
		"--servings", "4",
		"--ingredient", "200 g flour",
		"--ingredient", "2 eggs",
		"--step", "Whisk",
		"--step", "Fry",
		"--tag", "breakfast",
	))
	assert.True(t, strings.HasPrefix(id, "local_"), "new recipes get a local id, got %q", id)

	list := decodeJSON[[]recipeView](t, e.mustRun("recipe", "list", "--json"))
	require.Len(t, list, 1)
	assert.False(t, list[0].Synced)
	assert.Equal(t, "local", list[0].IDKind)

	pass := decodeJSON[passView](t, e.mustRun("sync", "--json"))
	assert.Equal(t, 1, pass.Attempted)
	assert.Len(t, pass.Synced, 1)
	assert.Equal(t, "success", pass.Status)

	remote := e.srv.Recipes(testOwner)
	require.Len(t, remote, 1)
	assert.Equal(t, "Pancakes", remote[0].Title)
	require.Len(t, remote[0].Ingredients, 2)
	assert.Equal(t, "flour", remote[0].Ingredients[0].Name)

	shown := decodeJSON[recipeView](t, e.mustRun("recipe", "show", remote[0].ID, "--json"))
	assert.True(t, shown.Synced)
	assert.Equal(t, "canonical", shown.IDKind)

	_, _, err := e.run("recipe", "show", id)
	require.Error(t, err, "the local id was rewritten")
	assert.Contains(t, err.Error(), "not found")

	status := decodeJSON[statusOutput](t, e.mustRun("status", "--json"))
	assert.True(t, status.LoggedIn)
	assert.Equal(t, "success", status.Status)
	assert.NotNil(t, status.LastSyncAt)
	assert.Equal(t, 1, status.Recipes)
	assert.Equal(t, 0, status.Unsynced)
}

func TestCLI_NotLoggedIn(t *testing.T) {
	e := newCLIEnv(t)

	_, _, err := e.run("recipe", "list")
	require.ErrorIs(t, err, errNotSignedIn)

	_, _, err = e.run("sync")
	require.ErrorIs(t, err, errNotSignedIn)

	assert.Contains(t, e.mustRun("whoami"), "Not logged in.")

	status := decodeJSON[statusOutput](t, e.mustRun("status", "--json"))
	assert.False(t, status.LoggedIn)
	assert.Equal(t, "idle", status.Status)
}

func TestCLI_Login(t *testing.T) {
	e := newCLIEnv(t)

	_, _, err := e.run("login", "--email", testEmail, "--password", "wrong")
	require.Error(t, err)

	_, _, err = e.run("login", "--email", testEmail)
	require.Error(t, err)
	assert.Contains(t, err.Error(), envPassword)

	t.Setenv(envPassword, testPassword)
	_, stderr, err := e.run("login", "--email", testEmail)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Signed in as "+testEmail)

	_, err = os.Stat(filepath.Join(e.dataDir, "token.json"))
	require.NoError(t, err)

	e.mustRun("logout")

	_, err = os.Stat(filepath.Join(e.dataDir, "token.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestCLI_AddFromFile(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	path := filepath.Join(t.TempDir(), "draft.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
title: Tomato Soup
difficulty: easy
ingredients:
  - {name: tomatoes, amount: 6}
  - {name: salt}
steps:
  - description: Simmer
    duration: 20
tags: [soup, Vegetarian]
`), 0o600))

	r := decodeJSON[recipeView](t, e.mustRun("recipe", "add", "--file", path, "--json"))
	assert.Equal(t, "Tomato Soup", r.Title)
	require.Len(t, r.Ingredients, 2)
	assert.Equal(t, "tomatoes", r.Ingredients[0].Name)
	assert.InDelta(t, 6.0, r.Ingredients[0].Amount, 0)
	require.Len(t, r.Steps, 1)
	assert.Equal(t, 20, r.Steps[0].Duration)
	assert.Len(t, r.Tags, 2)
}

func TestCLI_AddRejectsInvalidDraft(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	path := filepath.Join(t.TempDir(), "draft.yaml")
	require.NoError(t, os.WriteFile(path, []byte("title: X\nflavour: strong\n"), 0o600))

	_, _, err := e.run("recipe", "add", "--file", path)
	require.Error(t, err, "unknown YAML fields are rejected")

	_, _, err = e.run("recipe", "add", "--title", "Bad", "--difficulty", "extreme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "difficulty")
}

func TestCLI_EditSearchAndDelete(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	e.mustRun("recipe", "add", "--title", "Lemon Tart", "--description", "Sharp and sweet")
	e.mustRun("recipe", "add", "--title", "Beef Stew")
	e.mustRun("sync")

	var tartID string

	for _, r := range e.srv.Recipes(testOwner) {
		if r.Title == "Lemon Tart" {
			tartID = r.ID
		}
	}

	require.NotEmpty(t, tartID)

	found := decodeJSON[[]recipeView](t, e.mustRun("recipe", "search", "SWEET", "--json"))
	require.Len(t, found, 1)
	assert.Equal(t, tartID, found[0].ID)

	_, _, err := e.run("recipe", "edit", tartID)
	require.Error(t, err, "an edit without flags changes nothing")

	e.mustRun("recipe", "edit", tartID, "--title", "Lime Tart", "--step", "Bake")
	e.mustRun("sync")

	upd, ok := e.srv.Recipe(tartID)
	require.True(t, ok)
	assert.Equal(t, "Lime Tart", upd.Title)
	assert.Equal(t, 1, e.srv.Calls("PUT /api/v1/recipes/{id}"))

	e.mustRun("recipe", "rm", tartID)

	status := decodeJSON[statusOutput](t, e.mustRun("status", "--json"))
	assert.Equal(t, 1, status.PendingDeletes)

	pass := decodeJSON[passView](t, e.mustRun("sync", "--json"))
	assert.Equal(t, 1, pass.DeletesPushed)

	_, ok = e.srv.Recipe(tartID)
	assert.False(t, ok)
	assert.Len(t, e.srv.Recipes(testOwner), 1)
}

func TestCLI_EditRemovesSingleEntries(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	r := decodeJSON[recipeView](t, e.mustRun("recipe", "add", "--title", "Omelette",
		"--ingredient", "3 eggs", "--ingredient", "salt", "--ingredient", "10 g butter",
		"--step", "Whisk", "--step", "Rest", "--step", "Fry", "--json"))

	got := decodeJSON[recipeView](t, e.mustRun("recipe", "edit", r.ID,
		"--remove-ingredient", "1", "--remove-ingredient", "3", "--remove-step", "2", "--json"))

	require.Len(t, got.Ingredients, 1)
	assert.Equal(t, "salt", got.Ingredients[0].Name)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "Whisk", got.Steps[0].Description)
	assert.Equal(t, "Fry", got.Steps[1].Description)
	assert.False(t, got.Synced)

	_, _, err := e.run("recipe", "edit", r.ID, "--remove-step", "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no step at position 7")

	_, _, err = e.run("recipe", "edit", r.ID, "--remove-step", "1", "--step", "Only")
	assert.Error(t, err, "removing from and replacing the same list is ambiguous")
}

func TestCLI_RecipeTags(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	e.mustRun("recipe", "add", "--title", "Soup", "--tag", "soup,winter")
	e.mustRun("recipe", "add", "--title", "Stew", "--tag", "winter")

	tags := decodeJSON[[]tagView](t, e.mustRun("recipe", "tags", "--json"))
	require.Len(t, tags, 2)
	assert.Equal(t, "soup", tags[0].Name)
	assert.Equal(t, "winter", tags[1].Name)

	out := e.mustRun("recipe", "tags")
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "winter")
}

func TestCLI_SyncFailureExitsWithError(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	e.mustRun("recipe", "add", "--title", "Good")
	e.mustRun("recipe", "add", "--title", "Doomed")
	e.srv.Fail("POST /api/v1/recipes/", "Doomed", 500, 1)

	_, stderr, err := e.run("sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 items failed")
	assert.Contains(t, stderr, "Status: error")

	status := decodeJSON[statusOutput](t, e.mustRun("status", "--json"))
	assert.Equal(t, "error", status.Status)
	assert.Contains(t, status.LastError, "1 of 2 items failed")
	assert.Equal(t, 1, status.Unsynced)

	e.mustRun("sync")

	status = decodeJSON[statusOutput](t, e.mustRun("status", "--json"))
	assert.Equal(t, "success", status.Status)
	assert.Empty(t, status.LastError)
	assert.Len(t, e.srv.Recipes(testOwner), 2)
}

func TestCLI_SyncSingleRecipe(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	first := strings.TrimSpace(e.mustRun("recipe", "add", "--title", "First"))
	e.mustRun("recipe", "add", "--title", "Second")

	e.mustRun("sync", "--recipe", first)

	remote := e.srv.Recipes(testOwner)
	require.Len(t, remote, 1)
	assert.Equal(t, "First", remote[0].Title)
}

func TestCLI_ImportURL(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	r := decodeJSON[recipeView](t, e.mustRun("import", "url", "https://example.com/pancakes", "--json"))
	assert.Equal(t, "Parsed from https://example.com/pancakes", r.Title)
	assert.Equal(t, "https://example.com/pancakes", r.SourceURL)
	assert.False(t, r.Synced)

	_, _, err := e.run("import", "url", "not a url")
	require.Error(t, err)
}

func TestCLI_ImportImage(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	photo := filepath.Join(t.TempDir(), "card.jpg")
	require.NoError(t, os.WriteFile(photo, []byte("jpeg bytes"), 0o600))

	r := decodeJSON[recipeView](t, e.mustRun("import", "image", photo, "--attach", "--json"))
	assert.Equal(t, "Scanned card.jpg", r.Title)
	assert.True(t, strings.HasPrefix(r.Image, filepath.Join(e.dataDir, "media")), "the photo is copied into the media dir, got %q", r.Image)

	e.mustRun("sync")

	remote := e.srv.Recipes(testOwner)
	require.Len(t, remote, 1)
	assert.True(t, strings.HasPrefix(remote[0].ImageURL, e.srv.URL()+"/media/"+testOwner+"/"))
}

func TestCLI_ImportImageMethod(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	photo := filepath.Join(t.TempDir(), "card.jpg")
	require.NoError(t, os.WriteFile(photo, []byte("jpeg bytes"), 0o600))

	e.mustRun("import", "image", photo, "--method", "hybrid")
	assert.Equal(t, []string{"hybrid"}, e.srv.OCRMethods())

	_, _, err := e.run("import", "image", photo, "--method", "crayon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown ocr method")
	assert.Len(t, e.srv.OCRMethods(), 1, "an invalid method never reaches the server")
}

func TestSyncSession_UnreadableStatusIsLogged(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	ctx := context.Background()

	cc, err := newCLIContext(CLIFlags{}, io.Discard, io.Discard)
	require.NoError(t, err)

	st, err := openStore(ctx, cc)
	require.NoError(t, err)
	require.NoError(t, st.SaveStatus(ctx, syncstatus.Snapshot{Status: "bogus"}))
	require.NoError(t, st.Close())

	var logs bytes.Buffer
	cc.Logger = slog.New(slog.NewJSONHandler(&logs, nil))

	ss, err := newSyncSession(ctx, cc)
	require.NoError(t, err, "an unreadable status must not block syncing")
	ss.cleanup()

	var found bool

	sc := bufio.NewScanner(&logs)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))

		if rec["msg"] != "could not load persisted sync status" {
			continue
		}

		found = true
		msg, ok := rec["error"].(string)
		require.True(t, ok, "error attribute is a string, got %T", rec["error"])
		assert.Contains(t, msg, "loading sync status")
	}

	assert.True(t, found, "logs: %s", logs.String())
}

func TestCLI_Pull(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	e.srv.Seed(remotetest.Recipe{UserID: testOwner, Title: "From the web app"})

	pass := decodeJSON[passView](t, e.mustRun("pull", "--json"))
	assert.Equal(t, 1, pass.Pulled)

	list := decodeJSON[[]recipeView](t, e.mustRun("recipe", "list", "--json"))
	require.Len(t, list, 1)
	assert.Equal(t, "From the web app", list[0].Title)
	assert.True(t, list[0].Synced)
}

func TestCLI_SyncDefersToRunningWatcher(t *testing.T) {
	e := newCLIEnv(t)
	e.login()

	// Hold the lock as a watcher would. Our own PID is recorded, so the
	// SIGHUP lands on the test process; trap it.
	sigs := trapSIGHUP(t)

	cleanup, err := writePIDFile(filepath.Join(e.dataDir, "watch.pid"))
	require.NoError(t, err)
	defer cleanup()

	_, stderr, err := e.run("sync")
	require.NoError(t, err)
	assert.Contains(t, stderr, "already running")

	select {
	case <-sigs:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher was not signaled")
	}
}

func TestCLI_ConfigShow(t *testing.T) {
	e := newCLIEnv(t)

	out := e.mustRun("config", "show")
	assert.Contains(t, out, e.srv.URL())
	assert.Contains(t, out, filepath.Join(e.dataDir, "recipes.db"))

	cfg := decodeJSON[config.Resolved](t, e.mustRun("config", "show", "--json"))
	assert.Equal(t, e.srv.URL(), cfg.APIURL)

	out = e.mustRun("config", "show", "--api-url", "http://flag.example.com")
	assert.Contains(t, out, "http://flag.example.com")
}

func TestCLI_BadConfigFile(t *testing.T) {
	e := newCLIEnv(t)

	path := filepath.Join(e.dataDir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[sync]\nintervall = \"5m\"\n"), 0o600))

	_, _, err := e.run("status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "sync.interval"`)
}
