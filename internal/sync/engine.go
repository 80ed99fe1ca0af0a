// Package sync pushes locally created and edited recipes to the remote
// service. A pass lists unsynced recipes, uploads local-only media, creates
// or updates each recipe remotely, rewrites local identifiers to canonical
// ones and marks the recipe synced. Entities fail independently; only a
// missing or rejected credential aborts a pass.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tonimelisma/recipevault/internal/recipe"
	"github.com/tonimelisma/recipevault/internal/remote"
)

// ErrUnauthenticated aborts a pass: nothing can be pushed without an owner.
var ErrUnauthenticated = errors.New("sync: unauthenticated")

// errDeletedLocally marks a recipe the user deleted while it was being
// pushed. Any remote copy the push made is queued for delete.
var errDeletedLocally = errors.New("sync: recipe deleted locally during push")

// EngineConfig holds the collaborators for NewEngine.
type EngineConfig struct {
	Store       Store
	Gateway     Gateway
	Credentials Credentials
	Status      StatusReporter // optional
	Guard       *Guard         // optional; shared when several engines must not overlap
	Logger      *slog.Logger
}

// EntityFailure records one recipe that did not sync.
type EntityFailure struct {
	ID  string
	Err error
}

// PassReport summarizes one pass. Skipped means another pass was already
// running and nothing was done.
type PassReport struct {
	Skipped  bool
	OwnerID  string
	Duration time.Duration

	Attempted int
	Synced    []string // canonical ids marked synced
	Requeued  []string // pushed, but edited meanwhile; pushed again next pass
	Dropped   []string // deleted locally while being pushed
	Failed    []EntityFailure

	DeletesPushed int

	Pulled      int
	PullSkipped int
}

// PartialFailureError is returned when some recipes failed. Its message is
// the single summary given to the status publisher.
type PartialFailureError struct {
	Attempted int
	Failed    []EntityFailure
}

func (e *PartialFailureError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "sync: %d of %d items failed", len(e.Failed), e.Attempted)

	for i, f := range e.Failed {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}

		fmt.Fprintf(&b, "%s: %v", f.ID, f.Err)
	}

	return b.String()
}

// Engine runs sync passes. Every entry point funnels through the same guard.
type Engine struct {
	store   Store
	gateway Gateway
	creds   Credentials
	status  StatusReporter
	guard   *Guard
	logger  *slog.Logger

	nowFunc  func() time.Time
	readFile func(path string) ([]byte, error)
}

// NewEngine creates an Engine.
func NewEngine(cfg *EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	guard := cfg.Guard
	if guard == nil {
		guard = &Guard{}
	}

	return &Engine{
		store:    cfg.Store,
		gateway:  cfg.Gateway,
		creds:    cfg.Credentials,
		status:   cfg.Status,
		guard:    guard,
		logger:   logger,
		nowFunc:  time.Now,
		readFile: os.ReadFile,
	}
}

// Running reports whether a pass is in progress.
func (e *Engine) Running() bool {
	return e.guard.Running()
}

// TryRun pushes every unsynced recipe and pending delete of the signed-in
// owner. If a pass is already running it returns a skipped report and no
// error.
func (e *Engine) TryRun(ctx context.Context) (*PassReport, error) {
	return e.guarded(ctx, "push", func(ctx context.Context, owner string, report *PassReport) error {
		pending, err := e.store.ListUnsynced(ctx, owner)
		if err != nil {
			return fmt.Errorf("sync: listing unsynced recipes: %w", err)
		}

		for i := range pending {
			if err := e.pushOne(ctx, owner, &pending[i], report); err != nil {
				return err
			}
		}

		return e.pushDeletes(ctx, owner, report)
	})
}

// SyncRecipe pushes a single recipe through the same path as a full pass.
// A recipe that is already synced is left alone.
func (e *Engine) SyncRecipe(ctx context.Context, id string) (*PassReport, error) {
	return e.guarded(ctx, "push one", func(ctx context.Context, owner string, report *PassReport) error {
		r, err := e.store.GetRecipe(ctx, id)
		if err != nil {
			return fmt.Errorf("sync: loading recipe %s: %w", id, err)
		}

		if r.OwnerID != owner {
			return fmt.Errorf("sync: recipe %s belongs to another user: %w", id, recipe.ErrNotFound)
		}

		if r.IsSynced {
			e.logger.Info("recipe already synced", slog.String("id", id))
			return nil
		}

		if err := e.pushOne(ctx, owner, r, report); err != nil {
			return err
		}

		if len(report.Dropped) > 0 {
			return e.pushDeletes(ctx, owner, report)
		}

		return nil
	})
}

// Pull fetches the owner's canonical recipes and stores them locally.
// Recipes with unpushed local edits or a pending delete keep their local
// state.
func (e *Engine) Pull(ctx context.Context) (*PassReport, error) {
	return e.guarded(ctx, "pull", func(ctx context.Context, owner string, report *PassReport) error {
		remoteRecipes, err := e.gateway.FetchAll(ctx, owner)
		if err != nil {
			if errors.Is(err, remote.ErrUnauthenticated) {
				return fmt.Errorf("%w: %w", ErrUnauthenticated, err)
			}

			return fmt.Errorf("sync: fetching recipes: %w", err)
		}

		for i := range remoteRecipes {
			r := &remoteRecipes[i]
			report.Attempted++

			stored, err := e.store.UpsertCanonical(ctx, r)
			if err != nil {
				e.recordFailure(report, r.ID.Value, err)
				continue
			}

			if stored {
				report.Pulled++
			} else {
				report.PullSkipped++
			}
		}

		return nil
	})
}

// guarded runs fn as one pass: acquire the guard, resolve the owner, report
// transitions and fold entity failures into a PartialFailureError.
func (e *Engine) guarded(
	ctx context.Context, kind string,
	fn func(ctx context.Context, owner string, report *PassReport) error,
) (*PassReport, error) {
	if !e.guard.TryAcquire() {
		e.logger.Debug("sync pass already running, dropping request", slog.String("kind", kind))
		return &PassReport{Skipped: true}, nil
	}
	defer e.guard.Release()

	// A started pass runs to completion; each remote call is bounded by the
	// client's own timeouts.
	ctx = context.WithoutCancel(ctx)

	start := e.nowFunc()
	report := &PassReport{}

	e.begin(ctx)

	err := e.runPass(ctx, fn, report)
	report.Duration = e.nowFunc().Sub(start)

	if err == nil && len(report.Failed) > 0 {
		err = &PartialFailureError{Attempted: report.Attempted, Failed: report.Failed}
	}

	if err != nil {
		e.fail(ctx, err.Error())

		e.logger.Warn("sync pass finished with errors",
			slog.String("kind", kind),
			slog.Int("attempted", report.Attempted),
			slog.Int("synced", len(report.Synced)),
			slog.Int("failed", len(report.Failed)),
			slog.Duration("duration", report.Duration),
			slog.String("error", err.Error()),
		)

		return report, err
	}

	e.succeed(ctx)

	e.logger.Info("sync pass complete",
		slog.String("kind", kind),
		slog.Int("attempted", report.Attempted),
		slog.Int("synced", len(report.Synced)),
		slog.Int("requeued", len(report.Requeued)),
		slog.Int("deletes", report.DeletesPushed),
		slog.Int("pulled", report.Pulled),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

func (e *Engine) runPass(
	ctx context.Context,
	fn func(ctx context.Context, owner string, report *PassReport) error,
	report *PassReport,
) error {
	owner := ""
	if e.creds != nil {
		owner = e.creds.OwnerID()
	}

	if owner == "" {
		return fmt.Errorf("%w: nobody is signed in", ErrUnauthenticated)
	}

	report.OwnerID = owner

	return fn(ctx, owner, report)
}

// pushOne syncs one recipe. Entity failures are recorded in the report and
// swallowed; only an authentication failure is returned, aborting the pass.
func (e *Engine) pushOne(ctx context.Context, owner string, r *recipe.Recipe, report *PassReport) error {
	report.Attempted++

	canonicalID, synced, err := e.syncEntity(ctx, owner, r)
	if errors.Is(err, errDeletedLocally) {
		report.Dropped = append(report.Dropped, canonicalID)
		return nil
	}

	if err != nil {
		if errors.Is(err, remote.ErrUnauthenticated) {
			e.recordFailure(report, r.ID.Value, err)
			return fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}

		e.recordFailure(report, r.ID.Value, err)

		return nil
	}

	if synced {
		report.Synced = append(report.Synced, canonicalID)
	} else {
		report.Requeued = append(report.Requeued, canonicalID)
	}

	return nil
}

func (e *Engine) recordFailure(report *PassReport, id string, err error) {
	e.logger.Warn("recipe failed to sync",
		slog.String("id", id),
		slog.String("error", err.Error()),
	)

	report.Failed = append(report.Failed, EntityFailure{ID: id, Err: err})
}

// syncEntity runs the strictly ordered per-recipe steps: media, push,
// identifier rewrite, mark synced. It returns the canonical id and whether
// the synced flag was set.
func (e *Engine) syncEntity(ctx context.Context, owner string, r *recipe.Recipe) (string, bool, error) {
	logger := e.logger.With(slog.String("id", r.ID.Value))

	if err := e.uploadMedia(ctx, owner, r, logger); err != nil {
		if errors.Is(err, recipe.ErrNotFound) {
			logger.Info("recipe deleted before push, skipping")
			return r.ID.Value, false, errDeletedLocally
		}

		return "", false, err
	}

	pushed, err := e.push(ctx, r, logger)
	if err != nil {
		return "", false, err
	}

	canonicalID := pushed.ID.Value
	if err := recipe.ValidateCanonical(canonicalID); err != nil {
		return "", false, fmt.Errorf("sync: pushing %s: %w", r.ID.Value, err)
	}

	// The rewrite must land before the flag: a crash in between leaves a
	// canonical, unsynced row that the next pass updates instead of
	// creating again.
	if r.ID.IsLocal() || canonicalID != r.ID.Value {
		if err := e.store.RewriteIdentifier(ctx, r.ID.Value, canonicalID); err != nil {
			if errors.Is(err, recipe.ErrNotFound) {
				return canonicalID, false, e.discardRemote(ctx, owner, canonicalID, logger)
			}

			return "", false, fmt.Errorf("sync: rewriting %s to %s: %w", r.ID.Value, canonicalID, err)
		}

		logger.Debug("identifier rewritten", slog.String("canonical_id", canonicalID))
	}

	// Stamps never precede created_at, which may come from a server clock
	// running ahead of ours.
	syncedAt := e.nowFunc()
	if syncedAt.Before(r.CreatedAt) {
		syncedAt = r.CreatedAt
	}

	marked, err := e.store.MarkSyncedAtVersion(ctx, canonicalID, r.Version, syncedAt)
	if err != nil {
		if errors.Is(err, recipe.ErrNotFound) {
			return canonicalID, false, e.discardRemote(ctx, owner, canonicalID, logger)
		}

		return "", false, fmt.Errorf("sync: marking %s synced: %w", canonicalID, err)
	}

	if !marked {
		logger.Info("recipe edited during sync, will push again",
			slog.String("canonical_id", canonicalID),
			slog.Int64("pushed_version", r.Version),
		)
	}

	return canonicalID, marked, nil
}

// discardRemote queues the remote delete of a recipe whose local row
// disappeared mid-push. The current pass pushes the tombstone after the
// entity pushes.
func (e *Engine) discardRemote(ctx context.Context, owner, canonicalID string, logger *slog.Logger) error {
	logger.Info("recipe deleted during push, deleting remote copy",
		slog.String("canonical_id", canonicalID),
	)

	if err := e.store.RecordPendingDelete(ctx, canonicalID, owner); err != nil {
		return fmt.Errorf("sync: queueing delete of %s: %w", canonicalID, err)
	}

	return errDeletedLocally
}

// push creates or updates r remotely. The branch is a total switch on the
// identity tag. An update of a recipe the service no longer has recreates it.
func (e *Engine) push(ctx context.Context, r *recipe.Recipe, logger *slog.Logger) (*recipe.Recipe, error) {
	switch r.ID.Kind {
	case recipe.KindLocal:
		out, err := e.gateway.Create(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("sync: creating %s: %w", r.ID.Value, err)
		}

		logger.Debug("recipe created remotely", slog.String("canonical_id", out.ID.Value))

		return out, nil

	case recipe.KindCanonical:
		out, err := e.gateway.Update(ctx, r.ID.Value, r)
		if errors.Is(err, remote.ErrNotFound) {
			logger.Info("recipe missing remotely, recreating")

			out, err = e.gateway.Create(ctx, r)
		}

		if err != nil {
			return nil, fmt.Errorf("sync: updating %s: %w", r.ID.Value, err)
		}

		return out, nil

	default:
		return nil, fmt.Errorf("sync: recipe %s has unknown identity kind %d: %w", r.ID.Value, r.ID.Kind, recipe.ErrDataIntegrity)
	}
}

// uploadMedia uploads a local-only image and records its URL. Failures other
// than authentication are logged and the recipe is pushed without media.
func (e *Engine) uploadMedia(ctx context.Context, owner string, r *recipe.Recipe, logger *slog.Logger) error {
	if r.ImageRef == "" || recipe.IsRemoteRef(r.ImageRef) {
		return nil
	}

	localRef := r.ImageRef

	data, err := e.readFile(localRef)
	if err != nil {
		logger.Warn("cannot read local image, pushing without media",
			slog.String("path", localRef),
			slog.String("error", err.Error()),
		)

		return nil
	}

	name := remote.MediaObjectName(localRef, e.nowFunc())

	url, err := e.gateway.UploadMedia(ctx, data, owner, name)
	if err != nil {
		if errors.Is(err, remote.ErrUnauthenticated) {
			return fmt.Errorf("sync: uploading media for %s: %w", r.ID.Value, err)
		}

		logger.Warn("media upload failed, pushing without media",
			slog.String("path", localRef),
			slog.String("error", err.Error()),
		)

		return nil
	}

	swapped, err := e.store.SetMediaRef(ctx, r.ID.Value, localRef, url)
	if err != nil {
		return fmt.Errorf("sync: recording media url for %s: %w", r.ID.Value, err)
	}

	if swapped {
		r.ImageRef = url
		logger.Debug("media uploaded", slog.String("url", url))
	}

	return nil
}

// pushDeletes sends the remote delete for every tombstone. A recipe the
// service no longer has counts as deleted.
func (e *Engine) pushDeletes(ctx context.Context, owner string, report *PassReport) error {
	tombstones, err := e.store.ListPendingDeletes(ctx, owner)
	if err != nil {
		return fmt.Errorf("sync: listing pending deletes: %w", err)
	}

	for _, ts := range tombstones {
		report.Attempted++

		err := e.gateway.Delete(ctx, ts.ID)

		switch {
		case err == nil, errors.Is(err, remote.ErrNotFound):
		case errors.Is(err, remote.ErrUnauthenticated):
			e.recordFailure(report, ts.ID, err)
			return fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		default:
			e.recordFailure(report, ts.ID, fmt.Errorf("sync: deleting %s: %w", ts.ID, err))
			continue
		}

		if err := e.store.ClearPendingDelete(ctx, ts.ID); err != nil {
			e.recordFailure(report, ts.ID, err)
			continue
		}

		report.DeletesPushed++
	}

	return nil
}

func (e *Engine) begin(ctx context.Context) {
	if e.status != nil {
		e.status.Begin(ctx)
	}
}

func (e *Engine) succeed(ctx context.Context) {
	if e.status != nil {
		e.status.Succeed(ctx)
	}
}

func (e *Engine) fail(ctx context.Context, msg string) {
	if e.status != nil {
		e.status.Fail(ctx, msg)
	}
}
