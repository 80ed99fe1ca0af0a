package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tonimelisma/recipevault/internal/recipe"
	"github.com/tonimelisma/recipevault/internal/syncstatus"
)

// ErrSyncedBeforeCreated rejects a sync timestamp earlier than the recipe's
// creation time.
var ErrSyncedBeforeCreated = errors.New("store: synced_at precedes created_at")

const (
	sqlListUnsynced = `SELECT ` + recipeColumns + ` FROM recipes
		WHERE user_id = ? AND is_synced = 0
		ORDER BY updated_at ASC, id ASC`

	sqlCountChildren = `SELECT
		(SELECT COUNT(*) FROM ingredients WHERE recipe_id = ?) AS ingredients,
		(SELECT COUNT(*) FROM steps WHERE recipe_id = ?) AS steps,
		(SELECT COUNT(*) FROM recipe_tags WHERE recipe_id = ?) AS tags`

	sqlRewriteID = `UPDATE recipes SET id = ?, id_kind = 'canonical' WHERE id = ?`

	sqlMarkSynced = `UPDATE recipes SET is_synced = 1, synced_at = ?
		WHERE id = ? AND id_kind = 'canonical' AND created_at <= ?`

	sqlMarkSyncedAtVersion = `UPDATE recipes SET is_synced = 1, synced_at = ?
		WHERE id = ? AND id_kind = 'canonical' AND created_at <= ? AND version = ?`

	sqlSetMediaRef = `UPDATE recipes SET image_url = ?
		WHERE id = ? AND COALESCE(image_url, '') = ?`

	sqlIsTombstoned = `SELECT EXISTS(SELECT 1 FROM pending_deletes WHERE id = ?)`

	sqlListPendingDeletes = `SELECT id, user_id, deleted_at FROM pending_deletes
		WHERE user_id = ? ORDER BY deleted_at ASC, id ASC`

	sqlClearPendingDelete = `DELETE FROM pending_deletes WHERE id = ?`

	sqlSelectIngredientIndex = `SELECT order_index FROM ingredients WHERE id = ? AND recipe_id = ?`
	sqlDeleteIngredient      = `DELETE FROM ingredients WHERE id = ?`

	// Two-step shift: negate the tail, then flip it back one lower. A direct
	// "order_index - 1" can trip UNIQUE(recipe_id, order_index) mid-statement.
	sqlNegateIngredientTail = `UPDATE ingredients SET order_index = -order_index
		WHERE recipe_id = ? AND order_index > ?`
	sqlRestoreIngredientTail = `UPDATE ingredients SET order_index = -order_index - 1
		WHERE recipe_id = ? AND order_index < 0`

	sqlSelectStepIndex = `SELECT order_index FROM steps WHERE id = ? AND recipe_id = ?`
	sqlDeleteStep      = `DELETE FROM steps WHERE id = ?`
	sqlNegateStepTail  = `UPDATE steps SET order_index = -order_index
		WHERE recipe_id = ? AND order_index > ?`
	sqlRestoreStepTail = `UPDATE steps SET order_index = -order_index - 1
		WHERE recipe_id = ? AND order_index < 0`

	sqlWatermark = `SELECT
		(SELECT COUNT(*) FROM recipes WHERE user_id = ? AND is_synced = 0) AS unsynced,
		(SELECT COALESCE(MAX(updated_at), 0) FROM recipes WHERE user_id = ? AND is_synced = 0) AS latest_edit,
		(SELECT COUNT(*) FROM pending_deletes WHERE user_id = ?) AS deletes`

	sqlSaveStatus = `INSERT INTO sync_status (id, status, last_sync_at, last_error, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 status = excluded.status,
		 last_sync_at = excluded.last_sync_at,
		 last_error = excluded.last_error,
		 updated_at = excluded.updated_at`

	sqlLoadStatus = `SELECT status, last_sync_at, last_error FROM sync_status WHERE id = 1`
)

// Tombstone is a canonical recipe deleted locally whose remote delete is
// still pending.
type Tombstone struct {
	ID        string
	OwnerID   string
	DeletedAt time.Time
}

type tombstoneRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	DeletedAt int64  `db:"deleted_at"`
}

// Watermark summarizes the owner's pending work. Two equal watermarks mean
// no user edit happened in between.
type Watermark struct {
	Unsynced   int   `db:"unsynced"`
	LatestEdit int64 `db:"latest_edit"`
	Deletes    int   `db:"deletes"`
}

// HasWork reports whether anything is waiting to be pushed.
func (w Watermark) HasWork() bool {
	return w.Unsynced > 0 || w.Deletes > 0
}

type childCounts struct {
	Ingredients int `db:"ingredients"`
	Steps       int `db:"steps"`
	Tags        int `db:"tags"`
}

// ListUnsynced returns the owner's recipes with is_synced = false, oldest
// pending edit first.
func (s *Store) ListUnsynced(ctx context.Context, ownerID string) ([]recipe.Recipe, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var rows []recipeRow
	if err := s.db.SelectContext(ctx, &rows, sqlListUnsynced, ownerID); err != nil {
		return nil, fmt.Errorf("store: listing unsynced recipes: %w", err)
	}

	return hydrate(ctx, s.db, rows)
}

// RewriteIdentifier swaps the recipe's identifier for the canonical newID and
// moves every ingredient, step and tag association with it, all in one
// transaction. A rewrite that would leave any row behind rolls back with
// recipe.ErrDataIntegrity. The version is left unchanged.
func (s *Store) RewriteIdentifier(ctx context.Context, oldID, newID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := recipe.ValidateCanonical(newID); err != nil {
		return fmt.Errorf("store: rewriting %s: %w", oldID, err)
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := getRecipeRow(ctx, tx, oldID); err != nil {
			return err
		}

		if oldID == newID {
			if _, err := tx.ExecContext(ctx, `UPDATE recipes SET id_kind = 'canonical' WHERE id = ?`, oldID); err != nil {
				return fmt.Errorf("store: tagging %s canonical: %w", oldID, err)
			}

			return nil
		}

		var taken bool
		if err := tx.GetContext(ctx, &taken, sqlRecipeExists, newID, newID); err != nil {
			return fmt.Errorf("store: checking id %s: %w", newID, err)
		}

		if taken {
			return fmt.Errorf("store: canonical id %s already in use: %w", newID, recipe.ErrDataIntegrity)
		}

		var before childCounts
		if err := tx.GetContext(ctx, &before, sqlCountChildren, oldID, oldID, oldID); err != nil {
			return fmt.Errorf("store: counting children of %s: %w", oldID, err)
		}

		res, err := tx.ExecContext(ctx, sqlRewriteID, newID, oldID)
		if err != nil {
			return fmt.Errorf("store: rewriting %s to %s: %w", oldID, newID, err)
		}

		if n, err := res.RowsAffected(); err != nil || n != 1 {
			return fmt.Errorf("store: rewriting %s affected %d rows: %w", oldID, n, recipe.ErrDataIntegrity)
		}

		var left, moved childCounts
		if err := tx.GetContext(ctx, &left, sqlCountChildren, oldID, oldID, oldID); err != nil {
			return fmt.Errorf("store: verifying rewrite of %s: %w", oldID, err)
		}

		if err := tx.GetContext(ctx, &moved, sqlCountChildren, newID, newID, newID); err != nil {
			return fmt.Errorf("store: verifying rewrite to %s: %w", newID, err)
		}

		if left != (childCounts{}) || moved != before {
			return fmt.Errorf("store: rewrite %s -> %s left rows behind (left %+v, moved %+v, want %+v): %w",
				oldID, newID, left, moved, before, recipe.ErrDataIntegrity)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("identifier rewritten", slog.String("old_id", oldID), slog.String("new_id", newID))

	return nil
}

// MarkSynced sets is_synced and synced_at. Repeating the call with the same
// timestamp leaves the row unchanged. Only canonical recipes can be synced.
func (s *Store) MarkSynced(ctx context.Context, id string, syncedAt time.Time) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	ts := syncedAt.UnixNano()

	res, err := s.db.ExecContext(ctx, sqlMarkSynced, ts, id, ts)
	if err != nil {
		return fmt.Errorf("store: marking %s synced: %w", id, err)
	}

	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	return s.explainMarkFailure(ctx, id, syncedAt)
}

// MarkSyncedAtVersion is MarkSynced guarded by the version the caller pushed.
// It returns false, with no error, when the recipe was edited since.
func (s *Store) MarkSyncedAtVersion(ctx context.Context, id string, version int64, syncedAt time.Time) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	ts := syncedAt.UnixNano()

	res, err := s.db.ExecContext(ctx, sqlMarkSyncedAtVersion, ts, id, ts, version)
	if err != nil {
		return false, fmt.Errorf("store: marking %s synced: %w", id, err)
	}

	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	if err := s.explainMarkFailure(ctx, id, syncedAt); err != nil {
		return false, err
	}

	return false, nil
}

// explainMarkFailure maps a mark-synced update that matched no row to its
// cause. It returns nil when only the version guard failed.
func (s *Store) explainMarkFailure(ctx context.Context, id string, syncedAt time.Time) error {
	row, err := getRecipeRow(ctx, s.db, id)
	if err != nil {
		return err
	}

	switch {
	case row.IDKind != recipe.KindCanonical.String():
		return fmt.Errorf("store: recipe %s still has a local id: %w", id, recipe.ErrDataIntegrity)
	case syncedAt.UnixNano() < row.CreatedAt:
		return fmt.Errorf("store: marking %s synced at %s: %w", id, syncedAt.Format(time.RFC3339Nano), ErrSyncedBeforeCreated)
	default:
		return nil
	}
}

// SetMediaRef replaces the image reference only if it still equals oldRef.
// It does not change the sync flag or version: the engine calls it after an
// upload, before pushing the recipe.
func (s *Store) SetMediaRef(ctx context.Context, id, oldRef, newRef string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, sqlSetMediaRef, nullString(newRef), id, oldRef)
	if err != nil {
		return false, fmt.Errorf("store: setting media of %s: %w", id, err)
	}

	n, _ := res.RowsAffected()
	if n == 1 {
		return true, nil
	}

	if _, err := getRecipeRow(ctx, s.db, id); err != nil {
		return false, err
	}

	return false, nil
}

// UpsertCanonical stores a recipe fetched from the remote service as synced.
// Recipes with unpushed local edits or a pending delete are left alone and
// reported as skipped.
func (s *Store) UpsertCanonical(ctx context.Context, r *recipe.Recipe) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	if r == nil {
		return false, fmt.Errorf("store: nil recipe: %w", recipe.ErrInvalidDraft)
	}

	if err := recipe.ValidateCanonical(r.ID.Value); err != nil {
		return false, fmt.Errorf("store: upserting remote recipe: %w", err)
	}

	now := s.nowFunc()
	applied := false

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var tombstoned bool
		if err := tx.GetContext(ctx, &tombstoned, sqlIsTombstoned, r.ID.Value); err != nil {
			return fmt.Errorf("store: checking tombstone of %s: %w", r.ID, err)
		}

		if tombstoned {
			return nil
		}

		version := int64(1)

		existing, err := getRecipeRow(ctx, tx, r.ID.Value)
		switch {
		case err == nil:
			if !existing.IsSynced {
				return nil
			}

			version = existing.Version + 1

			if _, err := tx.ExecContext(ctx, sqlDeleteRecipe, r.ID.Value); err != nil {
				return fmt.Errorf("store: replacing recipe %s: %w", r.ID, err)
			}
		case !isNotFound(err):
			return err
		}

		// Remote timestamps come from the server clock. Clamp them to ours
		// so synced_at, stamped locally, never precedes created_at.
		created := r.CreatedAt
		if created.IsZero() || created.After(now) {
			created = now
		}

		updated := r.UpdatedAt
		if updated.IsZero() || updated.Before(created) {
			updated = created
		}

		if updated.After(now) {
			updated = now
		}

		syncedAt := now

		row := recipeRow{
			ID:          r.ID.Value,
			IDKind:      recipe.KindCanonical.String(),
			UserID:      r.OwnerID,
			Title:       r.Title,
			Description: nullString(r.Description),
			PrepTime:    nullInt(r.PrepTime),
			CookTime:    nullInt(r.CookTime),
			Servings:    nullInt(r.Servings),
			Difficulty:  nullString(r.Difficulty),
			CuisineType: nullString(r.CuisineType),
			Notes:       nullString(r.Notes),
			ImageURL:    nullString(r.ImageRef),
			SourceURL:   nullString(r.SourceURL),
			Source:      nullString(r.Source),
			CreatedAt:   created.UnixNano(),
			UpdatedAt:   updated.UnixNano(),
			SyncedAt:    sql.NullInt64{Int64: syncedAt.UnixNano(), Valid: true},
			IsSynced:    true,
			Version:     version,
		}

		if _, err := tx.ExecContext(ctx, sqlInsertRecipe, row.insertArgs()...); err != nil {
			return fmt.Errorf("store: inserting remote recipe %s: %w", r.ID, err)
		}

		if err := insertIngredients(ctx, tx, r.ID.Value, byOrderIndex(r.Ingredients, ingredientIndex), now); err != nil {
			return err
		}

		if err := insertSteps(ctx, tx, r.ID.Value, byOrderIndex(r.Steps, stepIndex), now); err != nil {
			return err
		}

		if err := linkTags(ctx, tx, r.ID.Value, r.Tags, now); err != nil {
			return err
		}

		applied = true

		return nil
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

// byOrderIndex returns a copy of items sorted by their remote order index.
// Insertion re-packs the indices densely from zero.
func byOrderIndex[T any](items []T, index func(*T) int) []T {
	out := slices.Clone(items)
	slices.SortStableFunc(out, func(a, b T) int {
		return index(&a) - index(&b)
	})

	return out
}

func ingredientIndex(i *recipe.Ingredient) int { return i.OrderIndex }

func stepIndex(s *recipe.Step) int { return s.OrderIndex }

// ListPendingDeletes returns the owner's tombstones, oldest first.
func (s *Store) ListPendingDeletes(ctx context.Context, ownerID string) ([]Tombstone, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var rows []tombstoneRow
	if err := s.db.SelectContext(ctx, &rows, sqlListPendingDeletes, ownerID); err != nil {
		return nil, fmt.Errorf("store: listing pending deletes: %w", err)
	}

	out := make([]Tombstone, 0, len(rows))
	for i := range rows {
		out = append(out, Tombstone{
			ID:        rows[i].ID,
			OwnerID:   rows[i].UserID,
			DeletedAt: fromNanos(rows[i].DeletedAt),
		})
	}

	return out, nil
}

// RecordPendingDelete queues a remote delete for a canonical id that has no
// local row, such as a recipe created remotely after it was deleted here.
func (s *Store) RecordPendingDelete(ctx context.Context, id, ownerID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := recipe.ValidateCanonical(id); err != nil {
		return fmt.Errorf("store: recording tombstone: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, sqlInsertTombstone, id, ownerID, s.nowFunc().UnixNano()); err != nil {
		return fmt.Errorf("store: recording tombstone for %s: %w", id, err)
	}

	return nil
}

// ClearPendingDelete drops a tombstone once the remote delete succeeded.
func (s *Store) ClearPendingDelete(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, sqlClearPendingDelete, id); err != nil {
		return fmt.Errorf("store: clearing tombstone %s: %w", id, err)
	}

	return nil
}

// RemoveIngredient deletes one ingredient and re-packs the remaining order
// indices so they stay contiguous from zero.
func (s *Store) RemoveIngredient(ctx context.Context, recipeID, ingredientID string) error {
	return s.removeChild(ctx, recipeID, ingredientID, childStatements{
		selectIndex: sqlSelectIngredientIndex,
		deleteRow:   sqlDeleteIngredient,
		negateTail:  sqlNegateIngredientTail,
		restoreTail: sqlRestoreIngredientTail,
		noun:        "ingredient",
	})
}

// RemoveStep is RemoveIngredient for steps.
func (s *Store) RemoveStep(ctx context.Context, recipeID, stepID string) error {
	return s.removeChild(ctx, recipeID, stepID, childStatements{
		selectIndex: sqlSelectStepIndex,
		deleteRow:   sqlDeleteStep,
		negateTail:  sqlNegateStepTail,
		restoreTail: sqlRestoreStepTail,
		noun:        "step",
	})
}

type childStatements struct {
	selectIndex string
	deleteRow   string
	negateTail  string
	restoreTail string
	noun        string
}

func (s *Store) removeChild(ctx context.Context, recipeID, childID string, st childStatements) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	now := s.nowFunc()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var idx int
		if err := tx.GetContext(ctx, &idx, st.selectIndex, childID, recipeID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("store: %s %s of %s: %w", st.noun, childID, recipeID, recipe.ErrNotFound)
			}

			return fmt.Errorf("store: loading %s %s: %w", st.noun, childID, err)
		}

		for _, q := range []struct {
			sql  string
			args []any
		}{
			{st.deleteRow, []any{childID}},
			{st.negateTail, []any{recipeID, idx}},
			{st.restoreTail, []any{recipeID}},
			{sqlTouchRecipe, []any{now.UnixNano(), recipeID}},
		} {
			if _, err := tx.ExecContext(ctx, q.sql, q.args...); err != nil {
				return fmt.Errorf("store: removing %s %s: %w", st.noun, childID, err)
			}
		}

		return nil
	})
}

// PendingWatermark reports the owner's pending work for change detection.
func (s *Store) PendingWatermark(ctx context.Context, ownerID string) (Watermark, error) {
	if err := s.checkOpen(); err != nil {
		return Watermark{}, err
	}

	var w Watermark
	if err := s.db.GetContext(ctx, &w, sqlWatermark, ownerID, ownerID, ownerID); err != nil {
		return Watermark{}, fmt.Errorf("store: reading pending watermark: %w", err)
	}

	return w, nil
}

// SaveStatus persists the latest sync status snapshot.
func (s *Store) SaveStatus(ctx context.Context, snap syncstatus.Snapshot) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, sqlSaveStatus,
		string(snap.Status), nullTime(snap.LastSyncAt), nullString(snap.LastError),
		s.nowFunc().UnixNano(),
	); err != nil {
		return fmt.Errorf("store: saving sync status: %w", err)
	}

	return nil
}

// LoadStatus returns the persisted snapshot, or an idle snapshot if none was
// ever saved. A persisted "syncing" belongs to a process that no longer
// runs and loads as idle.
func (s *Store) LoadStatus(ctx context.Context) (syncstatus.Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return syncstatus.Snapshot{}, err
	}

	var row struct {
		Status     string         `db:"status"`
		LastSyncAt sql.NullInt64  `db:"last_sync_at"`
		LastError  sql.NullString `db:"last_error"`
	}

	if err := s.db.GetContext(ctx, &row, sqlLoadStatus); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return syncstatus.Snapshot{Status: syncstatus.Idle}, nil
		}

		return syncstatus.Snapshot{}, fmt.Errorf("store: loading sync status: %w", err)
	}

	status, err := syncstatus.ParseStatus(row.Status)
	if err != nil {
		return syncstatus.Snapshot{}, fmt.Errorf("store: loading sync status: %w", err)
	}

	if status == syncstatus.Syncing {
		status = syncstatus.Idle
	}

	return syncstatus.Snapshot{
		Status:     status,
		LastSyncAt: fromNullNanos(row.LastSyncAt),
		LastError:  row.LastError.String,
	}, nil
}
