package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/tonimelisma/recipevault/internal/recipe"
)

// maxLocalIDAttempts bounds regeneration when a fresh local id collides.
const maxLocalIDAttempts = 5

const (
	sqlRecipeExists = `SELECT EXISTS(SELECT 1 FROM recipes WHERE id = ?)
		OR EXISTS(SELECT 1 FROM pending_deletes WHERE id = ?)`

	sqlUpdateRecipe = `UPDATE recipes SET
		title = ?, description = ?, prep_time = ?, cook_time = ?, servings = ?,
		difficulty = ?, cuisine_type = ?, notes = ?, image_url = ?, source_url = ?,
		source = ?, search_key = ?, updated_at = ?, synced_at = NULL, is_synced = 0,
		version = version + 1
		WHERE id = ?`

	sqlTouchRecipe = `UPDATE recipes SET updated_at = ?, synced_at = NULL, is_synced = 0,
		version = version + 1 WHERE id = ?`

	sqlDeleteRecipe = `DELETE FROM recipes WHERE id = ?`

	sqlInsertTombstone = `INSERT INTO pending_deletes (id, user_id, deleted_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET deleted_at = excluded.deleted_at`

	sqlDeleteIngredients = `DELETE FROM ingredients WHERE recipe_id = ?`
	sqlDeleteSteps       = `DELETE FROM steps WHERE recipe_id = ?`
	sqlDeleteRecipeTags  = `DELETE FROM recipe_tags WHERE recipe_id = ?`

	sqlSearchRecipes = `SELECT ` + recipeColumns + ` FROM recipes
		WHERE user_id = ? AND search_key LIKE ? ESCAPE '\'
		ORDER BY updated_at DESC, id`

	sqlListRecipes = `SELECT ` + recipeColumns + ` FROM recipes
		WHERE user_id = ? ORDER BY updated_at DESC, id`

	sqlListTags = `SELECT id, name, color, created_at, updated_at FROM tags ORDER BY name_key`
)

// CreateRecipe validates the draft and persists the recipe with its
// ingredients, steps and tag associations under a fresh local identifier.
// The returned recipe is fully hydrated.
func (s *Store) CreateRecipe(ctx context.Context, ownerID string, d *recipe.Draft) (*recipe.Recipe, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("store: owner id is required: %w", recipe.ErrInvalidDraft)
	}

	if d == nil {
		return nil, fmt.Errorf("store: nil draft: %w", recipe.ErrInvalidDraft)
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	now := s.nowFunc()

	var id recipe.Identity

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error

		id, err = s.freshLocalID(ctx, tx)
		if err != nil {
			return err
		}

		row := recipeRow{
			ID:          id.Value,
			IDKind:      id.Kind.String(),
			UserID:      ownerID,
			Title:       strings.TrimSpace(d.Title),
			Description: nullString(d.Description),
			PrepTime:    nullInt(d.PrepTime),
			CookTime:    nullInt(d.CookTime),
			Servings:    nullInt(d.Servings),
			Difficulty:  nullString(d.Difficulty),
			CuisineType: nullString(d.CuisineType),
			Notes:       nullString(d.Notes),
			ImageURL:    nullString(d.ImageRef),
			SourceURL:   nullString(d.SourceURL),
			Source:      nullString(d.Source),
			CreatedAt:   now.UnixNano(),
			UpdatedAt:   now.UnixNano(),
			Version:     1,
		}

		if _, err := tx.ExecContext(ctx, sqlInsertRecipe, row.insertArgs()...); err != nil {
			return fmt.Errorf("store: inserting recipe: %w", err)
		}

		if err := insertIngredients(ctx, tx, id.Value, ingredientsFromDrafts(d.Ingredients), now); err != nil {
			return err
		}

		if err := insertSteps(ctx, tx, id.Value, stepsFromDrafts(d.Steps), now); err != nil {
			return err
		}

		return linkTags(ctx, tx, id.Value, tagsFromNames(d.Tags), now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("recipe created", slog.String("id", id.Value), slog.String("owner", ownerID))

	return s.GetRecipe(ctx, id.Value)
}

func (s *Store) freshLocalID(ctx context.Context, tx *sqlx.Tx) (recipe.Identity, error) {
	for range maxLocalIDAttempts {
		id, err := recipe.NewLocalID(s.nowFunc())
		if err != nil {
			return recipe.Identity{}, err
		}

		var taken bool
		if err := tx.GetContext(ctx, &taken, sqlRecipeExists, id.Value, id.Value); err != nil {
			return recipe.Identity{}, fmt.Errorf("store: checking id %s: %w", id, err)
		}

		if !taken {
			return id, nil
		}

		s.logger.Debug("local id collision, regenerating", slog.String("id", id.Value))
	}

	return recipe.Identity{}, fmt.Errorf("store: no free local id after %d attempts", maxLocalIDAttempts)
}

// GetRecipe returns the hydrated recipe or an error matching
// recipe.ErrNotFound.
func (s *Store) GetRecipe(ctx context.Context, id string) (*recipe.Recipe, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row, err := getRecipeRow(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	r, err := row.toRecipe()
	if err != nil {
		return nil, err
	}

	if err := loadChildren(ctx, s.db, r); err != nil {
		return nil, err
	}

	return r, nil
}

// UpdateRecipe applies the fields set in p. Ingredients, steps and tags are
// replaced wholesale when provided: existing rows are deleted and the new
// list inserted, so ingredient and step ids do not survive the update. Any
// change marks the recipe unsynced and bumps its version.
func (s *Store) UpdateRecipe(ctx context.Context, id string, p *recipe.Patch) (*recipe.Recipe, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if p == nil {
		p = &recipe.Patch{}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	now := s.nowFunc()

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		row, err := getRecipeRow(ctx, tx, id)
		if err != nil {
			return err
		}

		if p.IsEmpty() {
			return nil
		}

		applyPatch(row, p)

		if _, err := tx.ExecContext(ctx, sqlUpdateRecipe,
			row.Title, row.Description, row.PrepTime, row.CookTime, row.Servings,
			row.Difficulty, row.CuisineType, row.Notes, row.ImageURL, row.SourceURL,
			row.Source, recipe.SearchKey(row.Title, row.Description.String),
			now.UnixNano(), id,
		); err != nil {
			return fmt.Errorf("store: updating recipe %s: %w", id, err)
		}

		if p.Ingredients != nil {
			if _, err := tx.ExecContext(ctx, sqlDeleteIngredients, id); err != nil {
				return fmt.Errorf("store: clearing ingredients of %s: %w", id, err)
			}

			if err := insertIngredients(ctx, tx, id, ingredientsFromDrafts(*p.Ingredients), now); err != nil {
				return err
			}
		}

		if p.Steps != nil {
			if _, err := tx.ExecContext(ctx, sqlDeleteSteps, id); err != nil {
				return fmt.Errorf("store: clearing steps of %s: %w", id, err)
			}

			if err := insertSteps(ctx, tx, id, stepsFromDrafts(*p.Steps), now); err != nil {
				return err
			}
		}

		if p.Tags != nil {
			if _, err := tx.ExecContext(ctx, sqlDeleteRecipeTags, id); err != nil {
				return fmt.Errorf("store: clearing tags of %s: %w", id, err)
			}

			if err := linkTags(ctx, tx, id, tagsFromNames(*p.Tags), now); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetRecipe(ctx, id)
}

func applyPatch(row *recipeRow, p *recipe.Patch) {
	setString := func(dst *sql.NullString, v *string) {
		if v != nil {
			*dst = nullString(strings.TrimSpace(*v))
		}
	}

	setInt := func(dst *sql.NullInt64, v *int) {
		if v != nil {
			*dst = nullInt(*v)
		}
	}

	if p.Title != nil {
		row.Title = strings.TrimSpace(*p.Title)
	}

	setString(&row.Description, p.Description)
	setInt(&row.PrepTime, p.PrepTime)
	setInt(&row.CookTime, p.CookTime)
	setInt(&row.Servings, p.Servings)
	setString(&row.Difficulty, p.Difficulty)
	setString(&row.CuisineType, p.CuisineType)
	setString(&row.Notes, p.Notes)
	setString(&row.ImageURL, p.ImageRef)
	setString(&row.SourceURL, p.SourceURL)
	setString(&row.Source, p.Source)
}

// DeleteRecipe removes the recipe; ingredients, steps and tag associations
// cascade. Deleting a canonical recipe records a tombstone in the same
// transaction so the remote copy is deleted on the next sync pass.
func (s *Store) DeleteRecipe(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	now := s.nowFunc()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		row, err := getRecipeRow(ctx, tx, id)
		if err != nil {
			return err
		}

		if row.IDKind == recipe.KindCanonical.String() {
			if _, err := tx.ExecContext(ctx, sqlInsertTombstone, id, row.UserID, now.UnixNano()); err != nil {
				return fmt.Errorf("store: recording tombstone for %s: %w", id, err)
			}
		}

		if _, err := tx.ExecContext(ctx, sqlDeleteRecipe, id); err != nil {
			return fmt.Errorf("store: deleting recipe %s: %w", id, err)
		}

		s.logger.Debug("recipe deleted", slog.String("id", id), slog.String("kind", row.IDKind))

		return nil
	})
}

// SearchRecipes returns the owner's recipes whose title or description
// contains query, ignoring case, most recently updated first. An empty
// query matches everything.
func (s *Store) SearchRecipes(ctx context.Context, query, ownerID string) ([]recipe.Recipe, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	pattern := "%" + escapeLike(recipe.Fold(strings.TrimSpace(query))) + "%"

	var rows []recipeRow
	if err := s.db.SelectContext(ctx, &rows, sqlSearchRecipes, ownerID, pattern); err != nil {
		return nil, fmt.Errorf("store: searching recipes: %w", err)
	}

	return hydrate(ctx, s.db, rows)
}

// ListRecipes returns all of the owner's recipes, most recently updated
// first.
func (s *Store) ListRecipes(ctx context.Context, ownerID string) ([]recipe.Recipe, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var rows []recipeRow
	if err := s.db.SelectContext(ctx, &rows, sqlListRecipes, ownerID); err != nil {
		return nil, fmt.Errorf("store: listing recipes: %w", err)
	}

	return hydrate(ctx, s.db, rows)
}

// ListTags returns every tag in the store ordered by name.
func (s *Store) ListTags(ctx context.Context) ([]recipe.Tag, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var rows []tagRow
	if err := s.db.SelectContext(ctx, &rows, sqlListTags); err != nil {
		return nil, fmt.Errorf("store: listing tags: %w", err)
	}

	tags := make([]recipe.Tag, 0, len(rows))
	for i := range rows {
		tags = append(tags, rows[i].toTag())
	}

	return tags, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func isNotFound(err error) bool {
	return errors.Is(err, recipe.ErrNotFound)
}
