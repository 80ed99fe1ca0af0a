package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tonimelisma/recipevault/internal/recipe"
)

const recipeColumns = `id, id_kind, user_id, title, description, prep_time, cook_time,
	servings, difficulty, cuisine_type, notes, image_url, source_url, source,
	created_at, updated_at, synced_at, is_synced, version`

const (
	sqlGetRecipe = `SELECT ` + recipeColumns + ` FROM recipes WHERE id = ?`

	sqlInsertRecipe = `INSERT INTO recipes
		(id, id_kind, user_id, title, description, prep_time, cook_time,
		 servings, difficulty, cuisine_type, notes, image_url, source_url, source,
		 search_key, created_at, updated_at, synced_at, is_synced, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectIngredients = `SELECT id, recipe_id, name, amount, unit, notes, order_index,
		created_at, updated_at
		FROM ingredients WHERE recipe_id = ? ORDER BY order_index`

	sqlSelectSteps = `SELECT id, recipe_id, description, order_index, duration, temperature,
		created_at, updated_at
		FROM steps WHERE recipe_id = ? ORDER BY order_index`

	sqlSelectRecipeTags = `SELECT t.id, t.name, t.color, t.created_at, t.updated_at
		FROM tags t JOIN recipe_tags rt ON rt.tag_id = t.id
		WHERE rt.recipe_id = ? ORDER BY t.name_key`

	sqlInsertIngredient = `INSERT INTO ingredients
		(id, recipe_id, name, amount, unit, notes, order_index, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlInsertStep = `INSERT INTO steps
		(id, recipe_id, description, order_index, duration, temperature, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	sqlInsertTag = `INSERT INTO tags (id, name, name_key, color, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`

	sqlGetTagIDByKey = `SELECT id FROM tags WHERE name_key = ?`

	sqlLinkTag = `INSERT OR IGNORE INTO recipe_tags (recipe_id, tag_id) VALUES (?, ?)`
)

type recipeRow struct {
	ID          string         `db:"id"`
	IDKind      string         `db:"id_kind"`
	UserID      string         `db:"user_id"`
	Title       string         `db:"title"`
	Description sql.NullString `db:"description"`
	PrepTime    sql.NullInt64  `db:"prep_time"`
	CookTime    sql.NullInt64  `db:"cook_time"`
	Servings    sql.NullInt64  `db:"servings"`
	Difficulty  sql.NullString `db:"difficulty"`
	CuisineType sql.NullString `db:"cuisine_type"`
	Notes       sql.NullString `db:"notes"`
	ImageURL    sql.NullString `db:"image_url"`
	SourceURL   sql.NullString `db:"source_url"`
	Source      sql.NullString `db:"source"`
	CreatedAt   int64          `db:"created_at"`
	UpdatedAt   int64          `db:"updated_at"`
	SyncedAt    sql.NullInt64  `db:"synced_at"`
	IsSynced    bool           `db:"is_synced"`
	Version     int64          `db:"version"`
}

type ingredientRow struct {
	ID         string          `db:"id"`
	RecipeID   string          `db:"recipe_id"`
	Name       string          `db:"name"`
	Amount     sql.NullFloat64 `db:"amount"`
	Unit       sql.NullString  `db:"unit"`
	Notes      sql.NullString  `db:"notes"`
	OrderIndex int             `db:"order_index"`
	CreatedAt  int64           `db:"created_at"`
	UpdatedAt  int64           `db:"updated_at"`
}

type stepRow struct {
	ID          string        `db:"id"`
	RecipeID    string        `db:"recipe_id"`
	Description string        `db:"description"`
	OrderIndex  int           `db:"order_index"`
	Duration    sql.NullInt64 `db:"duration"`
	Temperature sql.NullInt64 `db:"temperature"`
	CreatedAt   int64         `db:"created_at"`
	UpdatedAt   int64         `db:"updated_at"`
}

type tagRow struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	Color     sql.NullString `db:"color"`
	CreatedAt int64          `db:"created_at"`
	UpdatedAt int64          `db:"updated_at"`
}

func (row *recipeRow) toRecipe() (*recipe.Recipe, error) {
	kind, err := recipe.ParseKind(row.IDKind)
	if err != nil {
		return nil, fmt.Errorf("store: recipe %s: %w", row.ID, err)
	}

	return &recipe.Recipe{
		ID:          recipe.Identity{Kind: kind, Value: row.ID},
		OwnerID:     row.UserID,
		Title:       row.Title,
		Description: row.Description.String,
		PrepTime:    int(row.PrepTime.Int64),
		CookTime:    int(row.CookTime.Int64),
		Servings:    int(row.Servings.Int64),
		Difficulty:  row.Difficulty.String,
		CuisineType: row.CuisineType.String,
		Notes:       row.Notes.String,
		ImageRef:    row.ImageURL.String,
		SourceURL:   row.SourceURL.String,
		Source:      row.Source.String,
		CreatedAt:   fromNanos(row.CreatedAt),
		UpdatedAt:   fromNanos(row.UpdatedAt),
		SyncedAt:    fromNullNanos(row.SyncedAt),
		IsSynced:    row.IsSynced,
		Version:     row.Version,
	}, nil
}

func (row *recipeRow) insertArgs() []any {
	return []any{
		row.ID, row.IDKind, row.UserID, row.Title, row.Description, row.PrepTime,
		row.CookTime, row.Servings, row.Difficulty, row.CuisineType, row.Notes,
		row.ImageURL, row.SourceURL, row.Source,
		recipe.SearchKey(row.Title, row.Description.String),
		row.CreatedAt, row.UpdatedAt, row.SyncedAt, row.IsSynced, row.Version,
	}
}

// getRecipeRow loads one row, mapping no rows to recipe.ErrNotFound.
func getRecipeRow(ctx context.Context, q sqlx.QueryerContext, id string) (*recipeRow, error) {
	var row recipeRow
	if err := sqlx.GetContext(ctx, q, &row, sqlGetRecipe, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: recipe %s: %w", id, recipe.ErrNotFound)
		}

		return nil, fmt.Errorf("store: loading recipe %s: %w", id, err)
	}

	return &row, nil
}

// hydrate converts rows and loads their children. Rows must already be
// fully read: the pool has a single connection.
func hydrate(ctx context.Context, q sqlx.QueryerContext, rows []recipeRow) ([]recipe.Recipe, error) {
	out := make([]recipe.Recipe, 0, len(rows))

	for i := range rows {
		r, err := rows[i].toRecipe()
		if err != nil {
			return nil, err
		}

		if err := loadChildren(ctx, q, r); err != nil {
			return nil, err
		}

		out = append(out, *r)
	}

	return out, nil
}

func loadChildren(ctx context.Context, q sqlx.QueryerContext, r *recipe.Recipe) error {
	var ings []ingredientRow
	if err := sqlx.SelectContext(ctx, q, &ings, sqlSelectIngredients, r.ID.Value); err != nil {
		return fmt.Errorf("store: loading ingredients of %s: %w", r.ID, err)
	}

	var steps []stepRow
	if err := sqlx.SelectContext(ctx, q, &steps, sqlSelectSteps, r.ID.Value); err != nil {
		return fmt.Errorf("store: loading steps of %s: %w", r.ID, err)
	}

	var tags []tagRow
	if err := sqlx.SelectContext(ctx, q, &tags, sqlSelectRecipeTags, r.ID.Value); err != nil {
		return fmt.Errorf("store: loading tags of %s: %w", r.ID, err)
	}

	r.Ingredients = make([]recipe.Ingredient, 0, len(ings))
	for i := range ings {
		r.Ingredients = append(r.Ingredients, recipe.Ingredient{
			ID:         ings[i].ID,
			RecipeID:   ings[i].RecipeID,
			Name:       ings[i].Name,
			Amount:     ings[i].Amount.Float64,
			Unit:       ings[i].Unit.String,
			Notes:      ings[i].Notes.String,
			OrderIndex: ings[i].OrderIndex,
			CreatedAt:  fromNanos(ings[i].CreatedAt),
			UpdatedAt:  fromNanos(ings[i].UpdatedAt),
		})
	}

	r.Steps = make([]recipe.Step, 0, len(steps))
	for i := range steps {
		r.Steps = append(r.Steps, recipe.Step{
			ID:          steps[i].ID,
			RecipeID:    steps[i].RecipeID,
			Description: steps[i].Description,
			OrderIndex:  steps[i].OrderIndex,
			Duration:    int(steps[i].Duration.Int64),
			Temperature: int(steps[i].Temperature.Int64),
			CreatedAt:   fromNanos(steps[i].CreatedAt),
			UpdatedAt:   fromNanos(steps[i].UpdatedAt),
		})
	}

	r.Tags = make([]recipe.Tag, 0, len(tags))
	for i := range tags {
		r.Tags = append(r.Tags, tags[i].toTag())
	}

	return nil
}

func (row *tagRow) toTag() recipe.Tag {
	return recipe.Tag{
		ID:        row.ID,
		Name:      row.Name,
		Color:     row.Color.String,
		CreatedAt: fromNanos(row.CreatedAt),
		UpdatedAt: fromNanos(row.UpdatedAt),
	}
}

// insertIngredients writes ings with order indices 0..n-1 taken from slice
// position. Ids are generated when empty.
func insertIngredients(ctx context.Context, tx *sqlx.Tx, recipeID string, ings []recipe.Ingredient, now time.Time) error {
	for i := range ings {
		id := ings[i].ID
		if id == "" {
			id = uuid.NewString()
		}

		created := ings[i].CreatedAt
		if created.IsZero() {
			created = now
		}

		if _, err := tx.ExecContext(ctx, sqlInsertIngredient,
			id, recipeID, strings.TrimSpace(ings[i].Name), nullFloat(ings[i].Amount),
			nullString(ings[i].Unit), nullString(ings[i].Notes), i,
			created.UnixNano(), now.UnixNano(),
		); err != nil {
			return fmt.Errorf("store: inserting ingredient %d of %s: %w", i, recipeID, err)
		}
	}

	return nil
}

func insertSteps(ctx context.Context, tx *sqlx.Tx, recipeID string, steps []recipe.Step, now time.Time) error {
	for i := range steps {
		id := steps[i].ID
		if id == "" {
			id = uuid.NewString()
		}

		created := steps[i].CreatedAt
		if created.IsZero() {
			created = now
		}

		if _, err := tx.ExecContext(ctx, sqlInsertStep,
			id, recipeID, strings.TrimSpace(steps[i].Description), i,
			nullInt(steps[i].Duration), nullInt(steps[i].Temperature),
			created.UnixNano(), now.UnixNano(),
		); err != nil {
			return fmt.Errorf("store: inserting step %d of %s: %w", i, recipeID, err)
		}
	}

	return nil
}

// linkTags resolves each tag by its normalized key, creating missing tags,
// and associates them with the recipe. Duplicate names collapse to one tag.
func linkTags(ctx context.Context, tx *sqlx.Tx, recipeID string, tags []recipe.Tag, now time.Time) error {
	seen := make(map[string]bool, len(tags))

	for i := range tags {
		name := recipe.NormalizeTagName(tags[i].Name)
		key := recipe.TagKey(name)

		if key == "" || seen[key] {
			continue
		}

		seen[key] = true

		id := tags[i].ID
		if id == "" {
			id = uuid.NewString()
		}

		if _, err := tx.ExecContext(ctx, sqlInsertTag,
			id, name, key, nullString(tags[i].Color), now.UnixNano(), now.UnixNano(),
		); err != nil {
			return fmt.Errorf("store: inserting tag %q: %w", name, err)
		}

		var tagID string
		if err := tx.GetContext(ctx, &tagID, sqlGetTagIDByKey, key); err != nil {
			return fmt.Errorf("store: resolving tag %q: %w", name, err)
		}

		if _, err := tx.ExecContext(ctx, sqlLinkTag, recipeID, tagID); err != nil {
			return fmt.Errorf("store: linking tag %q to %s: %w", name, recipeID, err)
		}
	}

	return nil
}

func ingredientsFromDrafts(drafts []recipe.IngredientDraft) []recipe.Ingredient {
	out := make([]recipe.Ingredient, 0, len(drafts))
	for i := range drafts {
		out = append(out, recipe.Ingredient{
			Name:   drafts[i].Name,
			Amount: drafts[i].Amount,
			Unit:   drafts[i].Unit,
			Notes:  drafts[i].Notes,
		})
	}

	return out
}

func stepsFromDrafts(drafts []recipe.StepDraft) []recipe.Step {
	out := make([]recipe.Step, 0, len(drafts))
	for i := range drafts {
		out = append(out, recipe.Step{
			Description: drafts[i].Description,
			Duration:    drafts[i].Duration,
			Temperature: drafts[i].Temperature,
		})
	}

	return out
}

func tagsFromNames(names []string) []recipe.Tag {
	out := make([]recipe.Tag, 0, len(names))
	for _, n := range names {
		out = append(out, recipe.Tag{Name: n})
	}

	return out
}
