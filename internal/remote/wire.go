package remote

import (
	"log/slog"
	"time"

	"github.com/tonimelisma/recipevault/internal/recipe"
)

// recipePayload is the body of create and update requests. It never carries
// an id: the service assigns it on create and takes it from the path on
// update. Tags travel as references, never embedded objects.
type recipePayload struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	PrepTime    int                 `json:"prep_time,omitempty"`
	CookTime    int                 `json:"cook_time,omitempty"`
	Servings    int                 `json:"servings,omitempty"`
	Difficulty  string              `json:"difficulty,omitempty"`
	CuisineType string              `json:"cuisine_type,omitempty"`
	ImageURL    string              `json:"image_url,omitempty"`
	SourceURL   string              `json:"source_url,omitempty"`
	Source      string              `json:"source,omitempty"`
	Notes       string              `json:"notes,omitempty"`
	Ingredients []ingredientPayload `json:"ingredients"`
	Steps       []stepPayload       `json:"steps"`
	TagIDs      []string            `json:"tag_ids"`
	// TagNames lets the service resolve tags it has never seen by name.
	TagNames []string `json:"tag_names,omitempty"`
}

type ingredientPayload struct {
	Name       string  `json:"name"`
	Amount     float64 `json:"amount,omitempty"`
	Unit       string  `json:"unit,omitempty"`
	Notes      string  `json:"notes,omitempty"`
	OrderIndex int     `json:"order_index"`
}

type stepPayload struct {
	Description string `json:"description"`
	OrderIndex  int    `json:"order_index"`
	Duration    int    `json:"duration,omitempty"`
	Temperature int    `json:"temperature,omitempty"`
}

// recipeResponse is the canonical recipe returned by the service.
type recipeResponse struct {
	ID          string               `json:"id"`
	UserID      string               `json:"user_id"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	PrepTime    int                  `json:"prep_time"`
	CookTime    int                  `json:"cook_time"`
	Servings    int                  `json:"servings"`
	Difficulty  string               `json:"difficulty"`
	CuisineType string               `json:"cuisine_type"`
	ImageURL    string               `json:"image_url"`
	SourceURL   string               `json:"source_url"`
	Source      string               `json:"source"`
	Notes       string               `json:"notes"`
	CreatedAt   string               `json:"created_at"`
	UpdatedAt   string               `json:"updated_at"`
	Ingredients []ingredientResponse `json:"ingredients"`
	Steps       []stepResponse       `json:"steps"`
	Tags        []tagResponse        `json:"tags"`
}

type ingredientResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Amount     float64 `json:"amount"`
	Unit       string  `json:"unit"`
	Notes      string  `json:"notes"`
	OrderIndex int     `json:"order_index"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

type stepResponse struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	OrderIndex  int    `json:"order_index"`
	Duration    int    `json:"duration"`
	Temperature int    `json:"temperature"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type tagResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// extractionResponse is the shape of both parse-url and ocr results. OCR
// wraps the structured part in "recipe" next to the raw "text".
type extractionResponse struct {
	Text        string              `json:"text"`
	Recipe      *extractionResponse `json:"recipe"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	PrepTime    int                 `json:"prep_time"`
	CookTime    int                 `json:"cook_time"`
	Servings    int                 `json:"servings"`
	ImageURL    string              `json:"image_url"`
	SourceURL   string              `json:"source_url"`
	Source      string              `json:"source"`
	Ingredients []ingredientPayload `json:"ingredients"`
	Steps       []stepPayload       `json:"steps"`
}

func toPayload(r *recipe.Recipe) recipePayload {
	p := recipePayload{
		Title:       r.Title,
		Description: r.Description,
		PrepTime:    r.PrepTime,
		CookTime:    r.CookTime,
		Servings:    r.Servings,
		Difficulty:  r.Difficulty,
		CuisineType: r.CuisineType,
		SourceURL:   r.SourceURL,
		Source:      r.Source,
		Notes:       r.Notes,
		Ingredients: make([]ingredientPayload, 0, len(r.Ingredients)),
		Steps:       make([]stepPayload, 0, len(r.Steps)),
		TagIDs:      make([]string, 0, len(r.Tags)),
	}

	// Local file paths mean nothing to the service.
	if recipe.IsRemoteRef(r.ImageRef) {
		p.ImageURL = r.ImageRef
	}

	for i := range r.Ingredients {
		ing := &r.Ingredients[i]
		p.Ingredients = append(p.Ingredients, ingredientPayload{
			Name:       ing.Name,
			Amount:     ing.Amount,
			Unit:       ing.Unit,
			Notes:      ing.Notes,
			OrderIndex: ing.OrderIndex,
		})
	}

	for i := range r.Steps {
		st := &r.Steps[i]
		p.Steps = append(p.Steps, stepPayload{
			Description: st.Description,
			OrderIndex:  st.OrderIndex,
			Duration:    st.Duration,
			Temperature: st.Temperature,
		})
	}

	for i := range r.Tags {
		p.TagIDs = append(p.TagIDs, r.Tags[i].ID)
		p.TagNames = append(p.TagNames, r.Tags[i].Name)
	}

	return p
}

// toRecipe normalizes a service response. Missing timestamps stay zero and
// the store fills them in.
func (resp *recipeResponse) toRecipe(logger *slog.Logger) *recipe.Recipe {
	r := &recipe.Recipe{
		ID:          recipe.Canonical(resp.ID),
		OwnerID:     resp.UserID,
		Title:       resp.Title,
		Description: resp.Description,
		PrepTime:    resp.PrepTime,
		CookTime:    resp.CookTime,
		Servings:    resp.Servings,
		Difficulty:  resp.Difficulty,
		CuisineType: resp.CuisineType,
		Notes:       resp.Notes,
		ImageRef:    resp.ImageURL,
		SourceURL:   resp.SourceURL,
		Source:      resp.Source,
		CreatedAt:   parseTimestamp(resp.CreatedAt, "created_at", resp.ID, logger),
		UpdatedAt:   parseTimestamp(resp.UpdatedAt, "updated_at", resp.ID, logger),
		IsSynced:    true,
	}

	for i := range resp.Ingredients {
		ing := &resp.Ingredients[i]
		r.Ingredients = append(r.Ingredients, recipe.Ingredient{
			ID:         ing.ID,
			RecipeID:   resp.ID,
			Name:       ing.Name,
			Amount:     ing.Amount,
			Unit:       ing.Unit,
			Notes:      ing.Notes,
			OrderIndex: ing.OrderIndex,
			CreatedAt:  parseTimestamp(ing.CreatedAt, "ingredient.created_at", resp.ID, logger),
			UpdatedAt:  parseTimestamp(ing.UpdatedAt, "ingredient.updated_at", resp.ID, logger),
		})
	}

	for i := range resp.Steps {
		st := &resp.Steps[i]
		r.Steps = append(r.Steps, recipe.Step{
			ID:          st.ID,
			RecipeID:    resp.ID,
			Description: st.Description,
			OrderIndex:  st.OrderIndex,
			Duration:    st.Duration,
			Temperature: st.Temperature,
			CreatedAt:   parseTimestamp(st.CreatedAt, "step.created_at", resp.ID, logger),
			UpdatedAt:   parseTimestamp(st.UpdatedAt, "step.updated_at", resp.ID, logger),
		})
	}

	for i := range resp.Tags {
		r.Tags = append(r.Tags, recipe.Tag{
			ID:    resp.Tags[i].ID,
			Name:  resp.Tags[i].Name,
			Color: resp.Tags[i].Color,
		})
	}

	return r
}

func (e *extractionResponse) toDraft() *recipe.Draft {
	src := e
	if e.Recipe != nil {
		src = e.Recipe
	}

	d := &recipe.Draft{
		Title:       src.Title,
		Description: src.Description,
		PrepTime:    src.PrepTime,
		CookTime:    src.CookTime,
		Servings:    src.Servings,
		ImageRef:    src.ImageURL,
		SourceURL:   src.SourceURL,
		Source:      src.Source,
	}

	for i := range src.Ingredients {
		d.Ingredients = append(d.Ingredients, recipe.IngredientDraft{
			Name:   src.Ingredients[i].Name,
			Amount: src.Ingredients[i].Amount,
			Unit:   src.Ingredients[i].Unit,
			Notes:  src.Ingredients[i].Notes,
		})
	}

	for i := range src.Steps {
		d.Steps = append(d.Steps, recipe.StepDraft{
			Description: src.Steps[i].Description,
			Duration:    src.Steps[i].Duration,
			Temperature: src.Steps[i].Temperature,
		})
	}

	return d
}

// Timestamp layouts accepted from the service. Naive timestamps are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

const (
	minValidYear = 1970
	maxValidYear = 2200
)

// parseTimestamp parses a service timestamp. Empty or invalid values yield
// the zero time and, when invalid, a warning.
func parseTimestamp(raw, field, recipeID string, logger *slog.Logger) time.Time {
	if raw == "" {
		return time.Time{}
	}

	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}

		if t.Year() < minValidYear || t.Year() > maxValidYear {
			logger.Warn("timestamp out of valid range, ignoring",
				slog.String("field", field),
				slog.String("recipe_id", recipeID),
				slog.String("raw", raw),
			)

			return time.Time{}
		}

		return t.UTC()
	}

	logger.Warn("invalid timestamp, ignoring",
		slog.String("field", field),
		slog.String("recipe_id", recipeID),
		slog.String("raw", raw),
	)

	return time.Time{}
}
