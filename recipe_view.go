package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/tonimelisma/recipevault/internal/recipe"
)

type tagView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// recipeView is the JSON schema for recipe output.
type recipeView struct {
	ID          string           `json:"id"`
	IDKind      string           `json:"id_kind"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	PrepTime    int              `json:"prep_time,omitempty"`
	CookTime    int              `json:"cook_time,omitempty"`
	Servings    int              `json:"servings,omitempty"`
	Difficulty  string           `json:"difficulty,omitempty"`
	CuisineType string           `json:"cuisine_type,omitempty"`
	Notes       string           `json:"notes,omitempty"`
	Image       string           `json:"image,omitempty"`
	SourceURL   string           `json:"source_url,omitempty"`
	Source      string           `json:"source,omitempty"`
	Ingredients []ingredientView `json:"ingredients"`
	Steps       []stepView       `json:"steps"`
	Tags        []string         `json:"tags"`
	Synced      bool             `json:"synced"`
	SyncedAt    *time.Time       `json:"synced_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type ingredientView struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount,omitempty"`
	Unit   string  `json:"unit,omitempty"`
	Notes  string  `json:"notes,omitempty"`
}

type stepView struct {
	Description string `json:"description"`
	Duration    int    `json:"duration,omitempty"`
	Temperature int    `json:"temperature,omitempty"`
}

func newRecipeView(r *recipe.Recipe) recipeView {
	v := recipeView{
		ID:          r.ID.Value,
		IDKind:      r.ID.Kind.String(),
		Title:       r.Title,
		Description: r.Description,
		PrepTime:    r.PrepTime,
		CookTime:    r.CookTime,
		Servings:    r.Servings,
		Difficulty:  r.Difficulty,
		CuisineType: r.CuisineType,
		Notes:       r.Notes,
		Image:       r.ImageRef,
		SourceURL:   r.SourceURL,
		Source:      r.Source,
		Ingredients: make([]ingredientView, 0, len(r.Ingredients)),
		Steps:       make([]stepView, 0, len(r.Steps)),
		Tags:        r.TagNames(),
		Synced:      r.IsSynced,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}

	if !r.SyncedAt.IsZero() {
		at := r.SyncedAt
		v.SyncedAt = &at
	}

	for i := range r.Ingredients {
		ing := &r.Ingredients[i]
		v.Ingredients = append(v.Ingredients, ingredientView{Name: ing.Name, Amount: ing.Amount, Unit: ing.Unit, Notes: ing.Notes})
	}

	for i := range r.Steps {
		st := &r.Steps[i]
		v.Steps = append(v.Steps, stepView{Description: st.Description, Duration: st.Duration, Temperature: st.Temperature})
	}

	return v
}

func printRecipeList(cc *CLIContext, rs []recipe.Recipe) error {
	if cc.Flags.JSON {
		views := make([]recipeView, 0, len(rs))
		for i := range rs {
			views = append(views, newRecipeView(&rs[i]))
		}

		return printJSON(cc.Stdout, views)
	}

	if len(rs) == 0 {
		cc.Statusf("No recipes.\n")
		return nil
	}

	rows := make([][]string, 0, len(rs))
	for i := range rs {
		r := &rs[i]
		rows = append(rows, []string{r.ID.Value, r.Title, strings.Join(r.TagNames(), ","), syncState(r), formatTime(r.UpdatedAt)})
	}

	printTable(cc.Stdout, []string{"ID", "TITLE", "TAGS", "SYNC", "UPDATED"}, rows)

	return nil
}

func syncState(r *recipe.Recipe) string {
	if r.IsSynced {
		return "synced"
	}

	if r.ID.IsLocal() {
		return "new"
	}

	return "modified"
}

func printRecipe(cc *CLIContext, r *recipe.Recipe) {
	w := cc.Stdout

	fmt.Fprintf(w, "%s\n", r.Title)
	fmt.Fprintf(w, "%s\n", strings.Repeat("=", len(r.Title)))

	if r.Description != "" {
		fmt.Fprintf(w, "\n%s\n", r.Description)
	}

	fmt.Fprintln(w)

	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(w, "%-10s %s\n", label+":", value)
		}
	}

	field("ID", r.ID.Value)
	field("Sync", syncState(r))
	field("Prep", formatMinutes(r.PrepTime))
	field("Cook", formatMinutes(r.CookTime))

	if r.Servings > 0 {
		field("Servings", fmt.Sprint(r.Servings))
	}

	field("Difficulty", r.Difficulty)
	field("Cuisine", r.CuisineType)
	field("Tags", strings.Join(r.TagNames(), ", "))
	field("Image", r.ImageRef)
	field("Source", strings.TrimSpace(r.Source+" "+r.SourceURL))

	if len(r.Ingredients) > 0 {
		fmt.Fprintf(w, "\nIngredients:\n")

		for i := range r.Ingredients {
			ing := &r.Ingredients[i]
			line := strings.Join(strings.Fields(formatAmount(ing.Amount)+" "+ing.Unit+" "+ing.Name), " ")

			if ing.Notes != "" {
				line += " (" + ing.Notes + ")"
			}

			fmt.Fprintf(w, "  %d. %s\n", i+1, line)
		}
	}

	if len(r.Steps) > 0 {
		fmt.Fprintf(w, "\nSteps:\n")

		for i := range r.Steps {
			fmt.Fprintf(w, "  %d. %s\n", i+1, r.Steps[i].Description)
		}
	}

	if r.Notes != "" {
		fmt.Fprintf(w, "\nNotes:\n  %s\n", r.Notes)
	}
}
