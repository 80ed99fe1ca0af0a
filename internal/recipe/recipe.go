// Package recipe defines the recipe domain model shared by the local store,
// the remote gateway and the sync engine.
package recipe

import (
	"time"
)

// Difficulty levels accepted by draft validation.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Recipe is a fully hydrated recipe: scalar fields plus its ordered
// ingredients and steps and its resolved tags. Zero values mean "absent" for
// the optional fields.
type Recipe struct {
	ID          Identity
	OwnerID     string
	Title       string
	Description string
	PrepTime    int // minutes
	CookTime    int // minutes
	Servings    int
	Difficulty  string
	CuisineType string
	Notes       string
	// ImageRef is either a local file path or an http(s) URL.
	ImageRef  string
	SourceURL string
	Source    string

	Ingredients []Ingredient
	Steps       []Step
	Tags        []Tag

	CreatedAt time.Time
	UpdatedAt time.Time
	SyncedAt  time.Time // zero until the first successful sync
	IsSynced  bool
	// Version increases on every user edit. The sync engine only flips
	// IsSynced when the version it pushed is still current.
	Version int64
}

// Ingredient is one entry of a recipe's ingredient list. OrderIndex is dense
// and zero-based within the recipe.
type Ingredient struct {
	ID         string
	RecipeID   string
	Name       string
	Amount     float64
	Unit       string
	Notes      string
	OrderIndex int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Step is one instruction of a recipe. Duration is in minutes.
type Step struct {
	ID          string
	RecipeID    string
	Description string
	OrderIndex  int
	Duration    int
	Temperature int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Tag is shared across recipes. Names are unique store-wide after
// normalization (see TagKey).
type Tag struct {
	ID        string
	Name      string
	Color     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasRemoteImage reports whether the image reference is already a URL that
// needs no upload.
func (r *Recipe) HasRemoteImage() bool {
	return IsRemoteRef(r.ImageRef)
}

// TagNames returns the tag names in their stored order.
func (r *Recipe) TagNames() []string {
	names := make([]string, 0, len(r.Tags))
	for i := range r.Tags {
		names = append(names, r.Tags[i].Name)
	}

	return names
}
