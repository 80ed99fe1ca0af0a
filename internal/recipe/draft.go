package recipe

import (
	"errors"
	"fmt"
	"strings"
)

// Draft is the caller-supplied content of a new recipe. It is also the
// result shape of URL and image extraction, and the YAML shape accepted by
// "recipe add --file".
type Draft struct {
	Title       string            `yaml:"title"`
	Description string            `yaml:"description,omitempty"`
	PrepTime    int               `yaml:"prep_time,omitempty"`
	CookTime    int               `yaml:"cook_time,omitempty"`
	Servings    int               `yaml:"servings,omitempty"`
	Difficulty  string            `yaml:"difficulty,omitempty"`
	CuisineType string            `yaml:"cuisine_type,omitempty"`
	Notes       string            `yaml:"notes,omitempty"`
	ImageRef    string            `yaml:"image,omitempty"`
	SourceURL   string            `yaml:"source_url,omitempty"`
	Source      string            `yaml:"source,omitempty"`
	Ingredients []IngredientDraft `yaml:"ingredients,omitempty"`
	Steps       []StepDraft       `yaml:"steps,omitempty"`
	Tags        []string          `yaml:"tags,omitempty"`
}

// IngredientDraft carries no order index: position in the slice is the order.
type IngredientDraft struct {
	Name   string  `yaml:"name"`
	Amount float64 `yaml:"amount,omitempty"`
	Unit   string  `yaml:"unit,omitempty"`
	Notes  string  `yaml:"notes,omitempty"`
}

type StepDraft struct {
	Description string `yaml:"description"`
	Duration    int    `yaml:"duration,omitempty"`
	Temperature int    `yaml:"temperature,omitempty"`
}

// Patch lists the fields an update applies. Nil means "leave unchanged".
// Ingredients, Steps and Tags replace the whole collection when set.
type Patch struct {
	Title       *string
	Description *string
	PrepTime    *int
	CookTime    *int
	Servings    *int
	Difficulty  *string
	CuisineType *string
	Notes       *string
	ImageRef    *string
	SourceURL   *string
	Source      *string
	Ingredients *[]IngredientDraft
	Steps       *[]StepDraft
	Tags        *[]string
}

// IsEmpty reports whether the patch changes nothing.
func (p *Patch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.PrepTime == nil &&
		p.CookTime == nil && p.Servings == nil && p.Difficulty == nil &&
		p.CuisineType == nil && p.Notes == nil && p.ImageRef == nil &&
		p.SourceURL == nil && p.Source == nil && p.Ingredients == nil &&
		p.Steps == nil && p.Tags == nil
}

// Validate checks the draft and returns every problem found, joined. All
// returned errors match ErrInvalidDraft.
func (d *Draft) Validate() error {
	var errs []error

	if strings.TrimSpace(d.Title) == "" {
		errs = append(errs, errors.New("title is required"))
	}

	if err := validateDifficulty(d.Difficulty); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, validateNumbers(d.PrepTime, d.CookTime, d.Servings)...)
	errs = append(errs, validateIngredients(d.Ingredients)...)
	errs = append(errs, validateSteps(d.Steps)...)

	for i, name := range d.Tags {
		if NormalizeTagName(name) == "" {
			errs = append(errs, fmt.Errorf("tag %d: name is required", i))
		}
	}

	return wrapInvalid(errs)
}

// Validate checks only the fields the patch sets.
func (p *Patch) Validate() error {
	var errs []error

	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		errs = append(errs, errors.New("title cannot be empty"))
	}

	if p.Difficulty != nil {
		if err := validateDifficulty(*p.Difficulty); err != nil {
			errs = append(errs, err)
		}
	}

	errs = append(errs, validateNumbers(deref(p.PrepTime), deref(p.CookTime), deref(p.Servings))...)

	if p.Ingredients != nil {
		errs = append(errs, validateIngredients(*p.Ingredients)...)
	}

	if p.Steps != nil {
		errs = append(errs, validateSteps(*p.Steps)...)
	}

	if p.Tags != nil {
		for i, name := range *p.Tags {
			if NormalizeTagName(name) == "" {
				errs = append(errs, fmt.Errorf("tag %d: name is required", i))
			}
		}
	}

	return wrapInvalid(errs)
}

func validateDifficulty(d string) error {
	switch d {
	case "", DifficultyEasy, DifficultyMedium, DifficultyHard:
		return nil
	default:
		return fmt.Errorf("difficulty %q must be one of %s, %s, %s", d, DifficultyEasy, DifficultyMedium, DifficultyHard)
	}
}

func validateNumbers(prep, cook, servings int) []error {
	var errs []error

	if prep < 0 {
		errs = append(errs, fmt.Errorf("prep time %d must not be negative", prep))
	}

	if cook < 0 {
		errs = append(errs, fmt.Errorf("cook time %d must not be negative", cook))
	}

	if servings < 0 {
		errs = append(errs, fmt.Errorf("servings %d must not be negative", servings))
	}

	return errs
}

func validateIngredients(ings []IngredientDraft) []error {
	var errs []error

	for i := range ings {
		if strings.TrimSpace(ings[i].Name) == "" {
			errs = append(errs, fmt.Errorf("ingredient %d: name is required", i))
		}

		if ings[i].Amount < 0 {
			errs = append(errs, fmt.Errorf("ingredient %d: amount must not be negative", i))
		}
	}

	return errs
}

func validateSteps(steps []StepDraft) []error {
	var errs []error

	for i := range steps {
		if strings.TrimSpace(steps[i].Description) == "" {
			errs = append(errs, fmt.Errorf("step %d: description is required", i))
		}

		if steps[i].Duration < 0 {
			errs = append(errs, fmt.Errorf("step %d: duration must not be negative", i))
		}
	}

	return errs
}

func wrapInvalid(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrInvalidDraft, errors.Join(errs...))
}

func deref(p *int) int {
	if p == nil {
		return 0
	}

	return *p
}
