package recipe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDraftValidate_OK(t *testing.T) {
	t.Parallel()

	d := Draft{
		Title:       "Pancakes",
		Difficulty:  DifficultyEasy,
		Ingredients: []IngredientDraft{{Name: "flour", Amount: 2, Unit: "cup"}},
		Steps:       []StepDraft{{Description: "Mix"}},
		Tags:        []string{"breakfast"},
	}

	assert.NoError(t, d.Validate())
}

func TestDraftValidate_CollectsAllProblems(t *testing.T) {
	t.Parallel()

	d := Draft{
		Title:       "  ",
		Difficulty:  "expert",
		Servings:    -1,
		Ingredients: []IngredientDraft{{Name: ""}},
		Steps:       []StepDraft{{Description: ""}},
		Tags:        []string{" "},
	}

	err := d.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDraft))

	msg := err.Error()
	for _, want := range []string{
		"title is required",
		"difficulty \"expert\"",
		"servings -1",
		"ingredient 0: name is required",
		"step 0: description is required",
		"tag 0: name is required",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestPatchValidate(t *testing.T) {
	t.Parallel()

	empty := ""
	hard := DifficultyHard
	ings := []IngredientDraft{{Name: "salt"}}

	assert.NoError(t, (&Patch{Difficulty: &hard, Ingredients: &ings}).Validate())

	err := (&Patch{Title: &empty}).Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDraft))
}

func TestPatchIsEmpty(t *testing.T) {
	t.Parallel()

	title := "x"
	var tags []string

	assert.True(t, (&Patch{}).IsEmpty())
	assert.False(t, (&Patch{Title: &title}).IsEmpty())
	assert.False(t, (&Patch{Tags: &tags}).IsEmpty(), "empty replacement still counts as a change")
}
