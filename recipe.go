package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/tonimelisma/recipevault/internal/recipe"
)

func newRecipeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "recipe",
		Aliases: []string{"recipes"},
		Short:   "Create, view and edit local recipes",
		Long: `Manage recipes in the local database. Every change is saved offline and
marked unsynced; the next sync pass pushes it to the server.`,
	}

	cmd.AddCommand(newRecipeAddCmd())
	cmd.AddCommand(newRecipeShowCmd())
	cmd.AddCommand(newRecipeListCmd())
	cmd.AddCommand(newRecipeSearchCmd())
	cmd.AddCommand(newRecipeEditCmd())
	cmd.AddCommand(newRecipeRmCmd())
	cmd.AddCommand(newRecipeTagsCmd())

	return cmd
}

// recipeFlags are the content flags shared by "recipe add" and
// "recipe edit".
type recipeFlags struct {
	title       string
	description string
	prep        int
	cook        int
	servings    int
	difficulty  string
	cuisine     string
	notes       string
	image       string
	sourceURL   string
	source      string
	ingredients []string
	steps       []string
	tags        []string
}

func (f *recipeFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.title, "title", "", "recipe title")
	fs.StringVar(&f.description, "description", "", "short description")
	fs.IntVar(&f.prep, "prep", 0, "preparation time in minutes")
	fs.IntVar(&f.cook, "cook", 0, "cooking time in minutes")
	fs.IntVar(&f.servings, "servings", 0, "number of servings")
	fs.StringVar(&f.difficulty, "difficulty", "", "easy, medium or hard")
	fs.StringVar(&f.cuisine, "cuisine", "", "cuisine type")
	fs.StringVar(&f.notes, "notes", "", "free-form notes")
	fs.StringVar(&f.image, "image", "", "image file path or URL")
	fs.StringVar(&f.sourceURL, "source-url", "", "where the recipe came from")
	fs.StringVar(&f.source, "source", "", "source attribution")
	fs.StringArrayVar(&f.ingredients, "ingredient", nil, `ingredient as "AMOUNT UNIT NAME", "AMOUNT NAME", "NAME" or "amount|unit|name" (repeatable)`)
	fs.StringArrayVar(&f.steps, "step", nil, "instruction step (repeatable, in order)")
	fs.StringSliceVar(&f.tags, "tag", nil, "tag name (repeatable or comma-separated)")
}

func (f *recipeFlags) draft() (*recipe.Draft, error) {
	ings, err := parseIngredients(f.ingredients)
	if err != nil {
		return nil, err
	}

	return &recipe.Draft{
		Title:       f.title,
		Description: f.description,
		PrepTime:    f.prep,
		CookTime:    f.cook,
		Servings:    f.servings,
		Difficulty:  f.difficulty,
		CuisineType: f.cuisine,
		Notes:       f.notes,
		ImageRef:    f.image,
		SourceURL:   f.sourceURL,
		Source:      f.source,
		Ingredients: ings,
		Steps:       stepDrafts(f.steps),
		Tags:        f.tags,
	}, nil
}

// patch builds an update from the flags the user actually set.
func (f *recipeFlags) patch(fs *pflag.FlagSet) (*recipe.Patch, error) {
	p := &recipe.Patch{}

	setStr := func(name string, dst **string, v string) {
		if fs.Changed(name) {
			*dst = &v
		}
	}

	setInt := func(name string, dst **int, v int) {
		if fs.Changed(name) {
			*dst = &v
		}
	}

	setStr("title", &p.Title, f.title)
	setStr("description", &p.Description, f.description)
	setInt("prep", &p.PrepTime, f.prep)
	setInt("cook", &p.CookTime, f.cook)
	setInt("servings", &p.Servings, f.servings)
	setStr("difficulty", &p.Difficulty, f.difficulty)
	setStr("cuisine", &p.CuisineType, f.cuisine)
	setStr("notes", &p.Notes, f.notes)
	setStr("image", &p.ImageRef, f.image)
	setStr("source-url", &p.SourceURL, f.sourceURL)
	setStr("source", &p.Source, f.source)

	if fs.Changed("ingredient") {
		ings, err := parseIngredients(f.ingredients)
		if err != nil {
			return nil, err
		}

		p.Ingredients = &ings
	}

	if fs.Changed("step") {
		steps := stepDrafts(f.steps)
		p.Steps = &steps
	}

	if fs.Changed("tag") {
		tags := f.tags
		p.Tags = &tags
	}

	return p, nil
}

// parseIngredients accepts "amount|unit|name" or a space-separated form
// whose leading number, if any, is the amount. With an amount and at least
// two more words, the first word is the unit.
func parseIngredients(args []string) ([]recipe.IngredientDraft, error) {
	out := make([]recipe.IngredientDraft, 0, len(args))

	for _, arg := range args {
		ing, err := parseIngredient(arg)
		if err != nil {
			return nil, err
		}

		out = append(out, ing)
	}

	return out, nil
}

func parseIngredient(arg string) (recipe.IngredientDraft, error) {
	if strings.Contains(arg, "|") {
		parts := strings.Split(arg, "|")
		if len(parts) != 3 {
			return recipe.IngredientDraft{}, fmt.Errorf("ingredient %q: want amount|unit|name", arg)
		}

		ing := recipe.IngredientDraft{Unit: strings.TrimSpace(parts[1]), Name: strings.TrimSpace(parts[2])}

		if a := strings.TrimSpace(parts[0]); a != "" {
			amount, err := strconv.ParseFloat(a, 64)
			if err != nil {
				return recipe.IngredientDraft{}, fmt.Errorf("ingredient %q: invalid amount %q", arg, a)
			}

			ing.Amount = amount
		}

		return ing, nil
	}

	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return recipe.IngredientDraft{}, fmt.Errorf("ingredient %q: name is required", arg)
	}

	amount, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || len(fields) == 1 {
		return recipe.IngredientDraft{Name: strings.Join(fields, " ")}, nil
	}

	if len(fields) == 2 {
		return recipe.IngredientDraft{Amount: amount, Name: fields[1]}, nil
	}

	return recipe.IngredientDraft{Amount: amount, Unit: fields[1], Name: strings.Join(fields[2:], " ")}, nil
}

func stepDrafts(descriptions []string) []recipe.StepDraft {
	steps := make([]recipe.StepDraft, 0, len(descriptions))
	for _, d := range descriptions {
		steps = append(steps, recipe.StepDraft{Description: d})
	}

	return steps
}

// loadDraftFile reads a YAML recipe draft.
func loadDraftFile(path string) (*recipe.Draft, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading draft: %w", err)
	}
	defer f.Close()

	var d recipe.Draft

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("parsing draft %s: %w", path, err)
	}

	return &d, nil
}

func newRecipeAddCmd() *cobra.Command {
	var (
		f    recipeFlags
		file string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a recipe",
		Long: `Add a recipe from flags or from a YAML draft file:

  title: Pancakes
  servings: 4
  ingredients:
    - {name: flour, amount: 200, unit: g}
    - {name: milk, amount: 300, unit: ml}
  steps:
    - description: Whisk everything together.
  tags: [breakfast]`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				d   *recipe.Draft
				err error
			)

			if file != "" {
				d, err = loadDraftFile(file)
			} else {
				d, err = f.draft()
			}

			if err != nil {
				return err
			}

			return addRecipe(cmd, d)
		},
	}

	f.bind(cmd.Flags())
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML draft file")
	cmd.MarkFlagsMutuallyExclusive("file", "title")

	return cmd
}

// addRecipe validates d, copies a local image into the media directory and
// saves the recipe locally.
func addRecipe(cmd *cobra.Command, d *recipe.Draft) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	if err := d.Validate(); err != nil {
		return err
	}

	st, owner, err := ownerStore(ctx, cc)
	if err != nil {
		return err
	}
	defer st.Close()

	ref, err := importMedia(cc, d.ImageRef, time.Now())
	if err != nil {
		return err
	}

	d.ImageRef = ref

	r, err := st.CreateRecipe(ctx, owner, d)
	if err != nil {
		return err
	}

	cc.Logger.Info("recipe created", "id", r.ID.Value, "title", r.Title)

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, newRecipeView(r))
	}

	fmt.Fprintln(cc.Stdout, r.ID.Value)
	cc.Statusf("Saved %q locally; it will be pushed on the next sync.\n", r.Title)

	return nil
}

func newRecipeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			st, owner, err := ownerStore(ctx, cc)
			if err != nil {
				return err
			}
			defer st.Close()

			r, err := ownedRecipe(ctx, st, owner, args[0])
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return printJSON(cc.Stdout, newRecipeView(r))
			}

			printRecipe(cc, r)

			return nil
		},
	}
}

func newRecipeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List recipes, most recently updated first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			st, owner, err := ownerStore(ctx, cc)
			if err != nil {
				return err
			}
			defer st.Close()

			rs, err := st.ListRecipes(ctx, owner)
			if err != nil {
				return err
			}

			return printRecipeList(cc, rs)
		},
	}
}

func newRecipeSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search QUERY",
		Short: "Find recipes whose title or description contains QUERY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			st, owner, err := ownerStore(ctx, cc)
			if err != nil {
				return err
			}
			defer st.Close()

			rs, err := st.SearchRecipes(ctx, args[0], owner)
			if err != nil {
				return err
			}

			return printRecipeList(cc, rs)
		},
	}
}

func newRecipeEditCmd() *cobra.Command {
	var (
		f                 recipeFlags
		removeIngredients []int
		removeSteps       []int
	)

	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Change a recipe",
		Long: `Change the fields given as flags. --ingredient, --step and --tag replace
the whole list when present. --remove-ingredient and --remove-step drop single
entries by their position in "recipe show", counting from 1.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			p, err := f.patch(cmd.Flags())
			if err != nil {
				return err
			}

			if p.IsEmpty() && len(removeIngredients) == 0 && len(removeSteps) == 0 {
				return fmt.Errorf("nothing to change: pass at least one field flag")
			}

			if (p.Ingredients != nil && len(removeIngredients) > 0) || (p.Steps != nil && len(removeSteps) > 0) {
				return fmt.Errorf("--remove-ingredient/--remove-step cannot be combined with replacing the same list")
			}

			st, owner, err := ownerStore(ctx, cc)
			if err != nil {
				return err
			}
			defer st.Close()

			r, err := ownedRecipe(ctx, st, owner, args[0])
			if err != nil {
				return err
			}

			ingIDs, err := childIDsAt(r.Ingredients, removeIngredients, "ingredient", func(i *recipe.Ingredient) string { return i.ID })
			if err != nil {
				return err
			}

			stepIDs, err := childIDsAt(r.Steps, removeSteps, "step", func(s *recipe.Step) string { return s.ID })
			if err != nil {
				return err
			}

			for _, id := range ingIDs {
				if err := st.RemoveIngredient(ctx, r.ID.Value, id); err != nil {
					return err
				}
			}

			for _, id := range stepIDs {
				if err := st.RemoveStep(ctx, r.ID.Value, id); err != nil {
					return err
				}
			}

			if p.ImageRef != nil {
				ref, err := importMedia(cc, *p.ImageRef, time.Now())
				if err != nil {
					return err
				}

				p.ImageRef = &ref
			}

			if !p.IsEmpty() {
				if r, err = st.UpdateRecipe(ctx, r.ID.Value, p); err != nil {
					return err
				}
			} else if r, err = st.GetRecipe(ctx, r.ID.Value); err != nil {
				return err
			}

			if cc.Flags.JSON {
				return printJSON(cc.Stdout, newRecipeView(r))
			}

			cc.Statusf("Updated %q.\n", r.Title)

			return nil
		},
	}

	f.bind(cmd.Flags())
	cmd.Flags().IntSliceVar(&removeIngredients, "remove-ingredient", nil, "remove the ingredient at this position (repeatable)")
	cmd.Flags().IntSliceVar(&removeSteps, "remove-step", nil, "remove the step at this position (repeatable)")

	return cmd
}

// childIDsAt maps 1-based positions to child ids. Ids are resolved up front
// so each removal can re-pack the list without shifting later positions.
func childIDsAt[T any](items []T, positions []int, noun string, id func(*T) string) ([]string, error) {
	ids := make([]string, 0, len(positions))
	seen := make(map[int]bool, len(positions))

	for _, pos := range positions {
		if pos < 1 || pos > len(items) {
			return nil, fmt.Errorf("no %s at position %d (recipe has %d)", noun, pos, len(items))
		}

		if seen[pos] {
			continue
		}

		seen[pos] = true
		ids = append(ids, id(&items[pos-1]))
	}

	return ids, nil
}

func newRecipeTagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List every tag in the local database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			st, err := openStore(ctx, cc)
			if err != nil {
				return err
			}
			defer st.Close()

			tags, err := st.ListTags(ctx)
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				views := make([]tagView, 0, len(tags))
				for _, t := range tags {
					views = append(views, tagView{ID: t.ID, Name: t.Name, Color: t.Color})
				}

				return printJSON(cc.Stdout, views)
			}

			if len(tags) == 0 {
				cc.Statusf("No tags.\n")
				return nil
			}

			rows := make([][]string, 0, len(tags))
			for _, t := range tags {
				rows = append(rows, []string{t.Name, t.Color})
			}

			printTable(cc.Stdout, []string{"NAME", "COLOR"}, rows)

			return nil
		},
	}
}

func newRecipeRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"delete"},
		Short:   "Delete a recipe",
		Long:    "Delete a recipe locally. A recipe that was already synced is deleted on the server by the next sync pass.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			st, owner, err := ownerStore(ctx, cc)
			if err != nil {
				return err
			}
			defer st.Close()

			r, err := ownedRecipe(ctx, st, owner, args[0])
			if err != nil {
				return err
			}

			if err := st.DeleteRecipe(ctx, r.ID.Value); err != nil {
				return err
			}

			cc.Statusf("Deleted %q.\n", r.Title)

			return nil
		},
	}
}
