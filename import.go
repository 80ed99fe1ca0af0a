package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/recipevault/internal/recipe"
	"github.com/tonimelisma/recipevault/internal/remote"
)

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create a recipe from a web page or a photo",
		Long: `Ask the server to extract a recipe from a web page or from a photo of a
recipe card. The result is saved locally like any other recipe and needs a
sync pass to reach the server. Extraction itself needs the server.`,
	}

	cmd.AddCommand(newImportURLCmd())
	cmd.AddCommand(newImportImageCmd())

	return cmd
}

func newImportURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "url URL",
		Short: "Import a recipe from a web page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			if !recipe.IsRemoteRef(args[0]) {
				return fmt.Errorf("%q is not an http or https URL", args[0])
			}

			sess, err := openSession(cc)
			if err != nil {
				return err
			}

			ex, err := newRemoteClient(cc, sess).ExtractFromURL(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("extracting recipe: %w", err)
			}

			return addRecipe(cmd, ex.Draft)
		},
	}
}

func newImportImageCmd() *cobra.Command {
	var (
		attach bool
		method string
	)

	cmd := &cobra.Command{
		Use:   "image PATH",
		Short: "Import a recipe from a photo (OCR)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			path := args[0]

			ocr, err := remote.ParseOCRMethod(method)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading image: %w", err)
			}

			sess, err := openSession(cc)
			if err != nil {
				return err
			}

			ex, err := newRemoteClient(cc, sess).ExtractFromImage(cmd.Context(), data, path, ocr)
			if err != nil {
				return fmt.Errorf("extracting recipe: %w", err)
			}

			d := ex.Draft
			if strings.TrimSpace(d.Title) == "" {
				// The recognized text is kept so nothing is lost when the
				// service could not structure it.
				d.Title = "Scanned recipe"

				if d.Notes == "" {
					d.Notes = ex.Text
				}
			}

			if attach {
				d.ImageRef = path
			}

			return addRecipe(cmd, d)
		},
	}

	cmd.Flags().BoolVar(&attach, "attach", false, "use the photo as the recipe image")
	cmd.Flags().StringVar(&method, "method", "", "OCR method: vision, hybrid or tesseract (default: server's choice)")

	return cmd
}
