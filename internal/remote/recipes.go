package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tonimelisma/recipevault/internal/recipe"
)

const recipesPath = "/api/v1/recipes/"

// FetchAll returns the owner's canonical recipes. Recipes owned by someone
// else are dropped with a warning.
func (c *Client) FetchAll(ctx context.Context, ownerID string) ([]recipe.Recipe, error) {
	var resp []recipeResponse
	if err := c.doJSON(ctx, http.MethodGet, recipesPath, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]recipe.Recipe, 0, len(resp))

	for i := range resp {
		r, err := c.canonical(&resp[i])
		if err != nil {
			return nil, err
		}

		if ownerID != "" && r.OwnerID != ownerID {
			c.logger.Warn("dropping recipe owned by another user",
				slog.String("recipe_id", r.ID.Value),
				slog.String("owner", r.OwnerID),
			)

			continue
		}

		out = append(out, *r)
	}

	return out, nil
}

// FetchOne returns a single canonical recipe.
func (c *Client) FetchOne(ctx context.Context, id string) (*recipe.Recipe, error) {
	var resp recipeResponse
	if err := c.doJSON(ctx, http.MethodGet, recipePath(id), nil, &resp); err != nil {
		return nil, err
	}

	return c.canonical(&resp)
}

// Create pushes a recipe the service has never seen. The local identifier is
// not sent; the returned recipe carries the canonical one.
func (c *Client) Create(ctx context.Context, r *recipe.Recipe) (*recipe.Recipe, error) {
	var resp recipeResponse
	if err := c.doJSON(ctx, http.MethodPost, recipesPath, toPayload(r), &resp); err != nil {
		return nil, err
	}

	return c.canonical(&resp)
}

// Update replaces the canonical recipe id with the full local state.
func (c *Client) Update(ctx context.Context, id string, r *recipe.Recipe) (*recipe.Recipe, error) {
	if recipe.HasLocalPrefix(id) {
		return nil, fmt.Errorf("remote: update of local id %s: %w", id, recipe.ErrDataIntegrity)
	}

	var resp recipeResponse
	if err := c.doJSON(ctx, http.MethodPut, recipePath(id), toPayload(r), &resp); err != nil {
		return nil, err
	}

	return c.canonical(&resp)
}

// Delete removes a canonical recipe.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, recipePath(id), nil, nil)
}

// canonical validates the identifier the service returned.
func (c *Client) canonical(resp *recipeResponse) (*recipe.Recipe, error) {
	if err := recipe.ValidateCanonical(resp.ID); err != nil {
		return nil, fmt.Errorf("remote: service returned unusable id: %w: %w", ErrProtocol, err)
	}

	return resp.toRecipe(c.logger), nil
}

func recipePath(id string) string {
	return "/api/v1/recipes/" + url.PathEscape(id)
}
