// Package catalog re-hydrates cart lines rebuilt from the server wire format,
// which only carries food ids, with names, prices and images from the menu.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/fjod/go_cart/food-cart/internal/domain"
)

var ErrFoodNotFound = errors.New("food not found in catalog")

type Catalog interface {
	LookupFood(ctx context.Context, id string) (domain.Food, error)
}

// Rehydrate returns a copy of lines where every Unhydrated line has its item
// snapshot replaced by the catalog entry. The line keeps the food id it was
// fetched under, whatever id the catalog reports, so its identity key does not
// change. Hydrated lines are left untouched.
// Any lookup failure aborts the whole operation so that no half-priced cart
// escapes.
func Rehydrate(ctx context.Context, c Catalog, lines []domain.CartLineItem) ([]domain.CartLineItem, error) {
	out := make([]domain.CartLineItem, len(lines))
	for i, line := range lines {
		line.SelectedOptions = slices.Clone(line.SelectedOptions)
		if line.Unhydrated {
			food, err := c.LookupFood(ctx, line.Item.ID)
			if err != nil {
				return nil, fmt.Errorf("rehydrate food %q: %w", line.Item.ID, err)
			}
			food = food.Clone()
			food.ID = line.Item.ID
			line.Item = food
			line.Unhydrated = false
		}
		out[i] = line
	}
	return out, nil
}
