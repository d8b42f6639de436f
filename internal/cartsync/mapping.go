package cartsync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/go_cart/food-cart/internal/domain"
	"github.com/shopspring/decimal"
)

// ToServerCart projects lines into the /sync/ body. The restaurant is taken
// from the first line; name, price and image are not part of the wire format.
func ToServerCart(customer string, lines []domain.CartLineItem) domain.ServerCart {
	cart := domain.ServerCart{
		Customer: domain.ID(customer),
		Items:    make([]domain.ServerCartLine, 0, len(lines)),
	}
	if len(lines) > 0 {
		cart.Restaurant = domain.ID(lines[0].RestaurantID)
	}
	for _, line := range lines {
		opts := line.SelectedOptions
		if opts == nil {
			opts = []domain.FoodOption{}
		}
		cart.Items = append(cart.Items, domain.ServerCartLine{
			Food:     domain.ID(line.Item.ID),
			Quantity: line.Quantity,
			ExtraData: domain.ExtraData{
				SpecialRequest:  line.SpecialRequest,
				SelectedOptions: opts,
			},
		})
	}
	return cart
}

// PlaceholderName is the name given to lines rebuilt from the server until
// they are re-hydrated from the catalog.
func PlaceholderName(foodID string) string {
	return "Item " + foodID
}

// FromServerCarts rebuilds cart lines from a /addcart/ response. The result is
// not financially accurate: every line has a placeholder name, a zero price
// and Unhydrated set. Use catalog.Rehydrate before showing totals.
func FromServerCarts(data []byte, now time.Time) ([]domain.CartLineItem, error) {
	var carts []domain.ServerCart
	if err := json.Unmarshal(data, &carts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	lines := []domain.CartLineItem{}
	for ci, cart := range carts {
		if cart.Restaurant == "" {
			return nil, fmt.Errorf("%w: cart %d has no restaurant", ErrMalformedPayload, ci)
		}
		ts := now.UnixMilli()
		if t, err := time.Parse(time.RFC3339, cart.UpdatedAt); err == nil {
			ts = t.UnixMilli()
		}
		for li, item := range cart.Items {
			if item.Food == "" {
				return nil, fmt.Errorf("%w: cart %d line %d has no food id", ErrMalformedPayload, ci, li)
			}
			if item.Quantity < 1 {
				return nil, fmt.Errorf("%w: cart %d line %d has quantity %d", ErrMalformedPayload, ci, li, item.Quantity)
			}
			opts := item.ExtraData.SelectedOptions
			if opts == nil {
				opts = []domain.FoodOption{}
			}
			lines = append(lines, domain.CartLineItem{
				Item: domain.Food{
					ID:    string(item.Food),
					Name:  PlaceholderName(string(item.Food)),
					Price: decimal.Zero,
				},
				Quantity:        item.Quantity,
				RestaurantID:    string(cart.Restaurant),
				SpecialRequest:  item.ExtraData.SpecialRequest,
				SelectedOptions: opts,
				Timestamp:       ts,
				Unhydrated:      true,
			})
		}
	}
	return lines, nil
}
