package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ExpiryWindow is how long a cart line lives after it was added.
const ExpiryWindow = 24 * time.Hour

// ID is an identifier the backend may send either as a JSON string or a number.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

type FoodOption struct {
	ID         string          `json:"id"`
	OptionName string          `json:"option_name"`
	Price      decimal.Decimal `json:"price"`
}

// Food is the snapshot of a menu item taken when it is put into the cart.
// Price is not re-fetched afterwards.
type Food struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
	Image   *string         `json:"image,omitempty"`
	Options []FoodOption    `json:"options,omitempty"`
}

// Selection is the configurable part of a cart line identity.
type Selection struct {
	RestaurantID    string       `json:"restaurantId,omitempty"`
	SpecialRequest  string       `json:"specialRequest"`
	SelectedOptions []FoodOption `json:"selectedOptions"`
}

type CartLineItem struct {
	Item            Food         `json:"item"`
	Quantity        int          `json:"quantity"`
	RestaurantID    string       `json:"restaurantId,omitempty"`
	SpecialRequest  string       `json:"specialRequest"`
	SelectedOptions []FoodOption `json:"selectedOptions"`
	// Timestamp is milliseconds since epoch; zero means the line never expires.
	Timestamp int64 `json:"timestamp,omitempty"`
	// Unhydrated lines were rebuilt from the server wire format and carry a
	// placeholder name and a zero price until re-hydrated from the catalog.
	Unhydrated bool `json:"unhydrated,omitempty"`
}

func (l CartLineItem) Selection() Selection {
	return Selection{
		RestaurantID:    l.RestaurantID,
		SpecialRequest:  l.SpecialRequest,
		SelectedOptions: l.SelectedOptions,
	}
}

func (l CartLineItem) Key() string {
	return LineKey(l.Item.ID, l.Selection())
}

// UnitPrice is the food price plus the price of every selected option.
func (l CartLineItem) UnitPrice() decimal.Decimal {
	total := l.Item.Price
	for _, opt := range l.SelectedOptions {
		total = total.Add(opt.Price)
	}
	return total
}

// Total multiplies the unit price (options included) by the line quantity.
func (l CartLineItem) Total() decimal.Decimal {
	return l.UnitPrice().Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l CartLineItem) Expired(now time.Time) bool {
	if l.Timestamp == 0 {
		return false
	}
	return now.Sub(time.UnixMilli(l.Timestamp)) > ExpiryWindow
}

// CartState is the aggregate persisted under the cart-storage record.
// RestaurantID is nil whenever Items is empty.
type CartState struct {
	Items        []CartLineItem `json:"items"`
	RestaurantID *string        `json:"restaurantId"`
}

// Clone returns a deep copy so callers can never alias store-owned slices.
func (s CartState) Clone() CartState {
	out := CartState{Items: make([]CartLineItem, len(s.Items))}
	for i, line := range s.Items {
		out.Items[i] = line.clone()
	}
	if s.RestaurantID != nil {
		id := *s.RestaurantID
		out.RestaurantID = &id
	}
	return out
}

func (l CartLineItem) clone() CartLineItem {
	c := l
	c.SelectedOptions = cloneOptions(l.SelectedOptions)
	c.Item = l.Item.Clone()
	return c
}

// Clone copies the options slice and image so the result shares no memory
// with f.
func (f Food) Clone() Food {
	c := f
	c.Options = cloneOptions(f.Options)
	if f.Image != nil {
		img := *f.Image
		c.Image = &img
	}
	return c
}

func cloneOptions(opts []FoodOption) []FoodOption {
	if opts == nil {
		return nil
	}
	out := make([]FoodOption, len(opts))
	copy(out, opts)
	return out
}
