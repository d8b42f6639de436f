package domain

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
)

// LineKey returns the identity of a cart line. Two lines are the same line
// when food id, restaurant, special request and the set of selected options
// match. Options are compared as a set: their order does not matter.
func LineKey(foodID string, sel Selection) string {
	opts := slices.Clone(sel.SelectedOptions)
	slices.SortFunc(opts, func(a, b FoodOption) int {
		return cmp.Or(
			cmp.Compare(a.ID, b.ID),
			cmp.Compare(a.OptionName, b.OptionName),
			a.Price.Cmp(b.Price),
		)
	})

	var b strings.Builder
	b.WriteString(strconv.Quote(foodID))
	b.WriteByte('|')
	b.WriteString(strconv.Quote(sel.RestaurantID))
	b.WriteByte('|')
	b.WriteString(strconv.Quote(sel.SpecialRequest))
	for _, opt := range opts {
		b.WriteByte('|')
		b.WriteString(strconv.Quote(opt.ID))
		b.WriteByte(':')
		b.WriteString(strconv.Quote(opt.OptionName))
		b.WriteByte(':')
		b.WriteString(opt.Price.String())
	}
	return b.String()
}
