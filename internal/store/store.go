package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fjod/go_cart/food-cart/internal/domain"
	"github.com/fjod/go_cart/food-cart/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultSaveTimeout = 5 * time.Second

// Store is the authoritative local cart. Every mutation swaps in a new state
// under the write lock and schedules a best-effort durable write; a single
// background writer saves the latest state, so bursts of mutations coalesce.
type Store struct {
	mu    sync.RWMutex
	state domain.CartState

	storage     storage.Storage
	log         *zap.Logger
	now         func() time.Time
	saveTimeout time.Duration

	dirty chan struct{}
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithSaveTimeout(d time.Duration) Option {
	return func(s *Store) { s.saveTimeout = d }
}

// Open restores the cart from the cart-storage record and starts the writer.
// A missing record yields an empty cart; an unreadable one is an error.
func Open(ctx context.Context, st storage.Storage, log *zap.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		storage:     st,
		log:         log,
		now:         time.Now,
		saveTimeout: defaultSaveTimeout,
		dirty:       make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	state, err := load(ctx, st)
	if err != nil {
		return nil, err
	}
	s.state = state
	log.Info("cart restored", zap.Int("lines", len(state.Items)))

	s.wg.Add(1)
	go s.persistLoop()

	return s, nil
}

func load(ctx context.Context, st storage.Storage) (domain.CartState, error) {
	data, err := st.Load(ctx, storage.RecordCart)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return domain.CartState{Items: []domain.CartLineItem{}}, nil
	}
	if err != nil {
		return domain.CartState{}, fmt.Errorf("failed to load cart: %w", err)
	}

	var state domain.CartState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.CartState{}, fmt.Errorf("unmarshal cart failed: %w", err)
	}

	// a record written by an older build may hold lines that break the invariants
	items := slices.DeleteFunc(state.Items, func(l domain.CartLineItem) bool { return l.Quantity < 1 })
	if items == nil {
		items = []domain.CartLineItem{}
	}
	return domain.CartState{Items: items, RestaurantID: reconcileCursor(items, state.RestaurantID)}, nil
}

// AddItem merges the food into the line with the same identity, or appends a
// new line stamped with the current time. Quantities below one count as one.
func (s *Store) AddItem(food domain.Food, sel domain.Selection, quantity int) {
	if quantity < 1 {
		quantity = 1
	}
	key := domain.LineKey(food.ID, sel)

	s.mu.Lock()
	defer s.mu.Unlock()

	cursor := s.state.RestaurantID
	if sel.RestaurantID != "" {
		id := sel.RestaurantID
		cursor = &id
	}

	items := slices.Clone(s.state.Items)
	for i := range items {
		if items[i].Key() == key {
			items[i].Quantity += quantity
			s.commit(items, cursor)
			return
		}
	}

	line := domain.CartLineItem{
		Item:            food,
		Quantity:        quantity,
		RestaurantID:    sel.RestaurantID,
		SpecialRequest:  sel.SpecialRequest,
		SelectedOptions: slices.Clone(sel.SelectedOptions),
		Timestamp:       s.now().UnixMilli(),
	}
	line.Item.Options = slices.Clone(food.Options)
	if food.Image != nil {
		img := *food.Image
		line.Item.Image = &img
	}
	if line.SelectedOptions == nil {
		line.SelectedOptions = []domain.FoodOption{}
	}
	s.commit(append(items, line), cursor)
}

// RemoveItem deletes the line with the given identity. Absent lines are a no-op.
func (s *Store) RemoveItem(foodID string, sel domain.Selection) {
	key := domain.LineKey(foodID, sel)

	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.state.Items, func(l domain.CartLineItem) bool { return l.Key() == key })
	if i < 0 {
		return
	}
	items := slices.Delete(slices.Clone(s.state.Items), i, i+1)
	s.commit(items, s.state.RestaurantID)
}

// UpdateQuantity sets the quantity of the matching line; a quantity of zero
// or less drops the line.
func (s *Store) UpdateQuantity(foodID string, sel domain.Selection, quantity int) {
	key := domain.LineKey(foodID, sel)

	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.state.Items, func(l domain.CartLineItem) bool { return l.Key() == key })
	if i < 0 {
		return
	}
	items := slices.Clone(s.state.Items)
	items[i].Quantity = quantity
	items = slices.DeleteFunc(items, func(l domain.CartLineItem) bool { return l.Quantity <= 0 })
	s.commit(items, s.state.RestaurantID)
}

// ClearCart removes the lines of one restaurant, or every line when
// restaurantID is empty.
func (s *Store) ClearCart(restaurantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if restaurantID == "" {
		s.commit([]domain.CartLineItem{}, nil)
		return
	}
	items := slices.DeleteFunc(slices.Clone(s.state.Items), func(l domain.CartLineItem) bool {
		return l.RestaurantID == restaurantID
	})
	s.commit(items, s.state.RestaurantID)
}

// ClearExpiredCarts drops lines older than domain.ExpiryWindow and reports how
// many were removed. Lines without a timestamp never expire.
func (s *Store) ClearExpiredCarts() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	items := slices.DeleteFunc(slices.Clone(s.state.Items), func(l domain.CartLineItem) bool {
		return l.Expired(now)
	})
	removed := len(s.state.Items) - len(items)
	if removed > 0 {
		s.commit(items, s.state.RestaurantID)
	}
	return removed
}

// State returns a deep copy of the current cart.
func (s *Store) State() domain.CartState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

func (s *Store) Items() []domain.CartLineItem {
	return s.State().Items
}

func (s *Store) GetItemsByRestaurant(restaurantID string) []domain.CartLineItem {
	out := []domain.CartLineItem{}
	for _, line := range s.Items() {
		if line.RestaurantID == restaurantID {
			out = append(out, line)
		}
	}
	return out
}

// GetRestaurantIDsWithItems lists distinct restaurants in first-added order.
func (s *Store) GetRestaurantIDsWithItems() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := []string{}
	for _, line := range s.state.Items {
		if line.RestaurantID != "" && !slices.Contains(ids, line.RestaurantID) {
			ids = append(ids, line.RestaurantID)
		}
	}
	return ids
}

func (s *Store) GetTotalItemsByRestaurant(restaurantID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, line := range s.state.Items {
		if line.RestaurantID == restaurantID {
			total += line.Quantity
		}
	}
	return total
}

// GetTotalPriceByRestaurant sums (price + options) * quantity over the
// restaurant's lines.
func (s *Store) GetTotalPriceByRestaurant(restaurantID string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, line := range s.state.Items {
		if line.RestaurantID == restaurantID {
			total = total.Add(line.Total())
		}
	}
	return total
}

// commit must be called with the write lock held.
func (s *Store) commit(items []domain.CartLineItem, cursor *string) {
	if items == nil {
		items = []domain.CartLineItem{}
	}
	s.state = domain.CartState{Items: items, RestaurantID: reconcileCursor(items, cursor)}
	select {
	case s.dirty <- struct{}{}:
	default: // a write is already pending and will pick up this state
	}
}

// reconcileCursor clears the restaurant cursor once the cart is empty and
// otherwise leaves it where the last AddItem put it, even when that
// restaurant's lines are gone. A non-empty cart with no cursor (a record saved
// without one) falls back to the first line's restaurant.
func reconcileCursor(items []domain.CartLineItem, cursor *string) *string {
	if len(items) == 0 {
		return nil
	}
	if cursor != nil {
		return cursor
	}
	for _, line := range items {
		if line.RestaurantID != "" {
			id := line.RestaurantID
			return &id
		}
	}
	return nil
}
