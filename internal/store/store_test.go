package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/food-cart/internal/domain"
	"github.com/fjod/go_cart/food-cart/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockStorage struct {
	m     sync.Mutex
	data  map[string][]byte
	saves int
	err   error
}

func newMockStorage() *mockStorage {
	return &mockStorage{data: map[string][]byte{}}
}

func (m *mockStorage) Load(_ context.Context, name string) ([]byte, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.data[name]
	if !ok {
		return nil, storage.ErrRecordNotFound
	}
	return data, nil
}

func (m *mockStorage) Save(_ context.Context, name string, data []byte) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves++
	m.data[name] = data
	return nil
}

func (m *mockStorage) Close() error { return nil }

func (m *mockStorage) saved(t *testing.T) domain.CartState {
	m.m.Lock()
	defer m.m.Unlock()
	var state domain.CartState
	require.NoError(t, json.Unmarshal(m.data[storage.RecordCart], &state))
	return state
}

func setupTestStore(t *testing.T, opts ...Option) (*Store, *mockStorage) {
	st := newMockStorage()
	s, err := Open(context.Background(), st, zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, st
}

func food(id string, price int64) domain.Food {
	return domain.Food{ID: id, Name: "Food " + id, Price: decimal.NewFromInt(price)}
}

func option(id string, price int64) domain.FoodOption {
	return domain.FoodOption{ID: id, OptionName: "opt " + id, Price: decimal.NewFromInt(price)}
}

func TestAddItem_NewLine(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	s, _ := setupTestStore(t, WithClock(func() time.Time { return now }))

	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1"}, 2)

	state := s.State()
	require.Len(t, state.Items, 1)
	line := state.Items[0]
	assert.Equal(t, "f1", line.Item.ID)
	assert.Equal(t, 2, line.Quantity)
	assert.Equal(t, "r1", line.RestaurantID)
	assert.Equal(t, "", line.SpecialRequest)
	assert.NotNil(t, line.SelectedOptions)
	assert.Equal(t, now.UnixMilli(), line.Timestamp)
	require.NotNil(t, state.RestaurantID)
	assert.Equal(t, "r1", *state.RestaurantID)
}

func TestAddItem_MergesSameIdentity(t *testing.T) {
	s, _ := setupTestStore(t)
	sel := domain.Selection{
		RestaurantID:    "r1",
		SpecialRequest:  "no onions",
		SelectedOptions: []domain.FoodOption{option("o1", 10)},
	}

	for _, qty := range []int{3, 1, 4} {
		s.AddItem(food("f1", 50), sel, qty)
	}

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 8, items[0].Quantity)
}

func TestAddItem_MergeKeepsOriginalTimestamp(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	s, _ := setupTestStore(t, WithClock(func() time.Time { return now }))

	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1"}, 1)
	now = now.Add(time.Hour)
	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1"}, 1)

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, now.Add(-time.Hour).UnixMilli(), items[0].Timestamp)
}

func TestAddItem_OptionOrderDoesNotSplitLines(t *testing.T) {
	s, _ := setupTestStore(t)

	s.AddItem(food("f1", 50), domain.Selection{
		RestaurantID:    "r1",
		SelectedOptions: []domain.FoodOption{option("o1", 10), option("o2", 5)},
	}, 1)
	s.AddItem(food("f1", 50), domain.Selection{
		RestaurantID:    "r1",
		SelectedOptions: []domain.FoodOption{option("o2", 5), option("o1", 10)},
	}, 1)

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
}

func TestAddItem_DistinctConfigurationsAreSeparateLines(t *testing.T) {
	s, _ := setupTestStore(t)

	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1"}, 1)
	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1", SpecialRequest: "spicy"}, 1)
	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r2"}, 1)
	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1", SelectedOptions: []domain.FoodOption{option("o1", 10)}}, 1)

	items := s.Items()
	require.Len(t, items, 4)
	assert.Equal(t, "", items[0].SpecialRequest)
	assert.Equal(t, "spicy", items[1].SpecialRequest)
	assert.Equal(t, "r2", items[2].RestaurantID)
}

func TestAddItem_NonPositiveQuantityCountsAsOne(t *testing.T) {
	s, _ := setupTestStore(t)

	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1"}, 0)

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Quantity)
}

func TestAddItem_CallerSlicesAreNotAliased(t *testing.T) {
	s, _ := setupTestStore(t)
	opts := []domain.FoodOption{option("o1", 10)}

	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1", SelectedOptions: opts}, 1)
	opts[0].ID = "mutated"

	assert.Equal(t, "o1", s.Items()[0].SelectedOptions[0].ID)
}

func TestRemoveItem_LastLineClearsRestaurant(t *testing.T) {
	s, _ := setupTestStore(t)
	sel := domain.Selection{RestaurantID: "r1", SelectedOptions: []domain.FoodOption{option("o1", 10)}}

	s.AddItem(food("f1", 50), sel, 1)
	s.RemoveItem("f1", sel)

	state := s.State()
	assert.Empty(t, state.Items)
	assert.Nil(t, state.RestaurantID)
}

func TestRemoveItem_RequiresExactIdentity(t *testing.T) {
	s, _ := setupTestStore(t)

	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1", SpecialRequest: "spicy"}, 1)
	s.RemoveItem("f1", domain.Selection{RestaurantID: "r1"})
	s.RemoveItem("missing", domain.Selection{RestaurantID: "r1", SpecialRequest: "spicy"})

	assert.Len(t, s.Items(), 1)
}

func TestUpdateQuantity(t *testing.T) {
	s, _ := setupTestStore(t)
	sel := domain.Selection{RestaurantID: "r1"}
	s.AddItem(food("f1", 50), sel, 1)

	s.UpdateQuantity("f1", sel, 7)

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 7, items[0].Quantity)
}

func TestUpdateQuantity_NonPositiveRemovesLine(t *testing.T) {
	for _, qty := range []int{0, -1, -100} {
		s, _ := setupTestStore(t)
		sel := domain.Selection{RestaurantID: "r1"}
		s.AddItem(food("f1", 50), sel, 2)
		s.AddItem(food("f2", 20), sel, 1)

		s.UpdateQuantity("f1", sel, qty)

		items := s.Items()
		require.Len(t, items, 1, "quantity %d", qty)
		assert.Equal(t, "f2", items[0].Item.ID)
		require.NotNil(t, s.State().RestaurantID)

		s.UpdateQuantity("f2", sel, qty)
		assert.Empty(t, s.Items())
		assert.Nil(t, s.State().RestaurantID)
	}
}

func TestUpdateQuantity_AbsentLineIsNoop(t *testing.T) {
	s, st := setupTestStore(t)

	s.UpdateQuantity("f1", domain.Selection{RestaurantID: "r1"}, 3)
	require.NoError(t, s.Close())

	assert.Empty(t, s.Items())
	assert.Zero(t, st.saves)
}

func TestClearCart_ByRestaurant(t *testing.T) {
	s, _ := setupTestStore(t)
	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1"}, 1)
	s.AddItem(food("f2", 20), domain.Selection{RestaurantID: "r2"}, 1)

	s.ClearCart("r1")

	state := s.State()
	require.Len(t, state.Items, 1)
	assert.Equal(t, "r2", state.Items[0].RestaurantID)
	require.NotNil(t, state.RestaurantID)
	assert.Equal(t, "r2", *state.RestaurantID)
}

func TestClearCart_CursorRestaurantClearedKeepsCursor(t *testing.T) {
	s, _ := setupTestStore(t)
	s.AddItem(food("f2", 20), domain.Selection{RestaurantID: "r2"}, 1)
	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1"}, 1)

	s.ClearCart("r1")

	state := s.State()
	require.Len(t, state.Items, 1)
	require.NotNil(t, state.RestaurantID)
	assert.Equal(t, "r1", *state.RestaurantID)
}

func TestRemoveItem_CursorRestaurantEmptiedKeepsCursor(t *testing.T) {
	s, _ := setupTestStore(t)
	s.AddItem(food("f2", 20), domain.Selection{RestaurantID: "r2"}, 1)
	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1"}, 1)

	s.RemoveItem("f1", domain.Selection{RestaurantID: "r1"})

	require.NotNil(t, s.State().RestaurantID)
	assert.Equal(t, "r1", *s.State().RestaurantID)

	s.UpdateQuantity("f2", domain.Selection{RestaurantID: "r2"}, 0)
	assert.Nil(t, s.State().RestaurantID)
}

func TestUpdateQuantity_CursorRestaurantEmptiedKeepsCursor(t *testing.T) {
	s, _ := setupTestStore(t)
	s.AddItem(food("f2", 20), domain.Selection{RestaurantID: "r2"}, 1)
	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1"}, 1)

	s.UpdateQuantity("f1", domain.Selection{RestaurantID: "r1"}, 0)

	require.Len(t, s.Items(), 1)
	require.NotNil(t, s.State().RestaurantID)
	assert.Equal(t, "r1", *s.State().RestaurantID)
}

func TestClearCart_ByRestaurantPreservesCursor(t *testing.T) {
	s, _ := setupTestStore(t)
	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1"}, 1)
	s.AddItem(food("f2", 20), domain.Selection{RestaurantID: "r2"}, 1)
	s.AddItem(food("f3", 20), domain.Selection{RestaurantID: "r3"}, 1)

	s.ClearCart("r1")

	require.NotNil(t, s.State().RestaurantID)
	assert.Equal(t, "r3", *s.State().RestaurantID)
}

func TestClearCart_All(t *testing.T) {
	s, _ := setupTestStore(t)
	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1"}, 1)
	s.AddItem(food("f2", 20), domain.Selection{RestaurantID: "r2"}, 1)

	s.ClearCart("")

	state := s.State()
	assert.Empty(t, state.Items)
	assert.Nil(t, state.RestaurantID)
}

func TestRestaurantQueries(t *testing.T) {
	s, _ := setupTestStore(t)
	s.AddItem(food("f1", 50), domain.Selection{
		RestaurantID:    "r1",
		SelectedOptions: []domain.FoodOption{option("o1", 10), option("o2", 5)},
	}, 3)
	s.AddItem(food("f2", 20), domain.Selection{RestaurantID: "r2"}, 2)
	s.AddItem(food("f3", 7), domain.Selection{RestaurantID: "r1"}, 1)

	assert.ElementsMatch(t, []string{"r1", "r2"}, s.GetRestaurantIDsWithItems())
	assert.Len(t, s.GetItemsByRestaurant("r1"), 2)
	assert.Empty(t, s.GetItemsByRestaurant("missing"))
	assert.Equal(t, 4, s.GetTotalItemsByRestaurant("r1"))
	assert.Equal(t, 2, s.GetTotalItemsByRestaurant("r2"))

	// (50+10+5)*3 + 7*1
	assert.True(t, decimal.NewFromInt(202).Equal(s.GetTotalPriceByRestaurant("r1")))
	assert.True(t, decimal.NewFromInt(40).Equal(s.GetTotalPriceByRestaurant("r2")))
	assert.True(t, decimal.Zero.Equal(s.GetTotalPriceByRestaurant("missing")))
}

func TestGetTotalPriceByRestaurant_OptionsScaleWithQuantity(t *testing.T) {
	s, _ := setupTestStore(t)
	s.AddItem(food("f1", 50), domain.Selection{
		RestaurantID:    "r1",
		SelectedOptions: []domain.FoodOption{option("o1", 10), option("o2", 5)},
	}, 3)

	total := s.GetTotalPriceByRestaurant("r1")
	assert.True(t, decimal.NewFromInt(195).Equal(total), "got %s", total)
}

func TestClearExpiredCarts(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	rid := "r1"
	seed := domain.CartState{
		Items: []domain.CartLineItem{
			{Item: food("old", 1), Quantity: 1, RestaurantID: "r1", Timestamp: now.Add(-25 * time.Hour).UnixMilli()},
			{Item: food("fresh", 1), Quantity: 1, RestaurantID: "r1", Timestamp: now.Add(-23 * time.Hour).UnixMilli()},
			{Item: food("untimed", 1), Quantity: 1, RestaurantID: "r1"},
		},
		RestaurantID: &rid,
	}
	st := newMockStorage()
	data, err := json.Marshal(seed)
	require.NoError(t, err)
	st.data[storage.RecordCart] = data

	s, err := Open(context.Background(), st, zap.NewNop(), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	defer s.Close()

	removed := s.ClearExpiredCarts()

	assert.Equal(t, 1, removed)
	var ids []string
	for _, line := range s.Items() {
		ids = append(ids, line.Item.ID)
	}
	assert.Equal(t, []string{"fresh", "untimed"}, ids)
}

func TestClearExpiredCarts_EmptiesCursor(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	s, _ := setupTestStore(t, WithClock(func() time.Time { return now }))
	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1"}, 1)

	now = now.Add(25 * time.Hour)
	assert.Equal(t, 1, s.ClearExpiredCarts())
	assert.Nil(t, s.State().RestaurantID)
}

func TestScenario_AddTwiceThenRemove(t *testing.T) {
	s, _ := setupTestStore(t)
	a := food("f1", 50)

	s.AddItem(a, domain.Selection{RestaurantID: "r1"}, 1)
	s.AddItem(a, domain.Selection{RestaurantID: "r1"}, 2)

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)

	s.RemoveItem("f1", domain.Selection{RestaurantID: "r1"})

	state := s.State()
	assert.Empty(t, state.Items)
	assert.Nil(t, state.RestaurantID)
}

func TestState_ReturnsCopy(t *testing.T) {
	s, _ := setupTestStore(t)
	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1"}, 1)

	state := s.State()
	state.Items[0].Quantity = 99

	assert.Equal(t, 1, s.Items()[0].Quantity)
}

func TestConcurrentAdds(t *testing.T) {
	s, _ := setupTestStore(t)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1"}, 1)
		}()
	}
	wg.Wait()

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 50, items[0].Quantity)
}

func TestClose_PersistsLatestState(t *testing.T) {
	s, st := setupTestStore(t)
	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1"}, 1)
	s.AddItem(food("f2", 20), domain.Selection{RestaurantID: "r1"}, 2)

	require.NoError(t, s.Close())

	saved := st.saved(t)
	require.Len(t, saved.Items, 2)
	assert.Equal(t, 2, saved.Items[1].Quantity)
	require.NotNil(t, saved.RestaurantID)
	assert.Equal(t, "r1", *saved.RestaurantID)
}

func TestOpen_RestoresSavedState(t *testing.T) {
	st := newMockStorage()
	s, err := Open(context.Background(), st, zap.NewNop())
	require.NoError(t, err)
	img := "burger.png"
	f := food("f1", 50)
	f.Image = &img
	s.AddItem(f, domain.Selection{RestaurantID: "r1", SpecialRequest: "well done", SelectedOptions: []domain.FoodOption{option("o1", 10)}}, 2)
	require.NoError(t, s.Close())

	restored, err := Open(context.Background(), st, zap.NewNop())
	require.NoError(t, err)
	defer restored.Close()

	want, err := json.Marshal(s.State())
	require.NoError(t, err)
	got, err := json.Marshal(restored.State())
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
	assert.Equal(t, "burger.png", *restored.Items()[0].Item.Image)
}

func TestOpen_CorruptRecord(t *testing.T) {
	st := newMockStorage()
	st.data[storage.RecordCart] = []byte(`{"items": [`)

	_, err := Open(context.Background(), st, zap.NewNop())
	require.ErrorContains(t, err, "unmarshal cart failed")
}

func TestOpen_StorageError(t *testing.T) {
	st := newMockStorage()
	st.err = errors.New("disk gone")

	_, err := Open(context.Background(), st, zap.NewNop())
	require.ErrorContains(t, err, "disk gone")
}

func TestOpen_DropsInvalidLines(t *testing.T) {
	st := newMockStorage()
	st.data[storage.RecordCart] = []byte(`{"items":[{"item":{"id":"f1","name":"x","price":"1"},"quantity":0,"restaurantId":"r1"}],"restaurantId":"r1"}`)

	s, err := Open(context.Background(), st, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	state := s.State()
	assert.Empty(t, state.Items)
	assert.Nil(t, state.RestaurantID)
}

func TestPersistFailure_IsLoggedNotRaised(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	st := newMockStorage()
	s, err := Open(context.Background(), st, zap.New(core))
	require.NoError(t, err)

	st.m.Lock()
	st.err = errors.New("disk full")
	st.m.Unlock()

	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1"}, 1)
	require.NoError(t, s.Close())

	assert.Len(t, s.Items(), 1)
	assert.GreaterOrEqual(t, logs.FilterMessage("cart persist failed").Len(), 1)
}

func TestStore_WithSQLiteStorage(t *testing.T) {
	st, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer st.Close()

	s, err := Open(context.Background(), st, zap.NewNop())
	require.NoError(t, err)
	s.AddItem(food("f1", 50), domain.Selection{RestaurantID: "r1"}, 3)
	require.NoError(t, s.Close())

	restored, err := Open(context.Background(), st, zap.NewNop())
	require.NoError(t, err)
	defer restored.Close()

	items := restored.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
}
