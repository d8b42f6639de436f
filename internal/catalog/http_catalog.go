package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/fjod/go_cart/food-cart/internal/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type foodDTO struct {
	Name    string              `json:"name"`
	Price   decimal.Decimal     `json:"price"`
	Image   *string             `json:"image"`
	Options []domain.FoodOption `json:"options"`
}

// HTTPCatalog reads foods from GET /foods/<id>/ and remembers them for the
// lifetime of the process.
type HTTPCatalog struct {
	baseURL string
	client  *http.Client

	mu    sync.RWMutex
	foods map[string]domain.Food
}

func NewHTTPCatalog(baseURL string, client *http.Client) *HTTPCatalog {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &HTTPCatalog{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		foods:   make(map[string]domain.Food),
	}
}

func (c *HTTPCatalog) LookupFood(ctx context.Context, id string) (domain.Food, error) {
	c.mu.RLock()
	food, ok := c.foods[id]
	c.mu.RUnlock()
	if ok {
		return food.Clone(), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/foods/"+url.PathEscape(id)+"/", nil)
	if err != nil {
		return domain.Food{}, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Food{}, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.Food{}, ErrFoodNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Food{}, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var dto foodDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return domain.Food{}, fmt.Errorf("decode food failed: %w", err)
	}
	// cached under the requested id; a missing or reformatted id in the body is ignored
	food = domain.Food{
		ID:      id,
		Name:    dto.Name,
		Price:   dto.Price,
		Image:   dto.Image,
		Options: dto.Options,
	}

	c.mu.Lock()
	c.foods[id] = food
	c.mu.Unlock()
	return food.Clone(), nil
}
