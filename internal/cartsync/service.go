package cartsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/fjod/go_cart/food-cart/internal/domain"
	"github.com/fjod/go_cart/food-cart/pkg/circuitbreaker"
	"github.com/fjod/go_cart/food-cart/pkg/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const maxResponseBytes = 1 << 20 // 1MB

type Config struct {
	BaseURL string
	Retry   RetryPolicy
	// AttemptTimeout bounds a single HTTP attempt, backoff excluded.
	AttemptTimeout time.Duration
	Breaker        circuitbreaker.Settings
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		Retry:          DefaultRetryPolicy(),
		AttemptTimeout: 10 * time.Second,
		Breaker:        circuitbreaker.DefaultSettings("cart-sync"),
	}
}

// WorstCaseDuration is how long a call can take when every attempt times out:
// all attempt timeouts plus the backoff waits between them.
func (c Config) WorstCaseDuration() time.Duration {
	attempts := max(c.Retry.MaxAttempts, 1)
	total := time.Duration(attempts) * c.AttemptTimeout
	if c.Retry.Backoff != nil {
		for i := 1; i < attempts; i++ {
			total += c.Retry.Backoff(i)
		}
	}
	return total
}

// Service reconciles the local cart with the backend's order-draft endpoints.
type Service struct {
	baseURL        string
	client         *http.Client
	identity       IdentityProvider
	policy         RetryPolicy
	attemptTimeout time.Duration
	breaker        *circuitbreaker.Breaker[[]byte]
	sfg            singleflight.Group
	log            *zap.Logger
	now            func() time.Time
}

// NewService builds the sync client. A nil client gets a traced default one.
func NewService(cfg Config, client *http.Client, identity IdentityProvider, log *zap.Logger) *Service {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Service{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		client:         client,
		identity:       identity,
		policy:         cfg.Retry,
		attemptTimeout: cfg.AttemptTimeout,
		breaker:        circuitbreaker.New[[]byte](cfg.Breaker, log),
		log:            log,
		now:            time.Now,
	}
}

// SyncCartWithServer pushes a snapshot of lines to POST /sync/ and returns the
// server acknowledgement untouched. All lines are sent under the restaurant of
// the first line; callers pass one restaurant's lines at a time.
func (s *Service) SyncCartWithServer(ctx context.Context, lines []domain.CartLineItem) (json.RawMessage, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	if lines[0].RestaurantID == "" {
		return nil, ErrMissingRestaurant
	}
	customer, ok := s.identity.CustomerID(ctx)
	if !ok {
		return nil, ErrMissingCustomer
	}

	body, err := json.Marshal(ToServerCart(customer, lines))
	if err != nil {
		return nil, fmt.Errorf("marshal server cart failed: %w", err)
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("restaurant", lines[0].RestaurantID),
		zap.Int("lines", len(lines)))

	data, err := Retry(ctx, s.policy, func(ctx context.Context, attempt int) ([]byte, error) {
		resp, err := s.send(ctx, http.MethodPost, s.baseURL+"/sync/", body)
		if err != nil {
			log.Warn("cart sync attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return resp, err
	})
	if err != nil {
		log.Error("cart sync failed", zap.Error(err))
		return nil, err
	}

	log.Info("cart synced")
	if len(data) == 0 {
		return nil, nil
	}
	return json.RawMessage(data), nil
}

// FetchCartFromServer pulls the customer's server carts from GET /addcart/.
// The returned lines carry placeholder names and zero prices (Unhydrated);
// they must go through catalog.Rehydrate before display or checkout totals.
// Concurrent fetches for the same customer share one round of requests.
func (s *Service) FetchCartFromServer(ctx context.Context) ([]domain.CartLineItem, error) {
	customer, ok := s.identity.CustomerID(ctx)
	if !ok {
		return nil, ErrMissingCustomer
	}
	log := logger.WithContext(ctx, s.log).With(zap.String("customer", customer))

	v, err, _ := s.sfg.Do(customer, func() (interface{}, error) {
		endpoint := s.baseURL + "/addcart/?customer=" + url.QueryEscape(customer)
		data, err := Retry(ctx, s.policy, func(ctx context.Context, attempt int) ([]byte, error) {
			resp, err := s.send(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				log.Warn("cart fetch attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		return FromServerCarts(data, s.now())
	})
	if err != nil {
		log.Error("cart fetch failed", zap.Error(err))
		return nil, err
	}

	shared := v.([]domain.CartLineItem)
	lines := make([]domain.CartLineItem, len(shared))
	for i, line := range shared {
		line.SelectedOptions = slices.Clone(line.SelectedOptions)
		lines[i] = line
	}
	log.Info("cart fetched", zap.Int("lines", len(lines)))
	return lines, nil
}

// send performs one attempt through the circuit breaker. An open breaker is
// reported as a permanent failure so the retry loop stops immediately.
func (s *Service) send(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	data, err := s.breaker.Execute(func() ([]byte, error) {
		return s.roundTrip(ctx, method, endpoint, body)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, Permanent(err)
	}
	return data, err
}

func (s *Service) roundTrip(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	if s.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.attemptTimeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, Permanent(fmt.Errorf("build request failed: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}
