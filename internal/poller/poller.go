package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/food-cart/internal/cartsync"
	"github.com/fjod/go_cart/food-cart/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const Topic = "order-placed"

// OrderPlacedEvent is published by the backend once an order for a
// restaurant's cart has been accepted.
type OrderPlacedEvent struct {
	Customer   domain.ID `json:"customer"`
	Restaurant domain.ID `json:"restaurant"`
}

// CartClearer is the part of the cart store the poller needs.
type CartClearer interface {
	ClearCart(restaurantID string)
}

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Poller empties a restaurant's cart lines when the backend reports that the
// current customer placed an order there.
type Poller struct {
	cart     CartClearer
	identity cartsync.IdentityProvider
	reader   MessageReader
	log      *zap.Logger
}

func NewPoller(cart CartClearer, identity cartsync.IdentityProvider, log *zap.Logger, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    Topic,
		GroupID:  "food-cart-consumer",
		MaxBytes: 10e6, // 10MB
	})
	return newPoller(cart, identity, reader, log)
}

func newPoller(cart CartClearer, identity cartsync.IdentityProvider, reader MessageReader, log *zap.Logger) *Poller {
	return &Poller{cart: cart, identity: identity, reader: reader, log: log}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.readAndClear(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Warn("error closing reader", zap.Error(err))
	}
}

func (p *Poller) readAndClear(ctx context.Context) {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.log.Warn("error reading message", zap.Error(err))
		}
		return
	}

	if err := p.handle(ctx, m.Value); err != nil {
		p.log.Warn("skipping order event", zap.Error(err), zap.Int64("offset", m.Offset))
	}
}

func (p *Poller) handle(ctx context.Context, value []byte) error {
	var event OrderPlacedEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("error parsing message: %w", err)
	}
	if event.Restaurant == "" {
		return errors.New("missing restaurant")
	}

	customer, ok := p.identity.CustomerID(ctx)
	if !ok || string(event.Customer) != customer {
		return nil
	}

	p.cart.ClearCart(string(event.Restaurant))
	p.log.Info("cleared cart after order", zap.String("restaurant", string(event.Restaurant)))
	return nil
}
