package storage

import (
	"context"
	"errors"
)

// RecordCart is the durable record holding the serialized cart state.
const RecordCart = "cart-storage"

var ErrRecordNotFound = errors.New("record not found")

// Storage is a durable named-record store. Every Save fully replaces the record.
type Storage interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
	Close() error
}
