package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fjod/go_cart/food-cart/internal/storage"
	"go.uber.org/zap"
)

func (s *Store) persistLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.dirty:
			s.persist()
		case <-s.stop:
			select {
			case <-s.dirty:
				s.persist()
			default:
			}
			return
		}
	}
}

func (s *Store) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
	defer cancel()

	if err := s.Flush(ctx); err != nil {
		// the in-memory state stays authoritative; the next mutation retries the write
		s.log.Error("cart persist failed", zap.Error(err))
	}
}

// Flush synchronously writes the current state to storage.
func (s *Store) Flush(ctx context.Context) error {
	state := s.State()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	if err := s.storage.Save(ctx, storage.RecordCart, data); err != nil {
		return fmt.Errorf("save cart failed: %w", err)
	}
	return nil
}

// Close writes any pending state and stops the background writer. It does not
// close the underlying storage.
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
	return nil
}
