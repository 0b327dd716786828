// Package refdata caches previous-day reference candles for the session.
package refdata

import (
	"context"
	"sync"

	"GapPullback/internal/model"
)

// Cache stores one previous-day candle per symbol and trading date.
type Cache interface {
	// Get returns the candle and whether it was present.
	Get(ctx context.Context, date, symbol string) (*model.Candle, bool, error)
	Put(ctx context.Context, date string, c *model.Candle) error
}

// Memory is an in-process Cache. Entries for other dates are dropped on Put.
type Memory struct {
	mu      sync.RWMutex
	date    string
	candles map[string]model.Candle
}

func NewMemory() *Memory {
	return &Memory{candles: make(map[string]model.Candle)}
}

func (m *Memory) Get(_ context.Context, date, symbol string) (*model.Candle, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if date != m.date {
		return nil, false, nil
	}
	c, ok := m.candles[symbol]
	if !ok {
		return nil, false, nil
	}
	return &c, true, nil
}

func (m *Memory) Put(_ context.Context, date string, c *model.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if date != m.date {
		m.date = date
		m.candles = make(map[string]model.Candle)
	}
	m.candles[c.Symbol] = *c
	return nil
}
