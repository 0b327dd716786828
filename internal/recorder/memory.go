package recorder

import (
	"context"
	"sync"

	"GapPullback/internal/model"
)

// MemoryRecorder keeps the ledger in memory. Used by tests and dry runs.
type MemoryRecorder struct {
	mu        sync.Mutex
	Signals   []model.Signal
	Trades    map[string]model.Trade
	Positions map[string]model.Position
	order     []string
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		Trades:    make(map[string]model.Trade),
		Positions: make(map[string]model.Position),
	}
}

func (m *MemoryRecorder) RecordSignal(_ context.Context, s *model.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Signals = append(m.Signals, *s)
	return nil
}

func (m *MemoryRecorder) RecordTrade(_ context.Context, t *model.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.Trades[t.ClientOrderID]; ok && prev.Final() {
		return nil
	}
	if _, ok := m.Trades[t.ClientOrderID]; !ok {
		m.order = append(m.order, t.ClientOrderID)
	}
	m.Trades[t.ClientOrderID] = *t
	return nil
}

func (m *MemoryRecorder) UpsertPosition(_ context.Context, p *model.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Positions[p.ID] = *p
	return nil
}

func (m *MemoryRecorder) Close() error { return nil }

// SignalsOf returns recorded signals of type t.
func (m *MemoryRecorder) SignalsOf(t model.SignalType) []model.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Signal
	for _, s := range m.Signals {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// TradeList returns trades in first-seen order.
func (m *MemoryRecorder) TradeList() []model.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Trade, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.Trades[id])
	}
	return out
}
