package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"GapPullback/internal/apperr"
	"GapPullback/internal/calculator"
	"GapPullback/internal/model"
	"GapPullback/internal/retry"
)

// MockGateway returns scripted data for development and testing.
// Queued errors are returned before the stored value, one per call.
type MockGateway struct {
	mu      sync.Mutex
	quotes  map[string]*model.Quote
	books   map[string]*model.OrderBook
	candles map[string]*model.Candle
	errs    map[string][]error
	calls   map[string]int
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		quotes:  make(map[string]*model.Quote),
		books:   make(map[string]*model.OrderBook),
		candles: make(map[string]*model.Candle),
		errs:    make(map[string][]error),
		calls:   make(map[string]int),
	}
}

func (m *MockGateway) Name() string { return "mock" }

// SetQuote stores a copy of q for its symbol.
func (m *MockGateway) SetQuote(q model.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.Symbol] = &q
}

func (m *MockGateway) SetOrderBook(b model.OrderBook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.Symbol] = &b
}

func (m *MockGateway) SetCandle(c model.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[c.Symbol] = &c
}

// FailNext queues err for the next call of op ("quote", "book" or "candle") on symbol.
func (m *MockGateway) FailNext(op, symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := op + ":" + symbol
	m.errs[k] = append(m.errs[k], err)
}

// Calls reports how many times op was invoked for symbol.
func (m *MockGateway) Calls(op, symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op+":"+symbol]
}

func (m *MockGateway) next(op, symbol string) error {
	k := op + ":" + symbol
	m.calls[k]++
	if q := m.errs[k]; len(q) > 0 {
		m.errs[k] = q[1:]
		return q[0]
	}
	return nil
}

func (m *MockGateway) GetQuote(_ context.Context, symbol string) (*model.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.next("quote", symbol); err != nil {
		return nil, err
	}
	q, ok := m.quotes[symbol]
	if !ok {
		return nil, apperr.Permanent("GetQuote", symbol, fmt.Errorf("no quote"))
	}
	cp := *q
	return &cp, nil
}

func (m *MockGateway) GetOrderBook(_ context.Context, symbol string) (*model.OrderBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.next("book", symbol); err != nil {
		return nil, err
	}
	b, ok := m.books[symbol]
	if !ok {
		return nil, apperr.Permanent("GetOrderBook", symbol, fmt.Errorf("no order book"))
	}
	cp := *b
	return &cp, nil
}

func (m *MockGateway) GetDailyCandle(_ context.Context, symbol string, _ time.Time) (*model.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.next("candle", symbol); err != nil {
		return nil, err
	}
	c, ok := m.candles[symbol]
	if !ok {
		return nil, apperr.Permanent("GetDailyCandle", symbol, fmt.Errorf("no candle"))
	}
	cp := *c
	return &cp, nil
}

// Collector wraps a Gateway with per-call timeouts and transient retry,
// and turns raw data into indicator snapshots.
type Collector struct {
	Gateway     Gateway
	CallTimeout time.Duration
	Retry       retry.Policy
	log         zerolog.Logger
}

// NewCollector creates a new Collector.
func NewCollector(gw Gateway, callTimeout time.Duration, policy retry.Policy, log zerolog.Logger) *Collector {
	return &Collector{Gateway: gw, CallTimeout: callTimeout, Retry: policy, log: log}
}

func (c *Collector) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, c.Retry, c.log, op, func(ctx context.Context) error {
		if c.CallTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.CallTimeout)
			defer cancel()
		}
		return fn(ctx)
	})
}

// Quote fetches the latest quote for symbol.
func (c *Collector) Quote(ctx context.Context, symbol string) (*model.Quote, error) {
	var q *model.Quote
	err := c.call(ctx, "GetQuote "+symbol, func(ctx context.Context) error {
		var err error
		q, err = c.Gateway.GetQuote(ctx, symbol)
		return err
	})
	return q, err
}

// PrevCandle fetches the daily candle for date.
func (c *Collector) PrevCandle(ctx context.Context, symbol string, date time.Time) (*model.Candle, error) {
	var cd *model.Candle
	err := c.call(ctx, "GetDailyCandle "+symbol, func(ctx context.Context) error {
		var err error
		cd, err = c.Gateway.GetDailyCandle(ctx, symbol, date)
		return err
	})
	return cd, err
}

// Snapshot fetches quote and order book and computes indicators.
// A missing quote fails the snapshot; a missing order book degrades to zero book indicators.
func (c *Collector) Snapshot(ctx context.Context, symbol string, now time.Time) (*model.Snapshot, error) {
	q, err := c.Quote(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", symbol, err)
	}

	var book *model.OrderBook
	err = c.call(ctx, "GetOrderBook "+symbol, func(ctx context.Context) error {
		var err error
		book, err = c.Gateway.GetOrderBook(ctx, symbol)
		return err
	})
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("order book unavailable, using zero book indicators")
		book = nil
	}

	return &model.Snapshot{
		Quote:      q,
		Book:       book,
		Indicators: calculator.Compute(q, book),
		At:         now,
	}, nil
}
