package risk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"GapPullback/internal/apperr"
	"GapPullback/internal/broker"
	"GapPullback/internal/calculator"
	"GapPullback/internal/metrics"
	"GapPullback/internal/model"
	"GapPullback/internal/recorder"
)

// pendingOrder is a submitted trade whose fills are still being folded in.
type pendingOrder struct {
	trade   *model.Trade
	posID   string
	high    decimal.Decimal // candidate high, buys only
	open    int64           // sell quantity still reserved
	feeSeen decimal.Decimal
}

// Manager owns the day's positions and every order placed for them.
// All methods are safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	prm       Params
	exec      *broker.Executor
	rec       recorder.Recorder
	met       *metrics.Recorder
	log       zerolog.Logger
	statePath string

	date      string
	positions map[string]*model.Position
	order     []string
	pending   map[string]*pendingOrder
	reserved  map[string]int64
	last      map[string]decimal.Decimal
}

func NewManager(prm Params, exec *broker.Executor, rec recorder.Recorder, met *metrics.Recorder, log zerolog.Logger) *Manager {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	m := &Manager{prm: prm, exec: exec, rec: rec, met: met, log: log}
	m.clear("")
	return m
}

// PersistTo enables saving the position book to path after every change.
func (m *Manager) PersistTo(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statePath = path
}

func (m *Manager) clear(date string) {
	m.date = date
	m.positions = make(map[string]*model.Position)
	m.order = nil
	m.pending = make(map[string]*pendingOrder)
	m.reserved = make(map[string]int64)
	m.last = make(map[string]decimal.Decimal)
}

// Reset starts a new trading day. Positions saved earlier for the same date
// are restored. Positions still open from an earlier day and orders still in
// flight are carried over, so the next final exit closes them.
func (m *Manager) Reset(date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if date == m.date {
		return nil
	}
	fresh := m.date == ""
	carried, pending := m.unsettled()
	m.clear(date)
	for _, p := range carried {
		m.adopt(p)
	}
	for id, po := range pending {
		m.pending[id] = po
		if po.trade.Side == model.SideSell {
			m.reserved[po.trade.Symbol] += po.open
		}
	}

	if m.statePath != "" {
		b, err := LoadBook(m.statePath)
		if err != nil {
			return fmt.Errorf("load position book: %w", err)
		}
		switch {
		case b.Date == date:
			for i := range b.Positions {
				m.adopt(&b.Positions[i])
			}
			m.log.Info().Str("date", date).Int("positions", len(b.Positions)).Msg("position book restored")
		case fresh && b.Date != "" && b.Date < date:
			for i := range b.Positions {
				if p := &b.Positions[i]; !p.Closed() {
					m.adopt(p)
					carried = append(carried, p)
				}
			}
		}
	}

	if len(carried) > 0 || len(pending) > 0 {
		syms := make([]string, 0, len(carried))
		for _, p := range carried {
			syms = append(syms, p.Symbol)
		}
		m.log.Error().Str("date", date).Strs("symbols", syms).Int("pending_orders", len(pending)).
			Msg("unsettled positions carried into new trading day")
		m.saveBook()
	}
	m.met.OpenPositions(m.openCount())
	return nil
}

// unsettled returns the positions not yet closed and the orders still in flight.
func (m *Manager) unsettled() ([]*model.Position, map[string]*pendingOrder) {
	var open []*model.Position
	for _, sym := range m.order {
		if p := m.positions[sym]; !p.Closed() {
			open = append(open, p)
		}
	}
	return open, m.pending
}

func (m *Manager) adopt(p *model.Position) {
	if _, ok := m.positions[p.Symbol]; ok {
		return
	}
	cp := *p
	m.positions[p.Symbol] = &cp
	m.order = append(m.order, p.Symbol)
}

// Date is the trading date the manager was last reset to.
func (m *Manager) Date() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.date
}

// CanOpen reports whether a new entry for symbol would be accepted.
func (m *Manager) CanOpen(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canOpen(symbol)
}

func (m *Manager) canOpen(symbol string) error {
	if _, ok := m.positions[symbol]; ok {
		return apperr.Validationf("Open", symbol, "position already exists")
	}
	used := m.openCount()
	for _, po := range m.pending {
		if po.trade.Side != model.SideBuy {
			continue
		}
		if po.trade.Symbol == symbol {
			return apperr.Validationf("Open", symbol, "entry order already pending")
		}
		if _, filled := m.positions[po.trade.Symbol]; !filled {
			used++
		}
	}
	if used >= m.prm.MaxPositions {
		return apperr.Validationf("Open", symbol, "max positions reached (%d)", m.prm.MaxPositions)
	}
	return nil
}

// Open places a buy for an ENTRY_READY candidate at price. The returned position
// is nil when the order was accepted but nothing has filled yet; fills are then
// picked up by Reconcile.
func (m *Manager) Open(ctx context.Context, c *model.Candidate, price decimal.Decimal, now time.Time) (*model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.canOpen(c.Symbol); err != nil {
		return nil, err
	}
	cash, err := m.exec.AvailableCash(ctx)
	if err != nil {
		m.met.GatewayError("cash")
		return nil, err
	}
	qty := SizeOrder(cash, price, m.prm)
	if qty <= 0 {
		return nil, apperr.Validationf("Open", c.Symbol, "order size is zero (cash %s, price %s)", cash, price)
	}

	t := broker.NewTrade(c.Symbol, model.SideBuy, m.prm.OrderType, qty, price, now)
	t.PositionID = uuid.NewString()
	err = m.exec.Submit(ctx, t)
	if err != nil && !outcomeUnknown(err) {
		t.Status = model.TradeCancelled
		m.met.Order(string(model.SideBuy), false)
		m.recordTrade(ctx, t)
		return nil, err
	}
	m.submitted(t, err)
	m.recordTrade(ctx, t)

	po := &pendingOrder{trade: t, posID: t.PositionID, high: c.HighPrice}
	m.pending[t.ClientOrderID] = po
	m.last[c.Symbol] = price
	if t.OrderID == "" {
		return nil, nil
	}

	dq, dn, err := m.exec.AwaitFill(ctx, t, func() time.Time { return now })
	m.applyBuy(ctx, po, dq, dn, now)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", c.Symbol).Msg("entry fill wait failed, will reconcile")
	}
	if p := m.positions[c.Symbol]; p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *Manager) applyBuy(ctx context.Context, po *pendingOrder, dq int64, dn decimal.Decimal, now time.Time) {
	t := po.trade
	feeDelta := t.Fee.Sub(po.feeSeen)
	po.feeSeen = t.Fee

	if dq > 0 {
		p := m.positions[t.Symbol]
		if p == nil {
			p = &model.Position{
				ID:          po.posID,
				Symbol:      t.Symbol,
				TradingDate: m.date,
				Status:      model.PositionOpen,
				OpenedAt:    now,
			}
			m.positions[t.Symbol] = p
			m.order = append(m.order, t.Symbol)
		}
		p.EntryQty += dq
		p.RemainingQty += dq
		p.EntryAmount = p.EntryAmount.Add(dn)
		p.EntryPrice = p.EntryAmount.Div(decimal.NewFromInt(p.EntryQty)).Round(2)
		p.StopLossPrice = calculator.ApplyPercent(p.EntryPrice, m.prm.StopLossPercent.Neg())
		p.TP1Price = calculator.ApplyPercent(p.EntryPrice, m.prm.TP1Percent)
		p.TP2Price = decimal.Max(po.high, p.TP1Price)
		p.Fees = p.Fees.Add(feeDelta)
		m.log.Info().Str("symbol", t.Symbol).Int64("qty", dq).Str("entry", p.EntryPrice.String()).
			Str("stop_loss", p.StopLossPrice.String()).Str("tp1", p.TP1Price.String()).Msg("entry filled")
		m.upsert(ctx, p)
	} else if p := m.positions[t.Symbol]; p != nil && feeDelta.IsPositive() {
		p.Fees = p.Fees.Add(feeDelta)
	}

	if dq > 0 || t.Final() {
		m.recordTrade(ctx, t)
	}
	if t.Final() {
		delete(m.pending, t.ClientOrderID)
	}
	m.met.OpenPositions(m.openCount())
}

// Evaluate checks the exit rules for symbol's position at price and submits the
// first exit that applies. Without an exit it only raises the trailing high.
func (m *Manager) Evaluate(ctx context.Context, symbol string, price decimal.Decimal, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.positions[symbol]
	if p == nil || p.Closed() || !price.IsPositive() {
		return nil
	}
	m.last[symbol] = price
	raised := p.TrailingActive && price.GreaterThan(p.TrailingHigh)
	if raised {
		p.TrailingHigh = price
	}
	dec, ok := Decide(p, m.prm, price, p.RemainingQty-m.reserved[symbol], now)
	if !ok {
		if raised {
			m.upsert(ctx, p)
		}
		return nil
	}
	return m.close(ctx, p, dec.Qty, price, dec.Reason, now)
}

// TrackDayHigh moves the TP2 target up to the session high until TP2 has fired.
func (m *Manager) TrackDayHigh(symbol string, high decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.positions[symbol]
	if p == nil || p.Closed() || p.TP2Done || !high.GreaterThan(p.TP2Price) {
		return
	}
	p.TP2Price = high
}

// Mark records the latest price seen for symbol without evaluating exits.
func (m *Manager) Mark(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[symbol] = price
}

// Close sells qty shares of symbol's position. qty beyond the unreserved
// remainder is rejected without touching any state.
func (m *Manager) Close(ctx context.Context, symbol string, qty int64, price decimal.Decimal, reason model.CloseReason, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.positions[symbol]
	if p == nil {
		return apperr.Validationf("Close", symbol, "no position")
	}
	return m.close(ctx, p, qty, price, reason, now)
}

func (m *Manager) close(ctx context.Context, p *model.Position, qty int64, price decimal.Decimal, reason model.CloseReason, now time.Time) error {
	if p.Closed() {
		return apperr.Validationf("Close", p.Symbol, "position already closed")
	}
	available := p.RemainingQty - m.reserved[p.Symbol]
	if qty <= 0 || qty > available {
		return apperr.Validationf("Close", p.Symbol, "qty %d outside available %d", qty, available)
	}

	m.reserved[p.Symbol] += qty
	t := broker.NewTrade(p.Symbol, model.SideSell, m.prm.OrderType, qty, price, now)
	t.PositionID = p.ID
	t.CloseReason = reason
	err := m.exec.Submit(ctx, t)
	if err != nil && !outcomeUnknown(err) {
		m.reserved[p.Symbol] -= qty
		t.Status = model.TradeCancelled
		m.met.Order(string(model.SideSell), false)
		m.recordTrade(ctx, t)
		return err
	}
	m.submitted(t, err)
	m.met.Exit(string(reason))

	switch reason {
	case model.CloseTP1:
		p.TP1Done = true
		p.TrailingActive = true
		p.TrailingHigh = price
	case model.CloseTP2:
		p.TP2Done = true
	case model.CloseTP3:
		p.TP3Done = true
	}
	m.recordTrade(ctx, t)
	m.upsert(ctx, p)
	m.recordSignal(ctx, &model.Signal{
		Symbol:   p.Symbol,
		Type:     reason.SignalType(),
		At:       now,
		Price:    price,
		Reason:   fmt.Sprintf("%s exit of %d/%d", reason, qty, p.RemainingQty),
		Executed: true,
	})
	m.log.Info().Str("symbol", p.Symbol).Str("reason", string(reason)).Int64("qty", qty).
		Str("price", price.String()).Msg("exit order submitted")

	po := &pendingOrder{trade: t, posID: p.ID, open: qty}
	m.pending[t.ClientOrderID] = po
	if t.OrderID == "" {
		return nil
	}
	dq, dn, err := m.exec.AwaitFill(ctx, t, func() time.Time { return now })
	m.applySell(ctx, po, dq, dn, now)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("exit fill wait failed, will reconcile")
	}
	return nil
}

// outcomeUnknown reports whether a failed submit may still have reached the
// broker. Such orders stay pending under their client order id.
func outcomeUnknown(err error) bool {
	return apperr.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

func (m *Manager) submitted(t *model.Trade, err error) {
	if err != nil {
		m.met.GatewayError("submit")
		m.log.Warn().Err(err).Str("symbol", t.Symbol).Str("side", string(t.Side)).
			Str("client_order_id", t.ClientOrderID).Msg("order outcome unknown, resubmitting on reconcile")
		return
	}
	m.met.Order(string(t.Side), true)
	m.log.Info().Str("symbol", t.Symbol).Str("side", string(t.Side)).Int64("qty", t.RequestedQty).
		Str("price", t.RequestedPrice.String()).Str("client_order_id", t.ClientOrderID).Msg("order submitted")
}

func (m *Manager) applySell(ctx context.Context, po *pendingOrder, dq int64, dn decimal.Decimal, now time.Time) {
	t := po.trade
	p := m.positions[t.Symbol]
	feeDelta := t.Fee.Sub(po.feeSeen)
	po.feeSeen = t.Fee

	if dq > po.open {
		dq = po.open
	}
	po.open -= dq
	m.reserved[t.Symbol] -= dq

	if p != nil && dq > 0 {
		p.RemainingQty -= dq
		p.ExitQty += dq
		p.ExitAmount = p.ExitAmount.Add(dn)
		p.RealizedPnL = p.RealizedPnL.Add(dn.Sub(p.EntryPrice.Mul(decimal.NewFromInt(dq))))
		if cost := p.EntryPrice.Mul(decimal.NewFromInt(p.ExitQty)); cost.IsPositive() {
			p.RealizedPnLPercent = p.RealizedPnL.Mul(decimal.NewFromInt(100)).DivRound(cost, 4)
		}
		p.Fees = p.Fees.Add(feeDelta)
		if t.CloseReason == model.CloseTP2 && p.TP3Price.IsZero() {
			p.TP3Price = calculator.ApplyPercent(t.FilledPrice, m.prm.TP3Percent)
		}
		if p.RemainingQty <= 0 {
			p.RemainingQty = 0
			p.Status = model.PositionClosed
			p.CloseReason = t.CloseReason
			p.ClosedAt = now
			m.log.Info().Str("symbol", p.Symbol).Str("reason", string(p.CloseReason)).
				Str("pnl", p.RealizedPnL.String()).Str("pnl_pct", p.RealizedPnLPercent.String()).Msg("position closed")
		} else {
			p.Status = model.PositionPartial
		}
		m.upsert(ctx, p)
	}

	if t.Final() {
		m.reserved[t.Symbol] -= po.open
		po.open = 0
		if m.reserved[t.Symbol] <= 0 {
			delete(m.reserved, t.Symbol)
		}
		delete(m.pending, t.ClientOrderID)
	}
	if dq > 0 || t.Final() {
		m.recordTrade(ctx, t)
	}
	m.met.OpenPositions(m.openCount())
	m.met.RealizedPnL(m.realizedPnL().InexactFloat64())
}

// Reconcile polls every order still in flight and folds in new fills.
func (m *Manager) Reconcile(ctx context.Context, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		po := m.pending[id]
		if po.trade.OrderID == "" && !m.resubmit(ctx, po.trade, now, &errs) {
			continue
		}
		dq, dn, err := m.exec.Refresh(ctx, po.trade, now)
		if err != nil && !apperr.IsDuplicate(err) {
			m.met.GatewayError("order_status")
			errs = append(errs, err)
			continue
		}
		if po.trade.Side == model.SideBuy {
			m.applyBuy(ctx, po, dq, dn, now)
		} else {
			m.applySell(ctx, po, dq, dn, now)
		}
	}
	return errors.Join(errs...)
}

// resubmit repeats a submit whose outcome was unknown. The broker answers a
// known client order id with the original order id, so nothing is placed twice.
// It returns false when the outcome is still unknown.
func (m *Manager) resubmit(ctx context.Context, t *model.Trade, now time.Time, errs *[]error) bool {
	err := m.exec.Submit(ctx, t)
	switch {
	case err == nil:
		m.log.Info().Str("symbol", t.Symbol).Str("client_order_id", t.ClientOrderID).
			Str("order_id", t.OrderID).Msg("order id recovered")
		return true
	case outcomeUnknown(err):
		m.met.GatewayError("submit")
		*errs = append(*errs, err)
		return false
	}
	m.log.Warn().Err(err).Str("symbol", t.Symbol).Str("client_order_id", t.ClientOrderID).Msg("resubmitted order rejected")
	m.met.Order(string(t.Side), false)
	t.Status = model.TradeCancelled
	t.UpdatedAt = now
	return true
}

// CloseAll sells the unreserved remainder of every open position at the last
// seen price. Calling it again only retries what is still unsold.
func (m *Manager) CloseAll(ctx context.Context, reason model.CloseReason, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, sym := range m.order {
		p := m.positions[sym]
		if p.Closed() {
			continue
		}
		available := p.RemainingQty - m.reserved[sym]
		if available <= 0 {
			continue
		}
		price, ok := m.last[sym]
		if !ok {
			price = p.EntryPrice
		}
		if err := m.close(ctx, p, available, price, reason, now); err != nil {
			m.log.Error().Err(err).Str("symbol", sym).Str("reason", string(reason)).Msg("close failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Positions returns copies of the day's positions in opening order.
func (m *Manager) Positions() []model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Position, 0, len(m.order))
	for _, sym := range m.order {
		out = append(out, *m.positions[sym])
	}
	return out
}

// Position returns a copy of symbol's position.
func (m *Manager) Position(symbol string) (model.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCount()
}

// PendingCount is the number of orders not yet FILLED or CANCELLED.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// RealizedPnL sums realized P&L across the day's positions.
func (m *Manager) RealizedPnL() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.realizedPnL()
}

// Summary is the day's realized P&L with win and loss counts over closed positions.
type Summary struct {
	TradingDate string          `json:"trading_date"`
	Total       int             `json:"total_positions"`
	Open        int             `json:"open_positions"`
	Closed      int             `json:"closed_positions"`
	RealizedPnL decimal.Decimal `json:"total_realized_pnl"`
	Wins        int             `json:"win_count"`
	Losses      int             `json:"lose_count"`
	WinRate     decimal.Decimal `json:"win_rate"`
}

func (m *Manager) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := Summary{TradingDate: m.date, Total: len(m.order), RealizedPnL: decimal.Zero, WinRate: decimal.Zero}
	for _, sym := range m.order {
		p := m.positions[sym]
		if !p.Closed() {
			sum.Open++
			continue
		}
		sum.Closed++
		sum.RealizedPnL = sum.RealizedPnL.Add(p.RealizedPnL)
		switch {
		case p.RealizedPnL.IsPositive():
			sum.Wins++
		case p.RealizedPnL.IsNegative():
			sum.Losses++
		}
	}
	if sum.Closed > 0 {
		sum.WinRate = decimal.NewFromInt(int64(sum.Wins * 100)).DivRound(decimal.NewFromInt(int64(sum.Closed)), 2)
	}
	return sum
}

func (m *Manager) realizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.positions {
		total = total.Add(p.RealizedPnL)
	}
	return total
}

func (m *Manager) openCount() int {
	n := 0
	for _, p := range m.positions {
		if !p.Closed() {
			n++
		}
	}
	return n
}

// Ledger writes never fail the trading path.
func (m *Manager) recordTrade(ctx context.Context, t *model.Trade) {
	cp := *t
	if err := m.rec.RecordTrade(ctx, &cp); err != nil {
		m.log.Error().Err(err).Str("client_order_id", t.ClientOrderID).Msg("record trade failed")
	}
}

func (m *Manager) recordSignal(ctx context.Context, s *model.Signal) {
	m.met.Signal(string(s.Type))
	if err := m.rec.RecordSignal(ctx, s); err != nil {
		m.log.Error().Err(err).Str("symbol", s.Symbol).Msg("record signal failed")
	}
}

func (m *Manager) upsert(ctx context.Context, p *model.Position) {
	cp := *p
	if err := m.rec.UpsertPosition(ctx, &cp); err != nil {
		m.log.Error().Err(err).Str("position_id", p.ID).Msg("upsert position failed")
	}
	m.saveBook()
}

func (m *Manager) saveBook() {
	if m.statePath == "" {
		return
	}
	b := &Book{Date: m.date}
	for _, sym := range m.order {
		b.Positions = append(b.Positions, *m.positions[sym])
	}
	if err := SaveBook(m.statePath, b); err != nil {
		m.log.Error().Err(err).Str("path", m.statePath).Msg("save position book failed")
	}
}
