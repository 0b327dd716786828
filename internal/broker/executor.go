package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"GapPullback/internal/apperr"
	"GapPullback/internal/model"
	"GapPullback/internal/retry"
)

// Executor submits trades with client order ids and folds broker status reports
// into them. Retries reuse the same client order id.
type Executor struct {
	Broker       Broker
	CallTimeout  time.Duration
	Retry        retry.Policy
	FillTimeout  time.Duration
	FillInterval time.Duration
	log          zerolog.Logger
}

func NewExecutor(b Broker, callTimeout time.Duration, policy retry.Policy, fillTimeout, fillInterval time.Duration, log zerolog.Logger) *Executor {
	return &Executor{
		Broker:       b,
		CallTimeout:  callTimeout,
		Retry:        policy,
		FillTimeout:  fillTimeout,
		FillInterval: fillInterval,
		log:          log,
	}
}

func (e *Executor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.CallTimeout)
}

// NewTrade builds a PENDING trade with a fresh client order id.
func NewTrade(symbol string, side model.Side, typ model.OrderType, qty int64, price decimal.Decimal, now time.Time) *model.Trade {
	return &model.Trade{
		ClientOrderID:  uuid.NewString(),
		Symbol:         symbol,
		Side:           side,
		OrderType:      typ,
		RequestedQty:   qty,
		RequestedPrice: price,
		Status:         model.TradePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Submit sends t to the broker and records the broker order id on it.
func (e *Executor) Submit(ctx context.Context, t *model.Trade) error {
	if t.ClientOrderID == "" {
		t.ClientOrderID = uuid.NewString()
	}
	req := OrderRequest{
		ClientOrderID: t.ClientOrderID,
		Symbol:        t.Symbol,
		Side:          t.Side,
		Type:          t.OrderType,
		Qty:           t.RequestedQty,
		Price:         t.RequestedPrice,
	}
	return retry.Do(ctx, e.Retry, e.log, "SubmitOrder "+t.Symbol, func(ctx context.Context) error {
		cctx, cancel := e.withTimeout(ctx)
		defer cancel()
		id, err := e.Broker.SubmitOrder(cctx, req)
		if err != nil {
			return err
		}
		t.OrderID = id
		return nil
	})
}

// Refresh polls the broker once and applies the report to t.
// It returns the newly filled quantity and notional. A report that would move the
// trade backwards is ignored and reported as a Duplicate error.
func (e *Executor) Refresh(ctx context.Context, t *model.Trade, now time.Time) (int64, decimal.Decimal, error) {
	if t.Final() {
		return 0, decimal.Zero, nil
	}
	if t.OrderID == "" {
		return 0, decimal.Zero, apperr.Validationf("Refresh", t.Symbol, "trade %s has no order id", t.ClientOrderID)
	}

	var st *OrderStatus
	err := retry.Do(ctx, e.Retry, e.log, "GetOrderStatus "+t.Symbol, func(ctx context.Context) error {
		cctx, cancel := e.withTimeout(ctx)
		defer cancel()
		var err error
		st, err = e.Broker.GetOrderStatus(cctx, t.OrderID)
		return err
	})
	if err != nil {
		return 0, decimal.Zero, err
	}
	return Apply(t, st, now)
}

// Apply folds a status report into t and returns the fill delta.
func Apply(t *model.Trade, st *OrderStatus, now time.Time) (int64, decimal.Decimal, error) {
	if t.Final() {
		return 0, decimal.Zero, apperr.Duplicate("Apply", t.Symbol, fmt.Errorf("trade %s already %s", t.ClientOrderID, t.Status))
	}
	if st.ClientOrderID != "" && st.ClientOrderID != t.ClientOrderID {
		return 0, decimal.Zero, apperr.Duplicate("Apply", t.Symbol, fmt.Errorf("report for %s applied to %s", st.ClientOrderID, t.ClientOrderID))
	}
	if st.FilledQty < t.FilledQty {
		return 0, decimal.Zero, apperr.Duplicate("Apply", t.Symbol, fmt.Errorf("stale report: filled %d < %d", st.FilledQty, t.FilledQty))
	}
	filledQty := st.FilledQty
	if filledQty > t.RequestedQty {
		filledQty = t.RequestedQty
	}

	prevNotional := t.FilledPrice.Mul(decimal.NewFromInt(t.FilledQty))
	newNotional := st.FilledPrice.Mul(decimal.NewFromInt(filledQty))
	deltaQty := filledQty - t.FilledQty
	deltaNotional := newNotional.Sub(prevNotional)
	if deltaQty == 0 {
		deltaNotional = decimal.Zero
	}

	t.FilledQty = filledQty
	if filledQty > 0 {
		t.FilledPrice = st.FilledPrice
	}
	if st.Fee.GreaterThan(t.Fee) {
		t.Fee = st.Fee
	}
	switch {
	case filledQty >= t.RequestedQty:
		t.Status = model.TradeFilled
	case st.Status == model.TradeCancelled:
		t.Status = model.TradeCancelled
	case filledQty > 0:
		t.Status = model.TradePartial
	}
	t.UpdatedAt = now
	return deltaQty, deltaNotional, nil
}

// AwaitFill polls until t is final or FillTimeout passes. It returns the total
// fill delta observed. A trade still open afterwards stays PENDING or PARTIAL
// and is reconciled on later ticks.
func (e *Executor) AwaitFill(ctx context.Context, t *model.Trade, now func() time.Time) (int64, decimal.Decimal, error) {
	deadline := time.Now().Add(e.FillTimeout)
	var totalQty int64
	totalNotional := decimal.Zero
	for {
		dq, dn, err := e.Refresh(ctx, t, now())
		if err != nil && !apperr.IsDuplicate(err) {
			return totalQty, totalNotional, err
		}
		totalQty += dq
		totalNotional = totalNotional.Add(dn)
		if t.Final() || !time.Now().Before(deadline) {
			return totalQty, totalNotional, nil
		}
		select {
		case <-ctx.Done():
			return totalQty, totalNotional, ctx.Err()
		case <-time.After(e.FillInterval):
		}
	}
}

// AvailableCash asks the broker for spendable cash.
func (e *Executor) AvailableCash(ctx context.Context) (decimal.Decimal, error) {
	var cash decimal.Decimal
	err := retry.Do(ctx, e.Retry, e.log, "AvailableCash", func(ctx context.Context) error {
		cctx, cancel := e.withTimeout(ctx)
		defer cancel()
		var err error
		cash, err = e.Broker.AvailableCash(cctx)
		return err
	})
	return cash, err
}
