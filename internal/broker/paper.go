package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"GapPullback/internal/apperr"
	"GapPullback/internal/model"
)

// PaperBroker fills orders in memory at the request price.
// Orders for held symbols stay PENDING until Release is called.
type PaperBroker struct {
	mu       sync.Mutex
	cash     decimal.Decimal
	feeRate  decimal.Decimal
	orders   map[string]*paperOrder
	byClient map[string]string
	held     map[string]bool
	failNext []error
	submits  int

	lostReplies int
}

type paperOrder struct {
	req    OrderRequest
	status OrderStatus
}

// NewPaperBroker starts with the given cash. feeRate is a fraction of notional, e.g. 0.00015.
func NewPaperBroker(cash, feeRate decimal.Decimal) *PaperBroker {
	return &PaperBroker{
		cash:     cash,
		feeRate:  feeRate,
		orders:   make(map[string]*paperOrder),
		byClient: make(map[string]string),
		held:     make(map[string]bool),
	}
}

func (p *PaperBroker) Name() string { return "paper" }

// Hold leaves new orders for symbol unfilled.
func (p *PaperBroker) Hold(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held[symbol] = true
}

// Release fills every pending order for symbol and stops holding it.
func (p *PaperBroker) Release(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.held, symbol)
	for _, o := range p.orders {
		if o.req.Symbol == symbol && o.status.Status != model.TradeFilled {
			p.fill(o, o.req.Qty-o.status.FilledQty)
		}
	}
}

// FillPartial fills qty more shares of a pending order for a held symbol.
func (p *PaperBroker) FillPartial(symbol string, qty int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range p.orders {
		if o.req.Symbol != symbol || o.status.Status == model.TradeFilled {
			continue
		}
		if left := o.req.Qty - o.status.FilledQty; qty > left {
			qty = left
		}
		p.fill(o, qty)
		return
	}
}

// FailNext makes the next SubmitOrder return err without recording the order.
func (p *PaperBroker) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = append(p.failNext, err)
}

// LoseNextReply records the next order but reports a timeout to the caller,
// as when the response is lost after the broker accepted the request.
func (p *PaperBroker) LoseNextReply() { p.LoseReplies(1) }

// LoseReplies answers the next n submits, repeats included, with a timeout.
// The first of them still creates the order.
func (p *PaperBroker) LoseReplies(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lostReplies += n
}

// Submits counts orders actually created, excluding duplicates.
func (p *PaperBroker) Submits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits
}

func (p *PaperBroker) SubmitOrder(_ context.Context, req OrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.byClient[req.ClientOrderID]; ok && req.ClientOrderID != "" {
		if p.lostReplies > 0 {
			p.lostReplies--
			return "", apperr.Transient("SubmitOrder", req.Symbol, context.DeadlineExceeded)
		}
		return id, nil
	}
	if len(p.failNext) > 0 {
		err := p.failNext[0]
		p.failNext = p.failNext[1:]
		return "", err
	}
	if req.Qty <= 0 {
		return "", apperr.Validationf("SubmitOrder", req.Symbol, "qty must be positive, got %d", req.Qty)
	}
	if req.Side == model.SideBuy {
		need := req.Price.Mul(decimal.NewFromInt(req.Qty))
		if need.GreaterThan(p.cash) {
			return "", apperr.Permanent("SubmitOrder", req.Symbol, fmt.Errorf("insufficient cash: need %s, have %s", need, p.cash))
		}
	}

	id := uuid.NewString()
	o := &paperOrder{
		req: req,
		status: OrderStatus{
			OrderID:       id,
			ClientOrderID: req.ClientOrderID,
			Status:        model.TradePending,
		},
	}
	p.orders[id] = o
	p.byClient[req.ClientOrderID] = id
	p.submits++
	if !p.held[req.Symbol] {
		p.fill(o, req.Qty)
	}
	if p.lostReplies > 0 {
		p.lostReplies--
		return "", apperr.Transient("SubmitOrder", req.Symbol, context.DeadlineExceeded)
	}
	return id, nil
}

func (p *PaperBroker) fill(o *paperOrder, qty int64) {
	notional := o.req.Price.Mul(decimal.NewFromInt(qty))
	fee := notional.Mul(p.feeRate).Round(0)
	if o.req.Side == model.SideBuy {
		p.cash = p.cash.Sub(notional).Sub(fee)
	} else {
		p.cash = p.cash.Add(notional).Sub(fee)
	}
	o.status.FilledQty += qty
	o.status.FilledPrice = o.req.Price
	o.status.Fee = o.status.Fee.Add(fee)
	if o.status.FilledQty >= o.req.Qty {
		o.status.Status = model.TradeFilled
	} else {
		o.status.Status = model.TradePartial
	}
}

func (p *PaperBroker) GetOrderStatus(_ context.Context, orderID string) (*OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return nil, apperr.Permanent("GetOrderStatus", "", fmt.Errorf("unknown order %s", orderID))
	}
	st := o.status
	return &st, nil
}

func (p *PaperBroker) AvailableCash(_ context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash, nil
}
