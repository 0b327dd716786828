package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"GapPullback/internal/apperr"
	"GapPullback/internal/model"
)

// RESTBroker implements Broker against a JSON order API.
type RESTBroker struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewRESTBroker(baseURL, apiKey string) *RESTBroker {
	return &RESTBroker{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (b *RESTBroker) Name() string { return "rest" }

type orderBody struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          model.Side      `json:"side"`
	Type          model.OrderType `json:"type"`
	Qty           int64           `json:"qty"`
	Price         decimal.Decimal `json:"price"`
}

type orderReply struct {
	OrderID       string            `json:"order_id"`
	ClientOrderID string            `json:"client_order_id"`
	Status        model.TradeStatus `json:"status"`
	FilledQty     int64             `json:"filled_qty"`
	FilledPrice   decimal.Decimal   `json:"filled_price"`
	Fee           decimal.Decimal   `json:"fee"`
}

func (b *RESTBroker) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	body := orderBody{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Qty:           req.Qty,
		Price:         req.Price,
	}
	var reply orderReply
	err := b.do(ctx, "SubmitOrder", req.Symbol, http.MethodPost, "/api/v1/orders", body, &reply)
	if apperr.IsDuplicate(err) && reply.OrderID != "" {
		// The first attempt reached the broker; adopt its order.
		return reply.OrderID, nil
	}
	if err != nil {
		return "", err
	}
	return reply.OrderID, nil
}

func (b *RESTBroker) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	var reply orderReply
	if err := b.do(ctx, "GetOrderStatus", "", http.MethodGet, "/api/v1/orders/"+url.PathEscape(orderID), nil, &reply); err != nil {
		return nil, err
	}
	return &OrderStatus{
		OrderID:       reply.OrderID,
		ClientOrderID: reply.ClientOrderID,
		Status:        reply.Status,
		FilledQty:     reply.FilledQty,
		FilledPrice:   reply.FilledPrice,
		Fee:           reply.Fee,
	}, nil
}

func (b *RESTBroker) AvailableCash(ctx context.Context) (decimal.Decimal, error) {
	var reply struct {
		Cash decimal.Decimal `json:"cash"`
	}
	if err := b.do(ctx, "AvailableCash", "", http.MethodGet, "/api/v1/account/cash", nil, &reply); err != nil {
		return decimal.Zero, err
	}
	return reply.Cash, nil
}

// do sends the request and decodes the reply. On 409 the reply body is still decoded
// so the caller can recover the existing order id.
func (b *RESTBroker) do(ctx context.Context, op, symbol, method, path string, in, out any) error {
	var rd io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperr.Permanent(op, symbol, fmt.Errorf("marshal: %w", err))
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.BaseURL+path, rd)
	if err != nil {
		return apperr.Permanent(op, symbol, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.APIKey)
	}
	resp, err := b.Client.Do(req)
	if err != nil {
		return apperr.FromTransport(op, symbol, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode == http.StatusConflict {
		_ = json.Unmarshal(data, out)
		return apperr.FromStatus(op, symbol, resp.StatusCode, string(data))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperr.FromStatus(op, symbol, resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Permanent(op, symbol, fmt.Errorf("decode: %w", err))
	}
	return nil
}
