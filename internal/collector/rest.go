package collector

import (
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

// RESTGateway implements Gateway against a JSON market data API.
type RESTGateway struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewRESTGateway creates a gateway. Per-call deadlines come from the caller's context.
func NewRESTGateway(baseURL, apiKey string) *RESTGateway {
	return &RESTGateway{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *RESTGateway) Name() string { return "rest" }

type restQuote struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	PrevClose  decimal.Decimal `json:"prev_close"`
	Volume     int64           `json:"volume"`
	TradeValue decimal.Decimal `json:"trade_value"`
	MarketCap  decimal.Decimal `json:"market_cap"`
	BuyVolume  int64           `json:"buy_volume"`
	SellVolume int64           `json:"sell_volume"`
	Timestamp  int64           `json:"timestamp"` // unix millis
}

type restCandle struct {
	Date   string          `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

func (g *RESTGateway) GetQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	var rq restQuote
	if err := g.get(ctx, "GetQuote", symbol, "/api/v1/quote", url.Values{"symbol": {symbol}}, &rq); err != nil {
		return nil, err
	}
	q := &model.Quote{
		Symbol:     symbol,
		Price:      rq.Price,
		Open:       rq.Open,
		High:       rq.High,
		Low:        rq.Low,
		PrevClose:  rq.PrevClose,
		Volume:     rq.Volume,
		TradeValue: rq.TradeValue,
		MarketCap:  rq.MarketCap,
		BuyVolume:  rq.BuyVolume,
		SellVolume: rq.SellVolume,
	}
	if rq.Timestamp > 0 {
		q.Timestamp = time.UnixMilli(rq.Timestamp)
	}
	return q, nil
}

func (g *RESTGateway) GetOrderBook(ctx context.Context, symbol string) (*model.OrderBook, error) {
	var b model.OrderBook
	if err := g.get(ctx, "GetOrderBook", symbol, "/api/v1/orderbook", url.Values{"symbol": {symbol}}, &b); err != nil {
		return nil, err
	}
	b.Symbol = symbol
	return &b, nil
}

func (g *RESTGateway) GetDailyCandle(ctx context.Context, symbol string, date time.Time) (*model.Candle, error) {
	var rc restCandle
	q := url.Values{"symbol": {symbol}, "date": {date.Format("2006-01-02")}}
	if err := g.get(ctx, "GetDailyCandle", symbol, "/api/v1/candles/daily", q, &rc); err != nil {
		return nil, err
	}
	day, err := time.ParseInLocation("2006-01-02", rc.Date, date.Location())
	if err != nil {
		day = date
	}
	return &model.Candle{
		Symbol: symbol,
		Date:   day,
		Open:   rc.Open,
		High:   rc.High,
		Low:    rc.Low,
		Close:  rc.Close,
		Volume: rc.Volume,
	}, nil
}

func (g *RESTGateway) get(ctx context.Context, op, symbol, path string, query url.Values, out any) error {
	endpoint := fmt.Sprintf("%s%s?%s", g.BaseURL, path, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apperr.Permanent(op, symbol, err)
	}
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return apperr.FromTransport(op, symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperr.FromStatus(op, symbol, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Permanent(op, symbol, fmt.Errorf("decode: %w", err))
	}
	return nil
}
