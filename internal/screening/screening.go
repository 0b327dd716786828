package screening

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"GapPullback/internal/config"
	"GapPullback/internal/model"
)

// Rule names reported for rejected symbols.
const (
	RuleNoQuote       = "no_quote"
	RuleGapRange      = "gap_range"
	RuleMarketCap     = "market_cap"
	RuleTradeValue    = "trade_value"
	RuleTradeStrength = "trade_strength"
	RuleSpread        = "spread"
	RuleWatchlistFull = "watchlist_full"
)

// Criteria are the inclusive screening thresholds.
type Criteria struct {
	MinGapPercent    decimal.Decimal
	MaxGapPercent    decimal.Decimal
	MinMarketCap     decimal.Decimal
	MinTradeValue    decimal.Decimal
	MinTradeStrength decimal.Decimal
	MaxSpreadPercent decimal.Decimal
	MaxWatchlistSize int
}

func CriteriaFromConfig(s config.Screening) Criteria {
	return Criteria{
		MinGapPercent:    decimal.NewFromFloat(s.MinGapPercent),
		MaxGapPercent:    decimal.NewFromFloat(s.MaxGapPercent),
		MinMarketCap:     decimal.NewFromFloat(s.MinMarketCap),
		MinTradeValue:    decimal.NewFromFloat(s.MinTradeValue),
		MinTradeStrength: decimal.NewFromFloat(s.MinTradeStrength),
		MaxSpreadPercent: decimal.NewFromFloat(s.MaxSpreadPercent),
		MaxWatchlistSize: s.MaxWatchlistSize,
	}
}

// Input is one symbol's opening data.
type Input struct {
	Symbol     string
	Quote      *model.Quote
	Indicators model.Indicators
}

// Rejection explains why a symbol did not make the watchlist.
type Rejection struct {
	Input
	Rule   string
	Detail string
}

type Result struct {
	Watchlist []*model.Candidate
	Rejected  []Rejection
}

// Check returns the first failing rule, or "" if in qualifies.
func (c Criteria) Check(in Input) (rule, detail string) {
	if in.Quote == nil {
		return RuleNoQuote, "quote unavailable"
	}
	ind := in.Indicators
	if ind.GapPercent.LessThan(c.MinGapPercent) || ind.GapPercent.GreaterThan(c.MaxGapPercent) {
		return RuleGapRange, fmt.Sprintf("gap %s%% outside [%s, %s]", ind.GapPercent, c.MinGapPercent, c.MaxGapPercent)
	}
	if in.Quote.MarketCap.LessThan(c.MinMarketCap) {
		return RuleMarketCap, fmt.Sprintf("market cap %s < %s", in.Quote.MarketCap, c.MinMarketCap)
	}
	if in.Quote.TradeValue.LessThan(c.MinTradeValue) {
		return RuleTradeValue, fmt.Sprintf("trade value %s < %s", in.Quote.TradeValue, c.MinTradeValue)
	}
	if ind.TradeStrength.LessThan(c.MinTradeStrength) {
		return RuleTradeStrength, fmt.Sprintf("trade strength %s < %s", ind.TradeStrength, c.MinTradeStrength)
	}
	if ind.SpreadPercent.GreaterThan(c.MaxSpreadPercent) {
		return RuleSpread, fmt.Sprintf("spread %s%% > %s%%", ind.SpreadPercent, c.MaxSpreadPercent)
	}
	return "", ""
}

// Run filters inputs, orders survivors by descending gap and keeps at most
// MaxWatchlistSize of them as WATCHING candidates for date.
func Run(c Criteria, date string, inputs []Input, now time.Time) Result {
	var res Result
	var passed []Input
	for _, in := range inputs {
		if rule, detail := c.Check(in); rule != "" {
			res.Rejected = append(res.Rejected, Rejection{Input: in, Rule: rule, Detail: detail})
			continue
		}
		passed = append(passed, in)
	}

	sort.SliceStable(passed, func(i, j int) bool {
		gi, gj := passed[i].Indicators.GapPercent, passed[j].Indicators.GapPercent
		if !gi.Equal(gj) {
			return gi.GreaterThan(gj)
		}
		return passed[i].Symbol < passed[j].Symbol
	})

	for i, in := range passed {
		if c.MaxWatchlistSize > 0 && i >= c.MaxWatchlistSize {
			res.Rejected = append(res.Rejected, Rejection{
				Input:  in,
				Rule:   RuleWatchlistFull,
				Detail: fmt.Sprintf("rank %d beyond watchlist size %d", i+1, c.MaxWatchlistSize),
			})
			continue
		}
		res.Watchlist = append(res.Watchlist, newCandidate(in, date, now))
	}
	return res
}

func newCandidate(in Input, date string, now time.Time) *model.Candidate {
	q := in.Quote
	return &model.Candidate{
		Symbol:         in.Symbol,
		TradingDate:    date,
		Stage:          model.StageWatching,
		GapPercent:     in.Indicators.GapPercent,
		MarketCap:      q.MarketCap,
		TradeValue:     q.TradeValue,
		TradeStrength:  in.Indicators.TradeStrength,
		SpreadPercent:  in.Indicators.SpreadPercent,
		OpenPrice:      q.Open,
		CurrentPrice:   q.Price,
		StageChangedAt: now,
	}
}
