// Package pricing aggregates liquidity-provider quotes into a best
// bid/ask/mid per instrument, applies an optional CFD markup, and
// maintains OHLCV candles across a fixed set of timeframes from executed
// trades. Grounded on the teacher's Mongo-backed candle query shape
// (internal/persist/queries.go), reworked into a live in-memory aggregator
// since quotes and the current candle bucket must be readable without a
// round trip while the matching engine is using them for market-order
// pricing and risk checks.
package pricing

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/biomeexchange/core/internal/clock"
	"github.com/biomeexchange/core/internal/config"
)

// Timeframe is one OHLCV bucket width.
type Timeframe string

const (
	TF1s  Timeframe = "1s"
	TF5s  Timeframe = "5s"
	TF15s Timeframe = "15s"
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
	TF1M  Timeframe = "1M"
)

// AllTimeframes lists every supported bucket width.
var AllTimeframes = []Timeframe{TF1s, TF5s, TF15s, TF1m, TF5m, TF15m, TF30m, TF1h, TF4h, TF1d, TF1w, TF1M}

func timeframeDuration(tf Timeframe) (time.Duration, bool) {
	switch tf {
	case TF1s:
		return time.Second, true
	case TF5s:
		return 5 * time.Second, true
	case TF15s:
		return 15 * time.Second, true
	case TF1m:
		return time.Minute, true
	case TF5m:
		return 5 * time.Minute, true
	case TF15m:
		return 15 * time.Minute, true
	case TF30m:
		return 30 * time.Minute, true
	case TF1h:
		return time.Hour, true
	case TF4h:
		return 4 * time.Hour, true
	case TF1d:
		return 24 * time.Hour, true
	}
	return 0, false // 1w and 1M are calendar-aligned, not fixed-duration
}

// bucketStart returns the start of the bucket t falls into, calendar
// aligned for 1w (Monday 00:00 UTC) and 1M (first of month 00:00 UTC).
func bucketStart(tf Timeframe, t time.Time) time.Time {
	t = t.UTC()
	switch tf {
	case TF1M:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case TF1w:
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		d := t.AddDate(0, 0, -(weekday - 1))
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	}
	dur, ok := timeframeDuration(tf)
	if !ok {
		return t
	}
	return t.Truncate(dur)
}

// Quote is one liquidity provider's current two-sided price for an
// instrument.
type Quote struct {
	Provider     string
	InstrumentID string
	Bid          decimal.Decimal
	Ask          decimal.Decimal
	BidSize      decimal.Decimal
	AskSize      decimal.Decimal
	Timestamp    time.Time
}

// Candle is one OHLCV bar, with the running sums needed to compute VWAP
// incrementally as trades arrive.
type Candle struct {
	BucketStart time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	Count       int64

	vwapNumerator   decimal.Decimal // sum(price * quantity)
	vwapDenominator decimal.Decimal // sum(quantity)
}

// VWAP is the volume-weighted average price for the bar, or zero if no
// volume traded (shouldn't happen for a bar that exists, but is cheap to
// guard).
func (c Candle) VWAP() decimal.Decimal {
	if c.vwapDenominator.IsZero() {
		return decimal.Zero
	}
	return c.vwapNumerator.Div(c.vwapDenominator)
}

// CorporateAction is a split or dividend adjustment: candles before
// EffectiveAt have their OHLC prices multiplied by AdjustmentFactor when
// read, so historical charts stay continuous across the action.
type CorporateAction struct {
	InstrumentID     string
	EffectiveAt      time.Time
	AdjustmentFactor decimal.Decimal
}

type instrumentSeries struct {
	mu      sync.Mutex
	candles map[Timeframe]map[time.Time]*Candle
	actions []CorporateAction
}

func newInstrumentSeries() *instrumentSeries {
	s := &instrumentSeries{candles: make(map[Timeframe]map[time.Time]*Candle)}
	for _, tf := range AllTimeframes {
		s.candles[tf] = make(map[time.Time]*Candle)
	}
	return s
}

func (s *instrumentSeries) recordTrade(price, quantity decimal.Decimal, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tf := range AllTimeframes {
		start := bucketStart(tf, at)
		c, ok := s.candles[tf][start]
		if !ok {
			c = &Candle{
				BucketStart:     start,
				Open:            price,
				High:            price,
				Low:             price,
				Close:           price,
				Volume:          decimal.Zero,
				vwapNumerator:   decimal.Zero,
				vwapDenominator: decimal.Zero,
			}
			s.candles[tf][start] = c
		}
		if price.GreaterThan(c.High) {
			c.High = price
		}
		if price.LessThan(c.Low) {
			c.Low = price
		}
		c.Close = price
		c.Volume = c.Volume.Add(quantity)
		c.Count++
		c.vwapNumerator = c.vwapNumerator.Add(price.Mul(quantity))
		c.vwapDenominator = c.vwapDenominator.Add(quantity)
	}
}

// adjusted applies every corporate action with EffectiveAt after the
// candle's bucket to the candle's OHLC prices (not volume), composing
// factors in chronological order for candles that precede more than one
// action.
func (s *instrumentSeries) adjusted(c Candle) Candle {
	factor := decimal.NewFromInt(1)
	for _, a := range s.actions {
		if c.BucketStart.Before(a.EffectiveAt) {
			factor = factor.Mul(a.AdjustmentFactor)
		}
	}
	if factor.Equal(decimal.NewFromInt(1)) {
		return c
	}
	c.Open = c.Open.Mul(factor)
	c.High = c.High.Mul(factor)
	c.Low = c.Low.Mul(factor)
	c.Close = c.Close.Mul(factor)
	return c
}

func (s *instrumentSeries) query(tf Timeframe, from, to time.Time) []Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.candles[tf]
	out := make([]Candle, 0, len(bucket))
	for start, c := range bucket {
		if !from.IsZero() && start.Before(from) {
			continue
		}
		if !to.IsZero() && start.After(to) {
			continue
		}
		out = append(out, s.adjusted(*c))
	}
	sortCandles(out)
	return out
}

func sortCandles(cs []Candle) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j].BucketStart.Before(cs[j-1].BucketStart); j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}

// Engine aggregates LP quotes into top-of-book and trades into OHLCV
// candles, per instrument.
type Engine struct {
	cfg *config.Provider
	clk clock.Clock

	mu     sync.RWMutex
	quotes map[string]map[string]Quote // instrument -> provider -> quote
	series map[string]*instrumentSeries
}

// New creates an empty pricing Engine.
func New(cfg *config.Provider, clk clock.Clock) *Engine {
	return &Engine{
		cfg:    cfg,
		clk:    clk,
		quotes: make(map[string]map[string]Quote),
		series: make(map[string]*instrumentSeries),
	}
}

func (e *Engine) seriesFor(instrumentID string) *instrumentSeries {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.series[instrumentID]
	if !ok {
		s = newInstrumentSeries()
		e.series[instrumentID] = s
	}
	return s
}

// IngestQuote records a liquidity provider's latest two-sided price.
func (e *Engine) IngestQuote(q Quote) {
	e.mu.Lock()
	defer e.mu.Unlock()
	byProvider, ok := e.quotes[q.InstrumentID]
	if !ok {
		byProvider = make(map[string]Quote)
		e.quotes[q.InstrumentID] = byProvider
	}
	byProvider[q.Provider] = q
}

// BestBidAsk returns the highest bid and lowest ask across all providers
// whose quote is newer than the configured staleness timeout.
func (e *Engine) BestBidAsk(instrumentID string) (bid, ask decimal.Decimal, ok bool) {
	e.mu.RLock()
	byProvider := e.quotes[instrumentID]
	quotes := make([]Quote, 0, len(byProvider))
	for _, q := range byProvider {
		quotes = append(quotes, q)
	}
	e.mu.RUnlock()

	snap := e.cfg.Snapshot()
	now := e.clk.Now()
	var haveBid, haveAsk bool
	for _, q := range quotes {
		if now.Sub(q.Timestamp) > snap.StaleQuoteTimeout {
			continue
		}
		if !haveBid || q.Bid.GreaterThan(bid) {
			bid = q.Bid
			haveBid = true
		}
		if !haveAsk || q.Ask.LessThan(ask) {
			ask = q.Ask
			haveAsk = true
		}
	}
	return bid, ask, haveBid && haveAsk
}

// Mid returns (best_bid+best_ask)/2, optionally normalized to tickSize
// (pass decimal.Zero to skip normalization).
func (e *Engine) Mid(instrumentID string, tickSize decimal.Decimal) (decimal.Decimal, bool) {
	bid, ask, ok := e.BestBidAsk(instrumentID)
	if !ok {
		return decimal.Zero, false
	}
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	if tickSize.IsPositive() {
		mid = mid.Div(tickSize).Round(0).Mul(tickSize)
	}
	return mid, true
}

// AskWithMarkup applies the configured CFD markup (in basis points of mid)
// to ask, for instruments the platform quotes as a CFD rather than passing
// raw LP prices through.
func (e *Engine) AskWithMarkup(instrumentID string, ask, mid decimal.Decimal) decimal.Decimal {
	snap := e.cfg.Snapshot()
	if snap.CFDMarkupBp == 0 {
		return ask
	}
	markup := mid.Mul(decimal.NewFromInt(snap.CFDMarkupBp)).Div(decimal.NewFromInt(10000))
	return ask.Add(markup)
}

// CurrentPrice resolves a mark price for margin/risk checks: the live
// quote mid if one hasn't gone stale, falling back to the most recent
// traded price (the 1s candle's close) when no LP is currently quoting.
// Satisfies margin.PriceSource.
func (e *Engine) CurrentPrice(instrumentID string) (decimal.Decimal, bool) {
	if mid, ok := e.Mid(instrumentID, decimal.Zero); ok {
		return mid, true
	}

	e.mu.RLock()
	s, ok := e.series[instrumentID]
	e.mu.RUnlock()
	if !ok {
		return decimal.Zero, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.candles[TF1s]
	var latest time.Time
	var price decimal.Decimal
	var found bool
	for start, c := range bucket {
		if !found || start.After(latest) {
			latest = start
			price = c.Close
			found = true
		}
	}
	return price, found
}

// RecordTrade buckets an executed trade into every timeframe's running
// candle for the instrument.
func (e *Engine) RecordTrade(instrumentID string, price, quantity decimal.Decimal, at time.Time) {
	e.seriesFor(instrumentID).recordTrade(price, quantity, at)
}

// AddCorporateAction registers a split/dividend adjustment applied to
// candles read for dates before EffectiveAt.
func (e *Engine) AddCorporateAction(a CorporateAction) {
	s := e.seriesFor(a.InstrumentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, a)
}

// Candles returns the candles for instrumentID at timeframe tf within
// [from, to] (zero values are unbounded), with corporate-action adjustment
// applied, sorted by bucket start ascending.
func (e *Engine) Candles(instrumentID string, tf Timeframe, from, to time.Time) []Candle {
	return e.seriesFor(instrumentID).query(tf, from, to)
}
