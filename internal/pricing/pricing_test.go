package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/biomeexchange/core/internal/clock"
	"github.com/biomeexchange/core/internal/config"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time                         { return f.now }
func (f fixedClock) NewTicker(d time.Duration) clock.Ticker { return clock.Real{}.NewTicker(d) }
func (f fixedClock) After(d time.Duration) <-chan time.Time  { return clock.Real{}.After(d) }

func testEngine(now time.Time, staleTimeout time.Duration) *Engine {
	cfg := config.NewProvider(&config.Snapshot{StaleQuoteTimeout: staleTimeout})
	return New(cfg, fixedClock{now: now})
}

func TestBestBidAskAcrossProviders(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := testEngine(now, time.Second)

	e.IngestQuote(Quote{Provider: "lp1", InstrumentID: "BTCUSD", Bid: dec("100"), Ask: dec("101"), Timestamp: now})
	e.IngestQuote(Quote{Provider: "lp2", InstrumentID: "BTCUSD", Bid: dec("100.5"), Ask: dec("100.9"), Timestamp: now})

	bid, ask, ok := e.BestBidAsk("BTCUSD")
	if !ok {
		t.Fatal("expected a best bid/ask")
	}
	if !bid.Equal(dec("100.5")) {
		t.Fatalf("best bid = %v, want 100.5 (max across providers)", bid)
	}
	if !ask.Equal(dec("100.9")) {
		t.Fatalf("best ask = %v, want 100.9 (min across providers)", ask)
	}
}

func TestBestBidAskExcludesStaleQuotes(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := testEngine(now, time.Second)

	e.IngestQuote(Quote{Provider: "lp1", InstrumentID: "BTCUSD", Bid: dec("100"), Ask: dec("101"), Timestamp: now.Add(-10 * time.Second)})

	_, _, ok := e.BestBidAsk("BTCUSD")
	if ok {
		t.Fatal("expected no best bid/ask when the only quote is stale")
	}
}

func TestMidNormalizesToTickSize(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := testEngine(now, time.Second)
	e.IngestQuote(Quote{Provider: "lp1", InstrumentID: "BTCUSD", Bid: dec("100.02"), Ask: dec("100.07"), Timestamp: now})

	mid, ok := e.Mid("BTCUSD", dec("0.05"))
	if !ok {
		t.Fatal("expected a mid price")
	}
	// raw mid = 100.045, nearest multiple of 0.05 = 100.05
	if !mid.Equal(dec("100.05")) {
		t.Fatalf("mid = %v, want 100.05", mid)
	}
}

func TestAskWithMarkupAddsBasisPoints(t *testing.T) {
	cfg := config.NewProvider(&config.Snapshot{CFDMarkupBp: 50}) // 0.5%
	e := New(cfg, fixedClock{now: time.Now()})

	got := e.AskWithMarkup("BTCUSD", dec("100"), dec("100"))
	want := dec("100.5")
	if !got.Equal(want) {
		t.Fatalf("ask with markup = %v, want %v", got, want)
	}
}

func TestRecordTradeBucketsIntoMultipleTimeframesAndComputesVWAP(t *testing.T) {
	e := testEngine(time.Now(), time.Second)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	e.RecordTrade("BTCUSD", dec("100"), dec("2"), base)
	e.RecordTrade("BTCUSD", dec("102"), dec("1"), base.Add(10*time.Second))

	oneMin := e.Candles("BTCUSD", TF1m, time.Time{}, time.Time{})
	if len(oneMin) != 1 {
		t.Fatalf("expected both trades in one 1m bucket, got %d buckets", len(oneMin))
	}
	c := oneMin[0]
	if !c.Open.Equal(dec("100")) || !c.Close.Equal(dec("102")) {
		t.Fatalf("candle open/close = %v/%v, want 100/102", c.Open, c.Close)
	}
	if !c.High.Equal(dec("102")) || !c.Low.Equal(dec("100")) {
		t.Fatalf("candle high/low = %v/%v, want 102/100", c.High, c.Low)
	}
	wantVWAP := dec("100").Mul(dec("2")).Add(dec("102").Mul(dec("1"))).Div(dec("3"))
	if !c.VWAP().Equal(wantVWAP) {
		t.Fatalf("VWAP = %v, want %v", c.VWAP(), wantVWAP)
	}

	oneSec := e.Candles("BTCUSD", TF1s, time.Time{}, time.Time{})
	if len(oneSec) != 2 {
		t.Fatalf("expected two separate 1s buckets, got %d", len(oneSec))
	}
}

func TestCorporateActionAdjustsHistoricalCandlesOnRead(t *testing.T) {
	e := testEngine(time.Now(), time.Second)
	before := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	after := before.Add(48 * time.Hour)

	e.RecordTrade("SPLITCO", dec("200"), dec("1"), before)
	e.RecordTrade("SPLITCO", dec("100"), dec("1"), after)

	e.AddCorporateAction(CorporateAction{
		InstrumentID:     "SPLITCO",
		EffectiveAt:      before.Add(24 * time.Hour),
		AdjustmentFactor: dec("0.5"), // 2-for-1 split
	})

	candles := e.Candles("SPLITCO", TF1d, time.Time{}, time.Time{})
	if len(candles) != 2 {
		t.Fatalf("expected 2 daily candles, got %d", len(candles))
	}
	// candles[0] is the pre-split day; its close should be halved to 100,
	// making it continuous with the post-split day's close of 100.
	if !candles[0].Close.Equal(dec("100")) {
		t.Fatalf("pre-split candle close after adjustment = %v, want 100", candles[0].Close)
	}
	if !candles[1].Close.Equal(dec("100")) {
		t.Fatalf("post-split candle close = %v, want 100 (unadjusted)", candles[1].Close)
	}
}

func TestWeeklyAndMonthlyBucketsAreCalendarAligned(t *testing.T) {
	e := testEngine(time.Now(), time.Second)
	// Monday Jan 5 2026 and Wednesday Jan 7 2026 fall in the same ISO week
	// (Mon Jan 5 - Sun Jan 11).
	mon := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	wed := time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC)

	e.RecordTrade("BTCUSD", dec("10"), dec("1"), mon)
	e.RecordTrade("BTCUSD", dec("20"), dec("1"), wed)

	weekly := e.Candles("BTCUSD", TF1w, time.Time{}, time.Time{})
	if len(weekly) != 1 {
		t.Fatalf("expected both trades in the same ISO week, got %d buckets", len(weekly))
	}
	if weekly[0].BucketStart.Weekday() != time.Monday {
		t.Fatalf("weekly bucket should start on Monday, got %s", weekly[0].BucketStart.Weekday())
	}

	monthly := e.Candles("BTCUSD", TF1M, time.Time{}, time.Time{})
	if len(monthly) != 1 {
		t.Fatalf("expected both trades in the same month, got %d buckets", len(monthly))
	}
	if monthly[0].BucketStart.Day() != 1 {
		t.Fatalf("monthly bucket should start on day 1, got %d", monthly[0].BucketStart.Day())
	}
}
