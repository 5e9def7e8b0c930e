// Package biome implements the seven fixed-market attention-driven share
// economy: buy/sell against a shared cash pool per biome, attention
// tracking, and a periodic redistribution cycle that reallocates cash
// between markets in proportion to accumulated attention. Grounded on the
// teacher's per-entity-mutex-plus-persistence-adapter shape used throughout
// internal/matching and internal/margin (there is no teacher analog for a
// share-economy redistribution cycle itself, so the cycle's steps follow
// this repository's own component design exactly).
package biome

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/clock"
	"github.com/biomeexchange/core/internal/config"
	"github.com/biomeexchange/core/internal/ledger"
)

// ID identifies one of the seven fixed biome markets.
type ID string

const (
	Ocean    ID = "ocean"
	Beach    ID = "beach"
	Plains   ID = "plains"
	Forest   ID = "forest"
	Desert   ID = "desert"
	Mountain ID = "mountain"
	Snow     ID = "snow"
)

// All lists the fixed seven biomes in a stable order, used for iteration
// order (redistribution drift absorption, market listings).
var All = []ID{Ocean, Beach, Plains, Forest, Desert, Mountain, Snow}

// Market is the current state of one biome's share economy.
type Market struct {
	Biome              ID
	CashMinor          int64 // minor units, always >= 0
	TotalShares        decimal.Decimal // fixed at initialization, always > 0
	Attention          decimal.Decimal // accumulated since last redistribution
	LastRedistribution time.Time
}

// SharePrice is the derived price per share: cash / total_shares.
func (m Market) SharePrice() decimal.Decimal {
	if m.TotalShares.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(m.CashMinor).Div(m.TotalShares)
}

// Holding is one user's position in one biome.
type Holding struct {
	UserID        string
	Biome         ID
	Shares        decimal.Decimal
	AvgPriceMinor decimal.Decimal
	InvestedMinor int64
}

// PriceHistoryPoint is one redistribution's archived price/cash/attention.
type PriceHistoryPoint struct {
	Biome      ID
	Price      decimal.Decimal
	CashMinor  int64
	Attention  decimal.Decimal
	RecordedAt time.Time
}

// Store persists markets, holdings, and price history. The production
// implementation (internal/persist) runs each call against MongoDB.
type Store interface {
	SaveMarket(ctx context.Context, m Market) error
	GetHolding(ctx context.Context, userID string, biome ID) (Holding, bool, error)
	SaveHolding(ctx context.Context, h Holding) error
	AppendPriceHistory(ctx context.Context, p PriceHistoryPoint) error
}

// Publisher fans out market and attention updates, satisfied by
// internal/hub in the wired system.
type Publisher interface {
	PublishBiomeUpdate(biome ID, payload any)
	PublishBiomeUpdateAll(payload any)
}

type marketState struct {
	mu        sync.Mutex
	market    Market
	userScore map[string]decimal.Decimal // per-user attention this cycle
}

// Engine owns the seven markets, their holdings, and the redistribution
// ticker.
type Engine struct {
	cfg    *config.Provider
	ledger *ledger.Ledger
	store  Store
	pub    Publisher
	clk    clock.Clock

	mu      sync.Mutex
	markets map[ID]*marketState
}

// InitConfig supplies each biome's starting cash, share count, and price at
// construction time (initial price is implied: cash / shares).
type InitConfig struct {
	InitialCashMinor   int64
	InitialTotalShares decimal.Decimal
}

// New creates a BiomeMarketEngine with all seven markets initialized from
// init (same configuration applied to every biome, matching the original
// system's uniform seeding).
func New(cfg *config.Provider, lg *ledger.Ledger, store Store, pub Publisher, clk clock.Clock, init InitConfig) *Engine {
	e := &Engine{
		cfg:     cfg,
		ledger:  lg,
		store:   store,
		pub:     pub,
		clk:     clk,
		markets: make(map[ID]*marketState),
	}
	for _, b := range All {
		e.markets[b] = &marketState{
			market: Market{
				Biome:       b,
				CashMinor:   init.InitialCashMinor,
				TotalShares: init.InitialTotalShares,
				Attention:   decimal.Zero,
			},
			userScore: make(map[string]decimal.Decimal),
		}
	}
	return e
}

func (e *Engine) stateFor(biome ID) (*marketState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.markets[biome]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "unknown biome %q", biome)
	}
	return st, nil
}

// Snapshot returns a copy of one biome's current market state.
func (e *Engine) Snapshot(biome ID) (Market, error) {
	st, err := e.stateFor(biome)
	if err != nil {
		return Market{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.market, nil
}

// AllMarkets returns a snapshot of every biome market, in the fixed order.
func (e *Engine) AllMarkets() []Market {
	out := make([]Market, 0, len(All))
	for _, b := range All {
		st, _ := e.stateFor(b)
		st.mu.Lock()
		out = append(out, st.market)
		st.mu.Unlock()
	}
	return out
}

// Portfolio reports userID's non-zero holdings across every biome, for the
// GET /biome-market/portfolio endpoint.
func (e *Engine) Portfolio(ctx context.Context, userID string) ([]Holding, error) {
	out := make([]Holding, 0, len(All))
	for _, b := range All {
		h, ok, err := e.store.GetHolding(ctx, userID, b)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "load holding for %s/%s", userID, b)
		}
		if !ok || h.Shares.IsZero() {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// Buy spends amountMinor BDT on biome shares for userID, per the buy
// algorithm: validate transaction size and trading-paused flag, price at the
// current derived share price, debit principal+fee, credit the holding, add
// the principal (not the fee) to market cash.
func (e *Engine) Buy(ctx context.Context, userID string, biome ID, amountMinor int64) (ledger.TransactionRecord, error) {
	if amountMinor <= 0 {
		return ledger.TransactionRecord{}, apperr.New(apperr.Validation, "amount must be positive")
	}
	st, err := e.stateFor(biome)
	if err != nil {
		return ledger.TransactionRecord{}, err
	}

	var result ledger.TransactionRecord
	err = e.ledger.WithUserLock(userID, func() error {
		st.mu.Lock()
		defer st.mu.Unlock()

		snap := e.cfg.Snapshot()
		if snap.BiomeTradingPaused {
			return apperr.New(apperr.MarketNotOpen, "biome trading is paused")
		}

		maxTx := decimal.NewFromFloat(snap.MaxTransactionPercent).Div(decimal.NewFromInt(100)).
			Mul(decimal.NewFromInt(st.market.CashMinor))
		if decimal.NewFromInt(amountMinor).GreaterThan(maxTx) {
			return apperr.New(apperr.Validation, "amount %d exceeds max_transaction_percent of market cash (%s)", amountMinor, maxTx)
		}

		price := st.market.SharePrice()
		if !price.IsPositive() {
			return apperr.New(apperr.Internal, "biome %s has non-positive share price", biome)
		}
		shares := decimal.NewFromInt(amountMinor).Div(price)

		feePct := decimal.NewFromFloat(snap.BiomeTradeFeePercent).Div(decimal.NewFromInt(100))
		fee := decimal.NewFromInt(amountMinor).Mul(feePct).Floor()
		feeMinor := fee.IntPart()
		totalDebit := amountMinor + feeMinor

		tx, err := e.ledger.DebitTx(ctx, userID, totalDebit, ledger.TransactionRecord{
			Type:          ledger.TxBiomeBuy,
			PlatformFee:   feeMinor,
			Biome:         string(biome),
			Shares:        shares.String(),
			PricePerShare: price.String(),
		})
		if err != nil {
			return err
		}

		holding, _, err := e.store.GetHolding(ctx, userID, biome)
		if err != nil {
			return err
		}
		holding.UserID = userID
		holding.Biome = biome
		newShares := holding.Shares.Add(shares)
		newInvested := holding.InvestedMinor + amountMinor
		holding.AvgPriceMinor = decimal.NewFromInt(newInvested).Div(newShares)
		holding.Shares = newShares
		holding.InvestedMinor = newInvested
		if err := e.store.SaveHolding(ctx, holding); err != nil {
			return err
		}

		st.market.CashMinor += amountMinor
		if err := e.store.SaveMarket(ctx, st.market); err != nil {
			return err
		}

		result = tx
		return nil
	})
	if err != nil {
		return ledger.TransactionRecord{}, err
	}

	e.publishUpdate(biome)
	return result, nil
}

// Sell liquidates shares worth of a user's holding for BDT, per the sell
// algorithm: reject insufficient shares, price at the current derived share
// price, credit net-of-fee proceeds, reduce market cash by the gross
// proceeds (the fee is platform revenue, not returned to the market).
func (e *Engine) Sell(ctx context.Context, userID string, biome ID, shares decimal.Decimal) (ledger.TransactionRecord, error) {
	if !shares.IsPositive() {
		return ledger.TransactionRecord{}, apperr.New(apperr.Validation, "shares must be positive")
	}
	st, err := e.stateFor(biome)
	if err != nil {
		return ledger.TransactionRecord{}, err
	}

	var result ledger.TransactionRecord
	err = e.ledger.WithUserLock(userID, func() error {
		st.mu.Lock()
		defer st.mu.Unlock()

		holding, found, err := e.store.GetHolding(ctx, userID, biome)
		if err != nil {
			return err
		}
		if !found || holding.Shares.LessThan(shares) {
			return apperr.New(apperr.Validation, "insufficient shares: have %s, want %s", holding.Shares, shares)
		}

		price := st.market.SharePrice()
		gross := shares.Mul(price).Floor()
		snap := e.cfg.Snapshot()
		feePct := decimal.NewFromFloat(snap.BiomeTradeFeePercent).Div(decimal.NewFromInt(100))
		fee := gross.Mul(feePct).Floor()
		net := gross.Sub(fee)

		fraction := decimal.NewFromInt(1)
		if holding.Shares.IsPositive() {
			fraction = shares.Div(holding.Shares)
		}
		reducedInvested := decimal.NewFromInt(holding.InvestedMinor).Mul(fraction).Floor().IntPart()
		holding.InvestedMinor -= reducedInvested
		holding.Shares = holding.Shares.Sub(shares)
		// average price is unchanged by a sell

		if err := e.store.SaveHolding(ctx, holding); err != nil {
			return err
		}

		tx, err := e.ledger.CreditTx(ctx, userID, net.IntPart(), ledger.TransactionRecord{
			Type:          ledger.TxBiomeSell,
			PlatformFee:   fee.IntPart(),
			Biome:         string(biome),
			Shares:        shares.String(),
			PricePerShare: price.String(),
		})
		if err != nil {
			return err
		}

		st.market.CashMinor -= gross.IntPart()
		if err := e.store.SaveMarket(ctx, st.market); err != nil {
			return err
		}

		result = tx
		return nil
	})
	if err != nil {
		return ledger.TransactionRecord{}, err
	}

	e.publishUpdate(biome)
	return result, nil
}

// Track increments a user's and the market's accumulated attention score.
func (e *Engine) Track(ctx context.Context, userID string, biome ID, score decimal.Decimal) error {
	if score.IsNegative() {
		return apperr.New(apperr.Validation, "attention score must be non-negative")
	}
	st, err := e.stateFor(biome)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.market.Attention = st.market.Attention.Add(score)
	st.userScore[userID] = st.userScore[userID].Add(score)
	return nil
}

// Run drives the redistribution cycle on a ticker until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	t := e.clk.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			e.Redistribute(ctx)
		}
	}
}

// Redistribute runs one tick of the 9-step attention-weighted cash
// reallocation cycle.
func (e *Engine) Redistribute(ctx context.Context) {
	snap := e.cfg.Snapshot()
	if snap.BiomePricesFrozen {
		return
	}

	e.mu.Lock()
	states := make([]*marketState, 0, len(All))
	for _, b := range All {
		states = append(states, e.markets[b])
	}
	e.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
	}
	defer func() {
		for _, st := range states {
			st.mu.Unlock()
		}
	}()

	tmc := int64(0)
	ta := decimal.Zero
	for _, st := range states {
		tmc += st.market.CashMinor
		ta = ta.Add(st.market.Attention)
	}

	poolPct := decimal.NewFromFloat(snap.RedistributionPoolPercent).Div(decimal.NewFromInt(100))
	pool := decimal.NewFromInt(tmc).Mul(poolPct).Floor()

	now := e.clk.Now()
	if ta.IsZero() || pool.IsZero() {
		for _, st := range states {
			st.market.LastRedistribution = now
			st.market.Attention = decimal.Zero
		}
		return
	}

	tmcDec := decimal.NewFromInt(tmc)
	type proposed struct {
		st       *marketState
		newCash  decimal.Decimal
	}
	results := make([]proposed, 0, len(states))

	for _, st := range states {
		poolShare := pool.Mul(decimal.NewFromInt(st.market.CashMinor)).Div(tmcDec).Floor()
		grant := pool.Mul(st.market.Attention).Div(ta).Floor()
		newCash := decimal.NewFromInt(st.market.CashMinor).Sub(poolShare).Add(grant)

		oldPrice := st.market.SharePrice()
		newPrice := newCash.Div(st.market.TotalShares)
		maxMove := decimal.NewFromFloat(snap.MaxPriceMovePercent).Div(decimal.NewFromInt(100))
		if oldPrice.IsPositive() {
			lowerBound := oldPrice.Mul(decimal.NewFromInt(1).Sub(maxMove))
			upperBound := oldPrice.Mul(decimal.NewFromInt(1).Add(maxMove))
			if newPrice.LessThan(lowerBound) {
				newPrice = lowerBound
			} else if newPrice.GreaterThan(upperBound) {
				newPrice = upperBound
			}
			newCash = newPrice.Mul(st.market.TotalShares).RoundBank(0)
		}

		results = append(results, proposed{st: st, newCash: newCash})
	}

	sumNew := decimal.Zero
	for _, r := range results {
		sumNew = sumNew.Add(r.newCash)
	}
	drift := tmcDec.Sub(sumNew)
	if !drift.IsZero() {
		highest := results[0]
		for _, r := range results[1:] {
			if r.st.market.Attention.GreaterThan(highest.st.market.Attention) {
				highest = r
			}
		}
		for i := range results {
			if results[i].st == highest.st {
				results[i].newCash = results[i].newCash.Add(drift)
				break
			}
		}
	}

	var historyPoints []PriceHistoryPoint
	marketsSnapshot := make([]Market, 0, len(results))
	for _, r := range results {
		r.st.market.CashMinor = r.newCash.IntPart()
		r.st.market.LastRedistribution = now
		historyPoints = append(historyPoints, PriceHistoryPoint{
			Biome:      r.st.market.Biome,
			Price:      r.st.market.SharePrice(),
			CashMinor:  r.st.market.CashMinor,
			Attention:  r.st.market.Attention,
			RecordedAt: now,
		})
		r.st.market.Attention = decimal.Zero
		for u := range r.st.userScore {
			delete(r.st.userScore, u)
		}
		if err := e.store.SaveMarket(ctx, r.st.market); err != nil {
			log.Printf("biome: failed saving market %s after redistribution: %v", r.st.market.Biome, err)
		}
		marketsSnapshot = append(marketsSnapshot, r.st.market)
	}
	for _, p := range historyPoints {
		if err := e.store.AppendPriceHistory(ctx, p); err != nil {
			log.Printf("biome: failed appending price history for %s: %v", p.Biome, err)
		}
	}

	e.publishMarkets(marketsSnapshot)
}

func (e *Engine) publishUpdate(biome ID) {
	if e.pub == nil {
		return
	}
	m, err := e.Snapshot(biome)
	if err != nil {
		return
	}
	e.pub.PublishBiomeUpdate(biome, m)
}

// publishMarkets broadcasts a pre-collected market snapshot. Redistribute
// calls this instead of publishAll+AllMarkets since it already holds every
// marketState's lock when it finishes; AllMarkets would re-lock them and
// deadlock the caller.
func (e *Engine) publishMarkets(markets []Market) {
	if e.pub == nil {
		return
	}
	e.pub.PublishBiomeUpdateAll(markets)
}
