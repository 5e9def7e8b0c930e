// Package margin computes account equity/margin figures and runs the
// liquidation driver, grounded on the teacher's timer-driven background loop
// style (internal/persist/snapshot.go's Snapshotter.Run,
// internal/persist/retention.go's RunRetention) applied to margin accounts
// instead of persistence sweeps.
package margin

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/clock"
	"github.com/biomeexchange/core/internal/config"
	"github.com/biomeexchange/core/internal/ledger"
	"github.com/biomeexchange/core/internal/risk"
)

// Status is an account's margin-health state machine.
type Status string

const (
	StatusNormal      Status = "normal"
	StatusMarginCall  Status = "margin_call"
	StatusLiquidating Status = "liquidating"
)

// Position is one open leveraged position.
type Position struct {
	ID           string
	UserID       string
	InstrumentID string
	Side         string // "long" or "short"
	Quantity     decimal.Decimal
	EntryPrice   decimal.Decimal
	MarginUsed   decimal.Decimal
	SwapAccrued  decimal.Decimal
}

// PnL returns the position's unrealized profit/loss at currentPrice.
func (p Position) PnL(currentPrice decimal.Decimal) decimal.Decimal {
	diff := currentPrice.Sub(p.EntryPrice)
	if p.Side == "short" {
		diff = p.EntryPrice.Sub(currentPrice)
	}
	return diff.Mul(p.Quantity).Sub(p.SwapAccrued)
}

// Figures is the computed margin snapshot for one account.
type Figures struct {
	Equity      decimal.Decimal
	UsedMargin  decimal.Decimal
	FreeMargin  decimal.Decimal
	MarginLevel decimal.Decimal
	HasLevel    bool // false when UsedMargin is zero (margin_level undefined)
}

// PriceSource resolves the current mark price for an instrument, satisfied
// by internal/pricing in the wired system.
type PriceSource interface {
	CurrentPrice(instrumentID string) (decimal.Decimal, bool)
}

// PositionStore holds open positions and pending orders per account, and
// performs the liquidation actions the driver issues.
type PositionStore interface {
	OpenPositions(ctx context.Context, userID string) ([]Position, error)
	AllAccountIDs(ctx context.Context) ([]string, error)
	CancelAllPendingOrders(ctx context.Context, userID string) error
	ClosePosition(ctx context.Context, p Position, closePrice decimal.Decimal) error
	ApplyFill(ctx context.Context, userID, instrumentID, side string, quantity, price, marginUsed decimal.Decimal) error
}

// Service computes margin figures and drives the liquidation sweep.
type Service struct {
	cfg      *config.Provider
	prices   PriceSource
	store    PositionStore
	ledger   *ledger.Ledger
	clk      clock.Clock
	statuses map[string]Status
}

// New creates a MarginService.
func New(cfg *config.Provider, prices PriceSource, store PositionStore, lg *ledger.Ledger, clk clock.Clock) *Service {
	return &Service{
		cfg:      cfg,
		prices:   prices,
		store:    store,
		ledger:   lg,
		clk:      clk,
		statuses: make(map[string]Status),
	}
}

// Snapshot computes equity/used-margin/free-margin/margin-level for an
// account per the formulas: equity = balance + Σ unrealized_pnl(position);
// used_margin = Σ position.margin_used; free_margin = equity - used_margin;
// margin_level = equity / used_margin × 100 (undefined if used_margin is
// zero).
func (s *Service) Snapshot(ctx context.Context, userID string) (Figures, error) {
	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return Figures{}, err
	}

	positions, err := s.store.OpenPositions(ctx, userID)
	if err != nil {
		return Figures{}, err
	}

	equity := decimal.NewFromInt(balance)
	usedMargin := decimal.Zero
	for _, p := range positions {
		price, ok := s.prices.CurrentPrice(p.InstrumentID)
		if !ok {
			price = p.EntryPrice
		}
		equity = equity.Add(p.PnL(price))
		usedMargin = usedMargin.Add(p.MarginUsed)
	}

	f := Figures{
		Equity:     equity,
		UsedMargin: usedMargin,
		FreeMargin: equity.Sub(usedMargin),
	}
	if usedMargin.IsPositive() {
		f.MarginLevel = equity.Div(usedMargin).Mul(decimal.NewFromInt(100))
		f.HasLevel = true
	}
	return f, nil
}

// RiskAdapter wraps a Service to satisfy risk.AccountProvider, whose
// Snapshot method name collides with Service's own equity/margin Snapshot.
type RiskAdapter struct {
	*Service
}

// Snapshot implements risk.AccountProvider.
func (a RiskAdapter) Snapshot(ctx context.Context, userID string) (risk.AccountSnapshot, error) {
	return a.Service.riskSnapshot(ctx, userID)
}

// riskSnapshot adapts Snapshot and the open-position book into a
// risk.AccountSnapshot. There are no per-account leverage tiers yet, so
// MaxLeverage is the configured platform default for every account.
func (s *Service) riskSnapshot(ctx context.Context, userID string) (risk.AccountSnapshot, error) {
	figures, err := s.Snapshot(ctx, userID)
	if err != nil {
		return risk.AccountSnapshot{}, err
	}
	positions, err := s.store.OpenPositions(ctx, userID)
	if err != nil {
		return risk.AccountSnapshot{}, err
	}

	exposure := make(map[string]decimal.Decimal, len(positions))
	for _, p := range positions {
		price, ok := s.prices.CurrentPrice(p.InstrumentID)
		if !ok {
			price = p.EntryPrice
		}
		notional := p.Quantity.Mul(price).Abs()
		exposure[p.InstrumentID] = exposure[p.InstrumentID].Add(notional)
	}

	snap := s.cfg.Snapshot()
	return risk.AccountSnapshot{
		Equity:             figures.Equity,
		MaxLeverage:        decimal.NewFromFloat(snap.DefaultMaxLeverage),
		InstrumentExposure: exposure,
		FreeMargin:         figures.FreeMargin,
	}, nil
}

// RequireFreeMargin returns an error if opening a position of the given
// notional at leverage would exceed free margin: free_margin >=
// notional/leverage.
func (s *Service) RequireFreeMargin(ctx context.Context, userID string, notional, leverage decimal.Decimal) error {
	f, err := s.Snapshot(ctx, userID)
	if err != nil {
		return err
	}
	if !leverage.IsPositive() {
		return apperr.New(apperr.Validation, "leverage must be positive")
	}
	required := notional.Div(leverage)
	if f.FreeMargin.LessThan(required) {
		return apperr.New(apperr.MarginInsufficient, "free margin %s below required %s", f.FreeMargin, required)
	}
	return nil
}

// Run drives the periodic liquidation sweep until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	t := s.clk.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			s.Sweep(ctx)
		}
	}
}

// Sweep evaluates every account once: raising margin-call/liquidating
// transitions and, once liquidating, closing the worst-performing position
// repeatedly until margin_level recovers above margin_call_level or no
// positions remain. Every liquidation action is journaled via Ledger.
func (s *Service) Sweep(ctx context.Context) {
	ids, err := s.store.AllAccountIDs(ctx)
	if err != nil {
		log.Printf("margin: sweep failed listing accounts: %v", err)
		return
	}
	snap := s.cfg.Snapshot()
	for _, userID := range ids {
		s.evaluateAccount(ctx, userID, snap)
	}
}

func (s *Service) evaluateAccount(ctx context.Context, userID string, snap *config.Snapshot) {
	f, err := s.Snapshot(ctx, userID)
	if err != nil {
		log.Printf("margin: snapshot failed for %s: %v", userID, err)
		return
	}
	if !f.HasLevel {
		s.statuses[userID] = StatusNormal
		return
	}

	level, _ := f.MarginLevel.Float64()
	current := s.statuses[userID]

	if level < snap.LiquidationLevel {
		s.statuses[userID] = StatusLiquidating
		s.liquidate(ctx, userID, snap)
		return
	}

	if level < snap.MarginCallLevel {
		if current != StatusMarginCall && current != StatusLiquidating {
			log.Printf("margin: account %s entered MARGIN_CALL at level %.2f%%", userID, level)
		}
		s.statuses[userID] = StatusMarginCall
		return
	}

	s.statuses[userID] = StatusNormal
}

func (s *Service) liquidate(ctx context.Context, userID string, snap *config.Snapshot) {
	if err := s.store.CancelAllPendingOrders(ctx, userID); err != nil {
		log.Printf("margin: failed cancelling pending orders for %s: %v", userID, err)
	}

	for {
		positions, err := s.store.OpenPositions(ctx, userID)
		if err != nil || len(positions) == 0 {
			return
		}

		worst := worstPosition(s, positions)
		price, ok := s.prices.CurrentPrice(worst.InstrumentID)
		if !ok {
			price = worst.EntryPrice
		}
		if err := s.store.ClosePosition(ctx, worst, price); err != nil {
			log.Printf("margin: failed liquidating position %s for %s: %v", worst.ID, userID, err)
			return
		}
		log.Printf("margin: liquidated position %s (%s) for %s at %s", worst.ID, worst.InstrumentID, userID, price)

		f, err := s.Snapshot(ctx, userID)
		if err != nil {
			return
		}
		if !f.HasLevel {
			s.statuses[userID] = StatusNormal
			return
		}
		level, _ := f.MarginLevel.Float64()
		if level >= snap.MarginCallLevel {
			s.statuses[userID] = StatusNormal
			return
		}
	}
}

// worstPosition finds the position with the lowest (most negative) PnL at
// current prices.
func worstPosition(s *Service, positions []Position) Position {
	sort.Slice(positions, func(i, j int) bool {
		pi, _ := s.prices.CurrentPrice(positions[i].InstrumentID)
		pj, _ := s.prices.CurrentPrice(positions[j].InstrumentID)
		return positions[i].PnL(pi).LessThan(positions[j].PnL(pj))
	})
	return positions[0]
}

// StatusOf returns the last-observed margin status for an account,
// defaulting to normal if never evaluated.
func (s *Service) StatusOf(userID string) Status {
	if st, ok := s.statuses[userID]; ok {
		return st
	}
	return StatusNormal
}
