// Package risk implements pre-trade validation: tick/lot alignment, notional
// caps, leverage limits, margin sufficiency, and position/instrument
// exposure limits. It reads current config and account/position state but
// holds none of its own — every check is a stateless function of its inputs,
// grounded on the teacher's stateless validation helpers in
// internal/engine/market.go.
package risk

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/config"
	"github.com/biomeexchange/core/internal/matching"
)

// InstrumentLimits carries the per-instrument alignment and leverage rules
// RiskEngine checks against.
type InstrumentLimits struct {
	TickSize    decimal.Decimal
	LotSize     decimal.Decimal
	LeverageMax decimal.Decimal
}

// AccountSnapshot is the subset of account state RiskEngine needs: current
// equity, the account's own leverage ceiling, and per-instrument exposure
// already on the books.
type AccountSnapshot struct {
	Equity                decimal.Decimal
	MaxLeverage           decimal.Decimal
	InstrumentExposure    map[string]decimal.Decimal // absolute notional already held, by instrument
	FreeMargin            decimal.Decimal
}

// AccountProvider resolves the account snapshot RiskEngine validates
// against. Implemented by internal/margin in the wired system.
type AccountProvider interface {
	Snapshot(ctx context.Context, userID string) (AccountSnapshot, error)
}

// InstrumentProvider resolves per-instrument trading limits.
type InstrumentProvider interface {
	Limits(instrumentID string) (InstrumentLimits, bool)
}

// Engine implements matching.RiskEngine.
type Engine struct {
	cfg         *config.Provider
	accounts    AccountProvider
	instruments InstrumentProvider
}

// New creates a RiskEngine.
func New(cfg *config.Provider, accounts AccountProvider, instruments InstrumentProvider) *Engine {
	return &Engine{cfg: cfg, accounts: accounts, instruments: instruments}
}

// ValidateOrder runs every check in the placement-rule table in order,
// returning the first violation as an apperr.Validation or
// apperr.MarginInsufficient error. An unknown instrument yields
// apperr.NotFound, and an account lookup error is returned unchanged.
func (e *Engine) ValidateOrder(ctx context.Context, req matching.PlaceRequest, estimatedPrice decimal.Decimal) error {
	limits, ok := e.instruments.Limits(req.InstrumentID)
	if !ok {
		return apperr.New(apperr.NotFound, "instrument %s not found", req.InstrumentID)
	}

	if err := checkAlignment(req, limits); err != nil {
		return err
	}

	price := estimatedPrice
	if req.HasLimitPrice {
		price = req.LimitPrice
	}
	notional := price.Mul(req.Quantity)

	snap := e.cfg.Snapshot()
	maxNotional := decimal.NewFromInt(snap.MaxOrderNotional)
	if notional.GreaterThan(maxNotional) {
		return apperr.New(apperr.Validation, "order notional %s exceeds max_order_notional %s", notional, maxNotional)
	}

	account, err := e.accounts.Snapshot(ctx, req.UserID)
	if err != nil {
		return err
	}

	leverageCeiling := decimal.Min(account.MaxLeverage, limits.LeverageMax)
	if leverageCeiling.IsPositive() {
		requestedLeverage := decimal.NewFromInt(1)
		if account.Equity.IsPositive() {
			requestedLeverage = notional.Div(account.Equity)
		}
		if requestedLeverage.GreaterThan(leverageCeiling) {
			return apperr.New(apperr.Validation, "requested leverage %s exceeds ceiling %s", requestedLeverage, leverageCeiling)
		}
	}

	if account.Equity.IsPositive() {
		maxPosition := decimal.NewFromFloat(snap.MaxPositionPct).Mul(account.Equity)
		if notional.GreaterThan(maxPosition) {
			return apperr.New(apperr.Validation, "position size %s exceeds max_position_pct of equity (%s)", notional, maxPosition)
		}

		existing := account.InstrumentExposure[req.InstrumentID]
		maxInstrument := decimal.NewFromFloat(snap.MaxInstrumentExposurePct).Mul(account.Equity)
		if existing.Add(notional).GreaterThan(maxInstrument) {
			return apperr.New(apperr.Validation, "instrument exposure %s exceeds max_instrument_exposure_pct of equity (%s)", existing.Add(notional), maxInstrument)
		}
	}

	if leverageCeiling.GreaterThan(decimal.NewFromInt(1)) {
		requiredMargin := notional.Div(leverageCeiling)
		if account.FreeMargin.LessThan(requiredMargin) {
			return apperr.New(apperr.MarginInsufficient, "free margin %s insufficient for required margin %s", account.FreeMargin, requiredMargin)
		}
	}

	return nil
}

func checkAlignment(req matching.PlaceRequest, limits InstrumentLimits) error {
	if limits.LotSize.IsPositive() {
		if !req.Quantity.Mod(limits.LotSize).IsZero() {
			return apperr.New(apperr.Validation, "quantity %s not aligned to lot size %s", req.Quantity, limits.LotSize)
		}
	}
	if limits.TickSize.IsPositive() {
		if req.HasLimitPrice && !req.LimitPrice.Mod(limits.TickSize).IsZero() {
			return apperr.New(apperr.Validation, "price %s not aligned to tick size %s", req.LimitPrice, limits.TickSize)
		}
		if req.HasStopPrice && !req.StopPrice.Mod(limits.TickSize).IsZero() {
			return apperr.New(apperr.Validation, "stop price %s not aligned to tick size %s", req.StopPrice, limits.TickSize)
		}
	}
	return nil
}
