// Package matching implements per-instrument order routing and order-type
// semantics over an internal/orderbook.Book, grounded on the matching
// mechanics the teacher's order-flow simulator modeled (walk the opposing
// side, consume FIFO, advance priority, persist a trade) and on the
// placement-rule table and algorithm this repository's order types follow.
package matching

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/config"
	"github.com/biomeexchange/core/internal/ledger"
	"github.com/biomeexchange/core/internal/orderbook"
)

// MarketState is the singleton open/halted/closed status for one instrument.
type MarketState string

const (
	MarketOpen   MarketState = "open"
	MarketHalted MarketState = "halted"
	MarketClosed MarketState = "closed"
)

// Trade is an immutable execution record.
type Trade struct {
	ID           string
	InstrumentID string
	BuyOrderID   uint64
	SellOrderID  uint64
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	BuyerID      string
	SellerID     string
	Sequence     uint64
	ExecutedAt   time.Time
}

// PlaceRequest describes an incoming order placement.
type PlaceRequest struct {
	InstrumentID    string
	UserID          string
	Side            orderbook.Side
	Type            orderbook.Type
	TimeInForce     orderbook.TimeInForce
	Quantity        decimal.Decimal
	LimitPrice      decimal.Decimal
	HasLimitPrice   bool
	StopPrice       decimal.Decimal
	HasStopPrice    bool
	TrailingOffset  decimal.Decimal
	HasTrailing     bool
	IcebergVisible  decimal.Decimal
	IsIceberg       bool
	OCOGroupID      string
	ClientOrderKey  string
}

// RiskEngine is the subset of internal/risk's interface the matching engine
// calls into before accepting an order.
type RiskEngine interface {
	ValidateOrder(ctx context.Context, req PlaceRequest, estimatedPrice decimal.Decimal) error
}

// TradePublisher is the subset of internal/hub's interface used to fan out
// order-book and trade events; kept as a narrow interface so matching has no
// import-time dependency on the hub package.
type TradePublisher interface {
	PublishTrade(instrumentID string, t Trade)
	PublishOrderUpdate(instrumentID string, o *orderbook.Order)
}

// PositionOpener books the margin-position side of a fill on a leveraged
// instrument, satisfied by internal/persist.MarginStore. Kept narrow like
// RiskEngine and TradePublisher so matching has no import-time dependency on
// internal/margin.
type PositionOpener interface {
	ApplyFill(ctx context.Context, userID, instrumentID, side string, quantity, price, marginUsed decimal.Decimal) error
}

// TradeStore persists each trade with an instrument-scoped sequence number
// and records order state transitions, grounded on
// internal/persist/snapshot.go's SaveTrade/order-replace pattern.
type TradeStore interface {
	SaveTrade(ctx context.Context, t Trade) error
	SaveOrder(ctx context.Context, o *orderbook.Order) error
}

// Instrument carries the tick/lot alignment and leverage limits RiskEngine
// and MatchingEngine both need.
type Instrument struct {
	ID            string
	TickSize      decimal.Decimal
	LotSize       decimal.Decimal
	MaxLeverage   decimal.Decimal
	MarginAllowed bool
	ShortAllowed  bool
}

// instrumentState bundles one instrument's book, market status, and
// sequence counter, each guarded by its own mutex so unrelated instruments
// never contend (spec §5 "per-instrument serialization").
type instrumentState struct {
	mu         sync.Mutex
	book       *orderbook.Book
	instrument Instrument
	status     MarketState
	statusReason string
	lastTradePrice decimal.Decimal
	hasTraded  bool
	sequence   uint64
}

// Engine owns one OrderBook per instrument plus the persistence and
// publishing adapters. Matching itself never suspends; persistence and
// publishing happen after the in-memory mutation completes.
type Engine struct {
	cfg       *config.Provider
	risk      RiskEngine
	ledger    *ledger.Ledger
	positions PositionOpener
	store     TradeStore
	pub       TradePublisher

	mu          sync.RWMutex
	instruments map[string]*instrumentState
}

// New creates a MatchingEngine. positions may be nil if no leveraged
// instrument will ever be registered; cash settlement through lg still
// happens for every fill regardless.
func New(cfg *config.Provider, risk RiskEngine, lg *ledger.Ledger, positions PositionOpener, store TradeStore, pub TradePublisher) *Engine {
	return &Engine{
		cfg:         cfg,
		risk:        risk,
		ledger:      lg,
		positions:   positions,
		store:       store,
		pub:         pub,
		instruments: make(map[string]*instrumentState),
	}
}

// RegisterInstrument adds a tradable instrument with an empty book in the
// open state.
func (e *Engine) RegisterInstrument(inst Instrument) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.instruments[inst.ID] = &instrumentState{
		book:       orderbook.NewBook(inst.ID),
		instrument: inst,
		status:     MarketOpen,
	}
}

// SetMarketStatus transitions an instrument's market status.
func (e *Engine) SetMarketStatus(instrumentID string, status MarketState, reason string) error {
	st, err := e.stateFor(instrumentID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status = status
	st.statusReason = reason
	return nil
}

func (e *Engine) stateFor(instrumentID string) (*instrumentState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.instruments[instrumentID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "instrument %s not found", instrumentID)
	}
	return st, nil
}

// Book exposes the underlying book for read-only pricing/depth queries.
func (e *Engine) Book(instrumentID string) (*orderbook.Book, error) {
	st, err := e.stateFor(instrumentID)
	if err != nil {
		return nil, err
	}
	return st.book, nil
}

// MarketStatus reports an instrument's current singleton status and reason.
func (e *Engine) MarketStatus(instrumentID string) (MarketState, string, error) {
	st, err := e.stateFor(instrumentID)
	if err != nil {
		return "", "", err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status, st.statusReason, nil
}

// Place validates and routes an incoming order through the algorithm in the
// placement-rule table: risk checks, then repeated best-opposing-level
// matching, then rest-or-cancel of the remainder.
func (e *Engine) Place(ctx context.Context, req PlaceRequest) (*orderbook.Order, []Trade, error) {
	st, err := e.stateFor(req.InstrumentID)
	if err != nil {
		return nil, nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.status != MarketOpen {
		return nil, nil, apperr.New(apperr.MarketNotOpen, "instrument %s is %s", req.InstrumentID, st.status)
	}

	estimate := req.LimitPrice
	if !req.HasLimitPrice {
		estimate = st.estimatedPrice()
	}
	if e.risk != nil {
		if err := e.risk.ValidateOrder(ctx, req, estimate); err != nil {
			return nil, nil, err
		}
	}

	order := &orderbook.Order{
		ID:             orderbook.NextOrderID(),
		InstrumentID:   req.InstrumentID,
		UserID:         req.UserID,
		Side:           req.Side,
		Type:           req.Type,
		TimeInForce:    req.TimeInForce,
		Original:       req.Quantity,
		Remaining:      req.Quantity,
		LimitPrice:     req.LimitPrice,
		HasLimitPrice:  req.HasLimitPrice,
		StopPrice:      req.StopPrice,
		HasStop:        req.HasStopPrice,
		TrailingOffset: req.TrailingOffset,
		HasTrailing:    req.HasTrailing,
		IcebergVisible: req.IcebergVisible,
		IsIceberg:      req.IsIceberg,
		OCOGroupID:     req.OCOGroupID,
		Status:         orderbook.StatusPending,
		ClientOrderKey: req.ClientOrderKey,
		CreatedAt:      time.Now(),
	}
	if order.IsIceberg {
		order.Remaining = order.IcebergVisible
		order.InitIcebergReserve()
	}

	if order.IsDormant() {
		st.book.Add(order)
		e.persistOrder(ctx, order)
		return order, nil, nil
	}

	if order.Type == orderbook.TypeFOK {
		if !st.hasSufficientLiquidity(order) {
			order.Status = orderbook.StatusCancelled
			e.persistOrder(ctx, order)
			return order, nil, nil
		}
	}

	trades := e.matchLocked(ctx, st, order)

	switch {
	case order.Remaining.IsZero():
		order.Status = orderbook.StatusFilled
	case order.Type == orderbook.TypeMarket || order.Type == orderbook.TypeIOC || order.Type == orderbook.TypeFOK:
		order.Status = orderbook.StatusCancelled
		if !order.Original.Equal(order.Remaining) {
			order.Status = orderbook.StatusPartial
		}
	default:
		if order.Remaining.LessThan(order.Original) {
			order.Status = orderbook.StatusPartial
		}
		st.book.Add(order)
	}

	e.persistOrder(ctx, order)
	if e.pub != nil {
		e.pub.PublishOrderUpdate(req.InstrumentID, order)
	}

	if len(trades) > 0 && order.OCOGroupID != "" {
		e.cancelOCOSiblings(ctx, st, order)
	}

	return order, trades, nil
}

// Cancel removes a resting or dormant order. Returns apperr.NotFound if it
// doesn't exist.
func (e *Engine) Cancel(ctx context.Context, instrumentID string, orderID uint64) (*orderbook.Order, error) {
	st, err := e.stateFor(instrumentID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	o := st.book.Cancel(orderID)
	if o == nil {
		return nil, apperr.New(apperr.NotFound, "order %d not found", orderID)
	}
	o.Status = orderbook.StatusCancelled
	e.persistOrder(ctx, o)
	if e.pub != nil {
		e.pub.PublishOrderUpdate(instrumentID, o)
	}
	return o, nil
}

// onTradePrice is called after every trade to check dormant stop/stop-limit/
// trailing-stop orders for activation and to update trailing-stop trackers.
func (e *Engine) onTradePrice(ctx context.Context, st *instrumentState, price decimal.Decimal) {
	st.lastTradePrice = price
	st.hasTraded = true

	for _, o := range st.book.DormantOrders() {
		if o.HasTrailing {
			o.UpdateTrailingStop(price)
		}
		if o.Triggered(price) {
			activated := st.book.ActivateDormant(o.ID)
			if activated == nil {
				continue
			}
			e.activate(ctx, st, activated)
		}
	}
}

// activate converts a triggered stop/stop-limit order into a live
// market/limit order and routes it through the same matching path.
func (e *Engine) activate(ctx context.Context, st *instrumentState, o *orderbook.Order) {
	if o.Type == orderbook.TypeStopLimit {
		o.Type = orderbook.TypeLimit
	} else {
		o.Type = orderbook.TypeMarket
	}
	trades := e.matchLocked(ctx, st, o)
	switch {
	case o.Remaining.IsZero():
		o.Status = orderbook.StatusFilled
	case o.Type == orderbook.TypeMarket:
		o.Status = orderbook.StatusCancelled
	default:
		if o.Remaining.LessThan(o.Original) {
			o.Status = orderbook.StatusPartial
		}
		st.book.Add(o)
	}
	e.persistOrder(ctx, o)
	if e.pub != nil {
		e.pub.PublishOrderUpdate(o.InstrumentID, o)
	}
	if len(trades) > 0 && o.OCOGroupID != "" {
		e.cancelOCOSiblings(ctx, st, o)
	}
}

// matchLocked walks the opposing book, consuming up to order.Remaining at
// prices acceptable to order. Caller must already hold st.mu.
func (e *Engine) matchLocked(ctx context.Context, st *instrumentState, order *orderbook.Order) []Trade {
	var trades []Trade

	for order.Remaining.IsPositive() {
		maker, ok := st.book.BestOpposing(order.Side)
		if !ok {
			break
		}
		if !crosses(order, maker) {
			break
		}

		qty := decimal.Min(order.Remaining, maker.VisibleQuantity())
		price := maker.Price() // taker pays maker's price

		st.book.ReduceRemaining(order, qty)
		st.book.ReduceRemaining(maker, qty)

		st.sequence++
		trade := Trade{
			ID:           uuid.New().String(),
			InstrumentID: order.InstrumentID,
			Price:        price,
			Quantity:     qty,
			Sequence:     st.sequence,
			ExecutedAt:   time.Now(),
		}
		if order.Side == orderbook.SideBuy {
			trade.BuyOrderID, trade.BuyerID = order.ID, order.UserID
			trade.SellOrderID, trade.SellerID = maker.ID, maker.UserID
		} else {
			trade.BuyOrderID, trade.BuyerID = maker.ID, maker.UserID
			trade.SellOrderID, trade.SellerID = order.ID, order.UserID
		}
		trades = append(trades, trade)

		if e.store != nil {
			e.store.SaveTrade(ctx, trade)
		}
		if e.pub != nil {
			e.pub.PublishTrade(order.InstrumentID, trade)
		}
		e.settleTrade(ctx, st, trade)

		if maker.Remaining.IsZero() {
			if maker.IsIceberg {
				slice := maker.ReplenishIceberg()
				if slice.IsPositive() {
					st.book.SetRemaining(maker, slice)
					maker.Status = orderbook.StatusPartial
					st.book.MoveToTail(maker)
				} else {
					maker.Status = orderbook.StatusFilled
					st.book.RemoveIfExhausted(maker)
				}
			} else {
				maker.Status = orderbook.StatusFilled
				st.book.RemoveIfExhausted(maker)
			}
			e.persistOrder(ctx, maker)
			if e.pub != nil {
				e.pub.PublishOrderUpdate(maker.InstrumentID, maker)
			}
			if maker.OCOGroupID != "" {
				e.cancelOCOSiblings(ctx, st, maker)
			}
		} else {
			maker.Status = orderbook.StatusPartial
			e.persistOrder(ctx, maker)
		}

		e.onTradePrice(ctx, st, price)
	}

	return trades
}

// settleTrade books a completed fill's balance-sheet effect. Cash/spot
// instruments move the full notional from buyer to seller through the
// Ledger, satisfying "balance must move on a fill". Leveraged instruments
// instead open or extend each side's margin position — no cash moves at
// entry, since margin.Service.Snapshot derives equity from balance plus
// unrealized PnL and only realizes PnL through the Ledger when a position
// closes.
func (e *Engine) settleTrade(ctx context.Context, st *instrumentState, trade Trade) {
	notional := trade.Price.Mul(trade.Quantity)

	if !st.instrument.MarginAllowed || e.positions == nil {
		if e.ledger == nil {
			return
		}
		amount := notional.Round(0).IntPart()
		if amount <= 0 {
			return
		}
		if _, err := e.ledger.Debit(ctx, trade.BuyerID, amount, ledger.TxOrderDebit); err != nil {
			log.Printf("matching: debit buyer %s for trade %s: %v", trade.BuyerID, trade.ID, err)
		}
		if _, err := e.ledger.Credit(ctx, trade.SellerID, amount, ledger.TxOrderCredit); err != nil {
			log.Printf("matching: credit seller %s for trade %s: %v", trade.SellerID, trade.ID, err)
		}
		return
	}

	leverage := st.instrument.MaxLeverage
	if !leverage.IsPositive() {
		leverage = decimal.NewFromInt(1)
	}
	marginUsed := notional.Div(leverage)

	if err := e.positions.ApplyFill(ctx, trade.BuyerID, trade.InstrumentID, "long", trade.Quantity, trade.Price, marginUsed); err != nil {
		log.Printf("matching: open long position for buyer %s on trade %s: %v", trade.BuyerID, trade.ID, err)
	}
	if err := e.positions.ApplyFill(ctx, trade.SellerID, trade.InstrumentID, "short", trade.Quantity, trade.Price, marginUsed); err != nil {
		log.Printf("matching: open short position for seller %s on trade %s: %v", trade.SellerID, trade.ID, err)
	}
}

// cancelOCOSiblings cancels every other resting or dormant order sharing
// order's OCO group id, on the same instrument.
func (e *Engine) cancelOCOSiblings(ctx context.Context, st *instrumentState, order *orderbook.Order) {
	siblings := append(st.book.AllOrders(), st.book.DormantOrders()...)
	for _, o := range siblings {
		if o.OCOGroupID == order.OCOGroupID && o.ID != order.ID {
			st.book.Cancel(o.ID)
			o.Status = orderbook.StatusCancelled
			e.persistOrder(ctx, o)
			if e.pub != nil {
				e.pub.PublishOrderUpdate(o.InstrumentID, o)
			}
		}
	}
}

func (e *Engine) persistOrder(ctx context.Context, o *orderbook.Order) {
	if e.store != nil {
		e.store.SaveOrder(ctx, o)
	}
}

// hasSufficientLiquidity checks, for a FOK order, whether the opposing book
// holds at least order.Remaining at acceptable prices before any matching
// occurs. Caller must hold st.mu.
func (st *instrumentState) hasSufficientLiquidity(order *orderbook.Order) bool {
	available := st.book.VisibleLiquidity(order.Side, order.HasLimitPriceIsSet(), order.LimitPrice)
	return available.GreaterThanOrEqual(order.Remaining)
}

func (st *instrumentState) estimatedPrice() decimal.Decimal {
	if d, ok := st.book.BestBid(); ok {
		if a, ok2 := st.book.BestAsk(); ok2 {
			return d.Add(a).Div(decimal.NewFromInt(2))
		}
		return d
	}
	if a, ok := st.book.BestAsk(); ok {
		return a
	}
	if st.hasTraded {
		return st.lastTradePrice
	}
	return decimal.Zero
}

// crosses reports whether order is willing to trade at maker's price:
// market orders always cross; limit-family orders cross only at prices
// better than or equal to their limit.
func crosses(order *orderbook.Order, maker *orderbook.Order) bool {
	if order.Type == orderbook.TypeMarket {
		return true
	}
	if !order.HasLimitPriceIsSet() {
		return true
	}
	if order.Side == orderbook.SideBuy {
		return order.LimitPrice.GreaterThanOrEqual(maker.Price())
	}
	return order.LimitPrice.LessThanOrEqual(maker.Price())
}
