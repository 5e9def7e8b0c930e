// Package orderbook implements a price-time priority limit order book for a
// single instrument, grounded on the teacher's book.go: two price-indexed
// slices (bids descending, asks ascending) each holding a FIFO queue of
// resting orders, guarded by one RWMutex. Unlike the teacher's simulator
// book, levels are never trimmed to a fixed depth — dropping a resting order
// to cap display depth would violate "remaining <= original quantity" and
// strand real user funds, so Depth() truncates for presentation while the
// underlying levels stay complete.
package orderbook

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// PriceLevel holds orders at a single price point, in arrival order.
type PriceLevel struct {
	Price  decimal.Decimal
	Orders []*Order
}

// Book is a price-time priority order book for a single instrument.
type Book struct {
	mu           sync.RWMutex
	InstrumentID string
	Bids         []PriceLevel // sorted descending by price
	Asks         []PriceLevel // sorted ascending by price
	orderMap     map[uint64]*Order
	dormant      map[uint64]*Order // stop/stop-limit/trailing-stop orders awaiting trigger
}

// NewBook creates an empty order book for an instrument.
func NewBook(instrumentID string) *Book {
	return &Book{
		InstrumentID: instrumentID,
		orderMap:     make(map[uint64]*Order),
		dormant:      make(map[uint64]*Order),
	}
}

// BestBid returns the best bid price and whether one exists.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.Bids) == 0 {
		return decimal.Zero, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the best ask price and whether one exists.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	return b.Asks[0].Price, true
}

// Add inserts a resting order at its limit price, or registers a dormant
// stop/stop-limit/trailing-stop order that isn't exposed on a price level
// until it triggers.
func (b *Book) Add(o *Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if o.IsDormant() {
		b.dormant[o.ID] = o
		return
	}

	b.orderMap[o.ID] = o
	if o.Side == SideBuy {
		b.Bids = addToSide(b.Bids, o, true)
	} else {
		b.Asks = addToSide(b.Asks, o, false)
	}
}

// Cancel removes an order (resting or dormant) by ID. Returns the removed
// order, or nil if not found.
func (b *Book) Cancel(orderID uint64) *Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	if o, ok := b.dormant[orderID]; ok {
		delete(b.dormant, orderID)
		return o
	}

	o, ok := b.orderMap[orderID]
	if !ok {
		return nil
	}
	delete(b.orderMap, orderID)
	if o.Side == SideBuy {
		b.Bids = removeFromSide(b.Bids, orderID)
	} else {
		b.Asks = removeFromSide(b.Asks, orderID)
	}
	return o
}

// Get returns an order (resting or dormant) by ID, or nil.
func (b *Book) Get(orderID uint64) *Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if o, ok := b.orderMap[orderID]; ok {
		return o
	}
	return b.dormant[orderID]
}

// RemoveIfExhausted drops an order from its level once its remaining
// quantity reaches zero. Iceberg orders with hidden reserve remaining are
// replenished instead of removed; callers should check ReplenishIceberg
// before calling this for iceberg orders that still have reserve.
func (b *Book) RemoveIfExhausted(o *Order) {
	if !o.Remaining.IsZero() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.orderMap, o.ID)
	if o.Side == SideBuy {
		b.Bids = removeFromSide(b.Bids, o.ID)
	} else {
		b.Asks = removeFromSide(b.Asks, o.ID)
	}
}

// MoveToTail relocates an iceberg order's replenished slice to the tail of
// its price level, matching the teacher's ReplaceOrder treatment of a
// refreshed order as newly arrived priority.
func (b *Book) MoveToTail(o *Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if o.Side == SideBuy {
		b.Bids = removeFromSide(b.Bids, o.ID)
		b.Bids = addToSide(b.Bids, o, true)
	} else {
		b.Asks = removeFromSide(b.Asks, o.ID)
		b.Asks = addToSide(b.Asks, o, false)
	}
}

// ActivateDormant removes a dormant stop/stop-limit/trailing-stop order from
// the dormant set once its trigger condition fires, returning it so the
// matching engine can re-submit it as a live market/limit order.
func (b *Book) ActivateDormant(orderID uint64) *Order {
	b.mu.Lock()
	o, ok := b.dormant[orderID]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	delete(b.dormant, orderID)
	b.mu.Unlock()
	return o
}

// DormantOrders returns a snapshot of all dormant orders, for the matching
// engine's per-trade trigger scan.
func (b *Book) DormantOrders() []*Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Order, 0, len(b.dormant))
	for _, o := range b.dormant {
		out = append(out, o)
	}
	return out
}

// AllOrders returns all resting (non-dormant) orders, for persistence and
// crash recovery.
func (b *Book) AllOrders() []*Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	orders := make([]*Order, 0, len(b.orderMap))
	for _, o := range b.orderMap {
		orders = append(orders, o)
	}
	return orders
}

// BestOpposing returns the order at the front of the best price level on the
// given side, i.e. the order a taker on the opposite side would match
// against next.
func (b *Book) BestOpposing(side Side) (*Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	levels := b.Asks
	if side == SideSell {
		levels = b.Bids
	}
	if len(levels) == 0 || len(levels[0].Orders) == 0 {
		return nil, false
	}
	return levels[0].Orders[0], true
}

// VisibleLiquidity sums VisibleQuantity across resting orders on the given
// side at prices a limit order with limitPrice (if hasLimit) would accept,
// stopping at the first unacceptable level. Used for fill-or-kill
// pre-checks.
func (b *Book) VisibleLiquidity(side Side, hasLimit bool, limitPrice decimal.Decimal) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := b.Asks
	if side == SideSell {
		levels = b.Bids
	}

	total := decimal.Zero
	for _, lvl := range levels {
		if hasLimit {
			acceptable := lvl.Price.LessThanOrEqual(limitPrice)
			if side == SideSell {
				acceptable = lvl.Price.GreaterThanOrEqual(limitPrice)
			}
			if !acceptable {
				break
			}
		}
		for _, o := range lvl.Orders {
			total = total.Add(o.VisibleQuantity())
		}
	}
	return total
}

// OrderCount returns the number of resting orders.
func (b *Book) OrderCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.orderMap)
}

// DepthLevel represents aggregated data at a single price level.
type DepthLevel struct {
	Price       decimal.Decimal
	Orders      int
	TotalShares decimal.Decimal
}

// DepthSnapshot is a point-in-time snapshot of the book's top levels.
type DepthSnapshot struct {
	Bids     []DepthLevel
	Asks     []DepthLevel
	BestBid  decimal.Decimal
	BestAsk  decimal.Decimal
	Mid      decimal.Decimal
	HasQuote bool
}

// Depth returns a thread-safe snapshot of up to `levels` price levels per
// side. levels <= 0 means "all levels".
func (b *Book) Depth(levels int) DepthSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := DepthSnapshot{}

	bidLevels := b.Bids
	if levels > 0 && len(bidLevels) > levels {
		bidLevels = bidLevels[:levels]
	}
	for _, lvl := range bidLevels {
		total := decimal.Zero
		for _, o := range lvl.Orders {
			total = total.Add(o.VisibleQuantity())
		}
		snap.Bids = append(snap.Bids, DepthLevel{Price: lvl.Price, Orders: len(lvl.Orders), TotalShares: total})
	}

	askLevels := b.Asks
	if levels > 0 && len(askLevels) > levels {
		askLevels = askLevels[:levels]
	}
	for _, lvl := range askLevels {
		total := decimal.Zero
		for _, o := range lvl.Orders {
			total = total.Add(o.VisibleQuantity())
		}
		snap.Asks = append(snap.Asks, DepthLevel{Price: lvl.Price, Orders: len(lvl.Orders), TotalShares: total})
	}

	if len(b.Bids) > 0 {
		snap.BestBid = b.Bids[0].Price
	}
	if len(b.Asks) > 0 {
		snap.BestAsk = b.Asks[0].Price
	}
	if len(b.Bids) > 0 && len(b.Asks) > 0 {
		snap.Mid = snap.BestBid.Add(snap.BestAsk).Div(decimal.NewFromInt(2))
		snap.HasQuote = true
	}

	return snap
}

// ReduceRemaining decrements o.Remaining by qty under the book's lock, so a
// fill never races with a concurrent Depth/VisibleLiquidity reader observing
// the same order's quantity fields.
func (b *Book) ReduceRemaining(o *Order, qty decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o.Remaining = o.Remaining.Sub(qty)
}

// SetRemaining overwrites o.Remaining under the book's lock, for the iceberg
// replenish-slice case where the new remaining quantity isn't a simple
// decrement of the old one.
func (b *Book) SetRemaining(o *Order, qty decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o.Remaining = qty
}

// RestoreOrder adds an order to the book during crash-recovery replay,
// without generating a new ID.
func (b *Book) RestoreOrder(o *Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o.IsDormant() {
		b.dormant[o.ID] = o
		return
	}
	b.orderMap[o.ID] = o
	if o.Side == SideBuy {
		b.Bids = addToSide(b.Bids, o, true)
	} else {
		b.Asks = addToSide(b.Asks, o, false)
	}
}

// --- helpers ---

func addToSide(levels []PriceLevel, o *Order, descending bool) []PriceLevel {
	for i := range levels {
		if levels[i].Price.Equal(o.Price()) {
			levels[i].Orders = append(levels[i].Orders, o)
			return levels
		}
	}

	newLevel := PriceLevel{Price: o.Price(), Orders: []*Order{o}}
	levels = append(levels, newLevel)

	if descending {
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price.GreaterThan(levels[j].Price) })
	} else {
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price.LessThan(levels[j].Price) })
	}
	return levels
}

func removeFromSide(levels []PriceLevel, orderID uint64) []PriceLevel {
	for i := range levels {
		for j := range levels[i].Orders {
			if levels[i].Orders[j].ID == orderID {
				levels[i].Orders = append(levels[i].Orders[:j], levels[i].Orders[j+1:]...)
				if len(levels[i].Orders) == 0 {
					levels = append(levels[:i], levels[i+1:]...)
				}
				return levels
			}
		}
	}
	return levels
}
