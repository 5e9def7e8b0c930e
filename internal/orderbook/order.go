package orderbook

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents buy or sell.
type Side byte

const (
	SideBuy  Side = 'B'
	SideSell Side = 'S'
)

// Type is an order-type tag per the placement/rest-behavior table.
type Type string

const (
	TypeMarket        Type = "market"
	TypeLimit         Type = "limit"
	TypeIOC           Type = "ioc"
	TypeFOK           Type = "fok"
	TypeStop          Type = "stop"
	TypeStopLimit     Type = "stop_limit"
	TypeTrailingStop  Type = "trailing_stop"
	TypeIceberg       Type = "iceberg"
)

// TimeInForce controls what happens to an order's remainder after matching.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFDAY TimeInForce = "DAY"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// Status is an order's lifecycle state. Transitions are monotonic:
// pending -> partial -> filled, or -> cancelled from any non-terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPartial   Status = "partial"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
)

// Order is a single resting or dormant order on one instrument's book.
type Order struct {
	ID             uint64
	InstrumentID   string
	UserID         string
	Side           Side
	Type           Type
	TimeInForce    TimeInForce
	Original       decimal.Decimal // original quantity in lots
	Remaining      decimal.Decimal // remaining quantity in lots
	LimitPrice     decimal.Decimal // meaningful only when HasLimitPrice
	HasLimitPrice  bool
	StopPrice      decimal.Decimal
	HasStop        bool
	TrailingOffset decimal.Decimal
	HasTrailing    bool

	// Iceberg
	IcebergVisible decimal.Decimal
	IsIceberg      bool
	hiddenReserve  decimal.Decimal

	// OCO
	OCOGroupID string

	Status             Status
	ClientOrderKey      string
	Priority           int64 // arrival sequence within a price level
	CreatedAt          time.Time

	// Trailing-stop bookkeeping: most favorable price observed since placement.
	extremeSeen decimal.Decimal
	sawExtreme  bool
}

// IsDormant reports whether the order belongs to the stop/stop-limit/
// trailing-stop dormant list rather than resting on a live price level.
func (o *Order) IsDormant() bool {
	return o.Type == TypeStop || o.Type == TypeStopLimit || o.Type == TypeTrailingStop
}

// HasLimitPriceIsSet reports whether the order carries a limit price to
// cross against, as opposed to a bare market order.
func (o *Order) HasLimitPriceIsSet() bool {
	return o.HasLimitPrice
}

// Price returns the price an order rests at on its price level.
func (o *Order) Price() decimal.Decimal {
	return o.LimitPrice
}

// VisibleQuantity returns the quantity currently exposed at the order's
// price level: the iceberg slice if IsIceberg, else the full remaining.
func (o *Order) VisibleQuantity() decimal.Decimal {
	if o.IsIceberg {
		if o.Remaining.LessThan(o.IcebergVisible) {
			return o.Remaining
		}
		return o.IcebergVisible
	}
	return o.Remaining
}

// ReplenishIceberg exposes another slice from the hidden reserve after the
// visible slice is fully consumed. Returns the newly exposed quantity.
func (o *Order) ReplenishIceberg() decimal.Decimal {
	if !o.IsIceberg || o.hiddenReserve.IsZero() {
		return decimal.Zero
	}
	slice := o.IcebergVisible
	if o.hiddenReserve.LessThan(slice) {
		slice = o.hiddenReserve
	}
	o.hiddenReserve = o.hiddenReserve.Sub(slice)
	return slice
}

// InitIcebergReserve sets the hidden reserve to (original - visible) at
// placement time; the visible slice itself lives in Remaining/IcebergVisible.
func (o *Order) InitIcebergReserve() {
	reserve := o.Original.Sub(o.IcebergVisible)
	if reserve.IsNegative() {
		reserve = decimal.Zero
	}
	o.hiddenReserve = reserve
}

// UpdateTrailingStop recomputes the dormant stop price given the latest
// trade price, tracking the most favorable price seen since placement.
// Buy trailing-stops trigger on a rebound: stop = min_seen + offset.
// Sell trailing-stops trigger on a pullback: stop = max_seen - offset.
func (o *Order) UpdateTrailingStop(lastPrice decimal.Decimal) {
	if !o.sawExtreme {
		o.extremeSeen = lastPrice
		o.sawExtreme = true
	} else if o.Side == SideBuy && lastPrice.LessThan(o.extremeSeen) {
		o.extremeSeen = lastPrice
	} else if o.Side == SideSell && lastPrice.GreaterThan(o.extremeSeen) {
		o.extremeSeen = lastPrice
	}

	if o.Side == SideBuy {
		o.StopPrice = o.extremeSeen.Add(o.TrailingOffset)
	} else {
		o.StopPrice = o.extremeSeen.Sub(o.TrailingOffset)
	}
}

// Triggered reports whether the dormant order's stop condition has fired
// given the latest trade price: buy stops trigger when price rises to meet
// or exceed the stop; sell stops trigger when price falls to meet or go
// below it.
func (o *Order) Triggered(lastPrice decimal.Decimal) bool {
	if o.Side == SideBuy {
		return lastPrice.GreaterThanOrEqual(o.StopPrice)
	}
	return lastPrice.LessThanOrEqual(o.StopPrice)
}

// global order ID counter, in the teacher's atomic-counter style.
var orderIDCounter uint64

// NextOrderID returns a globally unique order reference number.
func NextOrderID() uint64 {
	return atomic.AddUint64(&orderIDCounter, 1)
}

// SetOrderIDCounter sets the counter (for restoring from persistence).
func SetOrderIDCounter(val uint64) {
	atomic.StoreUint64(&orderIDCounter, val)
}

// GetOrderIDCounter returns the current counter value for persistence.
func GetOrderIDCounter() uint64 {
	return atomic.LoadUint64(&orderIDCounter)
}
