package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"
)

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newRestingOrder(side Side, price, qty string) *Order {
	return &Order{
		ID:         NextOrderID(),
		Side:       side,
		Type:       TypeLimit,
		LimitPrice: mustDec(price),
		Original:   mustDec(qty),
		Remaining:  mustDec(qty),
		Status:     StatusPending,
	}
}

func TestAddOrderAppearsAtCorrectPriceLevel(t *testing.T) {
	b := NewBook("INST1")
	o := newRestingOrder(SideBuy, "10.00", "5")
	b.Add(o)

	bid, ok := b.BestBid()
	if !ok || !bid.Equal(mustDec("10.00")) {
		t.Fatalf("BestBid = %v, ok=%v, want 10.00", bid, ok)
	}
}

func TestBidsDescendingAsksAscending(t *testing.T) {
	b := NewBook("INST1")
	b.Add(newRestingOrder(SideBuy, "9.00", "1"))
	b.Add(newRestingOrder(SideBuy, "10.00", "1"))
	b.Add(newRestingOrder(SideSell, "12.00", "1"))
	b.Add(newRestingOrder(SideSell, "11.00", "1"))

	if len(b.Bids) != 2 || !b.Bids[0].Price.Equal(mustDec("10.00")) {
		t.Fatalf("bids not sorted descending: %+v", b.Bids)
	}
	if len(b.Asks) != 2 || !b.Asks[0].Price.Equal(mustDec("11.00")) {
		t.Fatalf("asks not sorted ascending: %+v", b.Asks)
	}
}

func TestSamePriceOrdersQueueFIFO(t *testing.T) {
	b := NewBook("INST1")
	first := newRestingOrder(SideBuy, "10.00", "1")
	second := newRestingOrder(SideBuy, "10.00", "1")
	b.Add(first)
	b.Add(second)

	if len(b.Bids) != 1 {
		t.Fatalf("expected one price level, got %d", len(b.Bids))
	}
	if b.Bids[0].Orders[0].ID != first.ID || b.Bids[0].Orders[1].ID != second.ID {
		t.Fatal("orders at same price level not in arrival order")
	}
}

func TestCancelRemovesOrderAndEmptiesLevel(t *testing.T) {
	b := NewBook("INST1")
	o := newRestingOrder(SideBuy, "10.00", "1")
	b.Add(o)

	removed := b.Cancel(o.ID)
	if removed == nil || removed.ID != o.ID {
		t.Fatal("expected cancel to return the order")
	}
	if len(b.Bids) != 0 {
		t.Fatalf("expected empty level after cancelling sole order, got %d levels", len(b.Bids))
	}
	if b.Get(o.ID) != nil {
		t.Fatal("cancelled order should no longer be retrievable")
	}
}

func TestCancelUnknownOrderReturnsNil(t *testing.T) {
	b := NewBook("INST1")
	if b.Cancel(999) != nil {
		t.Fatal("expected nil for unknown order id")
	}
}

func TestDormantOrdersAreNotOnPriceLevels(t *testing.T) {
	b := NewBook("INST1")
	o := &Order{
		ID:        NextOrderID(),
		Side:      SideBuy,
		Type:      TypeStop,
		HasStop:   true,
		StopPrice: mustDec("15.00"),
		Original:  mustDec("1"),
		Remaining: mustDec("1"),
		Status:    StatusPending,
	}
	b.Add(o)

	if len(b.Bids) != 0 {
		t.Fatal("dormant stop order should not appear on a price level")
	}
	if b.Get(o.ID) == nil {
		t.Fatal("dormant order should still be retrievable by id")
	}

	activated := b.ActivateDormant(o.ID)
	if activated == nil || activated.ID != o.ID {
		t.Fatal("expected ActivateDormant to return the dormant order")
	}
	if b.Get(o.ID) != nil {
		t.Fatal("activated order should be removed from dormant tracking")
	}
}

func TestDepthRespectsLevelLimit(t *testing.T) {
	b := NewBook("INST1")
	for _, p := range []string{"8.00", "9.00", "10.00"} {
		b.Add(newRestingOrder(SideBuy, p, "1"))
	}

	d := b.Depth(2)
	if len(d.Bids) != 2 {
		t.Fatalf("Depth(2) bids = %d, want 2", len(d.Bids))
	}
	if !d.Bids[0].Price.Equal(mustDec("10.00")) {
		t.Fatalf("top bid = %v, want 10.00", d.Bids[0].Price)
	}
}

func TestDepthMidAndHasQuote(t *testing.T) {
	b := NewBook("INST1")
	b.Add(newRestingOrder(SideBuy, "10.00", "1"))
	b.Add(newRestingOrder(SideSell, "12.00", "1"))

	d := b.Depth(0)
	if !d.HasQuote {
		t.Fatal("expected HasQuote true with both sides populated")
	}
	if !d.Mid.Equal(mustDec("11.00")) {
		t.Fatalf("mid = %v, want 11.00", d.Mid)
	}
}

func TestIcebergReplenishFromReserve(t *testing.T) {
	o := &Order{
		ID:             NextOrderID(),
		Side:           SideSell,
		Type:           TypeIceberg,
		IsIceberg:      true,
		LimitPrice:     mustDec("10.00"),
		Original:       mustDec("5"),
		Remaining:      mustDec("2"),
		IcebergVisible: mustDec("2"),
	}
	o.InitIcebergReserve()

	if !o.VisibleQuantity().Equal(mustDec("2")) {
		t.Fatalf("VisibleQuantity = %v, want 2", o.VisibleQuantity())
	}

	o.Remaining = decimal.Zero
	slice := o.ReplenishIceberg()
	if !slice.Equal(mustDec("2")) {
		t.Fatalf("first replenish slice = %v, want 2", slice)
	}

	o.Remaining = decimal.Zero
	slice = o.ReplenishIceberg()
	if !slice.Equal(mustDec("1")) {
		t.Fatalf("final replenish slice = %v, want 1 (reserve exhausted)", slice)
	}

	slice = o.ReplenishIceberg()
	if !slice.IsZero() {
		t.Fatalf("replenish after reserve exhausted = %v, want 0", slice)
	}
}

func TestTrailingStopTracksExtremeAndTriggers(t *testing.T) {
	o := &Order{
		ID:             NextOrderID(),
		Side:           SideSell,
		Type:           TypeTrailingStop,
		HasTrailing:    true,
		TrailingOffset: mustDec("2.00"),
	}

	o.UpdateTrailingStop(mustDec("100.00"))
	if !o.StopPrice.Equal(mustDec("98.00")) {
		t.Fatalf("initial stop = %v, want 98.00", o.StopPrice)
	}

	o.UpdateTrailingStop(mustDec("105.00")) // new high for a sell trailing-stop
	if !o.StopPrice.Equal(mustDec("103.00")) {
		t.Fatalf("stop after new high = %v, want 103.00", o.StopPrice)
	}

	if o.Triggered(mustDec("104.00")) {
		t.Fatal("should not trigger above stop")
	}
	if !o.Triggered(mustDec("103.00")) {
		t.Fatal("should trigger at or below stop")
	}
}
