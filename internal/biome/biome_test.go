package biome

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/clock"
	"github.com/biomeexchange/core/internal/config"
	"github.com/biomeexchange/core/internal/ledger"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type memLedgerStore struct {
	mu       sync.Mutex
	balances map[string]int64
}

func (m *memLedgerStore) GetUserForUpdate(ctx context.Context, userID string) (ledger.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ledger.User{ID: userID, Balance: m.balances[userID]}, nil
}

func (m *memLedgerStore) SetBalance(ctx context.Context, userID string, newBalance int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = newBalance
	return nil
}

func (m *memLedgerStore) InsertTransaction(ctx context.Context, tx ledger.TransactionRecord) error {
	return nil
}

type memStore struct {
	mu       sync.Mutex
	holdings map[string]Holding
	markets  []Market
	history  []PriceHistoryPoint
}

func newMemStore() *memStore {
	return &memStore{holdings: make(map[string]Holding)}
}

func holdingKey(userID string, biome ID) string { return userID + "|" + string(biome) }

func (s *memStore) SaveMarket(ctx context.Context, m Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets = append(s.markets, m)
	return nil
}

func (s *memStore) GetHolding(ctx context.Context, userID string, biome ID) (Holding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holdings[holdingKey(userID, biome)]
	return h, ok, nil
}

func (s *memStore) SaveHolding(ctx context.Context, h Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdings[holdingKey(h.UserID, h.Biome)] = h
	return nil
}

func (s *memStore) AppendPriceHistory(ctx context.Context, p PriceHistoryPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, p)
	return nil
}

type fakePublisher struct {
	mu      sync.Mutex
	updates []ID
	alls    int
}

func (f *fakePublisher) PublishBiomeUpdate(biome ID, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, biome)
}

func (f *fakePublisher) PublishBiomeUpdateAll(payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alls++
}

func testConfig(overrides func(*config.Snapshot)) *config.Provider {
	snap := &config.Snapshot{
		BiomeTradeFeePercent:      2.0,
		MaxTransactionPercent:     50.0,
		RedistributionPoolPercent: 10.0,
		MaxPriceMovePercent:       5.0,
	}
	if overrides != nil {
		overrides(snap)
	}
	return config.NewProvider(snap)
}

func newTestEngine(cfg *config.Provider, store *memStore, pub *fakePublisher) (*Engine, *ledger.Ledger) {
	lgStore := &memLedgerStore{balances: make(map[string]int64)}
	lg := ledger.New(lgStore)
	e := New(cfg, lg, store, pub, clock.Real{}, InitConfig{
		InitialCashMinor:   100_000,
		InitialTotalShares: dec("1000"),
	})
	return e, lg
}

func TestBuyDebitsPrincipalPlusFeeAndCreditsHolding(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{}
	cfg := testConfig(nil)
	e, lg := newTestEngine(cfg, store, pub)

	if _, err := lg.Credit(context.Background(), "u1", 10_000, ledger.TxTopup); err != nil {
		t.Fatalf("fund: %v", err)
	}

	tx, err := e.Buy(context.Background(), "u1", Ocean, 1000)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	// price = 100000/1000 = 100 per share; shares = 1000/100 = 10
	if tx.Shares != "10" {
		t.Fatalf("shares = %s, want 10", tx.Shares)
	}
	wantFee := int64(20) // floor(1000 * 0.02)
	if tx.PlatformFee != wantFee {
		t.Fatalf("fee = %d, want %d", tx.PlatformFee, wantFee)
	}

	bal, _ := lg.GetBalance(context.Background(), "u1")
	if bal != 10_000-1000-wantFee {
		t.Fatalf("balance = %d, want %d", bal, 10_000-1000-wantFee)
	}

	m, err := e.Snapshot(Ocean)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if m.CashMinor != 101_000 {
		t.Fatalf("market cash = %d, want 101000 (fee excluded)", m.CashMinor)
	}

	h, found, err := store.GetHolding(context.Background(), "u1", Ocean)
	if err != nil || !found {
		t.Fatalf("expected holding to exist: %v %v", found, err)
	}
	if !h.Shares.Equal(dec("10")) {
		t.Fatalf("holding shares = %v, want 10", h.Shares)
	}
	if len(pub.updates) != 1 || pub.updates[0] != Ocean {
		t.Fatalf("expected one publish for ocean, got %v", pub.updates)
	}
}

func TestBuyRejectsAmountAboveMaxTransactionPercent(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{}
	cfg := testConfig(func(s *config.Snapshot) { s.MaxTransactionPercent = 1.0 })
	e, lg := newTestEngine(cfg, store, pub)
	if _, err := lg.Credit(context.Background(), "u1", 1_000_000, ledger.TxTopup); err != nil {
		t.Fatalf("fund: %v", err)
	}

	_, err := e.Buy(context.Background(), "u1", Ocean, 50_000)
	if apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected Validation, got %v", err)
	}
}

func TestBuyRejectsWhenTradingPaused(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{}
	cfg := testConfig(func(s *config.Snapshot) { s.BiomeTradingPaused = true })
	e, lg := newTestEngine(cfg, store, pub)
	if _, err := lg.Credit(context.Background(), "u1", 10_000, ledger.TxTopup); err != nil {
		t.Fatalf("fund: %v", err)
	}

	_, err := e.Buy(context.Background(), "u1", Ocean, 1000)
	if apperr.KindOf(err) != apperr.MarketNotOpen {
		t.Fatalf("expected MarketNotOpen, got %v", err)
	}
}

func TestSellCreditsNetProceedsAndReducesMarketCash(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{}
	cfg := testConfig(nil)
	e, lg := newTestEngine(cfg, store, pub)
	if _, err := lg.Credit(context.Background(), "u1", 10_000, ledger.TxTopup); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if _, err := e.Buy(context.Background(), "u1", Ocean, 1000); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	tx, err := e.Sell(context.Background(), "u1", Ocean, dec("5"))
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	// price after buy = 101000/1000 = 101; gross = floor(5*101) = 505; fee = floor(505*0.02) = 10; net = 495
	if tx.Amount != 495 {
		t.Fatalf("credited amount = %d, want 495", tx.Amount)
	}

	m, err := e.Snapshot(Ocean)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if m.CashMinor != 101_000-505 {
		t.Fatalf("market cash = %d, want %d", m.CashMinor, 101_000-505)
	}

	h, found, err := store.GetHolding(context.Background(), "u1", Ocean)
	if err != nil || !found {
		t.Fatalf("expected holding to remain: %v %v", found, err)
	}
	if !h.Shares.Equal(dec("5")) {
		t.Fatalf("remaining shares = %v, want 5", h.Shares)
	}
}

func TestSellRejectsWhenHoldingInsufficient(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{}
	cfg := testConfig(nil)
	e, _ := newTestEngine(cfg, store, pub)

	_, err := e.Sell(context.Background(), "u1", Ocean, dec("1"))
	if apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected Validation for missing holding, got %v", err)
	}
}

func TestTrackAccumulatesAttentionOnMarketAndUser(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{}
	cfg := testConfig(nil)
	e, _ := newTestEngine(cfg, store, pub)

	if err := e.Track(context.Background(), "u1", Ocean, dec("3")); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if err := e.Track(context.Background(), "u2", Ocean, dec("2")); err != nil {
		t.Fatalf("Track: %v", err)
	}

	m, err := e.Snapshot(Ocean)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !m.Attention.Equal(dec("5")) {
		t.Fatalf("market attention = %v, want 5", m.Attention)
	}
}

func TestRedistributeIsNoOpWhenAttentionIsZero(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{}
	cfg := testConfig(nil)
	e, _ := newTestEngine(cfg, store, pub)

	before, _ := e.Snapshot(Ocean)
	e.Redistribute(context.Background())
	after, _ := e.Snapshot(Ocean)

	if after.CashMinor != before.CashMinor {
		t.Fatalf("cash should not move with zero total attention: before=%d after=%d", before.CashMinor, after.CashMinor)
	}
	if after.LastRedistribution.IsZero() {
		t.Fatal("expected LastRedistribution to be stamped even on a no-op cycle")
	}
}

func TestRedistributeIsNoOpWhenPricesFrozen(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{}
	cfg := testConfig(func(s *config.Snapshot) { s.BiomePricesFrozen = true })
	e, _ := newTestEngine(cfg, store, pub)
	_ = e.Track(context.Background(), "u1", Ocean, dec("100"))

	before, _ := e.Snapshot(Ocean)
	e.Redistribute(context.Background())
	after, _ := e.Snapshot(Ocean)

	if after != before {
		t.Fatalf("expected no change while frozen: before=%+v after=%+v", before, after)
	}
}

func TestRedistributeMovesCashTowardHighAttentionBiomeAndConservesTotal(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{}
	cfg := testConfig(nil)
	e, _ := newTestEngine(cfg, store, pub)

	_ = e.Track(context.Background(), "u1", Ocean, dec("100"))
	// every other biome gets zero attention, so Ocean should gain cash net.

	beforeTotal := int64(0)
	for _, m := range e.AllMarkets() {
		beforeTotal += m.CashMinor
	}

	e.Redistribute(context.Background())

	afterTotal := int64(0)
	var oceanAfter, beachAfter Market
	for _, m := range e.AllMarkets() {
		afterTotal += m.CashMinor
		if m.Biome == Ocean {
			oceanAfter = m
		}
		if m.Biome == Beach {
			beachAfter = m
		}
	}

	if afterTotal != beforeTotal {
		t.Fatalf("total cash not conserved: before=%d after=%d", beforeTotal, afterTotal)
	}
	if oceanAfter.CashMinor <= 100_000 {
		t.Fatalf("expected ocean to gain cash from redistribution, got %d", oceanAfter.CashMinor)
	}
	if beachAfter.CashMinor >= 100_000 {
		t.Fatalf("expected beach to lose cash with zero attention, got %d", beachAfter.CashMinor)
	}
	if !oceanAfter.Attention.IsZero() {
		t.Fatal("expected attention to reset to zero after redistribution")
	}
	if len(store.history) != len(All) {
		t.Fatalf("expected one price history point per biome, got %d", len(store.history))
	}
	if pub.alls != 1 {
		t.Fatalf("expected one broadcast-all publish, got %d", pub.alls)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{}
	cfg := testConfig(nil)
	e, _ := newTestEngine(cfg, store, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
