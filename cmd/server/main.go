// Command server wires every domain package into the HTTP/WebSocket API and
// runs the biome redistribution and margin monitor background loops
// alongside it, following the teacher's cmd/feedsim signal-driven graceful
// shutdown shape.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/biomeexchange/core/internal/api"
	"github.com/biomeexchange/core/internal/archive"
	"github.com/biomeexchange/core/internal/authn"
	"github.com/biomeexchange/core/internal/biome"
	"github.com/biomeexchange/core/internal/clock"
	"github.com/biomeexchange/core/internal/config"
	"github.com/biomeexchange/core/internal/hub"
	"github.com/biomeexchange/core/internal/instrument"
	"github.com/biomeexchange/core/internal/ledger"
	"github.com/biomeexchange/core/internal/margin"
	"github.com/biomeexchange/core/internal/matching"
	"github.com/biomeexchange/core/internal/payment"
	"github.com/biomeexchange/core/internal/persist"
	"github.com/biomeexchange/core/internal/pricing"
	"github.com/biomeexchange/core/internal/ratelimit"
	"github.com/biomeexchange/core/internal/risk"
)

func main() {
	cfg := config.NewProvider(config.Load())

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("biomeexchange core starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	snap := cfg.Snapshot()

	store, err := persist.NewStore(ctx, snap.MongoURI)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer store.Close(context.Background())
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	db := store.DB()

	clk := clock.Real{}

	// Ledger
	ledgerStore := persist.NewLedgerStore(db)
	lg := ledger.New(ledgerStore)

	// Auth
	secret := []byte(os.Getenv("JWT_SECRET"))
	if len(secret) == 0 {
		log.Println("warning: JWT_SECRET not set, using an insecure development default")
		secret = []byte("dev-only-insecure-secret")
	}
	accountStore := persist.NewAccountStore(db)
	authSvc := authn.New(accountStore, ledgerStore, cfg, clk, secret)

	// Instruments
	instrumentStore := persist.NewInstrumentStore(db)
	instruments := instrument.New(instrumentStore)
	if err := instruments.Load(ctx); err != nil {
		log.Fatalf("instrument load failed: %v", err)
	}

	// Pricing
	pricingEngine := pricing.New(cfg, clk)

	// Messaging fan-out
	messageHub := hub.New(snap.SendBufferSize)

	// Margin (needs risk adapter wired after construction; risk needs margin
	// for account snapshots, so margin is built first against pricingEngine
	// and the instrument registry, then wrapped for risk's use).
	marginStore := persist.NewMarginStore(db, lg)
	marginSvc := margin.New(cfg, pricingEngine, marginStore, lg, clk)

	// Risk
	riskEngine := risk.New(cfg, margin.RiskAdapter{Service: marginSvc}, instruments)

	// Matching
	matchingStore := persist.NewMatchingStore(db)
	matchingEngine := matching.New(cfg, riskEngine, lg, marginStore, matchingStore, messageHub)
	for _, inst := range instruments.All() {
		matchingEngine.RegisterInstrument(inst.ToMatching())
	}

	// Biome markets
	biomeStore := persist.NewBiomeStore(db)
	biomeEngine := biome.New(cfg, lg, biomeStore, messageHub, clk, biome.InitConfig{
		InitialCashMinor:   1_000_000_00,
		InitialTotalShares: decimal.NewFromInt(1_000_000),
	})

	// Payments
	gateway := payment.NewNoopGateway(payment.SSLCommerz)
	paymentStore := persist.NewPaymentEventStore(db)

	// Rate limiting
	limiter := ratelimit.New(clk, toBucketSpecs(snap.RateLimitBuckets))

	// Read-only query readers
	tradeReader := persist.NewMongoTradeReader(db)
	orderReader := persist.NewMongoOrderReader(db)
	txReader := persist.NewMongoTransactionReader(db)

	server := api.NewServer(api.Deps{
		Config:       cfg,
		Auth:         authSvc,
		Instruments:  instruments,
		Matching:     matchingEngine,
		Margin:       marginSvc,
		Biome:        biomeEngine,
		Pricing:      pricingEngine,
		Hub:          messageHub,
		Limiter:      limiter,
		Ledger:       lg,
		Gateway:      gateway,
		Payments:     paymentStore,
		Provision:    ledgerStore,
		Trades:       tradeReader,
		Orders:       orderReader,
		Transactions: txReader,
	})

	mux := http.NewServeMux()
	server.Register(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","connections":%d}`, messageHub.ConnectionCount())
	})

	// Background loops: biome redistribution and margin monitoring.
	var bg sync.WaitGroup
	bg.Add(2)
	go func() {
		defer bg.Done()
		biomeEngine.Run(ctx, snap.RedistributionInterval)
	}()
	go func() {
		defer bg.Done()
		marginSvc.Run(ctx, snap.MarginMonitorEvery)
	}()

	// Trade archival is opt-in: only runs when an archive directory is
	// configured, same as the teacher's feedsim wiring.
	if snap.ArchiveDir != "" {
		archiver := archive.New(db, snap.ArchiveDir, snap.ArchiveMaxGB, snap.ArchiveIntervalHrs, snap.ArchiveAfterHrs)
		bg.Add(1)
		go func() {
			defer bg.Done()
			archiver.Run(ctx)
		}()
	}

	bg.Add(1)
	go func() {
		defer bg.Done()
		persist.RunRetention(ctx, store, snap.TradeRetentionDays)
	}()

	addr := fmt.Sprintf("%s:%d", snap.Host, snap.WSPort)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("listening on http://%s", addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}

	// Drain the redistribution and margin-monitor loops before the deferred
	// store.Close runs, so no in-flight sweep writes to a closed connection.
	bg.Wait()
	log.Println("biomeexchange core stopped")
}

func toBucketSpecs(buckets map[string]config.RateBucket) map[string]ratelimit.BucketSpec {
	specs := make(map[string]ratelimit.BucketSpec, len(buckets))
	for name, b := range buckets {
		specs[name] = ratelimit.BucketSpec{Capacity: b.Capacity, RefillRate: b.RefillRate}
	}
	return specs
}
