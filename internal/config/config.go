// Package config loads runtime tunables from flags and environment variables,
// the way the teacher's internal/config does, and publishes them as an
// immutable, atomically-swapped snapshot (ConfigProvider).
package config

import (
	"flag"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable view of every tunable the repository reads at
// runtime. Readers re-fetch Provider.Snapshot() at the entry to each
// operation; the provider swaps the pointer atomically so no reader ever
// observes a torn update.
type Snapshot struct {
	// Server
	WSPort int
	Host   string

	// Database
	MongoURI string

	// Fees & limits
	BiomeTradeFeePercent      float64 // e.g. 2.0 = 2%
	MaxTransactionPercent     float64 // max single biome trade as % of market cash
	RedistributionPoolPercent float64 // % of total market cash redistributed per cycle
	MaxPriceMovePercent       float64 // clamp on redistribution-induced price moves
	RedistributionInterval    time.Duration
	BiomeTradingPaused        bool
	BiomePricesFrozen         bool

	MaxOrderNotional         int64
	MaxPositionPct           float64 // max position size as a fraction of equity (0.20 = 20%)
	MaxInstrumentExposurePct float64 // max per-instrument exposure as a fraction of equity
	DefaultMaxLeverage       float64 // account-level leverage ceiling (no per-account tiers yet)

	MarginCallLevel    float64 // percent
	LiquidationLevel   float64 // percent
	MarginMonitorEvery time.Duration

	// Rate limiting buckets: name -> (capacity, tokens/sec)
	RateLimitBuckets map[string]RateBucket

	// Auth / lockout
	LoginFailureLockoutThreshold int
	LoginLockoutDuration         time.Duration
	PasswordMinLength            int
	PasswordRequireUpper         bool
	PasswordRequireDigit         bool
	PasswordRequireSymbol        bool

	// Top-up limits (minor units)
	MinTopupAmount int64
	MaxTopupAmount int64

	// Pricing
	StaleQuoteTimeout time.Duration
	CFDMarkupBp       int64

	// Retention / archival
	TradeRetentionDays int
	ArchiveDir         string
	ArchiveMaxGB       int
	ArchiveIntervalHrs int
	ArchiveAfterHrs    int

	SendBufferSize int
}

// RateBucket names a token-bucket capacity and refill rate for one bucket kind.
type RateBucket struct {
	Capacity   int
	RefillRate float64 // tokens per second
}

// Provider holds the current Snapshot behind an atomic pointer. Config is
// read once at process start; there is no watch/reload loop, only an
// explicit Replace seam for tests and admin tooling.
type Provider struct {
	snap atomic.Pointer[Snapshot]
}

// NewProvider wraps a pre-built Snapshot.
func NewProvider(s *Snapshot) *Provider {
	p := &Provider{}
	p.snap.Store(s)
	return p
}

// Snapshot returns the current immutable configuration snapshot.
func (p *Provider) Snapshot() *Snapshot {
	return p.snap.Load()
}

// Replace atomically swaps in a new snapshot.
func (p *Provider) Replace(s *Snapshot) {
	p.snap.Store(s)
}

// Load builds a Snapshot from flags and environment variables, following the
// teacher's flag.XVar(&field, "flag-name", envX("ENV_NAME", default), "usage")
// convention throughout.
func Load() *Snapshot {
	c := &Snapshot{
		RateLimitBuckets: defaultBuckets(),
	}

	flag.IntVar(&c.WSPort, "port", envInt("APP_PORT", 8100), "HTTP/WebSocket server port")
	flag.StringVar(&c.Host, "host", envStr("APP_HOST", "0.0.0.0"), "Listen host")

	flag.StringVar(&c.MongoURI, "mongo-uri", envStr("MONGO_URI", "mongodb://localhost:27017/biomeexchange"), "MongoDB connection URI")

	flag.Float64Var(&c.BiomeTradeFeePercent, "biome-trade-fee-pct", envFloat("BIOME_TRADE_FEE_PERCENT", 2.0), "Platform fee percent on biome buy/sell")
	flag.Float64Var(&c.MaxTransactionPercent, "biome-max-tx-pct", envFloat("BIOME_MAX_TX_PERCENT", 10.0), "Max single biome trade as percent of market cash")
	flag.Float64Var(&c.RedistributionPoolPercent, "redistribution-pool-pct", envFloat("REDISTRIBUTION_POOL_PERCENT", 10.0), "Percent of total market cash redistributed per cycle")
	flag.Float64Var(&c.MaxPriceMovePercent, "max-price-move-pct", envFloat("MAX_PRICE_MOVE_PERCENT", 5.0), "Clamp on per-cycle redistribution price move")

	interval := envInt("REDISTRIBUTION_INTERVAL_MS", 500)
	flag.IntVar(&interval, "redistribution-interval-ms", interval, "Biome redistribution cycle period in ms")
	c.RedistributionInterval = time.Duration(interval) * time.Millisecond

	flag.BoolVar(&c.BiomeTradingPaused, "biome-trading-paused", envBool("BIOME_TRADING_PAUSED", false), "Pause all biome buy/sell")
	flag.BoolVar(&c.BiomePricesFrozen, "biome-prices-frozen", envBool("BIOME_PRICES_FROZEN", false), "Freeze biome redistribution price moves")

	flag.Int64Var(&c.MaxOrderNotional, "max-order-notional", envInt64("MAX_ORDER_NOTIONAL", 100_000_000_00), "Max order notional in minor units")
	flag.Float64Var(&c.MaxPositionPct, "max-position-pct", envFloat("MAX_POSITION_PCT", 0.20), "Max position size as fraction of equity")
	flag.Float64Var(&c.MaxInstrumentExposurePct, "max-instrument-exposure-pct", envFloat("MAX_INSTRUMENT_EXPOSURE_PCT", 0.50), "Max per-instrument exposure as fraction of equity")
	flag.Float64Var(&c.DefaultMaxLeverage, "default-max-leverage", envFloat("DEFAULT_MAX_LEVERAGE", 10.0), "Account-level leverage ceiling")

	flag.Float64Var(&c.MarginCallLevel, "margin-call-level", envFloat("MARGIN_CALL_LEVEL", 100.0), "Margin level percent below which a margin call fires")
	flag.Float64Var(&c.LiquidationLevel, "liquidation-level", envFloat("LIQUIDATION_LEVEL", 50.0), "Margin level percent below which liquidation fires")
	marginEvery := envInt("MARGIN_MONITOR_MS", 1000)
	flag.IntVar(&marginEvery, "margin-monitor-ms", marginEvery, "Margin monitor sweep period in ms")
	c.MarginMonitorEvery = time.Duration(marginEvery) * time.Millisecond

	flag.IntVar(&c.LoginFailureLockoutThreshold, "login-lockout-threshold", envInt("LOGIN_LOCKOUT_THRESHOLD", 5), "Consecutive failed logins before lockout")
	lockoutMin := envInt("LOGIN_LOCKOUT_MINUTES", 15)
	flag.IntVar(&lockoutMin, "login-lockout-minutes", lockoutMin, "Lockout duration in minutes")
	c.LoginLockoutDuration = time.Duration(lockoutMin) * time.Minute

	flag.IntVar(&c.PasswordMinLength, "password-min-length", envInt("PASSWORD_MIN_LENGTH", 8), "Minimum password length")
	flag.BoolVar(&c.PasswordRequireUpper, "password-require-upper", envBool("PASSWORD_REQUIRE_UPPER", true), "Require uppercase letter")
	flag.BoolVar(&c.PasswordRequireDigit, "password-require-digit", envBool("PASSWORD_REQUIRE_DIGIT", true), "Require digit")
	flag.BoolVar(&c.PasswordRequireSymbol, "password-require-symbol", envBool("PASSWORD_REQUIRE_SYMBOL", false), "Require symbol")

	flag.Int64Var(&c.MinTopupAmount, "min-topup", envInt64("MIN_TOPUP_AMOUNT", 100_00), "Minimum top-up amount in minor units")
	flag.Int64Var(&c.MaxTopupAmount, "max-topup", envInt64("MAX_TOPUP_AMOUNT", 1_000_000_00), "Maximum top-up amount in minor units")

	staleMs := envInt("STALE_QUOTE_TIMEOUT_MS", 5000)
	flag.IntVar(&staleMs, "stale-quote-timeout-ms", staleMs, "LP quote staleness timeout in ms")
	c.StaleQuoteTimeout = time.Duration(staleMs) * time.Millisecond
	flag.Int64Var(&c.CFDMarkupBp, "cfd-markup-bp", envInt64("CFD_MARKUP_BP", 0), "CFD ask markup in basis points")

	flag.IntVar(&c.TradeRetentionDays, "trade-retention", envInt("TRADE_RETENTION_DAYS", 90), "Trade log retention in days (0 = keep forever)")
	flag.StringVar(&c.ArchiveDir, "archive-dir", envStr("ARCHIVE_DIR", ""), "Directory for gzipped trade/audit archives (empty = disabled)")
	flag.IntVar(&c.ArchiveMaxGB, "archive-max-gb", envInt("ARCHIVE_MAX_GB", 20), "Max archive directory size in GB before rotation")
	flag.IntVar(&c.ArchiveIntervalHrs, "archive-interval", envInt("ARCHIVE_INTERVAL_HOURS", 6), "Hours between archive runs")
	flag.IntVar(&c.ArchiveAfterHrs, "archive-after", envInt("ARCHIVE_AFTER_HOURS", 24), "Archive trades older than this many hours")

	flag.IntVar(&c.SendBufferSize, "send-buffer", envInt("SEND_BUFFER", 256), "Per-connection send buffer size")

	if !flag.Parsed() {
		flag.Parse()
	}

	return c
}

func defaultBuckets() map[string]RateBucket {
	return map[string]RateBucket{
		"orders.place":   {Capacity: 20, RefillRate: 5},
		"orders.cancel":  {Capacity: 30, RefillRate: 10},
		"biome.trade":    {Capacity: 10, RefillRate: 2},
		"auth.login":     {Capacity: 10, RefillRate: 0.2},
		"marketdata.get": {Capacity: 100, RefillRate: 20},
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
