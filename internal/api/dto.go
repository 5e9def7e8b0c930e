package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/biomeexchange/core/internal/biome"
	"github.com/biomeexchange/core/internal/instrument"
	"github.com/biomeexchange/core/internal/ledger"
	"github.com/biomeexchange/core/internal/margin"
	"github.com/biomeexchange/core/internal/matching"
	"github.com/biomeexchange/core/internal/orderbook"
)

// orderDTO is the JSON-facing projection of an orderbook.Order.
type orderDTO struct {
	ID             uint64 `json:"id"`
	InstrumentID   string `json:"instrument_id"`
	UserID         string `json:"user_id"`
	Side           string `json:"side"`
	Type           string `json:"order_type"`
	TimeInForce    string `json:"time_in_force"`
	Original       string `json:"original_quantity"`
	Remaining      string `json:"remaining_quantity"`
	LimitPrice     string `json:"price,omitempty"`
	StopPrice      string `json:"stop_price,omitempty"`
	TrailingOffset string `json:"trailing_offset,omitempty"`
	IcebergVisible string `json:"iceberg_visible,omitempty"`
	OCOGroupID     string `json:"oco_group_id,omitempty"`
	ClientOrderID  string `json:"client_order_id,omitempty"`
	Status         string `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

func toOrderDTO(o *orderbook.Order) orderDTO {
	dto := orderDTO{
		ID:            o.ID,
		InstrumentID:  o.InstrumentID,
		UserID:        o.UserID,
		Side:          sideString(o.Side),
		Type:          string(o.Type),
		TimeInForce:   string(o.TimeInForce),
		Original:      o.Original.String(),
		Remaining:     o.Remaining.String(),
		OCOGroupID:    o.OCOGroupID,
		ClientOrderID: o.ClientOrderKey,
		Status:        string(o.Status),
		CreatedAt:     o.CreatedAt,
	}
	if o.HasLimitPrice {
		dto.LimitPrice = o.LimitPrice.String()
	}
	if o.HasStop {
		dto.StopPrice = o.StopPrice.String()
	}
	if o.HasTrailing {
		dto.TrailingOffset = o.TrailingOffset.String()
	}
	if o.IsIceberg {
		dto.IcebergVisible = o.IcebergVisible.String()
	}
	return dto
}

func sideString(s orderbook.Side) string {
	if s == orderbook.SideBuy {
		return "buy"
	}
	return "sell"
}

func parseSide(s string) (orderbook.Side, bool) {
	switch s {
	case "buy", "B":
		return orderbook.SideBuy, true
	case "sell", "S":
		return orderbook.SideSell, true
	default:
		return 0, false
	}
}

// tradeDTO is the JSON-facing projection of a matching.Trade.
type tradeDTO struct {
	ID           string    `json:"id"`
	InstrumentID string    `json:"instrument_id"`
	Price        string    `json:"price"`
	Quantity     string    `json:"quantity"`
	BuyerID      string    `json:"buyer_id"`
	SellerID     string    `json:"seller_id"`
	Sequence     uint64    `json:"sequence"`
	ExecutedAt   time.Time `json:"executed_at"`
}

func toTradeDTO(t matching.Trade) tradeDTO {
	return tradeDTO{
		ID:           t.ID,
		InstrumentID: t.InstrumentID,
		Price:        t.Price.String(),
		Quantity:     t.Quantity.String(),
		BuyerID:      t.BuyerID,
		SellerID:     t.SellerID,
		Sequence:     t.Sequence,
		ExecutedAt:   t.ExecutedAt,
	}
}

// instrumentDTO is the JSON-facing projection of an instrument.Instrument.
type instrumentDTO struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	AssetClass    string `json:"asset_class"`
	TickSize      string `json:"tick_size"`
	LotSize       string `json:"lot_size"`
	MaxLeverage   string `json:"max_leverage"`
	MarginAllowed bool   `json:"margin_allowed"`
	ShortAllowed  bool   `json:"short_allowed"`
	Status        string `json:"status"`
}

func toInstrumentDTO(i instrument.Instrument) instrumentDTO {
	return instrumentDTO{
		ID:            i.ID,
		Symbol:        i.Symbol,
		AssetClass:    string(i.AssetClass),
		TickSize:      i.TickSize.String(),
		LotSize:       i.LotSize.String(),
		MaxLeverage:   i.MaxLeverage.String(),
		MarginAllowed: i.MarginAllowed,
		ShortAllowed:  i.ShortAllowed,
		Status:        string(i.Status),
	}
}

// marketDTO is the JSON-facing projection of a biome.Market.
type marketDTO struct {
	Biome               string `json:"biome"`
	CashMinor           int64  `json:"cash_minor"`
	TotalShares         string `json:"total_shares"`
	SharePrice          string `json:"share_price"`
	Attention           string `json:"attention"`
	LastRedistribution  time.Time `json:"last_redistribution"`
}

func toMarketDTO(m biome.Market) marketDTO {
	return marketDTO{
		Biome:              string(m.Biome),
		CashMinor:          m.CashMinor,
		TotalShares:        m.TotalShares.String(),
		SharePrice:         m.SharePrice().String(),
		Attention:          m.Attention.String(),
		LastRedistribution: m.LastRedistribution,
	}
}

// holdingDTO is the JSON-facing projection of a biome.Holding.
type holdingDTO struct {
	Biome         string `json:"biome"`
	Shares        string `json:"shares"`
	AvgPriceMinor string `json:"avg_price_minor"`
	InvestedMinor int64  `json:"invested_minor"`
}

func toHoldingDTO(h biome.Holding) holdingDTO {
	return holdingDTO{
		Biome:         string(h.Biome),
		Shares:        h.Shares.String(),
		AvgPriceMinor: h.AvgPriceMinor.String(),
		InvestedMinor: h.InvestedMinor,
	}
}

// transactionDTO is the JSON-facing projection of a ledger.TransactionRecord.
type transactionDTO struct {
	ID            string    `json:"id"`
	BuyerID       string    `json:"buyer_id"`
	SellerID      string    `json:"seller_id,omitempty"`
	Type          string    `json:"type"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	PlatformFee   int64     `json:"platform_fee,omitempty"`
	GatewayFee    int64     `json:"gateway_fee,omitempty"`
	GatewayName   string    `json:"gateway_name,omitempty"`
	GatewayExtID  string    `json:"gateway_ext_id,omitempty"`
	Biome         string    `json:"biome,omitempty"`
	Shares        string    `json:"shares,omitempty"`
	PricePerShare string    `json:"price_per_share,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
}

func toTransactionDTO(t ledger.TransactionRecord) transactionDTO {
	return transactionDTO{
		ID:            t.ID,
		BuyerID:       t.BuyerID,
		SellerID:      t.SellerID,
		Type:          string(t.Type),
		Amount:        t.Amount,
		Status:        string(t.Status),
		PlatformFee:   t.PlatformFee,
		GatewayFee:    t.GatewayFee,
		GatewayName:   t.GatewayName,
		GatewayExtID:  t.GatewayExtID,
		Biome:         t.Biome,
		Shares:        t.Shares,
		PricePerShare: t.PricePerShare,
		CreatedAt:     t.CreatedAt,
		CompletedAt:   t.CompletedAt,
	}
}

// figuresDTO is the JSON-facing projection of a margin.Figures.
type figuresDTO struct {
	Equity      string `json:"equity"`
	UsedMargin  string `json:"used_margin"`
	FreeMargin  string `json:"free_margin"`
	MarginLevel string `json:"margin_level,omitempty"`
	HasLevel    bool   `json:"has_margin_level"`
}

func toFiguresDTO(f margin.Figures) figuresDTO {
	dto := figuresDTO{
		Equity:     f.Equity.String(),
		UsedMargin: f.UsedMargin.String(),
		FreeMargin: f.FreeMargin.String(),
		HasLevel:   f.HasLevel,
	}
	if f.HasLevel {
		dto.MarginLevel = f.MarginLevel.String()
	}
	return dto
}

// mustDecimal parses s or returns decimal.Zero, used for optional numeric
// fields a handler has already validated aren't required.
func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
