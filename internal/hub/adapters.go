package hub

// These methods let *Hub satisfy the narrow publisher interfaces defined by
// internal/matching and internal/biome without either package importing
// this one, avoiding an import cycle.

import (
	"github.com/biomeexchange/core/internal/biome"
	"github.com/biomeexchange/core/internal/matching"
	"github.com/biomeexchange/core/internal/orderbook"
)

// PublishTrade satisfies matching.TradePublisher, broadcasting a trade to
// the instrument's dedicated room.
func (h *Hub) PublishTrade(instrumentID string, trade matching.Trade) {
	h.Broadcast(tradeRoom(instrumentID), trade)
}

// PublishOrderUpdate satisfies matching.TradePublisher, broadcasting an
// order's state change to the instrument's order-update room.
func (h *Hub) PublishOrderUpdate(instrumentID string, order *orderbook.Order) {
	h.Broadcast(orderRoom(instrumentID), order)
}

// PublishBiomeUpdate satisfies biome.Publisher, broadcasting to one
// biome's room.
func (h *Hub) PublishBiomeUpdate(b biome.ID, payload any) {
	h.Broadcast(biomeRoom(string(b)), payload)
}

// PublishBiomeUpdateAll satisfies biome.Publisher, broadcasting to the
// all-biomes room.
func (h *Hub) PublishBiomeUpdateAll(payload any) {
	h.Broadcast(biomeAllRoom, payload)
}

const biomeAllRoom = "biome_market_all"

func tradeRoom(instrumentID string) string { return "trades:" + instrumentID }
func orderRoom(instrumentID string) string { return "orders:" + instrumentID }
func biomeRoom(b string) string            { return "biome_market:" + b }
