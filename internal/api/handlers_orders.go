package api

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/matching"
	"github.com/biomeexchange/core/internal/orderbook"
	"github.com/biomeexchange/core/internal/persist"
)

type placeOrderRequest struct {
	InstrumentID   string `json:"instrument_id"`
	Side           string `json:"side"`
	OrderType      string `json:"order_type"`
	Quantity       string `json:"quantity"`
	Price          string `json:"price"`
	StopPrice      string `json:"stop_price"`
	TrailingOffset string `json:"trailing_offset"`
	IcebergVisible string `json:"iceberg_visible"`
	OCOGroupID     string `json:"oco_group_id"`
	TimeInForce    string `json:"time_in_force"`
	ClientOrderID  string `json:"client_order_id"`
}

func (req placeOrderRequest) toPlaceRequest(userID string) (matching.PlaceRequest, error) {
	side, ok := parseSide(req.Side)
	if !ok {
		return matching.PlaceRequest{}, apperr.New(apperr.Validation, "invalid side %q", req.Side)
	}
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil || !quantity.IsPositive() {
		return matching.PlaceRequest{}, apperr.New(apperr.Validation, "invalid quantity %q", req.Quantity)
	}

	out := matching.PlaceRequest{
		InstrumentID:   req.InstrumentID,
		UserID:         userID,
		Side:           side,
		Type:           orderbook.Type(req.OrderType),
		TimeInForce:    orderbook.TimeInForce(req.TimeInForce),
		Quantity:       quantity,
		OCOGroupID:     req.OCOGroupID,
		ClientOrderKey: req.ClientOrderID,
	}
	if req.Price != "" {
		price, err := decimal.NewFromString(req.Price)
		if err != nil {
			return matching.PlaceRequest{}, apperr.New(apperr.Validation, "invalid price %q", req.Price)
		}
		out.LimitPrice = price
		out.HasLimitPrice = true
	}
	if req.StopPrice != "" {
		stop, err := decimal.NewFromString(req.StopPrice)
		if err != nil {
			return matching.PlaceRequest{}, apperr.New(apperr.Validation, "invalid stop_price %q", req.StopPrice)
		}
		out.StopPrice = stop
		out.HasStopPrice = true
	}
	if req.TrailingOffset != "" {
		offset, err := decimal.NewFromString(req.TrailingOffset)
		if err != nil {
			return matching.PlaceRequest{}, apperr.New(apperr.Validation, "invalid trailing_offset %q", req.TrailingOffset)
		}
		out.TrailingOffset = offset
		out.HasTrailing = true
	}
	if req.IcebergVisible != "" {
		visible, err := decimal.NewFromString(req.IcebergVisible)
		if err != nil {
			return matching.PlaceRequest{}, apperr.New(apperr.Validation, "invalid iceberg_visible %q", req.IcebergVisible)
		}
		out.IcebergVisible = visible
		out.IsIceberg = true
	}
	return out, nil
}

type placeOrderResponse struct {
	Order  orderDTO   `json:"order"`
	Trades []tradeDTO `json:"trades"`
}

// handlePlaceOrder implements §6 POST /orders.
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req placeOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	placeReq, err := req.toPlaceRequest(claims.UserID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	order, trades, err := s.matching.Place(r.Context(), placeReq)
	if err != nil {
		writeAppError(w, err)
		return
	}

	tradeDTOs := make([]tradeDTO, len(trades))
	for i, t := range trades {
		tradeDTOs[i] = toTradeDTO(t)
	}
	writeJSON(w, http.StatusCreated, placeOrderResponse{
		Order:  toOrderDTO(order),
		Trades: tradeDTOs,
	})
}

// handleListOrders implements §6 GET /orders?instrument_id&side&status&limit&offset.
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	q := r.URL.Query()
	orders, err := s.orders.QueryOrders(r.Context(), persist.OrderFilter{
		UserID:       claims.UserID,
		InstrumentID: q.Get("instrument_id"),
		Side:         q.Get("side"),
		Status:       q.Get("status"),
		Limit:        parseIntParam(r, "limit", 100),
		Offset:       parseIntParam(r, "offset", 0),
	})
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.Internal, err, "list orders"))
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// handleCancelOrder implements §6 DELETE /orders/{id}.
func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	instrumentID := r.URL.Query().Get("instrument_id")
	if instrumentID == "" {
		writeAppError(w, apperr.New(apperr.Validation, "instrument_id query parameter is required"))
		return
	}
	idStr := r.PathValue("id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		writeAppError(w, apperr.New(apperr.Validation, "invalid order id %q", idStr))
		return
	}
	order, err := s.matching.Cancel(r.Context(), instrumentID, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}
