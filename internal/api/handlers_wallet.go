package api

import (
	"net/http"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/payment"
)

type walletTopupRequest struct {
	AmountMinor int64  `json:"amount_minor"`
	Reference   string `json:"reference"`
}

type walletTopupResponse struct {
	PaymentURL   string `json:"payment_url"`
	GatewayName  string `json:"gateway_name"`
	GatewayExtID string `json:"gateway_ext_id"`
}

// handleWalletTopup implements POST /wallet/topup: it only initiates the
// gateway redirect and records the pending webhook event. Webhook signature
// verification and balance crediting on confirmation are not done here, and
// no other code in this repository performs them (see payment.Event).
func (s *Server) handleWalletTopup(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req walletTopupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if req.AmountMinor <= 0 {
		writeAppError(w, apperr.New(apperr.Validation, "amount_minor must be positive"))
		return
	}
	if req.Reference == "" {
		req.Reference = claims.UserID
	}

	result, err := s.gateway.Initiate(r.Context(), req.AmountMinor, req.Reference)
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.PaymentRequired, err, "initiate top-up"))
		return
	}

	if err := s.payments.SaveEvent(r.Context(), payment.Event{
		ID:        result.GatewayExtID,
		Gateway:   result.GatewayName,
		EventType: "topup.initiated",
		Status:    payment.EventPending,
		Message:   "awaiting gateway confirmation",
	}); err != nil {
		writeAppError(w, apperr.Wrap(apperr.Internal, err, "save payment event"))
		return
	}

	writeJSON(w, http.StatusAccepted, walletTopupResponse{
		PaymentURL:   result.RedirectURL,
		GatewayName:  string(result.GatewayName),
		GatewayExtID: result.GatewayExtID,
	})
}
