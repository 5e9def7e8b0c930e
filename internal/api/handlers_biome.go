package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/biome"
	"github.com/biomeexchange/core/internal/persist"
)

// handleBiomeMarkets implements §6 GET /biome-market/markets.
func (s *Server) handleBiomeMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.biome.AllMarkets()
	out := make([]marketDTO, len(markets))
	for i, m := range markets {
		out[i] = toMarketDTO(m)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleBiomeMarket implements §6 GET /biome-market/markets/{biome}.
func (s *Server) handleBiomeMarket(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("biome")
	market, err := s.biome.Snapshot(biome.ID(name))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketDTO(market))
}

type biomeBuyRequest struct {
	Biome       string `json:"biome"`
	AmountMinor int64  `json:"amount_minor"`
}

// handleBiomeBuy implements §6 POST /biome-market/buy.
func (s *Server) handleBiomeBuy(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req biomeBuyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	tx, err := s.biome.Buy(r.Context(), claims.UserID, biome.ID(req.Biome), req.AmountMinor)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

type biomeSellRequest struct {
	Biome  string `json:"biome"`
	Shares string `json:"shares"`
}

// handleBiomeSell implements §6 POST /biome-market/sell.
func (s *Server) handleBiomeSell(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req biomeSellRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	shares, err := decimal.NewFromString(req.Shares)
	if err != nil || !shares.IsPositive() {
		writeAppError(w, apperr.New(apperr.Validation, "invalid shares %q", req.Shares))
		return
	}
	tx, err := s.biome.Sell(r.Context(), claims.UserID, biome.ID(req.Biome), shares)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

type biomeTrackRequest struct {
	Biome string `json:"biome"`
	Score string `json:"score"`
}

// handleBiomeTrack implements §6 POST /biome-market/track-attention.
func (s *Server) handleBiomeTrack(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req biomeTrackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	score, err := decimal.NewFromString(req.Score)
	if err != nil {
		writeAppError(w, apperr.New(apperr.Validation, "invalid score %q", req.Score))
		return
	}
	if err := s.biome.Track(r.Context(), claims.UserID, biome.ID(req.Biome), score); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBiomePortfolio implements §6 GET /biome-market/portfolio.
func (s *Server) handleBiomePortfolio(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	holdings, err := s.biome.Portfolio(r.Context(), claims.UserID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	out := make([]holdingDTO, len(holdings))
	for i, h := range holdings {
		out[i] = toHoldingDTO(h)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleBiomeTransactions implements §6 GET /biome-market/transactions?biome&page&limit.
func (s *Server) handleBiomeTransactions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	q := r.URL.Query()
	txs, err := s.transactions.QueryTransactions(r.Context(), persist.TransactionFilter{
		UserID: claims.UserID,
		Biome:  q.Get("biome"),
		Page:   parseIntParam(r, "page", 1),
		Limit:  parseIntParam(r, "limit", 50),
	})
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.Internal, err, "list biome transactions"))
		return
	}
	writeJSON(w, http.StatusOK, txs)
}
