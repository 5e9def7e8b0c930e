package api

import (
	"net/http"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/persist"
)

// handleListTrades implements §6 GET /trades?instrument_id&limit&offset.
func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	trades, err := s.trades.QueryTrades(r.Context(), persist.TradeFilter{
		InstrumentID: q.Get("instrument_id"),
		Limit:        parseIntParam(r, "limit", 100),
		Offset:       parseIntParam(r, "offset", 0),
	})
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.Internal, err, "list trades"))
		return
	}
	writeJSON(w, http.StatusOK, trades)
}
