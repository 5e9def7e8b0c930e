package api

import (
	"net/http"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/matching"
)

type marketStatusResponse struct {
	InstrumentID string `json:"instrument_id"`
	State        string `json:"state"`
	Reason       string `json:"reason,omitempty"`
}

// handleMarketStatusGet implements §6 GET /market/status.
func (s *Server) handleMarketStatusGet(w http.ResponseWriter, r *http.Request) {
	instrumentID := r.URL.Query().Get("instrument_id")
	if instrumentID == "" {
		writeAppError(w, apperr.New(apperr.Validation, "instrument_id is required"))
		return
	}
	state, reason, err := s.matching.MarketStatus(instrumentID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marketStatusResponse{
		InstrumentID: instrumentID,
		State:        string(state),
		Reason:       reason,
	})
}

type marketStatusRequest struct {
	InstrumentID string `json:"instrument_id"`
	State        string `json:"state"`
	Reason       string `json:"reason"`
}

// handleMarketStatusSet implements §6 POST /market/status (admin).
func (s *Server) handleMarketStatusSet(w http.ResponseWriter, r *http.Request) {
	var req marketStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if err := s.matching.SetMarketStatus(req.InstrumentID, matching.MarketState(req.State), req.Reason); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marketStatusResponse{InstrumentID: req.InstrumentID, State: req.State})
}
