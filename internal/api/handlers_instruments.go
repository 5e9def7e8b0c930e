package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/instrument"
)

// handleListInstruments implements §6 GET /instruments.
func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	all := s.instruments.All()
	out := make([]instrumentDTO, 0, len(all))
	for _, inst := range all {
		out = append(out, toInstrumentDTO(inst))
	}
	writeJSON(w, http.StatusOK, out)
}

type instrumentRequest struct {
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

func (req instrumentRequest) toInstrument() (instrument.Instrument, error) {
	tick, err := decimal.NewFromString(req.TickSize)
	if err != nil {
		return instrument.Instrument{}, apperr.New(apperr.Validation, "invalid tick_size %q", req.TickSize)
	}
	lot, err := decimal.NewFromString(req.LotSize)
	if err != nil {
		return instrument.Instrument{}, apperr.New(apperr.Validation, "invalid lot_size %q", req.LotSize)
	}
	leverage, err := decimal.NewFromString(req.MaxLeverage)
	if err != nil {
		return instrument.Instrument{}, apperr.New(apperr.Validation, "invalid max_leverage %q", req.MaxLeverage)
	}
	status := instrument.Status(req.Status)
	if status == "" {
		status = instrument.StatusActive
	}
	return instrument.Instrument{
		ID:            req.ID,
		Symbol:        req.Symbol,
		AssetClass:    instrument.AssetClass(req.AssetClass),
		TickSize:      tick,
		LotSize:       lot,
		MaxLeverage:   leverage,
		MarginAllowed: req.MarginAllowed,
		ShortAllowed:  req.ShortAllowed,
		Status:        status,
	}, nil
}

// handleCreateInstrument implements §6 POST /instruments (admin).
func (s *Server) handleCreateInstrument(w http.ResponseWriter, r *http.Request) {
	var req instrumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	inst, err := req.toInstrument()
	if err != nil {
		writeAppError(w, err)
		return
	}
	if err := s.instruments.Create(r.Context(), inst); err != nil {
		writeAppError(w, err)
		return
	}
	s.matching.RegisterInstrument(inst.ToMatching())
	writeJSON(w, http.StatusCreated, toInstrumentDTO(inst))
}

// handleUpdateInstrument implements §6 PATCH /instruments/{id} (admin).
func (s *Server) handleUpdateInstrument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req instrumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	req.ID = id
	inst, err := req.toInstrument()
	if err != nil {
		writeAppError(w, err)
		return
	}
	// RegisterInstrument is not called here: it opens a fresh, empty book,
	// which would discard every resting order on an instrument that already
	// trades. Tick/lot/leverage edits take effect for orders placed after
	// this point via the Registry cache Update just refreshed; the matching
	// engine's own book is untouched.
	if err := s.instruments.Update(r.Context(), inst); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstrumentDTO(inst))
}

// handleDeleteInstrument implements §6 DELETE /instruments/{id} (admin).
func (s *Server) handleDeleteInstrument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.instruments.Delete(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
