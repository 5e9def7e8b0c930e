package api

import (
	"net/http"
	"time"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/pricing"
)

type quoteResponse struct {
	InstrumentID string `json:"instrument_id"`
	Bid          string `json:"bid,omitempty"`
	Ask          string `json:"ask,omitempty"`
	Mid          string `json:"mid,omitempty"`
	HasQuote     bool   `json:"has_quote"`
}

// handleQuotes implements §6 GET /marketdata/quotes/{instrument_id}.
func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	instrumentID := r.PathValue("instrument_id")
	inst, ok := s.instruments.Get(instrumentID)
	if !ok {
		writeAppError(w, apperr.New(apperr.NotFound, "instrument %q not found", instrumentID))
		return
	}

	bid, ask, ok := s.pricing.BestBidAsk(instrumentID)
	if !ok {
		writeJSON(w, http.StatusOK, quoteResponse{InstrumentID: instrumentID, HasQuote: false})
		return
	}
	mid, _ := s.pricing.Mid(instrumentID, inst.TickSize)
	ask = s.pricing.AskWithMarkup(instrumentID, ask, mid)

	writeJSON(w, http.StatusOK, quoteResponse{
		InstrumentID: instrumentID,
		Bid:          bid.String(),
		Ask:          ask.String(),
		Mid:          mid.String(),
		HasQuote:     true,
	})
}

// handleDepth implements §6 GET /marketdata/depth/{instrument_id}?levels.
func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	instrumentID := r.PathValue("instrument_id")
	levels := parseIntParam(r, "levels", 10)

	book, err := s.matching.Book(instrumentID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book.Depth(levels))
}

type candleDTO struct {
	BucketStart string `json:"bucket_start"`
	Open        string `json:"open"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Close       string `json:"close"`
	Volume      string `json:"volume"`
	VWAP        string `json:"vwap"`
}

func toCandleDTO(c pricing.Candle) candleDTO {
	return candleDTO{
		BucketStart: c.BucketStart.UTC().Format(time.RFC3339),
		Open:        c.Open.String(),
		High:        c.High.String(),
		Low:         c.Low.String(),
		Close:       c.Close.String(),
		Volume:      c.Volume.String(),
		VWAP:        c.VWAP().String(),
	}
}

// handleCandles implements §6 GET /marketdata/candles/{instrument_id}?timeframe&limit&start_time&end_time.
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	instrumentID := r.PathValue("instrument_id")
	q := r.URL.Query()
	tf := pricing.Timeframe(q.Get("timeframe"))
	if tf == "" {
		tf = pricing.Timeframe("1m")
	}

	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)
	to := now
	if v := q.Get("start_time"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeAppError(w, apperr.New(apperr.Validation, "invalid start_time %q", v))
			return
		}
		from = parsed
	}
	if v := q.Get("end_time"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeAppError(w, apperr.New(apperr.Validation, "invalid end_time %q", v))
			return
		}
		to = parsed
	}

	candles := s.pricing.Candles(instrumentID, tf, from, to)
	limit := parseIntParam(r, "limit", 500)
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}

	out := make([]candleDTO, len(candles))
	for i, c := range candles {
		out[i] = toCandleDTO(c)
	}
	writeJSON(w, http.StatusOK, out)
}
