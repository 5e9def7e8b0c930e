package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/orderbook"
)

// --- placeOrderRequest.toPlaceRequest ---

func TestToPlaceRequestLimitOrder(t *testing.T) {
	req := placeOrderRequest{
		InstrumentID: "BTC-USD",
		Side:         "buy",
		OrderType:    string(orderbook.TypeLimit),
		Quantity:     "1.5",
		Price:        "50000",
		TimeInForce:  "GTC",
	}

	out, err := req.toPlaceRequest("user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.UserID != "user-1" {
		t.Errorf("expected user-1, got %q", out.UserID)
	}
	if out.Side != orderbook.SideBuy {
		t.Errorf("expected SideBuy, got %v", out.Side)
	}
	if !out.HasLimitPrice {
		t.Error("expected HasLimitPrice true")
	}
	if out.LimitPrice.String() != "50000" {
		t.Errorf("expected limit price 50000, got %s", out.LimitPrice)
	}
	if out.HasStopPrice || out.HasTrailing || out.IsIceberg {
		t.Error("expected no optional flags set")
	}
}

func TestToPlaceRequestInvalidSide(t *testing.T) {
	req := placeOrderRequest{Side: "sideways", Quantity: "1"}
	_, err := req.toPlaceRequest("user-1")
	if apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestToPlaceRequestInvalidQuantity(t *testing.T) {
	req := placeOrderRequest{Side: "buy", Quantity: "-1"}
	_, err := req.toPlaceRequest("user-1")
	if apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected VALIDATION_ERROR for negative quantity, got %v", err)
	}

	req = placeOrderRequest{Side: "buy", Quantity: "not-a-number"}
	_, err = req.toPlaceRequest("user-1")
	if apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected VALIDATION_ERROR for unparseable quantity, got %v", err)
	}
}

func TestToPlaceRequestOptionalFields(t *testing.T) {
	req := placeOrderRequest{
		Side:           "sell",
		Quantity:       "10",
		StopPrice:      "99.5",
		TrailingOffset: "0.5",
		IcebergVisible: "2",
	}
	out, err := req.toPlaceRequest("user-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.HasStopPrice || out.StopPrice.String() != "99.5" {
		t.Errorf("expected stop price 99.5, got %v/%s", out.HasStopPrice, out.StopPrice)
	}
	if !out.HasTrailing || out.TrailingOffset.String() != "0.5" {
		t.Errorf("expected trailing offset 0.5, got %v/%s", out.HasTrailing, out.TrailingOffset)
	}
	if !out.IsIceberg || out.IcebergVisible.String() != "2" {
		t.Errorf("expected iceberg visible 2, got %v/%s", out.IsIceberg, out.IcebergVisible)
	}
	if out.HasLimitPrice {
		t.Error("expected no limit price set")
	}
}

// --- ws control messages ---

type fakeHub struct {
	subscribed   []string
	unsubscribed []string
	sent         []wsServerMessage
}

func (f *fakeHub) Detach(string) {}
func (f *fakeHub) Subscribe(_, room string)   { f.subscribed = append(f.subscribed, room) }
func (f *fakeHub) Unsubscribe(_, room string) { f.unsubscribed = append(f.unsubscribed, room) }
func (f *fakeHub) Send(_ string, payload any) bool {
	if msg, ok := payload.(wsServerMessage); ok {
		f.sent = append(f.sent, msg)
	}
	return true
}

func TestHandleWSControlSubscribe(t *testing.T) {
	h := &fakeHub{}
	handleWSControl(h, "conn-1", wsControlMessage{Action: "subscribe", Channel: "trades.BTC-USD"})

	if len(h.subscribed) != 1 || h.subscribed[0] != "trades.BTC-USD" {
		t.Fatalf("expected subscribe to trades.BTC-USD, got %v", h.subscribed)
	}
	if len(h.sent) != 1 || h.sent[0].Type != "subscribed" {
		t.Fatalf("expected subscribed ack, got %v", h.sent)
	}
}

func TestHandleWSControlSubscribeMissingChannel(t *testing.T) {
	h := &fakeHub{}
	handleWSControl(h, "conn-1", wsControlMessage{Action: "subscribe"})

	if len(h.subscribed) != 0 {
		t.Fatalf("expected no subscription, got %v", h.subscribed)
	}
	if len(h.sent) != 1 || h.sent[0].Type != "error" {
		t.Fatalf("expected error ack, got %v", h.sent)
	}
}

func TestHandleWSControlUnsubscribe(t *testing.T) {
	h := &fakeHub{}
	handleWSControl(h, "conn-1", wsControlMessage{Action: "unsubscribe", Channel: "orders.user-1"})

	if len(h.unsubscribed) != 1 || h.unsubscribed[0] != "orders.user-1" {
		t.Fatalf("expected unsubscribe from orders.user-1, got %v", h.unsubscribed)
	}
	if h.sent[0].Type != "unsubscribed" {
		t.Fatalf("expected unsubscribed ack, got %v", h.sent)
	}
}

func TestHandleWSControlPing(t *testing.T) {
	h := &fakeHub{}
	handleWSControl(h, "conn-1", wsControlMessage{Action: "ping"})

	if len(h.sent) != 1 || h.sent[0].Type != "pong" {
		t.Fatalf("expected pong, got %v", h.sent)
	}
}

func TestHandleWSControlUnknownAction(t *testing.T) {
	h := &fakeHub{}
	handleWSControl(h, "conn-1", wsControlMessage{Action: "teleport"})

	if len(h.sent) != 1 || h.sent[0].Type != "error" {
		t.Fatalf("expected error for unknown action, got %v", h.sent)
	}
}

// --- dto conversions ---

func TestToOrderDTO(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	order := &orderbook.Order{
		ID:            7,
		InstrumentID:  "BTC-USD",
		UserID:        "user-1",
		Side:          orderbook.SideBuy,
		Type:          orderbook.TypeLimit,
		TimeInForce:   orderbook.TIFGTC,
		Original:      mustDecimal("2"),
		Remaining:     mustDecimal("1"),
		LimitPrice:    mustDecimal("50000"),
		HasLimitPrice: true,
		Status:        orderbook.Status("open"),
		CreatedAt:     created,
	}

	dto := toOrderDTO(order)
	if dto.Side != "buy" {
		t.Errorf("expected side buy, got %q", dto.Side)
	}
	if dto.LimitPrice != "50000" {
		t.Errorf("expected limit price 50000, got %q", dto.LimitPrice)
	}
	if dto.StopPrice != "" {
		t.Errorf("expected no stop price, got %q", dto.StopPrice)
	}
	if dto.Original != "2" || dto.Remaining != "1" {
		t.Errorf("unexpected quantities: %q/%q", dto.Original, dto.Remaining)
	}
	if !dto.CreatedAt.Equal(created) {
		t.Errorf("expected created_at %v, got %v", created, dto.CreatedAt)
	}
}

func TestParseSide(t *testing.T) {
	tests := []struct {
		in     string
		want   orderbook.Side
		wantOK bool
	}{
		{"buy", orderbook.SideBuy, true},
		{"B", orderbook.SideBuy, true},
		{"sell", orderbook.SideSell, true},
		{"S", orderbook.SideSell, true},
		{"nope", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseSide(tt.in)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("parseSide(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

// --- error envelope ---

func TestWriteAppErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	writeAppError(w, apperr.New(apperr.Validation, "quantity must be positive"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
}

func TestWriteAppErrorAuthenticationSetsWWWAuthenticate(t *testing.T) {
	w := httptest.NewRecorder()
	writeAppError(w, apperr.New(apperr.Authentication, "missing bearer token"))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Error("expected WWW-Authenticate: Bearer header")
	}
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.Validation, http.StatusBadRequest},
		{apperr.Authentication, http.StatusUnauthorized},
		{apperr.Authorization, http.StatusForbidden},
		{apperr.NotFound, http.StatusNotFound},
		{apperr.Conflict, http.StatusConflict},
		{apperr.InsufficientFunds, http.StatusUnprocessableEntity},
		{apperr.MarginInsufficient, http.StatusUnprocessableEntity},
		{apperr.MarketNotOpen, http.StatusConflict},
		{apperr.RateLimited, http.StatusTooManyRequests},
		{apperr.PaymentRequired, http.StatusPaymentRequired},
		{apperr.Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForKind(tt.kind); got != tt.want {
			t.Errorf("statusForKind(%v) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

// --- query param helpers ---

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		url  string
		key  string
		def  int
		want int
	}{
		{"/test", "limit", 100, 100},
		{"/test?limit=50", "limit", 100, 50},
		{"/test?limit=abc", "limit", 100, 100},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", tt.url, nil)
		got := parseIntParam(req, tt.key, tt.def)
		if got != tt.want {
			t.Errorf("parseIntParam(%q, %q, %d) = %d, want %d", tt.url, tt.key, tt.def, got, tt.want)
		}
	}
}
