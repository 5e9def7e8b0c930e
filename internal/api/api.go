// Package api implements the HTTP surface spec §6 names as the external
// collaborator boundary: request parsing, routing, auth/rate-limit
// middleware, and JSON marshaling sit here so every other package stays
// transport-agnostic. Grounded on the teacher's internal/api: a stdlib
// net/http.ServeMux with Go 1.22+ method+pattern routing, one writeJSON/
// writeError pair, and a Server struct holding every wired dependency.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/authn"
	"github.com/biomeexchange/core/internal/biome"
	"github.com/biomeexchange/core/internal/config"
	"github.com/biomeexchange/core/internal/hub"
	"github.com/biomeexchange/core/internal/instrument"
	"github.com/biomeexchange/core/internal/ledger"
	"github.com/biomeexchange/core/internal/margin"
	"github.com/biomeexchange/core/internal/matching"
	"github.com/biomeexchange/core/internal/payment"
	"github.com/biomeexchange/core/internal/persist"
	"github.com/biomeexchange/core/internal/pricing"
	"github.com/biomeexchange/core/internal/ratelimit"
)

// UserProvisioner creates the Ledger-side user row a freshly registered
// account needs, satisfied by internal/persist.LedgerStore.EnsureUser.
type UserProvisioner interface {
	EnsureUser(ctx context.Context, userID string, initialBalance int64) error
}

// Server wires every domain package the HTTP surface drives.
type Server struct {
	cfg         *config.Provider
	auth        *authn.Service
	instruments *instrument.Registry
	matching    *matching.Engine
	margin      *margin.Service
	biome       *biome.Engine
	pricing     *pricing.Engine
	hub         *hub.Hub
	limiter     *ratelimit.Limiter
	ledger      *ledger.Ledger
	gateway     payment.Gateway
	payments    payment.EventStore
	provision   UserProvisioner

	trades       persist.TradeReader
	orders       persist.OrderReader
	transactions persist.TransactionReader

	startAt time.Time
}

// Deps bundles every collaborator NewServer wires, so cmd/server's
// construction call stays a single readable literal.
type Deps struct {
	Config       *config.Provider
	Auth         *authn.Service
	Instruments  *instrument.Registry
	Matching     *matching.Engine
	Margin       *margin.Service
	Biome        *biome.Engine
	Pricing      *pricing.Engine
	Hub          *hub.Hub
	Limiter      *ratelimit.Limiter
	Ledger       *ledger.Ledger
	Gateway      payment.Gateway
	Payments     payment.EventStore
	Provision    UserProvisioner
	Trades       persist.TradeReader
	Orders       persist.OrderReader
	Transactions persist.TransactionReader
}

// NewServer creates a Server from deps.
func NewServer(d Deps) *Server {
	return &Server{
		cfg:          d.Config,
		auth:         d.Auth,
		instruments:  d.Instruments,
		matching:     d.Matching,
		margin:       d.Margin,
		biome:        d.Biome,
		pricing:      d.Pricing,
		hub:          d.Hub,
		limiter:      d.Limiter,
		ledger:       d.Ledger,
		gateway:      d.Gateway,
		payments:     d.Payments,
		provision:    d.Provision,
		trades:       d.Trades,
		orders:       d.Orders,
		transactions: d.Transactions,
		startAt:      time.Now(),
	}
}

// Register attaches every route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.rateLimited("auth.login", s.handleLogin))

	mux.HandleFunc("GET /instruments", s.withAuth(s.handleListInstruments))
	mux.HandleFunc("POST /instruments", s.withAuth(s.requireAdmin(s.handleCreateInstrument)))
	mux.HandleFunc("PATCH /instruments/{id}", s.withAuth(s.requireAdmin(s.handleUpdateInstrument)))
	mux.HandleFunc("DELETE /instruments/{id}", s.withAuth(s.requireAdmin(s.handleDeleteInstrument)))

	mux.HandleFunc("GET /market/status", s.withAuth(s.handleMarketStatusGet))
	mux.HandleFunc("POST /market/status", s.withAuth(s.requireAdmin(s.handleMarketStatusSet)))

	mux.HandleFunc("POST /orders", s.withAuth(s.rateLimited("orders.place", s.handlePlaceOrder)))
	mux.HandleFunc("GET /orders", s.withAuth(s.handleListOrders))
	mux.HandleFunc("DELETE /orders/{id}", s.withAuth(s.rateLimited("orders.cancel", s.handleCancelOrder)))

	mux.HandleFunc("GET /trades", s.withAuth(s.handleListTrades))

	mux.HandleFunc("GET /marketdata/quotes/{instrument_id}", s.withAuth(s.rateLimited("marketdata.get", s.handleQuotes)))
	mux.HandleFunc("GET /marketdata/depth/{instrument_id}", s.withAuth(s.rateLimited("marketdata.get", s.handleDepth)))
	mux.HandleFunc("GET /marketdata/candles/{instrument_id}", s.withAuth(s.rateLimited("marketdata.get", s.handleCandles)))

	mux.HandleFunc("GET /biome-market/markets", s.withAuth(s.handleBiomeMarkets))
	mux.HandleFunc("GET /biome-market/markets/{biome}", s.withAuth(s.handleBiomeMarket))
	mux.HandleFunc("POST /biome-market/buy", s.withAuth(s.rateLimited("biome.trade", s.handleBiomeBuy)))
	mux.HandleFunc("POST /biome-market/sell", s.withAuth(s.rateLimited("biome.trade", s.handleBiomeSell)))
	mux.HandleFunc("POST /biome-market/track-attention", s.withAuth(s.handleBiomeTrack))
	mux.HandleFunc("GET /biome-market/portfolio", s.withAuth(s.handleBiomePortfolio))
	mux.HandleFunc("GET /biome-market/transactions", s.withAuth(s.handleBiomeTransactions))

	mux.HandleFunc("POST /wallet/topup", s.withAuth(s.handleWalletTopup))

	mux.HandleFunc("GET /ws", s.handleWebsocket)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody is the §6 error envelope: {error:{code, message, details?}}.
type errorBody struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details,omitempty"`
	} `json:"error"`
}

// writeAppError maps an apperr.Kind to its HTTP status and writes the
// envelope §6/§7 specify, adding WWW-Authenticate for authentication
// failures. It sets no rate-limit headers; rateLimited sets those before
// writing a RATE_LIMITED error.
func writeAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)

	var body errorBody
	body.Error.Code = string(kind)
	body.Error.Message = err.Error()

	var ae *apperr.Error
	if apperr.As(err, &ae) {
		body.Error.Message = ae.Message
		body.Error.Details = ae.Details
	}

	if kind == apperr.Authentication {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, status, body)
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.Authentication:
		return http.StatusUnauthorized
	case apperr.Authorization:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.InsufficientFunds, apperr.MarginInsufficient:
		return http.StatusUnprocessableEntity
	case apperr.MarketNotOpen:
		return http.StatusConflict
	case apperr.RateLimited:
		return http.StatusTooManyRequests
	case apperr.PaymentRequired:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads and decodes a JSON request body, returning a tagged
// VALIDATION_ERROR on malformed input.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.Validation, err, "malformed request body")
	}
	return nil
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// ctxKey namespaces context values this package stores.
type ctxKey int

const claimsKey ctxKey = 1

// withAuth verifies the bearer token and stores the resulting Claims in the
// request context before calling next; it writes 401 and stops the chain on
// failure, per §7's AUTHENTICATION_ERROR / WWW-Authenticate rule.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeAppError(w, apperr.New(apperr.Authentication, "missing bearer token"))
			return
		}
		claims, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeAppError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// requireAdmin wraps a withAuth-protected handler with a role check.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r)
		if claims.Role != "admin" {
			writeAppError(w, apperr.New(apperr.Authorization, "admin role required"))
			return
		}
		next(w, r)
	}
}

func claimsFrom(r *http.Request) authn.Claims {
	c, _ := r.Context().Value(claimsKey).(authn.Claims)
	return c
}

// rateLimited checks the named bucket against the caller's user id (falling
// back to remote address for the pre-auth login bucket) before calling next.
func (s *Server) rateLimited(bucket string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := claimsFrom(r).UserID
		if subject == "" {
			subject = r.RemoteAddr
		}
		decision := s.limiter.Check(bucket, subject)
		if capacity, ok := s.limiter.Capacity(bucket); ok {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(capacity))
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(decision.ResetAt).Seconds())))
			writeAppError(w, apperr.New(apperr.RateLimited, "rate limit exceeded for %s", bucket))
			return
		}
		next(w, r)
	}
}
