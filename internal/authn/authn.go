// Package authn issues and verifies the bearer tokens the HTTP/WS boundary
// authenticates requests with, and enforces the single-active-session and
// failed-login-lockout rules spec.md assumes an out-of-scope authenticator
// already provides. Grounded on original_source's auth_service.py (JWT
// access tokens, a separate long-lived refresh token, claim shape) with a
// session_id claim and failed-login counter added per this repository's own
// single-session and lockout requirements.
package authn

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/clock"
	"github.com/biomeexchange/core/internal/config"
)

// Account is a login credential row: one per user, keyed by the same id the
// Ledger uses for that user's balance.
type Account struct {
	ID           string
	Email        string
	Role         string
	PasswordHash string
}

// AccountStore persists login credentials.
type AccountStore interface {
	CreateAccount(ctx context.Context, acc Account) error
	GetByEmail(ctx context.Context, email string) (Account, bool, error)
	GetByID(ctx context.Context, id string) (Account, bool, error)
}

// AuthState is the lockout bookkeeping the spec's User account carries:
// a consecutive-failure counter and an optional unlock instant.
type AuthState struct {
	FailCount   int
	LockedUntil time.Time
	Suspended   bool
}

// AuthStateStore persists AuthState. internal/persist.LedgerStore implements
// this against the same users collection the Ledger reads balances from,
// since FailCount/LockedUntil/Suspended live on the same document.
type AuthStateStore interface {
	GetAuthState(ctx context.Context, userID string) (AuthState, error)
	SetAuthState(ctx context.Context, userID string, st AuthState) error
}

// Claims is the access token's explicit claim record — {sub, email, role,
// session_id, exp} — rather than a dynamic claim bag, so every reader agrees
// on what a token can possibly carry.
type Claims struct {
	UserID    string
	Email     string
	Role      string
	SessionID string
	ExpiresAt time.Time
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	AccessToken               string
	RefreshToken              string
	PreviousSessionTerminated bool
}

// session is the single live session a user may hold at a time.
type session struct {
	id        string
	expiresAt time.Time
}

// sessionRegistry tracks at most one live session per user, mirroring
// internal/ratelimit's mutex-guarded-map-of-subjects shape. A later login
// always overwrites the prior entry, and validate is the "logged out
// elsewhere" check: any session_id that doesn't match the registry's current
// entry for that user fails.
type sessionRegistry struct {
	mu    sync.Mutex
	byUser map[string]session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{byUser: make(map[string]session)}
}

// start installs a new session for userID, returning whether a prior live
// session was overwritten.
func (r *sessionRegistry) start(userID, sessionID string, expiresAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, had := r.byUser[userID]
	r.byUser[userID] = session{id: sessionID, expiresAt: expiresAt}
	return had && prev.id != sessionID
}

// validate reports whether sessionID is still the current session for userID.
func (r *sessionRegistry) validate(userID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byUser[userID]
	return ok && cur.id == sessionID
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Service issues tokens, enforces password policy and login lockout, and
// validates the single-session invariant on every authenticated request.
type Service struct {
	accounts   AccountStore
	authStates AuthStateStore
	cfg        *config.Provider
	clk        clock.Clock
	secret     []byte
	sessions   *sessionRegistry
}

// New creates a Service. secret signs and verifies access tokens.
func New(accounts AccountStore, authStates AuthStateStore, cfg *config.Provider, clk clock.Clock, secret []byte) *Service {
	return &Service{
		accounts:   accounts,
		authStates: authStates,
		cfg:        cfg,
		clk:        clk,
		secret:     secret,
		sessions:   newSessionRegistry(),
	}
}

// checkPasswordPolicy validates password against the configured minimum
// length and required character classes.
func checkPasswordPolicy(password string, snap *config.Snapshot) error {
	if len(password) < snap.PasswordMinLength {
		return apperr.New(apperr.Validation, "password must be at least %d characters", snap.PasswordMinLength).
			WithDetails(map[string]string{"password": "too short"})
	}
	var hasUpper, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'a' && r <= 'z':
			// letters only, not a required class
		default:
			hasSymbol = true
		}
	}
	if snap.PasswordRequireUpper && !hasUpper {
		return apperr.New(apperr.Validation, "password must contain an uppercase letter").
			WithDetails(map[string]string{"password": "missing uppercase"})
	}
	if snap.PasswordRequireDigit && !hasDigit {
		return apperr.New(apperr.Validation, "password must contain a digit").
			WithDetails(map[string]string{"password": "missing digit"})
	}
	if snap.PasswordRequireSymbol && !hasSymbol {
		return apperr.New(apperr.Validation, "password must contain a symbol").
			WithDetails(map[string]string{"password": "missing symbol"})
	}
	return nil
}

// Register validates password against the policy snapshot, hashes it, and
// persists a new Account. Fails on a duplicate email.
func (s *Service) Register(ctx context.Context, id, email, password, role string) (Account, error) {
	snap := s.cfg.Snapshot()
	if err := checkPasswordPolicy(password, snap); err != nil {
		return Account{}, err
	}
	if _, found, err := s.accounts.GetByEmail(ctx, email); err != nil {
		return Account{}, err
	} else if found {
		return Account{}, apperr.New(apperr.Conflict, "email %s already registered", email)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, apperr.Wrap(apperr.Internal, err, "hash password")
	}

	acc := Account{ID: id, Email: email, Role: role, PasswordHash: string(hash)}
	if err := s.accounts.CreateAccount(ctx, acc); err != nil {
		return Account{}, err
	}
	return acc, nil
}

// Login verifies credentials, enforces lockout, and on success issues a
// fresh access/refresh token pair and overwrites any prior live session.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	acc, found, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return LoginResult{}, err
	}
	if !found {
		return LoginResult{}, apperr.New(apperr.Authentication, "invalid email or password")
	}

	state, err := s.authStates.GetAuthState(ctx, acc.ID)
	if err != nil {
		return LoginResult{}, err
	}
	if state.Suspended {
		return LoginResult{}, apperr.New(apperr.Authentication, "account suspended")
	}
	now := s.clk.Now()
	if !state.LockedUntil.IsZero() && now.Before(state.LockedUntil) {
		return LoginResult{}, apperr.New(apperr.Authentication, "account locked until %s", state.LockedUntil)
	}

	snap := s.cfg.Snapshot()
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		state.FailCount++
		if state.FailCount >= snap.LoginFailureLockoutThreshold {
			state.LockedUntil = now.Add(snap.LoginLockoutDuration)
			state.FailCount = 0
		}
		if err := s.authStates.SetAuthState(ctx, acc.ID, state); err != nil {
			return LoginResult{}, err
		}
		return LoginResult{}, apperr.New(apperr.Authentication, "invalid email or password")
	}

	if state.FailCount != 0 || !state.LockedUntil.IsZero() {
		state.FailCount = 0
		state.LockedUntil = time.Time{}
		if err := s.authStates.SetAuthState(ctx, acc.ID, state); err != nil {
			return LoginResult{}, err
		}
	}

	sessionID, err := randomToken()
	if err != nil {
		return LoginResult{}, apperr.Wrap(apperr.Internal, err, "generate session id")
	}
	refreshToken, err := randomToken()
	if err != nil {
		return LoginResult{}, apperr.Wrap(apperr.Internal, err, "generate refresh token")
	}

	expiresAt := now.Add(time.Hour)
	accessToken, err := s.signAccessToken(acc, sessionID, now, expiresAt)
	if err != nil {
		return LoginResult{}, apperr.Wrap(apperr.Internal, err, "sign access token")
	}

	terminated := s.sessions.start(acc.ID, sessionID, expiresAt.Add(7*24*time.Hour))

	return LoginResult{
		AccessToken:               accessToken,
		RefreshToken:              refreshToken,
		PreviousSessionTerminated: terminated,
	}, nil
}

func (s *Service) signAccessToken(acc Account, sessionID string, now, expiresAt time.Time) (string, error) {
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acc.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:     acc.Email,
		Role:      acc.Role,
		SessionID: sessionID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Authenticate verifies tokenString's signature and expiry, then checks that
// its session_id claim still matches the registry's current entry for that
// user — the "logged out elsewhere" check a newer login triggers.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &jwtClaims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, apperr.New(apperr.Authentication, "invalid or expired token")
	}
	claims, ok := parsed.Claims.(*jwtClaims)
	if !ok {
		return Claims{}, apperr.New(apperr.Authentication, "invalid token claims")
	}

	if !s.sessions.validate(claims.Subject, claims.SessionID) {
		return Claims{}, apperr.New(apperr.Authentication, "logged out elsewhere")
	}

	return Claims{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
