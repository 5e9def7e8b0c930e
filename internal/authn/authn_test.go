package authn

import (
	"context"
	"testing"
	"time"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/clock"
	"github.com/biomeexchange/core/internal/config"
)

type memAccounts struct {
	byID    map[string]Account
	byEmail map[string]Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byID: map[string]Account{}, byEmail: map[string]Account{}}
}

func (m *memAccounts) CreateAccount(ctx context.Context, acc Account) error {
	m.byID[acc.ID] = acc
	m.byEmail[acc.Email] = acc
	return nil
}

func (m *memAccounts) GetByEmail(ctx context.Context, email string) (Account, bool, error) {
	acc, ok := m.byEmail[email]
	return acc, ok, nil
}

func (m *memAccounts) GetByID(ctx context.Context, id string) (Account, bool, error) {
	acc, ok := m.byID[id]
	return acc, ok, nil
}

type memAuthStates struct {
	byID map[string]AuthState
}

func newMemAuthStates() *memAuthStates {
	return &memAuthStates{byID: map[string]AuthState{}}
}

func (m *memAuthStates) GetAuthState(ctx context.Context, userID string) (AuthState, error) {
	return m.byID[userID], nil
}

func (m *memAuthStates) SetAuthState(ctx context.Context, userID string, st AuthState) error {
	m.byID[userID] = st
	return nil
}

func testConfig() *config.Provider {
	return config.NewProvider(&config.Snapshot{
		LoginFailureLockoutThreshold: 3,
		LoginLockoutDuration:         15 * time.Minute,
		PasswordMinLength:            8,
		PasswordRequireUpper:         true,
		PasswordRequireDigit:         true,
		PasswordRequireSymbol:        false,
	})
}

func newTestService(now time.Time) (*Service, *memAccounts, *memAuthStates) {
	accounts := newMemAccounts()
	states := newMemAuthStates()
	svc := New(accounts, states, testConfig(), clockStub{now: now}, []byte("test-secret"))
	return svc, accounts, states
}

// clockStub implements clock.Clock with a fixed Now and no real timers —
// Login/Authenticate never call NewTicker/After.
type clockStub struct{ now time.Time }

func (c clockStub) Now() time.Time { return c.now }
func (c clockStub) NewTicker(d time.Duration) clock.Ticker {
	panic("not used by authn")
}
func (c clockStub) After(d time.Duration) <-chan time.Time { return make(chan time.Time) }

func TestRegisterRejectsWeakPassword(t *testing.T) {
	svc, _, _ := newTestService(time.Now())
	_, err := svc.Register(context.Background(), "u1", "a@example.com", "short", "user")
	if apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(time.Now())
	ctx := context.Background()
	if _, err := svc.Register(ctx, "u1", "a@example.com", "Passw0rd!", "user"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := svc.Register(ctx, "u2", "a@example.com", "Passw0rd!", "user")
	if apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
}

func TestLoginSucceedsWithCorrectPasswordAndIssuesValidToken(t *testing.T) {
	svc, _, _ := newTestService(time.Now())
	ctx := context.Background()
	if _, err := svc.Register(ctx, "u1", "a@example.com", "Passw0rd!", "user"); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := svc.Login(ctx, "a@example.com", "Passw0rd!")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("expected non-empty tokens")
	}
	if result.PreviousSessionTerminated {
		t.Fatal("expected no prior session on first login")
	}

	claims, err := svc.Authenticate(ctx, result.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.UserID != "u1" || claims.Email != "a@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestSecondLoginTerminatesFirstSession(t *testing.T) {
	svc, _, _ := newTestService(time.Now())
	ctx := context.Background()
	svc.Register(ctx, "u1", "a@example.com", "Passw0rd!", "user")

	first, err := svc.Login(ctx, "a@example.com", "Passw0rd!")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	second, err := svc.Login(ctx, "a@example.com", "Passw0rd!")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if !second.PreviousSessionTerminated {
		t.Fatal("expected second login to report a terminated prior session")
	}

	if _, err := svc.Authenticate(ctx, first.AccessToken); apperr.KindOf(err) != apperr.Authentication {
		t.Fatalf("expected first token to fail authentication after second login, got %v", err)
	}
}

func TestLoginLocksAccountAfterThresholdFailures(t *testing.T) {
	svc, _, states := newTestService(time.Now())
	ctx := context.Background()
	svc.Register(ctx, "u1", "a@example.com", "Passw0rd!", "user")

	for i := 0; i < 3; i++ {
		if _, err := svc.Login(ctx, "a@example.com", "wrong-password"); apperr.KindOf(err) != apperr.Authentication {
			t.Fatalf("attempt %d: expected AUTHENTICATION_ERROR, got %v", i, err)
		}
	}

	state, _ := states.GetAuthState(ctx, "u1")
	if state.LockedUntil.IsZero() {
		t.Fatal("expected account to be locked after threshold failures")
	}

	if _, err := svc.Login(ctx, "a@example.com", "Passw0rd!"); apperr.KindOf(err) != apperr.Authentication {
		t.Fatalf("expected login to fail while locked, got %v", err)
	}
}

func TestLoginRejectsUnknownEmail(t *testing.T) {
	svc, _, _ := newTestService(time.Now())
	_, err := svc.Login(context.Background(), "nobody@example.com", "whatever")
	if apperr.KindOf(err) != apperr.Authentication {
		t.Fatalf("expected AUTHENTICATION_ERROR, got %v", err)
	}
}
