// Package ledger is the sole mutator of user balances and the unified
// transaction log. Row-level locking is modeled the way the teacher's
// session.Manager guards its clients map — a registry of per-user mutexes
// behind one coarse map lock — combined with a Store that persists each
// mutation inside one Mongo multi-document transaction
// (internal/persist/snapshot.go's session.WithTransaction pattern).
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/biomeexchange/core/internal/apperr"
)

// TxType tags the kind of balance-changing event a TransactionRecord records.
type TxType string

const (
	TxMarketplaceBuyNow    TxType = "MARKETPLACE_BUY_NOW"
	TxMarketplaceAuction   TxType = "MARKETPLACE_AUCTION"
	TxMarketplaceFixed     TxType = "MARKETPLACE_FIXED_PRICE"
	TxMarketplaceTransfer  TxType = "MARKETPLACE_TRANSFER"
	TxBiomeBuy             TxType = "BIOME_BUY"
	TxBiomeSell            TxType = "BIOME_SELL"
	TxTopup                TxType = "TOPUP"
	TxOrderDebit           TxType = "ORDER_DEBIT"
	TxOrderCredit          TxType = "ORDER_CREDIT"
	TxLiquidation          TxType = "LIQUIDATION"
)

// TxStatus is the lifecycle state of a transaction record.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
	TxRefunded  TxStatus = "refunded"
)

// Source classifies a transaction for the unified view the spec's
// v_unified_transactions SQL projection would otherwise compute; this repo
// has no view layer, so TransactionSource derives it in Go instead.
type Source string

const (
	SourceBiome       Source = "biome"
	SourceMarketplace Source = "marketplace"
	SourceWallet      Source = "wallet"
	SourceUnknown     Source = "unknown"
)

// TransactionSource derives the unified transaction_source for tx.
func TransactionSource(tx TransactionRecord) Source {
	switch tx.Type {
	case TxBiomeBuy, TxBiomeSell:
		return SourceBiome
	case TxMarketplaceBuyNow, TxMarketplaceAuction, TxMarketplaceFixed, TxMarketplaceTransfer:
		return SourceMarketplace
	case TxTopup, TxOrderDebit, TxOrderCredit, TxLiquidation:
		return SourceWallet
	default:
		return SourceUnknown
	}
}

// TransactionRecord is an immutable append-only row once Status is
// TxCompleted.
type TransactionRecord struct {
	ID              string
	BuyerID         string
	SellerID        string // optional, empty if not applicable
	Reference       string // optional land/listing/instrument reference
	Type            TxType
	Amount          int64 // minor units
	Status          TxStatus
	PlatformFee     int64
	GatewayFee      int64
	GatewayName     string
	GatewayExtID    string
	Biome           string // optional, biome transactions only
	Shares          string // optional decimal string, biome transactions only
	PricePerShare   string // optional decimal string, biome transactions only
	CompletedAt     time.Time
	CreatedAt       time.Time
}

// User is the subset of the account entity the Ledger owns.
type User struct {
	ID          string
	Balance     int64 // minor units, always >= 0
	Suspended   bool
	FailCount   int
	LockedUntil time.Time
}

// Store abstracts the persistence of users and transaction rows. The
// production implementation (internal/persist) backs this with MongoDB and
// runs each call inside session.WithTransaction for cross-collection
// atomicity.
type Store interface {
	// GetUserForUpdate reads the current balance; callers already hold the
	// Ledger's in-process per-user lock so no additional storage-level lock
	// is required beyond what the transaction below provides.
	GetUserForUpdate(ctx context.Context, userID string) (User, error)
	SetBalance(ctx context.Context, userID string, newBalance int64) error
	InsertTransaction(ctx context.Context, tx TransactionRecord) error
}

// userLocks is a registry of per-user mutexes guarded by one coarse lock,
// mirroring the teacher's Manager.clients map guarded by Manager.mu.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (u *userLocks) forUser(id string) *sync.Mutex {
	u.mu.Lock()
	defer u.mu.Unlock()
	l, ok := u.locks[id]
	if !ok {
		l = &sync.Mutex{}
		u.locks[id] = l
	}
	return l
}

// Ledger is the sole mutator of user balances and transaction rows.
type Ledger struct {
	store Store
	locks *userLocks
}

// New creates a Ledger backed by store.
func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		locks: &userLocks{locks: make(map[string]*sync.Mutex)},
	}
}

// Debit subtracts amount from user's balance and inserts a transaction row,
// failing with apperr.InsufficientFunds if the balance is too low. The two
// writes happen as one unit via the Store (a Mongo transaction in
// production).
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, reason TxType) (TransactionRecord, error) {
	if amount < 0 {
		return TransactionRecord{}, apperr.New(apperr.Validation, "debit amount must be non-negative")
	}

	lock := l.locks.forUser(userID)
	lock.Lock()
	defer lock.Unlock()

	user, err := l.store.GetUserForUpdate(ctx, userID)
	if err != nil {
		return TransactionRecord{}, err
	}
	if user.Balance < amount {
		return TransactionRecord{}, apperr.New(apperr.InsufficientFunds, "balance %d below requested debit %d", user.Balance, amount)
	}

	newBalance := user.Balance - amount
	if err := l.store.SetBalance(ctx, userID, newBalance); err != nil {
		return TransactionRecord{}, err
	}

	tx := TransactionRecord{
		ID:        uuid.New().String(),
		BuyerID:   userID,
		Type:      reason,
		Amount:    amount,
		Status:    TxCompleted,
		CreatedAt: time.Now(),
	}
	tx.CompletedAt = tx.CreatedAt
	if err := l.store.InsertTransaction(ctx, tx); err != nil {
		return TransactionRecord{}, err
	}
	return tx, nil
}

// Credit adds amount to user's balance. Always succeeds for non-negative
// amounts.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, reason TxType) (TransactionRecord, error) {
	if amount < 0 {
		return TransactionRecord{}, apperr.New(apperr.Validation, "credit amount must be non-negative")
	}

	lock := l.locks.forUser(userID)
	lock.Lock()
	defer lock.Unlock()

	user, err := l.store.GetUserForUpdate(ctx, userID)
	if err != nil {
		return TransactionRecord{}, err
	}

	newBalance := user.Balance + amount
	if err := l.store.SetBalance(ctx, userID, newBalance); err != nil {
		return TransactionRecord{}, err
	}

	tx := TransactionRecord{
		ID:        uuid.New().String(),
		BuyerID:   userID,
		Type:      reason,
		Amount:    amount,
		Status:    TxCompleted,
		CreatedAt: time.Now(),
	}
	tx.CompletedAt = tx.CreatedAt
	if err := l.store.InsertTransaction(ctx, tx); err != nil {
		return TransactionRecord{}, err
	}
	return tx, nil
}

// DebitTx debits amount from userID like Debit, but inserts meta verbatim
// instead of a bare transaction row, letting callers (e.g. BiomeMarketEngine)
// attach PlatformFee/Biome/Shares/PricePerShare. Caller must already hold
// userID's lock via WithUserLock so the debit and any sibling domain writes
// commit as one critical section.
func (l *Ledger) DebitTx(ctx context.Context, userID string, amount int64, meta TransactionRecord) (TransactionRecord, error) {
	if amount < 0 {
		return TransactionRecord{}, apperr.New(apperr.Validation, "debit amount must be non-negative")
	}

	user, err := l.store.GetUserForUpdate(ctx, userID)
	if err != nil {
		return TransactionRecord{}, err
	}
	if user.Balance < amount {
		return TransactionRecord{}, apperr.New(apperr.InsufficientFunds, "balance %d below requested debit %d", user.Balance, amount)
	}

	if err := l.store.SetBalance(ctx, userID, user.Balance-amount); err != nil {
		return TransactionRecord{}, err
	}

	tx := meta
	tx.ID = uuid.New().String()
	tx.BuyerID = userID
	tx.Amount = amount
	tx.Status = TxCompleted
	tx.CreatedAt = time.Now()
	tx.CompletedAt = tx.CreatedAt
	if err := l.store.InsertTransaction(ctx, tx); err != nil {
		return TransactionRecord{}, err
	}
	return tx, nil
}

// CreditTx is DebitTx's credit counterpart. Caller must already hold
// userID's lock via WithUserLock.
func (l *Ledger) CreditTx(ctx context.Context, userID string, amount int64, meta TransactionRecord) (TransactionRecord, error) {
	if amount < 0 {
		return TransactionRecord{}, apperr.New(apperr.Validation, "credit amount must be non-negative")
	}

	user, err := l.store.GetUserForUpdate(ctx, userID)
	if err != nil {
		return TransactionRecord{}, err
	}

	if err := l.store.SetBalance(ctx, userID, user.Balance+amount); err != nil {
		return TransactionRecord{}, err
	}

	tx := meta
	tx.ID = uuid.New().String()
	tx.BuyerID = userID
	tx.Amount = amount
	tx.Status = TxCompleted
	tx.CreatedAt = time.Now()
	tx.CompletedAt = tx.CreatedAt
	if err := l.store.InsertTransaction(ctx, tx); err != nil {
		return TransactionRecord{}, err
	}
	return tx, nil
}

// Transfer locks both users in id order to prevent deadlock, debits from,
// and credits to by amount-fee.
func (l *Ledger) Transfer(ctx context.Context, from, to string, amount, fee int64, reason TxType) (TransactionRecord, error) {
	if amount < 0 || fee < 0 || fee > amount {
		return TransactionRecord{}, apperr.New(apperr.Validation, "invalid transfer amount/fee")
	}

	first, second := from, to
	if second < first {
		first, second = second, first
	}
	lockFirst := l.locks.forUser(first)
	lockSecond := l.locks.forUser(second)
	lockFirst.Lock()
	defer lockFirst.Unlock()
	if first != second {
		lockSecond.Lock()
		defer lockSecond.Unlock()
	}

	fromUser, err := l.store.GetUserForUpdate(ctx, from)
	if err != nil {
		return TransactionRecord{}, err
	}
	if fromUser.Balance < amount {
		return TransactionRecord{}, apperr.New(apperr.InsufficientFunds, "balance %d below requested transfer %d", fromUser.Balance, amount)
	}
	toUser, err := l.store.GetUserForUpdate(ctx, to)
	if err != nil {
		return TransactionRecord{}, err
	}

	if err := l.store.SetBalance(ctx, from, fromUser.Balance-amount); err != nil {
		return TransactionRecord{}, err
	}
	net := amount - fee
	if err := l.store.SetBalance(ctx, to, toUser.Balance+net); err != nil {
		return TransactionRecord{}, err
	}

	tx := TransactionRecord{
		ID:          uuid.New().String(),
		BuyerID:     to,
		SellerID:    from,
		Type:        reason,
		Amount:      amount,
		PlatformFee: fee,
		Status:      TxCompleted,
		CreatedAt:   time.Now(),
	}
	tx.CompletedAt = tx.CreatedAt
	if err := l.store.InsertTransaction(ctx, tx); err != nil {
		return TransactionRecord{}, err
	}
	return tx, nil
}

// WithUserLock runs fn while holding userID's lock, letting callers (e.g.
// BiomeMarketEngine.buy) extend the critical section across a Debit/Credit
// plus their own domain writes so the whole sequence is serialized per user.
func (l *Ledger) WithUserLock(userID string, fn func() error) error {
	lock := l.locks.forUser(userID)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// GetBalance reads the current balance without locking (advisory read; not
// safe to use as the basis for a subsequent mutation without Debit/Credit's
// own locking).
func (l *Ledger) GetBalance(ctx context.Context, userID string) (int64, error) {
	user, err := l.store.GetUserForUpdate(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.Balance, nil
}
