package persist

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/authn"
	"github.com/biomeexchange/core/internal/ledger"
)

// userDoc mirrors the users collection. Balance is kept in minor units,
// matching ledger.User's invariant of a non-negative integer balance.
type userDoc struct {
	ID          string    `bson:"_id"`
	Balance     int64     `bson:"balance"`
	Suspended   bool      `bson:"suspended"`
	FailCount   int       `bson:"fail_count"`
	LockedUntil time.Time `bson:"locked_until"`
}

// transactionDoc mirrors the unified transactions collection: every
// balance-changing event across wallet, marketplace, and biome flows lands
// here as one append-only row.
type transactionDoc struct {
	ID            string    `json:"id"                        bson:"_id"`
	BuyerID       string    `json:"buyer_id"                  bson:"buyer_id"`
	SellerID      string    `json:"seller_id,omitempty"       bson:"seller_id,omitempty"`
	Reference     string    `json:"reference,omitempty"       bson:"reference,omitempty"`
	Type          string    `json:"type"                      bson:"type"`
	Amount        int64     `json:"amount"                    bson:"amount"`
	Status        string    `json:"status"                    bson:"status"`
	PlatformFee   int64     `json:"platform_fee,omitempty"    bson:"platform_fee,omitempty"`
	GatewayFee    int64     `json:"gateway_fee,omitempty"     bson:"gateway_fee,omitempty"`
	GatewayName   string    `json:"gateway_name,omitempty"    bson:"gateway_name,omitempty"`
	GatewayExtID  string    `json:"gateway_ext_id,omitempty"  bson:"gateway_ext_id,omitempty"`
	Biome         string    `json:"biome,omitempty"           bson:"biome,omitempty"`
	Shares        string    `json:"shares,omitempty"          bson:"shares,omitempty"`
	PricePerShare string    `json:"price_per_share,omitempty" bson:"price_per_share,omitempty"`
	CreatedAt     time.Time `json:"created_at"                bson:"created_at"`
	CompletedAt   time.Time `json:"completed_at,omitempty"    bson:"completed_at"`
}

// LedgerStore implements ledger.Store against MongoDB's users and
// transactions collections.
type LedgerStore struct {
	db *mongo.Database
}

// NewLedgerStore creates a LedgerStore.
func NewLedgerStore(db *mongo.Database) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) GetUserForUpdate(ctx context.Context, userID string) (ledger.User, error) {
	var doc userDoc
	err := s.db.Collection("users").FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return ledger.User{}, apperr.New(apperr.NotFound, "user %s not found", userID)
	}
	if err != nil {
		return ledger.User{}, fmt.Errorf("get user %s: %w", userID, err)
	}
	return ledger.User{
		ID:          doc.ID,
		Balance:     doc.Balance,
		Suspended:   doc.Suspended,
		FailCount:   doc.FailCount,
		LockedUntil: doc.LockedUntil,
	}, nil
}

func (s *LedgerStore) SetBalance(ctx context.Context, userID string, newBalance int64) error {
	_, err := s.db.Collection("users").UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"balance": newBalance}},
	)
	if err != nil {
		return fmt.Errorf("set balance for %s: %w", userID, err)
	}
	return nil
}

func (s *LedgerStore) InsertTransaction(ctx context.Context, tx ledger.TransactionRecord) error {
	doc := transactionDoc{
		ID:            tx.ID,
		BuyerID:       tx.BuyerID,
		SellerID:      tx.SellerID,
		Reference:     tx.Reference,
		Type:          string(tx.Type),
		Amount:        tx.Amount,
		Status:        string(tx.Status),
		PlatformFee:   tx.PlatformFee,
		GatewayFee:    tx.GatewayFee,
		GatewayName:   tx.GatewayName,
		GatewayExtID:  tx.GatewayExtID,
		Biome:         tx.Biome,
		Shares:        tx.Shares,
		PricePerShare: tx.PricePerShare,
		CreatedAt:     tx.CreatedAt,
		CompletedAt:   tx.CompletedAt,
	}
	_, err := s.db.Collection("transactions").InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}
	return nil
}

// GetAuthState implements authn.AuthStateStore, reading the lockout fields
// off the same users document the Ledger reads balances from.
func (s *LedgerStore) GetAuthState(ctx context.Context, userID string) (authn.AuthState, error) {
	var doc userDoc
	err := s.db.Collection("users").FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return authn.AuthState{}, apperr.New(apperr.NotFound, "user %s not found", userID)
	}
	if err != nil {
		return authn.AuthState{}, fmt.Errorf("get auth state for %s: %w", userID, err)
	}
	return authn.AuthState{
		FailCount:   doc.FailCount,
		LockedUntil: doc.LockedUntil,
		Suspended:   doc.Suspended,
	}, nil
}

// SetAuthState implements authn.AuthStateStore.
func (s *LedgerStore) SetAuthState(ctx context.Context, userID string, st authn.AuthState) error {
	_, err := s.db.Collection("users").UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{
			"fail_count":   st.FailCount,
			"locked_until": st.LockedUntil,
			"suspended":    st.Suspended,
		}},
	)
	if err != nil {
		return fmt.Errorf("set auth state for %s: %w", userID, err)
	}
	return nil
}

// EnsureUser upserts a fresh user row, used by account creation (internal/authn)
// and test fixtures; the Ledger itself never creates users, only mutates balances.
func (s *LedgerStore) EnsureUser(ctx context.Context, userID string, initialBalance int64) error {
	_, err := s.db.Collection("users").UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$setOnInsert": userDoc{ID: userID, Balance: initialBalance}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("ensure user %s: %w", userID, err)
	}
	return nil
}
