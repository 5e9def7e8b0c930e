package persist

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/biomeexchange/core/internal/authn"
)

type accountDoc struct {
	ID           string `bson:"_id"`
	Email        string `bson:"email"`
	Role         string `bson:"role"`
	PasswordHash string `bson:"password_hash"`
}

// AccountStore implements authn.AccountStore against MongoDB's accounts
// collection, a login-credential record kept separate from the users
// collection the Ledger owns.
type AccountStore struct {
	db *mongo.Database
}

// NewAccountStore creates an AccountStore.
func NewAccountStore(db *mongo.Database) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) CreateAccount(ctx context.Context, acc authn.Account) error {
	doc := accountDoc{ID: acc.ID, Email: acc.Email, Role: acc.Role, PasswordHash: acc.PasswordHash}
	_, err := s.db.Collection("accounts").InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("create account %s: %w", acc.ID, err)
	}
	return nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (authn.Account, bool, error) {
	var doc accountDoc
	err := s.db.Collection("accounts").FindOne(ctx, bson.M{"email": email}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return authn.Account{}, false, nil
	}
	if err != nil {
		return authn.Account{}, false, fmt.Errorf("get account by email %s: %w", email, err)
	}
	return authn.Account{ID: doc.ID, Email: doc.Email, Role: doc.Role, PasswordHash: doc.PasswordHash}, true, nil
}

func (s *AccountStore) GetByID(ctx context.Context, id string) (authn.Account, bool, error) {
	var doc accountDoc
	err := s.db.Collection("accounts").FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return authn.Account{}, false, nil
	}
	if err != nil {
		return authn.Account{}, false, fmt.Errorf("get account %s: %w", id, err)
	}
	return authn.Account{ID: doc.ID, Email: doc.Email, Role: doc.Role, PasswordHash: doc.PasswordHash}, true, nil
}
