// Package instrument owns the tradable-instrument registry: the admin-facing
// CRUD surface (§6 "Instruments: GET/POST/PATCH/DELETE") backed by a cached
// in-memory view so RiskEngine and MatchingEngine never take a database round
// trip on the hot path, generalizing the teacher's static symbol.AllSymbols()
// table into a mutable, persisted one.
package instrument

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/biomeexchange/core/internal/apperr"
	"github.com/biomeexchange/core/internal/matching"
	"github.com/biomeexchange/core/internal/risk"
)

// AssetClass identifies which market family an instrument belongs to.
type AssetClass string

const (
	AssetEquity     AssetClass = "equity"
	AssetForex      AssetClass = "forex"
	AssetCommodity  AssetClass = "commodity"
	AssetIndex      AssetClass = "index"
	AssetCrypto     AssetClass = "crypto"
	AssetDerivative AssetClass = "derivative"
)

// Status is the instrument's trading status.
type Status string

const (
	StatusActive Status = "active"
	StatusHalted Status = "halted"
	StatusClosed Status = "closed"
)

// Instrument is the admin-managed record for one tradable symbol. It carries
// everything matching.Instrument and risk.InstrumentLimits need plus the
// descriptive fields the REST surface exposes.
type Instrument struct {
	ID            string
	Symbol        string
	AssetClass    AssetClass
	TickSize      decimal.Decimal
	LotSize       decimal.Decimal
	MaxLeverage   decimal.Decimal
	MarginAllowed bool
	ShortAllowed  bool
	Status        Status
}

// ToMatching projects the fields matching.Engine needs to open a book.
func (i Instrument) ToMatching() matching.Instrument {
	return matching.Instrument{
		ID:            i.ID,
		TickSize:      i.TickSize,
		LotSize:       i.LotSize,
		MaxLeverage:   i.MaxLeverage,
		MarginAllowed: i.MarginAllowed,
		ShortAllowed:  i.ShortAllowed,
	}
}

func (i Instrument) toLimits() risk.InstrumentLimits {
	return risk.InstrumentLimits{
		TickSize:    i.TickSize,
		LotSize:     i.LotSize,
		LeverageMax: i.MaxLeverage,
	}
}

// Store persists the instrument set. Implemented against MongoDB's
// instruments collection by internal/persist in the wired system.
type Store interface {
	List(ctx context.Context) ([]Instrument, error)
	Save(ctx context.Context, inst Instrument) error
	Delete(ctx context.Context, id string) error
}

// Registry is a read-mostly, in-memory cache of Store's contents. It
// satisfies risk.InstrumentProvider directly, mirroring the teacher's
// symbol.ByTicker()-style precomputed lookup map rather than resolving
// against the database on every order.
type Registry struct {
	store Store

	mu   sync.RWMutex
	byID map[string]Instrument
}

// New creates a Registry backed by store. Call Load before serving traffic.
func New(store Store) *Registry {
	return &Registry{store: store, byID: make(map[string]Instrument)}
}

// Load replaces the cache with the full contents of the store.
func (r *Registry) Load(ctx context.Context) error {
	all, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load instruments: %w", err)
	}
	byID := make(map[string]Instrument, len(all))
	for _, inst := range all {
		byID[inst.ID] = inst
	}
	r.mu.Lock()
	r.byID = byID
	r.mu.Unlock()
	return nil
}

// Get returns one instrument by id from the cache.
func (r *Registry) Get(id string) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byID[id]
	return inst, ok
}

// All returns every cached instrument, stable-ordered by id.
func (r *Registry) All() []Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Instrument, 0, len(r.byID))
	for _, inst := range r.byID {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Limits implements risk.InstrumentProvider. A closed or halted instrument
// still resolves limits — RiskEngine rejects on status via MatchingEngine's
// own instrumentState.status check, not here.
func (r *Registry) Limits(instrumentID string) (risk.InstrumentLimits, bool) {
	inst, ok := r.Get(instrumentID)
	if !ok {
		return risk.InstrumentLimits{}, false
	}
	return inst.toLimits(), true
}

// Create registers a brand-new instrument, rejecting a duplicate id.
func (r *Registry) Create(ctx context.Context, inst Instrument) error {
	if _, exists := r.Get(inst.ID); exists {
		return apperr.New(apperr.Validation, "instrument %s already exists", inst.ID)
	}
	if err := r.store.Save(ctx, inst); err != nil {
		return fmt.Errorf("create instrument %s: %w", inst.ID, err)
	}
	r.mu.Lock()
	r.byID[inst.ID] = inst
	r.mu.Unlock()
	return nil
}

// Update overwrites an existing instrument's mutable fields (status, leverage,
// flags). Tick size and lot size changes take effect only for orders placed
// after the update — resting orders keep whatever alignment they were
// validated against at placement.
func (r *Registry) Update(ctx context.Context, inst Instrument) error {
	if _, exists := r.Get(inst.ID); !exists {
		return apperr.New(apperr.NotFound, "instrument %s not found", inst.ID)
	}
	if err := r.store.Save(ctx, inst); err != nil {
		return fmt.Errorf("update instrument %s: %w", inst.ID, err)
	}
	r.mu.Lock()
	r.byID[inst.ID] = inst
	r.mu.Unlock()
	return nil
}

// Delete removes an instrument from the registry. It does not touch any
// resting orders or open positions on that instrument — callers are expected
// to halt and drain an instrument before deleting it.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete instrument %s: %w", id, err)
	}
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
	return nil
}
