// Package market runs the listing lifecycle: create, purchase, cancel.
// Listings reference agents by id; all custody moves are delegated to the
// registry under this engine's holder principal, so a foreign engine can
// never release a lock it does not own.
package market

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/walterthesmart/stellAIverse-contracts/internal/auth"
	xerrors "github.com/walterthesmart/stellAIverse-contracts/internal/errors"
	"github.com/walterthesmart/stellAIverse-contracts/internal/events"
	"github.com/walterthesmart/stellAIverse-contracts/internal/registry"
	"github.com/walterthesmart/stellAIverse-contracts/internal/store"
	"github.com/walterthesmart/stellAIverse-contracts/internal/token"
)

// MaxRoyaltyBps caps the royalty fee at 100%.
const MaxRoyaltyBps = 10000

const (
	listingNamespace = "listing"
	royaltyNamespace = "royalty"
)

var configKey = store.Key{Namespace: "market", Ref: "config"}

// ListingType distinguishes how an agent is offered.
type ListingType string

const (
	Sale    ListingType = "sale"
	Lease   ListingType = "lease"
	Auction ListingType = "auction"
)

func (t ListingType) valid() bool {
	return t == Sale || t == Lease || t == Auction
}

// Listing is one offer for an agent. Active flips to false exactly once, on
// purchase or cancel, and never back.
type Listing struct {
	ListingID    uint64      `json:"listing_id"`
	AgentID      uint64      `json:"agent_id"`
	Seller       string      `json:"seller"`
	Price        int64       `json:"price"`
	Type         ListingType `json:"type"`
	DurationDays uint64      `json:"duration_days,omitempty"`
	Active       bool        `json:"active"`
	CreatedAt    int64       `json:"created_at"`
}

// RoyaltyInfo is the per-agent royalty terms applied on purchase.
type RoyaltyInfo struct {
	Recipient string `json:"recipient"`
	FeeBps    uint32 `json:"fee_bps"`
}

type engineConfig struct {
	Admin string `json:"admin"`
}

// Config carries the market bounds from the service configuration.
type Config struct {
	// Holder is the principal this engine locks escrow under.
	Holder          string
	PriceUpperBound int64
	MaxDurationDays uint64
}

// Engine is the escrow/listing engine.
type Engine struct {
	mu       sync.Mutex
	store    store.Store
	emit     events.Emitter
	authn    auth.Authenticator
	registry *registry.Registry
	payments token.Transferer
	seq      *store.Sequence
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// Option tweaks Engine construction.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates the market engine.
func New(s store.Store, emit events.Emitter, authn auth.Authenticator, reg *registry.Registry, payments token.Transferer, cfg Config, opts ...Option) *Engine {
	if cfg.Holder == "" {
		cfg.Holder = "market-engine"
	}
	e := &Engine{
		store:    s,
		emit:     emit,
		authn:    authn,
		registry: reg,
		payments: payments,
		seq:      store.NewSequence(s, "listing"),
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default().With("engine", "market"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Holder returns the escrow principal this engine locks under.
func (e *Engine) Holder() string { return e.cfg.Holder }

// Initialize records the market admin. One-time.
func (e *Engine) Initialize(ctx context.Context, admin string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ok, err := e.store.Has(ctx, configKey)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "check market config", err)
	}
	if ok {
		return xerrors.New(xerrors.CodeAlreadyInitialized, "market already initialized")
	}
	if !e.authn.Authenticate(admin) {
		return xerrors.New(xerrors.CodeUnauthorized, "admin authentication failed")
	}
	raw, err := json.Marshal(&engineConfig{Admin: admin})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "encode market config", err)
	}
	if err := e.store.Set(ctx, configKey, raw); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "write market config", err)
	}
	e.logger.Info("market initialized", "admin", admin)
	return nil
}

// CreateListing opens a listing and takes the agent into escrow. The seller
// must be the current owner and the agent must not already be locked.
func (e *Engine) CreateListing(ctx context.Context, agentID uint64, seller string, typ ListingType, price int64, durationDays uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.authn.Authenticate(seller) {
		return 0, xerrors.New(xerrors.CodeUnauthorized, "seller authentication failed")
	}
	if agentID == 0 {
		return 0, xerrors.New(xerrors.CodeInvalidID, "agent id must be nonzero")
	}
	if !typ.valid() {
		return 0, xerrors.New(xerrors.CodeInvalidInput, "unknown listing type")
	}
	if price <= 0 || price > e.cfg.PriceUpperBound {
		return 0, xerrors.Newf(xerrors.CodeInvalidInput, "price out of bounds (0, %d]", e.cfg.PriceUpperBound)
	}
	if typ == Lease {
		if durationDays == 0 || durationDays > e.cfg.MaxDurationDays {
			return 0, xerrors.Newf(xerrors.CodeInvalidInput, "lease duration out of bounds (0, %d] days", e.cfg.MaxDurationDays)
		}
	}

	agent, err := e.registry.Get(ctx, agentID)
	if err != nil {
		return 0, err
	}
	if agent.Owner != seller {
		return 0, xerrors.New(xerrors.CodeUnauthorized, "seller is not the agent owner")
	}
	if agent.EscrowLocked {
		return 0, xerrors.New(xerrors.CodeAlreadyLocked, "agent already escrow-locked")
	}

	listingID, err := e.seq.Next(ctx)
	if err != nil {
		return 0, err
	}
	if err := e.registry.LockInEscrow(ctx, agentID, e.cfg.Holder); err != nil {
		return 0, err
	}

	listing := &Listing{
		ListingID:    listingID,
		AgentID:      agentID,
		Seller:       seller,
		Price:        price,
		Type:         typ,
		DurationDays: durationDays,
		Active:       true,
		CreatedAt:    e.now().Unix(),
	}
	if err := e.saveListing(ctx, listing); err != nil {
		return 0, err
	}

	e.emit.Emit(ctx, events.ListingCreated{ListingID: listingID, AgentID: agentID, Seller: seller, Price: price})
	e.logger.Info("listing created", "listing_id", listingID, "agent_id", agentID, "price", price)
	return listingID, nil
}

// Purchase settles an active listing: computes the royalty split, moves the
// funds, releases the agent to the buyer, and closes the listing.
func (e *Engine) Purchase(ctx context.Context, listingID uint64, buyer string, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.authn.Authenticate(buyer) {
		return xerrors.New(xerrors.CodeUnauthorized, "buyer authentication failed")
	}
	listing, err := e.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if !listing.Active {
		return xerrors.New(xerrors.CodeInvalidState, "listing is closed")
	}
	if amount < listing.Price || amount > e.cfg.PriceUpperBound {
		return xerrors.Newf(xerrors.CodeInvalidInput, "amount out of bounds [%d, %d]", listing.Price, e.cfg.PriceUpperBound)
	}
	if buyer == listing.Seller {
		return xerrors.New(xerrors.CodeInvalidInput, "seller cannot buy own listing")
	}

	info, err := e.GetRoyalty(ctx, listing.AgentID)
	if err != nil {
		return err
	}
	royaltyAmount := int64(0)
	royaltyRecipient := ""
	if info != nil {
		royaltyAmount = amount * int64(info.FeeBps) / MaxRoyaltyBps
		royaltyRecipient = info.Recipient
	}
	sellerAmount := amount - royaltyAmount
	if sellerAmount < 0 {
		return xerrors.New(xerrors.CodeOverflow, "royalty exceeds purchase amount")
	}

	if sellerAmount > 0 {
		if err := e.payments.Transfer(ctx, buyer, listing.Seller, sellerAmount); err != nil {
			return err
		}
	}
	if royaltyAmount > 0 && royaltyRecipient != "" {
		if err := e.payments.Transfer(ctx, buyer, royaltyRecipient, royaltyAmount); err != nil {
			return err
		}
	}

	if err := e.registry.ReleaseFromEscrow(ctx, listing.AgentID, buyer, e.cfg.Holder); err != nil {
		return err
	}

	listing.Active = false
	if err := e.saveListing(ctx, listing); err != nil {
		return err
	}

	e.emit.Emit(ctx, events.AgentSold{
		ListingID:    listingID,
		AgentID:      listing.AgentID,
		Buyer:        buyer,
		SellerAmount: sellerAmount,
		Royalty:      royaltyAmount,
	})
	e.logger.Info("agent sold", "listing_id", listingID, "agent_id", listing.AgentID, "buyer", buyer,
		"seller_amount", sellerAmount, "royalty", royaltyAmount)
	return nil
}

// CancelListing withdraws an active listing and hands the agent back to its
// seller. Ownership does not change.
func (e *Engine) CancelListing(ctx context.Context, listingID uint64, seller string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.authn.Authenticate(seller) {
		return xerrors.New(xerrors.CodeUnauthorized, "seller authentication failed")
	}
	listing, err := e.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if listing.Seller != seller {
		return xerrors.New(xerrors.CodeUnauthorized, "only the seller can cancel a listing")
	}
	if !listing.Active {
		return xerrors.New(xerrors.CodeInvalidState, "listing is closed")
	}

	agent, err := e.registry.Get(ctx, listing.AgentID)
	if err != nil {
		return err
	}
	if !agent.EscrowLocked || agent.EscrowHolder != e.cfg.Holder {
		return xerrors.New(xerrors.CodeNotLocked, "agent is not held by this engine")
	}

	if err := e.registry.ReleaseFromEscrow(ctx, listing.AgentID, agent.Owner, e.cfg.Holder); err != nil {
		return err
	}

	listing.Active = false
	if err := e.saveListing(ctx, listing); err != nil {
		return err
	}

	e.emit.Emit(ctx, events.ListingCancelled{ListingID: listingID, AgentID: listing.AgentID, Seller: seller})
	return nil
}

// GetListing returns the listing with the given id.
func (e *Engine) GetListing(ctx context.Context, listingID uint64) (*Listing, error) {
	if listingID == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidID, "listing id must be nonzero")
	}
	raw, ok, err := e.store.Get(ctx, store.NumericKey(listingNamespace, listingID))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, "read listing", err)
	}
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "listing %d not found", listingID)
	}
	var listing Listing
	if err := json.Unmarshal(raw, &listing); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, "decode listing", err)
	}
	return &listing, nil
}

// SetRoyalty stores the royalty terms for an agent. Only the agent's current
// owner may set them.
func (e *Engine) SetRoyalty(ctx context.Context, agentID uint64, caller, recipient string, feeBps uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.authn.Authenticate(caller) {
		return xerrors.New(xerrors.CodeUnauthorized, "caller authentication failed")
	}
	if feeBps > MaxRoyaltyBps {
		return xerrors.Newf(xerrors.CodeInvalidInput, "royalty fee exceeds %d basis points", MaxRoyaltyBps)
	}
	if recipient == "" {
		return xerrors.New(xerrors.CodeInvalidInput, "royalty recipient must not be empty")
	}
	agent, err := e.registry.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Owner != caller {
		return xerrors.New(xerrors.CodeUnauthorized, "only the agent owner can set royalty terms")
	}

	raw, err := json.Marshal(&RoyaltyInfo{Recipient: recipient, FeeBps: feeBps})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "encode royalty", err)
	}
	if err := e.store.Set(ctx, store.NumericKey(royaltyNamespace, agentID), raw); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "write royalty", err)
	}

	e.emit.Emit(ctx, events.RoyaltySet{AgentID: agentID, Recipient: recipient, FeeBps: feeBps})
	return nil
}

// GetRoyalty returns the royalty terms for an agent, or (nil, nil) when none
// are set.
func (e *Engine) GetRoyalty(ctx context.Context, agentID uint64) (*RoyaltyInfo, error) {
	if agentID == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidID, "agent id must be nonzero")
	}
	raw, ok, err := e.store.Get(ctx, store.NumericKey(royaltyNamespace, agentID))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, "read royalty", err)
	}
	if !ok {
		return nil, nil
	}
	var info RoyaltyInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, "decode royalty", err)
	}
	return &info, nil
}

func (e *Engine) saveListing(ctx context.Context, listing *Listing) error {
	raw, err := json.Marshal(listing)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "encode listing", err)
	}
	if err := e.store.Set(ctx, store.NumericKey(listingNamespace, listing.ListingID), raw); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "write listing", err)
	}
	return nil
}
