// Package registry owns the Agent records: minting, metadata mutation,
// ownership transfer, and escrow custody. Every custody transition in the
// system goes through this engine; the listing and evolution engines hold
// agent ids only.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/walterthesmart/stellAIverse-contracts/internal/auth"
	xerrors "github.com/walterthesmart/stellAIverse-contracts/internal/errors"
	"github.com/walterthesmart/stellAIverse-contracts/internal/events"
	"github.com/walterthesmart/stellAIverse-contracts/internal/store"
)

// Validation bounds, shared with the other engines.
const (
	MaxStringLen    = 256
	MaxCapabilities = 32
)

const agentNamespace = "agent"

var configKey = store.Key{Namespace: "registry", Ref: "config"}

// Agent is the tokenized record of one autonomous entity.
//
// Invariants: Nonce never decreases and bumps by exactly one on every
// successful owner-visible mutation; EscrowLocked is true exactly when
// EscrowHolder is non-empty.
type Agent struct {
	ID             uint64   `json:"id"`
	Owner          string   `json:"owner"`
	Name           string   `json:"name"`
	ModelHash      string   `json:"model_hash"`
	MetadataCID    string   `json:"metadata_cid"`
	Capabilities   []string `json:"capabilities"`
	EvolutionLevel uint32   `json:"evolution_level"`
	CreatedAt      int64    `json:"created_at"`
	UpdatedAt      int64    `json:"updated_at"`
	Nonce          uint64   `json:"nonce"`
	EscrowLocked   bool     `json:"escrow_locked"`
	EscrowHolder   string   `json:"escrow_holder,omitempty"`
}

// engineConfig is the registry's one-time initialization record.
type engineConfig struct {
	Admin   string   `json:"admin"`
	Minters []string `json:"minters,omitempty"`
}

// UpdateFields carries the optional metadata edits for Update. Nil pointers
// leave the field untouched.
type UpdateFields struct {
	Name         *string
	MetadataCID  *string
	Capabilities *[]string
}

// Registry is the agent custody engine. Public operations serialize on one
// mutex so each runs as a single read-modify-write transaction against the
// store.
type Registry struct {
	mu     sync.Mutex
	store  store.Store
	emit   events.Emitter
	authn  auth.Authenticator
	seq    *store.Sequence
	now    func() time.Time
	logger *slog.Logger
}

// Option tweaks Registry construction.
type Option func(*Registry)

// WithClock overrides the time source. Tests use this to simulate elapse.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a Registry over the given collaborators.
func New(s store.Store, emit events.Emitter, authn auth.Authenticator, opts ...Option) *Registry {
	r := &Registry{
		store:  s,
		emit:   emit,
		authn:  authn,
		seq:    store.NewSequence(s, "agent"),
		now:    time.Now,
		logger: slog.Default().With("engine", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize records the admin and minter allowlist. One-time: a second call
// fails AlreadyInitialized.
func (r *Registry) Initialize(ctx context.Context, admin string, minters ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ok, err := r.store.Has(ctx, configKey)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "check registry config", err)
	}
	if ok {
		return xerrors.New(xerrors.CodeAlreadyInitialized, "registry already initialized")
	}
	if !r.authn.Authenticate(admin) {
		return xerrors.New(xerrors.CodeUnauthorized, "admin authentication failed")
	}
	if err := r.saveConfig(ctx, &engineConfig{Admin: admin, Minters: minters}); err != nil {
		return err
	}
	r.logger.Info("registry initialized", "admin", admin)
	return nil
}

// Mint creates a new agent record owned by owner. The caller must
// authenticate as owner, or owner must be on the minter allowlist.
func (r *Registry) Mint(ctx context.Context, owner, name, modelHash, metadataCID string, capabilities []string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := r.loadConfig(ctx)
	if err != nil {
		return 0, err
	}
	if !r.authn.Authenticate(owner) && !cfg.isMinter(owner) {
		return 0, xerrors.New(xerrors.CodeUnauthorized, "owner authentication failed")
	}
	if err := validateAgentFields(name, modelHash, metadataCID, capabilities); err != nil {
		return 0, err
	}

	id, err := r.seq.Next(ctx)
	if err != nil {
		return 0, err
	}
	key := store.NumericKey(agentNamespace, id)
	exists, err := r.store.Has(ctx, key)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, "check agent slot", err)
	}
	if exists {
		return 0, xerrors.Newf(xerrors.CodeInvalidState, "agent id %d already exists", id)
	}

	now := r.now().Unix()
	agent := &Agent{
		ID:           id,
		Owner:        owner,
		Name:         name,
		ModelHash:    modelHash,
		MetadataCID:  metadataCID,
		Capabilities: capabilities,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.saveAgent(ctx, agent); err != nil {
		return 0, err
	}

	r.emit.Emit(ctx, events.AgentMinted{AgentID: id, Owner: owner})
	r.logger.Info("agent minted", "agent_id", id, "owner", owner)
	return id, nil
}

// Get returns the agent with the given id.
func (r *Registry) Get(ctx context.Context, agentID uint64) (*Agent, error) {
	if agentID == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidID, "agent id must be nonzero")
	}
	return r.loadAgent(ctx, agentID)
}

// Update applies metadata edits. Only the owner may edit, and never while the
// agent is escrow-locked, since a pending sale must not be invalidated by a
// concurrent edit.
func (r *Registry) Update(ctx context.Context, agentID uint64, caller string, fields UpdateFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.authn.Authenticate(caller) {
		return xerrors.New(xerrors.CodeUnauthorized, "caller authentication failed")
	}
	agent, err := r.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Owner != caller {
		return xerrors.New(xerrors.CodeUnauthorized, "only the owner can update an agent")
	}
	if agent.EscrowLocked {
		return xerrors.New(xerrors.CodeAgentLeased, "agent is escrow-locked")
	}

	if fields.Name != nil {
		if *fields.Name == "" || len(*fields.Name) > MaxStringLen {
			return xerrors.New(xerrors.CodeInvalidInput, "invalid agent name")
		}
		agent.Name = *fields.Name
	}
	if fields.MetadataCID != nil {
		if len(*fields.MetadataCID) > MaxStringLen {
			return xerrors.New(xerrors.CodeInvalidInput, "metadata cid too long")
		}
		agent.MetadataCID = *fields.MetadataCID
	}
	if fields.Capabilities != nil {
		if err := validateCapabilities(*fields.Capabilities); err != nil {
			return err
		}
		agent.Capabilities = *fields.Capabilities
	}

	if err := r.bumpNonce(agent); err != nil {
		return err
	}
	agent.UpdatedAt = r.now().Unix()
	if err := r.saveAgent(ctx, agent); err != nil {
		return err
	}

	r.emit.Emit(ctx, events.AgentUpdated{AgentID: agentID, Owner: caller, Nonce: agent.Nonce})
	return nil
}

// Transfer hands ownership from one principal to another. Fails while the
// agent is escrow-locked.
func (r *Registry) Transfer(ctx context.Context, agentID uint64, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.authn.Authenticate(from) {
		return xerrors.New(xerrors.CodeUnauthorized, "sender authentication failed")
	}
	if to == "" {
		return xerrors.New(xerrors.CodeInvalidInput, "recipient must not be empty")
	}
	if from == to {
		return xerrors.New(xerrors.CodeInvalidInput, "cannot transfer agent to the same principal")
	}
	agent, err := r.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Owner != from {
		return xerrors.New(xerrors.CodeUnauthorized, "sender is not the current owner")
	}
	if agent.EscrowLocked {
		return xerrors.New(xerrors.CodeAgentLeased, "agent is escrow-locked")
	}

	agent.Owner = to
	if err := r.bumpNonce(agent); err != nil {
		return err
	}
	agent.UpdatedAt = r.now().Unix()
	if err := r.saveAgent(ctx, agent); err != nil {
		return err
	}

	r.emit.Emit(ctx, events.AgentTransferred{AgentID: agentID, PreviousOwner: from, NewOwner: to})
	return nil
}

// LockInEscrow puts the agent under the holder's custody. Fails if already
// locked.
func (r *Registry) LockInEscrow(ctx context.Context, agentID uint64, holder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder == "" {
		return xerrors.New(xerrors.CodeInvalidInput, "escrow holder must not be empty")
	}
	agent, err := r.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.EscrowLocked {
		return xerrors.New(xerrors.CodeAlreadyLocked, "agent already escrow-locked")
	}

	agent.EscrowLocked = true
	agent.EscrowHolder = holder
	agent.UpdatedAt = r.now().Unix()
	if err := r.saveAgent(ctx, agent); err != nil {
		return err
	}

	r.emit.Emit(ctx, events.EscrowLocked{AgentID: agentID, Holder: holder})
	return nil
}

// ReleaseFromEscrow unlocks the agent and hands it to newOwner in one step.
// Only the exact holder that took the lock may release it.
func (r *Registry) ReleaseFromEscrow(ctx context.Context, agentID uint64, newOwner, holder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if newOwner == "" {
		return xerrors.New(xerrors.CodeInvalidInput, "new owner must not be empty")
	}
	agent, err := r.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if !agent.EscrowLocked {
		return xerrors.New(xerrors.CodeNotLocked, "agent is not escrow-locked")
	}
	if agent.EscrowHolder != holder {
		return xerrors.New(xerrors.CodeUnauthorized, "holder does not own this escrow lock")
	}

	agent.EscrowLocked = false
	agent.EscrowHolder = ""
	agent.Owner = newOwner
	if err := r.bumpNonce(agent); err != nil {
		return err
	}
	agent.UpdatedAt = r.now().Unix()
	if err := r.saveAgent(ctx, agent); err != nil {
		return err
	}

	r.emit.Emit(ctx, events.EscrowReleased{AgentID: agentID, Holder: holder, NewOwner: newOwner})
	return nil
}

// ApplyUpgrade advances the agent's model hash and evolution level. Called by
// the evolution engine once a request completes.
func (r *Registry) ApplyUpgrade(ctx context.Context, agentID uint64, newModelHash string) (*Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if newModelHash == "" || len(newModelHash) > MaxStringLen {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "invalid model hash")
	}
	agent, err := r.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.EvolutionLevel == math.MaxUint32 {
		return nil, xerrors.New(xerrors.CodeOverflow, "evolution level overflow")
	}

	agent.ModelHash = newModelHash
	agent.EvolutionLevel++
	if err := r.bumpNonce(agent); err != nil {
		return nil, err
	}
	agent.UpdatedAt = r.now().Unix()
	if err := r.saveAgent(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// TotalAgents reports how many agents were ever minted.
func (r *Registry) TotalAgents(ctx context.Context) (uint64, error) {
	return r.seq.Current(ctx)
}

// GetNonce returns the agent's replay-protection nonce.
func (r *Registry) GetNonce(ctx context.Context, agentID uint64) (uint64, error) {
	agent, err := r.Get(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return agent.Nonce, nil
}

// GetOwner returns the agent's current owner.
func (r *Registry) GetOwner(ctx context.Context, agentID uint64) (string, error) {
	agent, err := r.Get(ctx, agentID)
	if err != nil {
		return "", err
	}
	return agent.Owner, nil
}

// CanTransfer reports whether caller could transfer the agent right now.
func (r *Registry) CanTransfer(ctx context.Context, agentID uint64, caller string) bool {
	if agentID == 0 {
		return false
	}
	agent, err := r.loadAgent(ctx, agentID)
	if err != nil {
		return false
	}
	return agent.Owner == caller && !agent.EscrowLocked
}

// AddMinter grants mint rights to a principal. Admin only.
func (r *Registry) AddMinter(ctx context.Context, admin, minter string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := r.requireAdmin(ctx, admin)
	if err != nil {
		return err
	}
	if minter == "" {
		return xerrors.New(xerrors.CodeInvalidInput, "minter must not be empty")
	}
	if cfg.isMinter(minter) {
		return xerrors.New(xerrors.CodeInvalidState, "minter already registered")
	}
	cfg.Minters = append(cfg.Minters, minter)
	return r.saveConfig(ctx, cfg)
}

// RemoveMinter revokes a principal's mint rights. Admin only.
func (r *Registry) RemoveMinter(ctx context.Context, admin, minter string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := r.requireAdmin(ctx, admin)
	if err != nil {
		return err
	}
	kept := cfg.Minters[:0]
	found := false
	for _, m := range cfg.Minters {
		if m == minter {
			found = true
			continue
		}
		kept = append(kept, m)
	}
	if !found {
		return xerrors.New(xerrors.CodeNotFound, "minter not registered")
	}
	cfg.Minters = kept
	return r.saveConfig(ctx, cfg)
}

func (c *engineConfig) isMinter(principal string) bool {
	for _, m := range c.Minters {
		if m == principal {
			return true
		}
	}
	return false
}

func (r *Registry) requireAdmin(ctx context.Context, caller string) (*engineConfig, error) {
	if !r.authn.Authenticate(caller) {
		return nil, xerrors.New(xerrors.CodeUnauthorized, "admin authentication failed")
	}
	cfg, err := r.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Admin != caller {
		return nil, xerrors.New(xerrors.CodeUnauthorized, "caller is not the registry admin")
	}
	return cfg, nil
}

func (r *Registry) bumpNonce(agent *Agent) error {
	if agent.Nonce == math.MaxUint64 {
		return xerrors.Newf(xerrors.CodeOverflow, "nonce overflow for agent %d", agent.ID)
	}
	agent.Nonce++
	return nil
}

func (r *Registry) loadConfig(ctx context.Context) (*engineConfig, error) {
	raw, ok, err := r.store.Get(ctx, configKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, "read registry config", err)
	}
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidState, "registry not initialized")
	}
	var cfg engineConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, "decode registry config", err)
	}
	return &cfg, nil
}

func (r *Registry) saveConfig(ctx context.Context, cfg *engineConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "encode registry config", err)
	}
	if err := r.store.Set(ctx, configKey, raw); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "write registry config", err)
	}
	return nil
}

func (r *Registry) loadAgent(ctx context.Context, agentID uint64) (*Agent, error) {
	raw, ok, err := r.store.Get(ctx, store.NumericKey(agentNamespace, agentID))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, "read agent", err)
	}
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "agent %d not found", agentID)
	}
	var agent Agent
	if err := json.Unmarshal(raw, &agent); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, "decode agent", err)
	}
	return &agent, nil
}

func (r *Registry) saveAgent(ctx context.Context, agent *Agent) error {
	raw, err := json.Marshal(agent)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "encode agent", err)
	}
	if err := r.store.Set(ctx, store.NumericKey(agentNamespace, agent.ID), raw); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "write agent", err)
	}
	return nil
}

func validateAgentFields(name, modelHash, metadataCID string, capabilities []string) error {
	if name == "" || len(name) > MaxStringLen {
		return xerrors.New(xerrors.CodeInvalidInput, "invalid agent name")
	}
	if modelHash == "" || len(modelHash) > MaxStringLen {
		return xerrors.New(xerrors.CodeInvalidInput, "invalid model hash")
	}
	if len(metadataCID) > MaxStringLen {
		return xerrors.New(xerrors.CodeInvalidInput, "metadata cid too long")
	}
	return validateCapabilities(capabilities)
}

func validateCapabilities(capabilities []string) error {
	if len(capabilities) > MaxCapabilities {
		return xerrors.Newf(xerrors.CodeInvalidInput, "at most %d capabilities allowed", MaxCapabilities)
	}
	for _, c := range capabilities {
		if len(c) > MaxStringLen {
			return xerrors.New(xerrors.CodeInvalidInput, "capability exceeds maximum length")
		}
	}
	return nil
}
