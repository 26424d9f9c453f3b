// Package evolution runs the staked upgrade lifecycle for agents. An owner
// stakes tokens to request an upgrade; the request completes either by admin
// action or by a signed oracle attestation, after which the stake can be
// claimed back. Terminal requests never transition again.
package evolution

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

const (
	// MaxStringLen bounds the model hash carried by an attestation.
	MaxStringLen = 256
	// MaxAttestationData bounds the opaque attestation payload.
	MaxAttestationData = 1024
	// SignatureSize is the Ed25519 signature length.
	SignatureSize = 64
	// MaxPendingRequests caps open requests per agent.
	MaxPendingRequests = 5
	// MaxOracleProviders caps the registered provider set.
	MaxOracleProviders = 32
	// MaxAgeSeconds caps the configurable cooldown at one year.
	MaxAgeSeconds = 365 * 24 * 3600
)

const (
	requestNamespace  = "upgrade"
	cooldownNamespace = "cooldown"
	pendingNamespace  = "pending"
	attNonceNamespace = "attnonce"
)

var (
	configKey    = store.Key{Namespace: "evolution", Ref: "config"}
	providersKey = store.Key{Namespace: "evolution", Ref: "providers"}
)

// Status is the upgrade request lifecycle state. Completed and Failed are
// terminal.
type Status string

const (
	Pending    Status = "pending"
	InProgress Status = "in_progress"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

func (s Status) terminal() bool { return s == Completed || s == Failed }

// Request is one staked upgrade request.
type Request struct {
	RequestID    uint64 `json:"request_id"`
	AgentID      uint64 `json:"agent_id"`
	Owner        string `json:"owner"`
	Stake        int64  `json:"stake"`
	Status       Status `json:"status"`
	NewModelHash string `json:"new_model_hash,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	ClosedAt     int64  `json:"closed_at,omitempty"`
	StakeClaimed bool   `json:"stake_claimed"`
}

// Params are the admin-tunable request constraints.
type Params struct {
	MinStake        int64  `json:"min_stake"`
	CooldownSeconds uint64 `json:"cooldown_seconds"`
}

// Attestation is an oracle's signed claim that an upgrade finished. The
// per-agent nonce must be strictly increasing across accepted attestations.
type Attestation struct {
	RequestID    uint64 `json:"request_id"`
	AgentID      uint64 `json:"agent_id"`
	Provider     string `json:"provider"`
	Nonce        uint64 `json:"nonce"`
	NewModelHash string `json:"new_model_hash"`
	Data         []byte `json:"data,omitempty"`
	Signature    []byte `json:"signature"`
}

// Payload is the canonical byte string an oracle signs: the attestation with
// the signature stripped, JSON-encoded with fixed field order.
func (a *Attestation) Payload() ([]byte, error) {
	unsigned := *a
	unsigned.Signature = nil
	return json.Marshal(&unsigned)
}

// Verifier checks an oracle signature over a canonical payload.
type Verifier interface {
	Verify(provider string, payload, signature []byte) bool
}

type engineConfig struct {
	Admin      string `json:"admin"`
	StakeToken string `json:"stake_token"`
	Params     Params `json:"params"`
}

// Config carries the evolution bounds from the service configuration.
type Config struct {
	// Vault is the principal stakes are held under while a request is open.
	Vault           string
	MinStake        int64
	CooldownSeconds uint64
	StakeUpperBound int64
}

// Engine is the evolution engine.
type Engine struct {
	mu       sync.Mutex
	store    store.Store
	emit     events.Emitter
	authn    auth.Authenticator
	registry *registry.Registry
	stakes   token.Transferer
	verifier Verifier
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

// New creates the evolution engine.
func New(s store.Store, emit events.Emitter, authn auth.Authenticator, reg *registry.Registry, stakes token.Transferer, verifier Verifier, cfg Config, opts ...Option) *Engine {
	if cfg.Vault == "" {
		cfg.Vault = "evolution-vault"
	}
	e := &Engine{
		store:    s,
		emit:     emit,
		authn:    authn,
		registry: reg,
		stakes:   stakes,
		verifier: verifier,
		seq:      store.NewSequence(s, "upgrade"),
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default().With("engine", "evolution"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize records the admin, the stake token identifier and the initial
// request parameters. One-time.
func (e *Engine) Initialize(ctx context.Context, admin, stakeToken string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ok, err := e.store.Has(ctx, configKey)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "check evolution config", err)
	}
	if ok {
		return xerrors.New(xerrors.CodeAlreadyInitialized, "evolution already initialized")
	}
	if !e.authn.Authenticate(admin) {
		return xerrors.New(xerrors.CodeUnauthorized, "admin authentication failed")
	}
	if stakeToken == "" {
		return xerrors.New(xerrors.CodeInvalidInput, "stake token must not be empty")
	}
	cfg := &engineConfig{
		Admin:      admin,
		StakeToken: stakeToken,
		Params: Params{
			MinStake:        e.cfg.MinStake,
			CooldownSeconds: e.cfg.CooldownSeconds,
		},
	}
	if err := e.saveConfig(ctx, cfg); err != nil {
		return err
	}
	e.logger.Info("evolution initialized", "admin", admin, "stake_token", stakeToken)
	return nil
}

// RequestUpgrade opens a staked upgrade request for an agent the caller owns.
// The stake moves into the engine vault until the request reaches a terminal
// state and is claimed.
func (e *Engine) RequestUpgrade(ctx context.Context, agentID uint64, owner string, stake int64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.loadConfig(ctx)
	if err != nil {
		return 0, err
	}
	if !e.authn.Authenticate(owner) {
		return 0, xerrors.New(xerrors.CodeUnauthorized, "owner authentication failed")
	}
	if stake < cfg.Params.MinStake || stake > e.cfg.StakeUpperBound {
		return 0, xerrors.Newf(xerrors.CodeInvalidInput, "stake out of bounds [%d, %d]", cfg.Params.MinStake, e.cfg.StakeUpperBound)
	}
	agent, err := e.registry.Get(ctx, agentID)
	if err != nil {
		return 0, err
	}
	if agent.Owner != owner {
		return 0, xerrors.New(xerrors.CodeUnauthorized, "caller is not the agent owner")
	}

	nowUnix := e.now().Unix()
	last, err := e.lastRequestAt(ctx, agentID)
	if err != nil {
		return 0, err
	}
	elapsed := nowUnix - last
	if elapsed < 0 {
		// A regressed clock must not shorten the cooldown.
		elapsed = 0
	}
	if last > 0 && uint64(elapsed) < cfg.Params.CooldownSeconds {
		return 0, xerrors.Newf(xerrors.CodeInvalidState, "agent %d is cooling down", agentID)
	}
	pending, err := e.pendingCount(ctx, agentID)
	if err != nil {
		return 0, err
	}
	if pending >= MaxPendingRequests {
		return 0, xerrors.Newf(xerrors.CodeInvalidState, "agent %d has %d open requests", agentID, pending)
	}

	if err := e.stakes.Transfer(ctx, owner, e.cfg.Vault, stake); err != nil {
		return 0, err
	}
	requestID, err := e.seq.Next(ctx)
	if err != nil {
		return 0, err
	}
	req := &Request{
		RequestID: requestID,
		AgentID:   agentID,
		Owner:     owner,
		Stake:     stake,
		Status:    Pending,
		CreatedAt: nowUnix,
	}
	if err := e.saveRequest(ctx, req); err != nil {
		return 0, err
	}
	if err := e.setPendingCount(ctx, agentID, pending+1); err != nil {
		return 0, err
	}
	if err := e.setLastRequestAt(ctx, agentID, nowUnix); err != nil {
		return 0, err
	}

	e.emit.Emit(ctx, events.UpgradeRequested{RequestID: requestID, AgentID: agentID, Owner: owner, Stake: stake})
	e.logger.Info("upgrade requested", "request_id", requestID, "agent_id", agentID, "stake", stake)
	return requestID, nil
}

// BeginUpgrade moves a pending request to in-progress. Admin only.
func (e *Engine) BeginUpgrade(ctx context.Context, admin string, requestID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.requireAdmin(ctx, admin); err != nil {
		return err
	}
	req, err := e.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != Pending {
		return xerrors.Newf(xerrors.CodeInvalidState, "request %d is %s, not pending", requestID, req.Status)
	}
	req.Status = InProgress
	if err := e.saveRequest(ctx, req); err != nil {
		return err
	}
	e.emit.Emit(ctx, events.UpgradeStarted{RequestID: requestID, AgentID: req.AgentID})
	return nil
}

// CompleteUpgrade closes an open request as completed and applies the new
// model hash to the agent record. Admin only.
func (e *Engine) CompleteUpgrade(ctx context.Context, admin string, requestID uint64, newModelHash string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.requireAdmin(ctx, admin); err != nil {
		return err
	}
	if newModelHash == "" || len(newModelHash) > MaxStringLen {
		return xerrors.Newf(xerrors.CodeInvalidInput, "model hash length out of bounds (0, %d]", MaxStringLen)
	}
	return e.complete(ctx, requestID, newModelHash, false)
}

// ApplyAttestation completes an open request on the strength of an oracle
// signature. Checks run in a fixed order so a rejected attestation always
// reports the first violated rule.
func (e *Engine) ApplyAttestation(ctx context.Context, att *Attestation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(att.Signature) != SignatureSize {
		return xerrors.Newf(xerrors.CodeInvalidInput, "signature must be %d bytes", SignatureSize)
	}
	if len(att.Data) > MaxAttestationData {
		return xerrors.Newf(xerrors.CodeInvalidInput, "attestation data exceeds %d bytes", MaxAttestationData)
	}
	if att.NewModelHash == "" || len(att.NewModelHash) > MaxStringLen {
		return xerrors.Newf(xerrors.CodeInvalidInput, "model hash length out of bounds (0, %d]", MaxStringLen)
	}

	lastNonce, err := e.lastAttestationNonce(ctx, att.AgentID)
	if err != nil {
		return err
	}
	if att.Nonce <= lastNonce {
		return xerrors.Newf(xerrors.CodeReplayRejected, "attestation nonce %d not greater than %d", att.Nonce, lastNonce)
	}

	req, err := e.GetRequest(ctx, att.RequestID)
	if err != nil {
		return err
	}
	if req.Status.terminal() {
		return xerrors.Newf(xerrors.CodeInvalidState, "request %d is already %s", att.RequestID, req.Status)
	}
	if req.AgentID != att.AgentID {
		return xerrors.Newf(xerrors.CodeInvalidInput, "attestation agent %d does not match request agent %d", att.AgentID, req.AgentID)
	}

	isProv, err := e.IsProvider(ctx, att.Provider)
	if err != nil {
		return err
	}
	if !isProv {
		return xerrors.Newf(xerrors.CodeUnauthorized, "provider %q is not registered", att.Provider)
	}
	payload, err := att.Payload()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidInput, "encode attestation payload", err)
	}
	if !e.verifier.Verify(att.Provider, payload, att.Signature) {
		return xerrors.New(xerrors.CodeUnauthorized, "attestation signature verification failed")
	}

	if err := e.setLastAttestationNonce(ctx, att.AgentID, att.Nonce); err != nil {
		return err
	}
	return e.complete(ctx, att.RequestID, att.NewModelHash, true)
}

// FailUpgrade closes an open request as failed. The stake stays claimable.
// Admin only.
func (e *Engine) FailUpgrade(ctx context.Context, admin string, requestID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.requireAdmin(ctx, admin); err != nil {
		return err
	}
	req, err := e.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status.terminal() {
		return xerrors.Newf(xerrors.CodeInvalidState, "request %d is already %s", requestID, req.Status)
	}
	req.Status = Failed
	req.ClosedAt = e.now().Unix()
	if err := e.saveRequest(ctx, req); err != nil {
		return err
	}
	if err := e.decrementPending(ctx, req.AgentID); err != nil {
		return err
	}
	e.emit.Emit(ctx, events.UpgradeFailed{RequestID: requestID, AgentID: req.AgentID})
	return nil
}

// ClaimStake returns the stake of a terminal request to its owner. The
// claimed flag is checked and set in the same critical section, so a stake
// pays out at most once.
func (e *Engine) ClaimStake(ctx context.Context, owner string, requestID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.authn.Authenticate(owner) {
		return xerrors.New(xerrors.CodeUnauthorized, "owner authentication failed")
	}
	req, err := e.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Owner != owner {
		return xerrors.New(xerrors.CodeUnauthorized, "only the request owner can claim the stake")
	}
	if !req.Status.terminal() {
		return xerrors.Newf(xerrors.CodeInvalidState, "request %d is still %s", requestID, req.Status)
	}
	if req.StakeClaimed {
		return xerrors.Newf(xerrors.CodeAlreadyClaimed, "stake for request %d already claimed", requestID)
	}
	req.StakeClaimed = true
	if err := e.saveRequest(ctx, req); err != nil {
		return err
	}
	if err := e.stakes.Transfer(ctx, e.cfg.Vault, owner, req.Stake); err != nil {
		// The stake must stay claimable if the payout did not happen.
		req.StakeClaimed = false
		if revertErr := e.saveRequest(ctx, req); revertErr != nil {
			return revertErr
		}
		return err
	}
	e.emit.Emit(ctx, events.StakeClaimed{RequestID: requestID, Owner: owner, Amount: req.Stake})
	return nil
}

// SetParams updates the request constraints. Admin only.
func (e *Engine) SetParams(ctx context.Context, admin string, params Params) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.requireAdmin(ctx, admin)
	if err != nil {
		return err
	}
	if params.MinStake <= 0 || params.MinStake > e.cfg.StakeUpperBound {
		return xerrors.Newf(xerrors.CodeInvalidInput, "min stake out of bounds (0, %d]", e.cfg.StakeUpperBound)
	}
	if params.CooldownSeconds > MaxAgeSeconds {
		return xerrors.Newf(xerrors.CodeInvalidInput, "cooldown exceeds %d seconds", MaxAgeSeconds)
	}
	cfg.Params = params
	if err := e.saveConfig(ctx, cfg); err != nil {
		return err
	}
	e.emit.Emit(ctx, events.ParamsUpdated{MinStake: params.MinStake, CooldownSeconds: params.CooldownSeconds})
	return nil
}

// GetParams returns the current request constraints.
func (e *Engine) GetParams(ctx context.Context) (Params, error) {
	cfg, err := e.loadConfig(ctx)
	if err != nil {
		return Params{}, err
	}
	return cfg.Params, nil
}

// GetRequest returns the request with the given id.
func (e *Engine) GetRequest(ctx context.Context, requestID uint64) (*Request, error) {
	if requestID == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidID, "request id must be nonzero")
	}
	raw, ok, err := e.store.Get(ctx, store.NumericKey(requestNamespace, requestID))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, "read request", err)
	}
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "request %d not found", requestID)
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, "decode request", err)
	}
	return &req, nil
}

// AgentCooldown reports the seconds until the agent may request again. Zero
// means the agent is eligible now.
func (e *Engine) AgentCooldown(ctx context.Context, agentID uint64) (uint64, error) {
	cfg, err := e.loadConfig(ctx)
	if err != nil {
		return 0, err
	}
	last, err := e.lastRequestAt(ctx, agentID)
	if err != nil {
		return 0, err
	}
	if last == 0 {
		return 0, nil
	}
	elapsed := e.now().Unix() - last
	if elapsed < 0 {
		elapsed = 0
	}
	if uint64(elapsed) >= cfg.Params.CooldownSeconds {
		return 0, nil
	}
	return cfg.Params.CooldownSeconds - uint64(elapsed), nil
}

// RegisterProvider adds an oracle provider to the accepted set. Admin only;
// the set is capacity-bounded and registration is rejected at the cap.
func (e *Engine) RegisterProvider(ctx context.Context, admin, provider string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.requireAdmin(ctx, admin); err != nil {
		return err
	}
	if provider == "" {
		return xerrors.New(xerrors.CodeInvalidInput, "provider must not be empty")
	}
	providers, err := e.loadProviders(ctx)
	if err != nil {
		return err
	}
	for _, p := range providers {
		if p == provider {
			return xerrors.Newf(xerrors.CodeInvalidState, "provider %q already registered", provider)
		}
	}
	if len(providers) >= MaxOracleProviders {
		return xerrors.Newf(xerrors.CodeInvalidState, "provider set is full (%d)", MaxOracleProviders)
	}
	providers = append(providers, provider)
	if err := e.saveProviders(ctx, providers); err != nil {
		return err
	}
	e.emit.Emit(ctx, events.ProviderRegistered{Provider: provider})
	return nil
}

// DeregisterProvider removes an oracle provider. Admin only.
func (e *Engine) DeregisterProvider(ctx context.Context, admin, provider string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.requireAdmin(ctx, admin); err != nil {
		return err
	}
	providers, err := e.loadProviders(ctx)
	if err != nil {
		return err
	}
	kept := providers[:0]
	found := false
	for _, p := range providers {
		if p == provider {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return xerrors.Newf(xerrors.CodeNotFound, "provider %q is not registered", provider)
	}
	if err := e.saveProviders(ctx, kept); err != nil {
		return err
	}
	e.emit.Emit(ctx, events.ProviderDeregistered{Provider: provider})
	return nil
}

// IsProvider reports whether the provider is in the accepted set.
func (e *Engine) IsProvider(ctx context.Context, provider string) (bool, error) {
	providers, err := e.loadProviders(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range providers {
		if p == provider {
			return true, nil
		}
	}
	return false, nil
}

// complete closes an open request as completed and bumps the agent's model
// hash and evolution level through the registry. Caller holds the lock.
func (e *Engine) complete(ctx context.Context, requestID uint64, newModelHash string, attested bool) error {
	req, err := e.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status.terminal() {
		return xerrors.Newf(xerrors.CodeInvalidState, "request %d is already %s", requestID, req.Status)
	}
	agent, err := e.registry.ApplyUpgrade(ctx, req.AgentID, newModelHash)
	if err != nil {
		return err
	}
	req.Status = Completed
	req.NewModelHash = newModelHash
	req.ClosedAt = e.now().Unix()
	if err := e.saveRequest(ctx, req); err != nil {
		return err
	}
	if err := e.decrementPending(ctx, req.AgentID); err != nil {
		return err
	}
	e.emit.Emit(ctx, events.UpgradeCompleted{
		RequestID:      requestID,
		AgentID:        req.AgentID,
		NewModelHash:   newModelHash,
		EvolutionLevel: agent.EvolutionLevel,
		Attested:       attested,
	})
	e.logger.Info("upgrade completed", "request_id", requestID, "agent_id", req.AgentID,
		"level", agent.EvolutionLevel, "attested", attested)
	return nil
}

func (e *Engine) requireAdmin(ctx context.Context, caller string) (*engineConfig, error) {
	cfg, err := e.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if caller != cfg.Admin || !e.authn.Authenticate(caller) {
		return nil, xerrors.New(xerrors.CodeUnauthorized, "admin privileges required")
	}
	return cfg, nil
}

func (e *Engine) loadConfig(ctx context.Context) (*engineConfig, error) {
	raw, ok, err := e.store.Get(ctx, configKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, "read evolution config", err)
	}
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidState, "evolution not initialized")
	}
	var cfg engineConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, "decode evolution config", err)
	}
	return &cfg, nil
}

func (e *Engine) saveConfig(ctx context.Context, cfg *engineConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "encode evolution config", err)
	}
	if err := e.store.Set(ctx, configKey, raw); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "write evolution config", err)
	}
	return nil
}

func (e *Engine) saveRequest(ctx context.Context, req *Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "encode request", err)
	}
	if err := e.store.Set(ctx, store.NumericKey(requestNamespace, req.RequestID), raw); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "write request", err)
	}
	return nil
}

func (e *Engine) lastRequestAt(ctx context.Context, agentID uint64) (int64, error) {
	var ts int64
	ok, err := e.getJSON(ctx, store.NumericKey(cooldownNamespace, agentID), &ts)
	if err != nil || !ok {
		return 0, err
	}
	return ts, nil
}

func (e *Engine) setLastRequestAt(ctx context.Context, agentID uint64, ts int64) error {
	return e.setJSON(ctx, store.NumericKey(cooldownNamespace, agentID), ts)
}

func (e *Engine) pendingCount(ctx context.Context, agentID uint64) (uint32, error) {
	var n uint32
	ok, err := e.getJSON(ctx, store.NumericKey(pendingNamespace, agentID), &n)
	if err != nil || !ok {
		return 0, err
	}
	return n, nil
}

func (e *Engine) setPendingCount(ctx context.Context, agentID uint64, n uint32) error {
	return e.setJSON(ctx, store.NumericKey(pendingNamespace, agentID), n)
}

func (e *Engine) decrementPending(ctx context.Context, agentID uint64) error {
	n, err := e.pendingCount(ctx, agentID)
	if err != nil {
		return err
	}
	if n > 0 {
		n--
	}
	return e.setPendingCount(ctx, agentID, n)
}

func (e *Engine) lastAttestationNonce(ctx context.Context, agentID uint64) (uint64, error) {
	var n uint64
	ok, err := e.getJSON(ctx, store.NumericKey(attNonceNamespace, agentID), &n)
	if err != nil || !ok {
		return 0, err
	}
	return n, nil
}

func (e *Engine) setLastAttestationNonce(ctx context.Context, agentID uint64, n uint64) error {
	return e.setJSON(ctx, store.NumericKey(attNonceNamespace, agentID), n)
}

func (e *Engine) loadProviders(ctx context.Context) ([]string, error) {
	var providers []string
	if _, err := e.getJSON(ctx, providersKey, &providers); err != nil {
		return nil, err
	}
	return providers, nil
}

func (e *Engine) saveProviders(ctx context.Context, providers []string) error {
	return e.setJSON(ctx, providersKey, providers)
}

func (e *Engine) getJSON(ctx context.Context, key store.Key, out any) (bool, error) {
	raw, ok, err := e.store.Get(ctx, key)
	if err != nil {
		return false, xerrors.Wrapf(xerrors.CodeStorageFailure, err, "read %s", key)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, xerrors.Wrapf(xerrors.CodeStorageFailure, err, "decode %s", key)
	}
	return true, nil
}

func (e *Engine) setJSON(ctx context.Context, key store.Key, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return xerrors.Wrapf(xerrors.CodeStorageFailure, err, "encode %s", key)
	}
	if err := e.store.Set(ctx, key, raw); err != nil {
		return xerrors.Wrapf(xerrors.CodeStorageFailure, err, "write %s", key)
	}
	return nil
}
