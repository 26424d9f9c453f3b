// Package exechub keeps the append-only action log for agents. Every accepted
// action yields an immutable receipt; a per-agent strict nonce and a fixed
// rate-limit window gate acceptance.
package exechub

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/walterthesmart/stellAIverse-contracts/internal/auth"
	xerrors "github.com/walterthesmart/stellAIverse-contracts/internal/errors"
	"github.com/walterthesmart/stellAIverse-contracts/internal/events"
	"github.com/walterthesmart/stellAIverse-contracts/internal/registry"
	"github.com/walterthesmart/stellAIverse-contracts/internal/store"
)

const (
	// MaxStringLen bounds action names and rule names.
	MaxStringLen = 256
	// MaxDataSize bounds action params and rule blobs.
	MaxDataSize = 1024
	// MaxHistory caps the per-agent action log.
	MaxHistory = 1000
	// MaxHistoryQuery caps one history read.
	MaxHistoryQuery = 500
)

const (
	receiptNamespace = "receipt"
	historyNamespace = "history"
	nonceNamespace   = "actnonce"
	rateNamespace    = "rate"
	indexNamespace   = "execindex"
	ruleNamespace    = "rule"
)

var configKey = store.Key{Namespace: "exechub", Ref: "config"}

// Receipt is the immutable record of one accepted action.
type Receipt struct {
	ExecutionID uint64 `json:"execution_id"`
	AgentID     uint64 `json:"agent_id"`
	Executor    string `json:"executor"`
	Action      string `json:"action"`
	Params      []byte `json:"params,omitempty"`
	Nonce       uint64 `json:"nonce"`
	ExecHash    string `json:"exec_hash"`
	ExecutedAt  int64  `json:"executed_at"`
}

type rateWindow struct {
	StartedAt int64  `json:"started_at"`
	Count     uint32 `json:"count"`
}

type engineConfig struct {
	Admin string `json:"admin"`
}

// Config carries the rate-limit bounds from the service configuration.
type Config struct {
	WindowSeconds uint64
	MaxOperations uint32
}

// Engine is the execution hub.
type Engine struct {
	mu       sync.Mutex
	store    store.Store
	emit     events.Emitter
	authn    auth.Authenticator
	registry *registry.Registry
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

// New creates the execution hub.
func New(s store.Store, emit events.Emitter, authn auth.Authenticator, reg *registry.Registry, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		emit:     emit,
		authn:    authn,
		registry: reg,
		seq:      store.NewSequence(s, "execution"),
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default().With("engine", "exechub"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CanonicalDigest is the hex sha3-256 digest callers must present as the
// execution hash for an action.
func CanonicalDigest(agentID uint64, executor, action string, params []byte, nonce uint64) string {
	h := sha3.New256()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], agentID)
	h.Write(buf[:])
	h.Write([]byte(executor))
	h.Write([]byte(action))
	h.Write(params)
	binary.BigEndian.PutUint64(buf[:], nonce)
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))
}

// Initialize records the hub admin. One-time.
func (e *Engine) Initialize(ctx context.Context, admin string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ok, err := e.store.Has(ctx, configKey)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "check exechub config", err)
	}
	if ok {
		return xerrors.New(xerrors.CodeAlreadyInitialized, "exechub already initialized")
	}
	if !e.authn.Authenticate(admin) {
		return xerrors.New(xerrors.CodeUnauthorized, "admin authentication failed")
	}
	return e.saveConfig(ctx, &engineConfig{Admin: admin})
}

// ExecuteAction validates, rate-limits and records one action, returning the
// global execution id. The nonce must be strictly greater than the agent's
// last accepted action nonce; gaps are fine, replays are not.
func (e *Engine) ExecuteAction(ctx context.Context, agentID uint64, executor, action string, params []byte, nonce uint64, execHash string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.authn.Authenticate(executor) {
		return 0, xerrors.New(xerrors.CodeUnauthorized, "executor authentication failed")
	}
	if action == "" || len(action) > MaxStringLen {
		return 0, xerrors.Newf(xerrors.CodeInvalidInput, "action length out of bounds (0, %d]", MaxStringLen)
	}
	if len(params) > MaxDataSize {
		return 0, xerrors.Newf(xerrors.CodeInvalidInput, "params exceed %d bytes", MaxDataSize)
	}
	if _, err := e.registry.Get(ctx, agentID); err != nil {
		return 0, err
	}

	lastNonce, err := e.lastActionNonce(ctx, agentID)
	if err != nil {
		return 0, err
	}
	if nonce <= lastNonce {
		return 0, xerrors.Newf(xerrors.CodeReplayRejected, "action nonce %d not greater than %d", nonce, lastNonce)
	}
	if execHash != CanonicalDigest(agentID, executor, action, params, nonce) {
		return 0, xerrors.New(xerrors.CodeInvalidInput, "execution hash does not match canonical digest")
	}

	if err := e.checkRateLimit(ctx, agentID); err != nil {
		return 0, err
	}
	history, err := e.loadHistory(ctx, agentID)
	if err != nil {
		return 0, err
	}
	if len(history) >= MaxHistory {
		return 0, xerrors.Newf(xerrors.CodeInvalidState, "agent %d history is full (%d)", agentID, MaxHistory)
	}

	executionID, err := e.seq.Next(ctx)
	if err != nil {
		return 0, err
	}
	receipt := &Receipt{
		ExecutionID: executionID,
		AgentID:     agentID,
		Executor:    executor,
		Action:      action,
		Params:      params,
		Nonce:       nonce,
		ExecHash:    execHash,
		ExecutedAt:  e.now().Unix(),
	}
	if err := e.setJSON(ctx, store.NumericKey(receiptNamespace, executionID), receipt); err != nil {
		return 0, err
	}
	if err := e.setJSON(ctx, store.NumericKey(indexNamespace, executionID), agentID); err != nil {
		return 0, err
	}
	if err := e.setJSON(ctx, store.NumericKey(historyNamespace, agentID), append(history, executionID)); err != nil {
		return 0, err
	}
	if err := e.setJSON(ctx, store.NumericKey(nonceNamespace, agentID), nonce); err != nil {
		return 0, err
	}

	e.emit.Emit(ctx, events.ActionExecuted{ExecutionID: executionID, AgentID: agentID, Action: action, Executor: executor, Nonce: nonce})
	e.logger.Info("action executed", "execution_id", executionID, "agent_id", agentID, "action", action)
	return executionID, nil
}

// GetHistory returns up to limit of the agent's most recent action receipts,
// oldest first.
func (e *Engine) GetHistory(ctx context.Context, agentID uint64, limit int) ([]*Receipt, error) {
	if limit <= 0 || limit > MaxHistoryQuery {
		return nil, xerrors.Newf(xerrors.CodeInvalidInput, "limit out of bounds (0, %d]", MaxHistoryQuery)
	}
	history, err := e.loadHistory(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	receipts := make([]*Receipt, 0, len(history))
	for _, executionID := range history {
		receipt, err := e.GetReceipt(ctx, executionID)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

// GetReceipt returns the receipt for an execution id.
func (e *Engine) GetReceipt(ctx context.Context, executionID uint64) (*Receipt, error) {
	if executionID == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidID, "execution id must be nonzero")
	}
	raw, ok, err := e.store.Get(ctx, store.NumericKey(receiptNamespace, executionID))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, "read receipt", err)
	}
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "execution %d not found", executionID)
	}
	var receipt Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, "decode receipt", err)
	}
	return &receipt, nil
}

// AgentOf resolves an execution id to the agent that produced it.
func (e *Engine) AgentOf(ctx context.Context, executionID uint64) (uint64, error) {
	var agentID uint64
	ok, err := e.getJSON(ctx, store.NumericKey(indexNamespace, executionID), &agentID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, xerrors.Newf(xerrors.CodeNotFound, "execution %d not found", executionID)
	}
	return agentID, nil
}

// RegisterRule stores an opaque rule blob for an agent. Owner only.
func (e *Engine) RegisterRule(ctx context.Context, agentID uint64, owner, name string, blob []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOwner(ctx, agentID, owner); err != nil {
		return err
	}
	if name == "" || len(name) > MaxStringLen {
		return xerrors.Newf(xerrors.CodeInvalidInput, "rule name length out of bounds (0, %d]", MaxStringLen)
	}
	if len(blob) == 0 || len(blob) > MaxDataSize {
		return xerrors.Newf(xerrors.CodeInvalidInput, "rule blob length out of bounds (0, %d]", MaxDataSize)
	}
	if err := e.store.Set(ctx, ruleKey(agentID, name), blob); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "write rule", err)
	}
	e.emit.Emit(ctx, events.RuleRegistered{AgentID: agentID, RuleName: name, Owner: owner})
	return nil
}

// RevokeRule removes a rule blob. Owner only.
func (e *Engine) RevokeRule(ctx context.Context, agentID uint64, owner, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireOwner(ctx, agentID, owner); err != nil {
		return err
	}
	ok, err := e.store.Has(ctx, ruleKey(agentID, name))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "check rule", err)
	}
	if !ok {
		return xerrors.Newf(xerrors.CodeNotFound, "rule %q not found for agent %d", name, agentID)
	}
	if err := e.store.Remove(ctx, ruleKey(agentID, name)); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, "remove rule", err)
	}
	e.emit.Emit(ctx, events.RuleRevoked{AgentID: agentID, RuleName: name, Owner: owner})
	return nil
}

// GetRule returns a rule blob.
func (e *Engine) GetRule(ctx context.Context, agentID uint64, name string) ([]byte, error) {
	raw, ok, err := e.store.Get(ctx, ruleKey(agentID, name))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, "read rule", err)
	}
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "rule %q not found for agent %d", name, agentID)
	}
	return raw, nil
}

// ActionCount reports how many actions an agent has on record.
func (e *Engine) ActionCount(ctx context.Context, agentID uint64) (int, error) {
	history, err := e.loadHistory(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return len(history), nil
}

// ExecutionCounter reports the global number of accepted actions.
func (e *Engine) ExecutionCounter(ctx context.Context) (uint64, error) {
	return e.seq.Current(ctx)
}

// TransferAdmin hands hub administration to a new principal.
func (e *Engine) TransferAdmin(ctx context.Context, current, next string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.loadConfig(ctx)
	if err != nil {
		return err
	}
	if current != cfg.Admin || !e.authn.Authenticate(current) {
		return xerrors.New(xerrors.CodeUnauthorized, "admin privileges required")
	}
	if next == "" {
		return xerrors.New(xerrors.CodeInvalidInput, "new admin must not be empty")
	}
	cfg.Admin = next
	if err := e.saveConfig(ctx, cfg); err != nil {
		return err
	}
	e.emit.Emit(ctx, events.AdminTransferred{Engine: "exechub", PreviousAdmin: current, NewAdmin: next})
	return nil
}

// checkRateLimit enforces the fixed window: the window resets once more than
// WindowSeconds have elapsed since it started, otherwise the count must stay
// under MaxOperations.
func (e *Engine) checkRateLimit(ctx context.Context, agentID uint64) error {
	key := store.NumericKey(rateNamespace, agentID)
	var w rateWindow
	ok, err := e.getJSON(ctx, key, &w)
	if err != nil {
		return err
	}
	nowUnix := e.now().Unix()
	if !ok || uint64(nowUnix-w.StartedAt) > e.cfg.WindowSeconds {
		w = rateWindow{StartedAt: nowUnix, Count: 1}
		return e.setJSON(ctx, key, &w)
	}
	if w.Count >= e.cfg.MaxOperations {
		return xerrors.Newf(xerrors.CodeRateLimitExceeded, "agent %d exceeded %d operations per %ds window", agentID, e.cfg.MaxOperations, e.cfg.WindowSeconds)
	}
	w.Count++
	return e.setJSON(ctx, key, &w)
}

func (e *Engine) requireOwner(ctx context.Context, agentID uint64, caller string) error {
	if !e.authn.Authenticate(caller) {
		return xerrors.New(xerrors.CodeUnauthorized, "caller authentication failed")
	}
	agent, err := e.registry.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Owner != caller {
		return xerrors.New(xerrors.CodeUnauthorized, "caller is not the agent owner")
	}
	return nil
}

func ruleKey(agentID uint64, name string) store.Key {
	return store.Key{Namespace: ruleNamespace, Ref: strconv.FormatUint(agentID, 10) + ":" + name}
}

func (e *Engine) lastActionNonce(ctx context.Context, agentID uint64) (uint64, error) {
	var n uint64
	ok, err := e.getJSON(ctx, store.NumericKey(nonceNamespace, agentID), &n)
	if err != nil || !ok {
		return 0, err
	}
	return n, nil
}

func (e *Engine) loadHistory(ctx context.Context, agentID uint64) ([]uint64, error) {
	var history []uint64
	if _, err := e.getJSON(ctx, store.NumericKey(historyNamespace, agentID), &history); err != nil {
		return nil, err
	}
	return history, nil
}

func (e *Engine) loadConfig(ctx context.Context) (*engineConfig, error) {
	var cfg engineConfig
	ok, err := e.getJSON(ctx, configKey, &cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidState, "exechub not initialized")
	}
	return &cfg, nil
}

func (e *Engine) saveConfig(ctx context.Context, cfg *engineConfig) error {
	return e.setJSON(ctx, configKey, cfg)
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
