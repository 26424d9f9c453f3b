// Package events carries the closed set of state-change notifications the
// engines publish. Every successful mutation emits exactly one variant;
// emission is fire-and-forget and never fails the operation that produced it.
package events

import "context"

// Event is the closed tagged union of ledger events. Only types in this
// package implement it.
type Event interface {
	// Topic names the event kind, e.g. "agent.minted".
	Topic() string
	isEvent()
}

// Emitter publishes events. The in-memory Bus and the Pub/Sub bus both
// satisfy it; engines hold the interface only.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// Discard is an Emitter that drops everything. Useful in tests that do not
// assert on events.
type Discard struct{}

func (Discard) Emit(context.Context, Event) {}

// AgentMinted is published when a new agent record is created.
type AgentMinted struct {
	AgentID uint64 `json:"agent_id"`
	Owner   string `json:"owner"`
}

func (AgentMinted) Topic() string { return "agent.minted" }
func (AgentMinted) isEvent()      {}

// AgentUpdated is published on metadata edits.
type AgentUpdated struct {
	AgentID uint64 `json:"agent_id"`
	Owner   string `json:"owner"`
	Nonce   uint64 `json:"nonce"`
}

func (AgentUpdated) Topic() string { return "agent.updated" }
func (AgentUpdated) isEvent()      {}

// AgentTransferred is published when ownership changes hands.
type AgentTransferred struct {
	AgentID       uint64 `json:"agent_id"`
	PreviousOwner string `json:"previous_owner"`
	NewOwner      string `json:"new_owner"`
}

func (AgentTransferred) Topic() string { return "agent.transferred" }
func (AgentTransferred) isEvent()      {}

// EscrowLocked is published when an agent enters escrow custody.
type EscrowLocked struct {
	AgentID uint64 `json:"agent_id"`
	Holder  string `json:"holder"`
}

func (EscrowLocked) Topic() string { return "escrow.locked" }
func (EscrowLocked) isEvent()      {}

// EscrowReleased is published when escrow custody ends.
type EscrowReleased struct {
	AgentID  uint64 `json:"agent_id"`
	Holder   string `json:"holder"`
	NewOwner string `json:"new_owner"`
}

func (EscrowReleased) Topic() string { return "escrow.released" }
func (EscrowReleased) isEvent()      {}

// ListingCreated is published when a listing opens.
type ListingCreated struct {
	ListingID uint64 `json:"listing_id"`
	AgentID   uint64 `json:"agent_id"`
	Seller    string `json:"seller"`
	Price     int64  `json:"price"`
}

func (ListingCreated) Topic() string { return "listing.created" }
func (ListingCreated) isEvent()      {}

// AgentSold is published on a successful purchase, with the settled split.
type AgentSold struct {
	ListingID    uint64 `json:"listing_id"`
	AgentID      uint64 `json:"agent_id"`
	Buyer        string `json:"buyer"`
	SellerAmount int64  `json:"seller_amount"`
	Royalty      int64  `json:"royalty"`
}

func (AgentSold) Topic() string { return "listing.sold" }
func (AgentSold) isEvent()      {}

// ListingCancelled is published when a seller withdraws a listing.
type ListingCancelled struct {
	ListingID uint64 `json:"listing_id"`
	AgentID   uint64 `json:"agent_id"`
	Seller    string `json:"seller"`
}

func (ListingCancelled) Topic() string { return "listing.cancelled" }
func (ListingCancelled) isEvent()      {}

// RoyaltySet is published when royalty terms change for an agent.
type RoyaltySet struct {
	AgentID   uint64 `json:"agent_id"`
	Recipient string `json:"recipient"`
	FeeBps    uint32 `json:"fee_bps"`
}

func (RoyaltySet) Topic() string { return "royalty.set" }
func (RoyaltySet) isEvent()      {}

// UpgradeRequested is published when a staked upgrade request is accepted.
type UpgradeRequested struct {
	RequestID uint64 `json:"request_id"`
	AgentID   uint64 `json:"agent_id"`
	Owner     string `json:"owner"`
	Stake     int64  `json:"stake"`
}

func (UpgradeRequested) Topic() string { return "upgrade.requested" }
func (UpgradeRequested) isEvent()      {}

// UpgradeStarted is published when a request moves to in-progress.
type UpgradeStarted struct {
	RequestID uint64 `json:"request_id"`
	AgentID   uint64 `json:"agent_id"`
}

func (UpgradeStarted) Topic() string { return "upgrade.started" }
func (UpgradeStarted) isEvent()      {}

// UpgradeCompleted is published when a request completes, by admin action or
// by oracle attestation.
type UpgradeCompleted struct {
	RequestID      uint64 `json:"request_id"`
	AgentID        uint64 `json:"agent_id"`
	NewModelHash   string `json:"new_model_hash"`
	EvolutionLevel uint32 `json:"evolution_level"`
	Attested       bool   `json:"attested"`
}

func (UpgradeCompleted) Topic() string { return "upgrade.completed" }
func (UpgradeCompleted) isEvent()      {}

// UpgradeFailed is published when an admin marks a request failed.
type UpgradeFailed struct {
	RequestID uint64 `json:"request_id"`
	AgentID   uint64 `json:"agent_id"`
}

func (UpgradeFailed) Topic() string { return "upgrade.failed" }
func (UpgradeFailed) isEvent()      {}

// StakeClaimed is published when a stake returns to its owner.
type StakeClaimed struct {
	RequestID uint64 `json:"request_id"`
	Owner     string `json:"owner"`
	Amount    int64  `json:"amount"`
}

func (StakeClaimed) Topic() string { return "stake.claimed" }
func (StakeClaimed) isEvent()      {}

// ActionExecuted is published per accepted action.
type ActionExecuted struct {
	ExecutionID uint64 `json:"execution_id"`
	AgentID     uint64 `json:"agent_id"`
	Action      string `json:"action"`
	Executor    string `json:"executor"`
	Nonce       uint64 `json:"nonce"`
}

func (ActionExecuted) Topic() string { return "action.executed" }
func (ActionExecuted) isEvent()      {}

// RuleRegistered is published when an execution rule is stored.
type RuleRegistered struct {
	AgentID  uint64 `json:"agent_id"`
	RuleName string `json:"rule_name"`
	Owner    string `json:"owner"`
}

func (RuleRegistered) Topic() string { return "rule.registered" }
func (RuleRegistered) isEvent()      {}

// RuleRevoked is published when an execution rule is removed.
type RuleRevoked struct {
	AgentID  uint64 `json:"agent_id"`
	RuleName string `json:"rule_name"`
	Owner    string `json:"owner"`
}

func (RuleRevoked) Topic() string { return "rule.revoked" }
func (RuleRevoked) isEvent()      {}

// ParamsUpdated is published when evolution parameters change.
type ParamsUpdated struct {
	MinStake        int64  `json:"min_stake"`
	CooldownSeconds uint64 `json:"cooldown_seconds"`
}

func (ParamsUpdated) Topic() string { return "evolution.params_updated" }
func (ParamsUpdated) isEvent()      {}

// ProviderRegistered is published when an oracle provider is added.
type ProviderRegistered struct {
	Provider string `json:"provider"`
}

func (ProviderRegistered) Topic() string { return "oracle.provider_registered" }
func (ProviderRegistered) isEvent()      {}

// ProviderDeregistered is published when an oracle provider is removed.
type ProviderDeregistered struct {
	Provider string `json:"provider"`
}

func (ProviderDeregistered) Topic() string { return "oracle.provider_deregistered" }
func (ProviderDeregistered) isEvent()      {}

// AdminTransferred is published when an engine's admin changes.
type AdminTransferred struct {
	Engine        string `json:"engine"`
	PreviousAdmin string `json:"previous_admin"`
	NewAdmin      string `json:"new_admin"`
}

func (AdminTransferred) Topic() string { return "admin.transferred" }
func (AdminTransferred) isEvent()      {}
