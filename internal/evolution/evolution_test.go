package evolution

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walterthesmart/stellAIverse-contracts/internal/auth"
	xerrors "github.com/walterthesmart/stellAIverse-contracts/internal/errors"
	"github.com/walterthesmart/stellAIverse-contracts/internal/events"
	"github.com/walterthesmart/stellAIverse-contracts/internal/registry"
	"github.com/walterthesmart/stellAIverse-contracts/internal/store"
	"github.com/walterthesmart/stellAIverse-contracts/internal/token"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine(t *testing.T, cooldown uint64) (*Engine, *registry.Registry, *token.Book, *Keyring, *testClock, uint64) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}

	reg := registry.New(st, events.Discard{}, auth.AllowAll{})
	require.NoError(t, reg.Initialize(ctx, "admin"))

	book := token.NewBook()
	book.Credit("alice", 100_000)

	keyring := NewKeyring()
	evo := New(st, events.Discard{}, auth.AllowAll{}, reg, book, keyring, Config{
		MinStake:        100,
		CooldownSeconds: cooldown,
		StakeUpperBound: 50_000,
	}, WithClock(clock.Now))
	require.NoError(t, evo.Initialize(ctx, "admin", "STELLAI"))

	agentID, err := reg.Mint(ctx, "alice", "agent", "hash-v1", "", nil)
	require.NoError(t, err)
	return evo, reg, book, keyring, clock, agentID
}

func TestRequestUpgradeTakesStake(t *testing.T) {
	evo, _, book, _, _, agentID := newTestEngine(t, 0)
	ctx := context.Background()

	requestID, err := evo.RequestUpgrade(ctx, agentID, "alice", 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), requestID)
	assert.Equal(t, int64(99_500), book.Balance("alice"))

	req, err := evo.GetRequest(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, Pending, req.Status)
	assert.Equal(t, int64(500), req.Stake)
	assert.False(t, req.StakeClaimed)
}

func TestRequestUpgradeStakeBounds(t *testing.T) {
	evo, _, _, _, _, agentID := newTestEngine(t, 0)
	ctx := context.Background()

	_, err := evo.RequestUpgrade(ctx, agentID, "alice", 99)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidInput))

	_, err = evo.RequestUpgrade(ctx, agentID, "alice", 50_001)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidInput))

	_, err = evo.RequestUpgrade(ctx, agentID, "mallory", 500)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeUnauthorized))
}

func TestRequestUpgradeCooldown(t *testing.T) {
	evo, _, _, _, clock, agentID := newTestEngine(t, 3600)
	ctx := context.Background()

	_, err := evo.RequestUpgrade(ctx, agentID, "alice", 500)
	require.NoError(t, err)

	_, err = evo.RequestUpgrade(ctx, agentID, "alice", 500)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidState))

	remaining, err := evo.AgentCooldown(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3600), remaining)

	clock.Advance(30 * time.Minute)
	remaining, err = evo.AgentCooldown(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1800), remaining)

	clock.Advance(31 * time.Minute)
	_, err = evo.RequestUpgrade(ctx, agentID, "alice", 500)
	require.NoError(t, err)
}

func TestRequestUpgradePendingCap(t *testing.T) {
	evo, _, _, _, _, agentID := newTestEngine(t, 0)
	ctx := context.Background()

	for i := 0; i < MaxPendingRequests; i++ {
		_, err := evo.RequestUpgrade(ctx, agentID, "alice", 100)
		require.NoError(t, err)
	}
	_, err := evo.RequestUpgrade(ctx, agentID, "alice", 100)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidState))
}

func TestUpgradeLifecycle(t *testing.T) {
	evo, reg, _, _, _, agentID := newTestEngine(t, 0)
	ctx := context.Background()

	requestID, err := evo.RequestUpgrade(ctx, agentID, "alice", 500)
	require.NoError(t, err)

	err = evo.BeginUpgrade(ctx, "mallory", requestID)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeUnauthorized))

	require.NoError(t, evo.BeginUpgrade(ctx, "admin", requestID))
	req, err := evo.GetRequest(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, InProgress, req.Status)

	// A started request cannot be started again.
	err = evo.BeginUpgrade(ctx, "admin", requestID)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidState))

	require.NoError(t, evo.CompleteUpgrade(ctx, "admin", requestID, "hash-v2"))
	req, err = evo.GetRequest(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, Completed, req.Status)
	assert.Equal(t, "hash-v2", req.NewModelHash)

	agent, err := reg.Get(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, "hash-v2", agent.ModelHash)
	assert.Equal(t, uint32(1), agent.EvolutionLevel)

	// Terminal requests never transition again.
	err = evo.CompleteUpgrade(ctx, "admin", requestID, "hash-v3")
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidState))
	err = evo.FailUpgrade(ctx, "admin", requestID)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidState))
}

func TestFailUpgradeKeepsStakeClaimable(t *testing.T) {
	evo, _, book, _, _, agentID := newTestEngine(t, 0)
	ctx := context.Background()

	requestID, err := evo.RequestUpgrade(ctx, agentID, "alice", 500)
	require.NoError(t, err)
	require.NoError(t, evo.FailUpgrade(ctx, "admin", requestID))

	require.NoError(t, evo.ClaimStake(ctx, "alice", requestID))
	assert.Equal(t, int64(100_000), book.Balance("alice"))
}

func TestClaimStakeOnce(t *testing.T) {
	evo, _, book, _, _, agentID := newTestEngine(t, 0)
	ctx := context.Background()

	requestID, err := evo.RequestUpgrade(ctx, agentID, "alice", 500)
	require.NoError(t, err)

	// Open requests are not claimable.
	err = evo.ClaimStake(ctx, "alice", requestID)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidState))

	require.NoError(t, evo.CompleteUpgrade(ctx, "admin", requestID, "hash-v2"))

	err = evo.ClaimStake(ctx, "mallory", requestID)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeUnauthorized))

	require.NoError(t, evo.ClaimStake(ctx, "alice", requestID))
	assert.Equal(t, int64(100_000), book.Balance("alice"))

	err = evo.ClaimStake(ctx, "alice", requestID)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeAlreadyClaimed))
}

type flakyVault struct {
	*token.Book
	failPayouts bool
}

func (v *flakyVault) Transfer(ctx context.Context, from, to string, amount int64) error {
	if v.failPayouts && from == "evolution-vault" {
		return xerrors.New(xerrors.CodeStorageFailure, "token bridge unavailable")
	}
	return v.Book.Transfer(ctx, from, to, amount)
}

func TestClaimStakeRetriesAfterPayoutFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	reg := registry.New(st, events.Discard{}, auth.AllowAll{})
	require.NoError(t, reg.Initialize(ctx, "admin"))

	book := token.NewBook()
	book.Credit("alice", 100_000)
	vault := &flakyVault{Book: book}

	evo := New(st, events.Discard{}, auth.AllowAll{}, reg, vault, NewKeyring(), Config{
		MinStake:        100,
		StakeUpperBound: 50_000,
	})
	require.NoError(t, evo.Initialize(ctx, "admin", "STELLAI"))

	agentID, err := reg.Mint(ctx, "alice", "agent", "hash-v1", "", nil)
	require.NoError(t, err)
	requestID, err := evo.RequestUpgrade(ctx, agentID, "alice", 500)
	require.NoError(t, err)
	require.NoError(t, evo.FailUpgrade(ctx, "admin", requestID))

	vault.failPayouts = true
	err = evo.ClaimStake(ctx, "alice", requestID)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeStorageFailure))
	assert.Equal(t, int64(99_500), book.Balance("alice"))

	// A failed payout leaves the stake claimable, not stranded.
	vault.failPayouts = false
	require.NoError(t, evo.ClaimStake(ctx, "alice", requestID))
	assert.Equal(t, int64(100_000), book.Balance("alice"))

	err = evo.ClaimStake(ctx, "alice", requestID)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeAlreadyClaimed))
}

func TestCooldownSurvivesClockRegression(t *testing.T) {
	evo, _, _, _, clock, agentID := newTestEngine(t, 3600)
	ctx := context.Background()

	_, err := evo.RequestUpgrade(ctx, agentID, "alice", 500)
	require.NoError(t, err)

	// A clock running behind the last request must not open the window.
	clock.Advance(-2 * time.Hour)
	_, err = evo.RequestUpgrade(ctx, agentID, "alice", 500)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidState))

	remaining, err := evo.AgentCooldown(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3600), remaining)
}

func TestSetParams(t *testing.T) {
	evo, _, _, _, _, _ := newTestEngine(t, 0)
	ctx := context.Background()

	err := evo.SetParams(ctx, "mallory", Params{MinStake: 1, CooldownSeconds: 1})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeUnauthorized))

	err = evo.SetParams(ctx, "admin", Params{MinStake: 0, CooldownSeconds: 1})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidInput))

	err = evo.SetParams(ctx, "admin", Params{MinStake: 1, CooldownSeconds: MaxAgeSeconds + 1})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidInput))

	require.NoError(t, evo.SetParams(ctx, "admin", Params{MinStake: 250, CooldownSeconds: 600}))
	params, err := evo.GetParams(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(250), params.MinStake)
	assert.Equal(t, uint64(600), params.CooldownSeconds)
}

func TestProviderSet(t *testing.T) {
	evo, _, _, _, _, _ := newTestEngine(t, 0)
	ctx := context.Background()

	require.NoError(t, evo.RegisterProvider(ctx, "admin", "oracle-1"))
	err := evo.RegisterProvider(ctx, "admin", "oracle-1")
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidState))

	ok, err := evo.IsProvider(ctx, "oracle-1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, evo.DeregisterProvider(ctx, "admin", "oracle-1"))
	ok, err = evo.IsProvider(ctx, "oracle-1")
	require.NoError(t, err)
	assert.False(t, ok)

	err = evo.DeregisterProvider(ctx, "admin", "oracle-1")
	assert.True(t, xerrors.HasCode(err, xerrors.CodeNotFound))
}

func TestProviderSetCapacity(t *testing.T) {
	evo, _, _, _, _, _ := newTestEngine(t, 0)
	ctx := context.Background()

	for i := 0; i < MaxOracleProviders; i++ {
		require.NoError(t, evo.RegisterProvider(ctx, "admin", "oracle-"+string(rune('a'+i))))
	}
	err := evo.RegisterProvider(ctx, "admin", "one-too-many")
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidState))
}

func signedAttestation(t *testing.T, priv ed25519.PrivateKey, requestID, agentID, nonce uint64) *Attestation {
	t.Helper()
	att := &Attestation{
		RequestID:    requestID,
		AgentID:      agentID,
		Provider:     "oracle-1",
		Nonce:        nonce,
		NewModelHash: "hash-v2",
	}
	payload, err := att.Payload()
	require.NoError(t, err)
	att.Signature = ed25519.Sign(priv, payload)
	return att
}

func TestApplyAttestation(t *testing.T) {
	evo, reg, _, keyring, _, agentID := newTestEngine(t, 0)
	ctx := context.Background()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	keyring.SetKey("oracle-1", pub)
	require.NoError(t, evo.RegisterProvider(ctx, "admin", "oracle-1"))

	requestID, err := evo.RequestUpgrade(ctx, agentID, "alice", 500)
	require.NoError(t, err)

	att := signedAttestation(t, priv, requestID, agentID, 1)
	require.NoError(t, evo.ApplyAttestation(ctx, att))

	req, err := evo.GetRequest(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, Completed, req.Status)

	agent, err := reg.Get(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, "hash-v2", agent.ModelHash)
}

func TestApplyAttestationReplayRejected(t *testing.T) {
	evo, _, _, keyring, _, agentID := newTestEngine(t, 0)
	ctx := context.Background()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	keyring.SetKey("oracle-1", pub)
	require.NoError(t, evo.RegisterProvider(ctx, "admin", "oracle-1"))

	first, err := evo.RequestUpgrade(ctx, agentID, "alice", 500)
	require.NoError(t, err)
	second, err := evo.RequestUpgrade(ctx, agentID, "alice", 500)
	require.NoError(t, err)

	require.NoError(t, evo.ApplyAttestation(ctx, signedAttestation(t, priv, first, agentID, 5)))

	// Equal and lower nonces are replays, even against a different request.
	err = evo.ApplyAttestation(ctx, signedAttestation(t, priv, second, agentID, 5))
	assert.True(t, xerrors.HasCode(err, xerrors.CodeReplayRejected))
	err = evo.ApplyAttestation(ctx, signedAttestation(t, priv, second, agentID, 3))
	assert.True(t, xerrors.HasCode(err, xerrors.CodeReplayRejected))

	require.NoError(t, evo.ApplyAttestation(ctx, signedAttestation(t, priv, second, agentID, 6)))
}

func TestApplyAttestationChecks(t *testing.T) {
	evo, _, _, keyring, _, agentID := newTestEngine(t, 0)
	ctx := context.Background()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	keyring.SetKey("oracle-1", pub)

	requestID, err := evo.RequestUpgrade(ctx, agentID, "alice", 500)
	require.NoError(t, err)

	// Bad signature length.
	att := signedAttestation(t, priv, requestID, agentID, 1)
	att.Signature = att.Signature[:10]
	err = evo.ApplyAttestation(ctx, att)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidInput))

	// Unregistered provider.
	err = evo.ApplyAttestation(ctx, signedAttestation(t, priv, requestID, agentID, 1))
	assert.True(t, xerrors.HasCode(err, xerrors.CodeUnauthorized))

	require.NoError(t, evo.RegisterProvider(ctx, "admin", "oracle-1"))

	// Tampered payload fails signature verification.
	att = signedAttestation(t, priv, requestID, agentID, 1)
	att.NewModelHash = "hash-tampered"
	err = evo.ApplyAttestation(ctx, att)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeUnauthorized))

	// Agent mismatch.
	att = signedAttestation(t, priv, requestID, agentID+100, 1)
	err = evo.ApplyAttestation(ctx, att)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidInput))

	// A failed attestation does not burn the nonce.
	require.NoError(t, evo.ApplyAttestation(ctx, signedAttestation(t, priv, requestID, agentID, 1)))
}
