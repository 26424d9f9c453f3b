package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walterthesmart/stellAIverse-contracts/internal/auth"
	xerrors "github.com/walterthesmart/stellAIverse-contracts/internal/errors"
	"github.com/walterthesmart/stellAIverse-contracts/internal/events"
	"github.com/walterthesmart/stellAIverse-contracts/internal/registry"
	"github.com/walterthesmart/stellAIverse-contracts/internal/store"
	"github.com/walterthesmart/stellAIverse-contracts/internal/token"
)

func newFixture(t *testing.T) (*Engine, *registry.Registry, *token.Book, uint64) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	reg := registry.New(st, events.Discard{}, auth.AllowAll{})
	require.NoError(t, reg.Initialize(ctx, "admin"))

	book := token.NewBook()
	book.Credit("buyer", 10_000)

	mkt := New(st, events.Discard{}, auth.AllowAll{}, reg, book, Config{
		PriceUpperBound: 100_000,
		MaxDurationDays: 365,
	})
	require.NoError(t, mkt.Initialize(ctx, "admin"))

	agentID, err := reg.Mint(ctx, "seller", "agent", "hash-v1", "", nil)
	require.NoError(t, err)
	return mkt, reg, book, agentID
}

func TestCreateListingLocksAgent(t *testing.T) {
	mkt, reg, _, agentID := newFixture(t)
	ctx := context.Background()

	listingID, err := mkt.CreateListing(ctx, agentID, "seller", Sale, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), listingID)

	agent, err := reg.Get(ctx, agentID)
	require.NoError(t, err)
	assert.True(t, agent.EscrowLocked)
	assert.Equal(t, mkt.Holder(), agent.EscrowHolder)

	// A locked agent cannot be listed twice.
	_, err = mkt.CreateListing(ctx, agentID, "seller", Sale, 1000, 0)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeAlreadyLocked))
}

func TestCreateListingValidation(t *testing.T) {
	mkt, _, _, agentID := newFixture(t)
	ctx := context.Background()

	_, err := mkt.CreateListing(ctx, agentID, "seller", Sale, 0, 0)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidInput))

	_, err = mkt.CreateListing(ctx, agentID, "seller", Sale, 200_000, 0)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidInput))

	_, err = mkt.CreateListing(ctx, agentID, "seller", Lease, 1000, 0)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidInput))

	_, err = mkt.CreateListing(ctx, agentID, "seller", Lease, 1000, 9999)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidInput))

	_, err = mkt.CreateListing(ctx, agentID, "mallory", Sale, 1000, 0)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeUnauthorized))
}

func TestPurchaseSettlesAndTransfers(t *testing.T) {
	mkt, reg, book, agentID := newFixture(t)
	ctx := context.Background()

	listingID, err := mkt.CreateListing(ctx, agentID, "seller", Sale, 1000, 0)
	require.NoError(t, err)

	require.NoError(t, mkt.Purchase(ctx, listingID, "buyer", 1000))

	agent, err := reg.Get(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, "buyer", agent.Owner)
	assert.False(t, agent.EscrowLocked)

	assert.Equal(t, int64(1000), book.Balance("seller"))
	assert.Equal(t, int64(9000), book.Balance("buyer"))

	listing, err := mkt.GetListing(ctx, listingID)
	require.NoError(t, err)
	assert.False(t, listing.Active)

	// Closed listings never reopen.
	err = mkt.Purchase(ctx, listingID, "buyer", 1000)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidState))
}

func TestPurchaseRoyaltySplit(t *testing.T) {
	mkt, _, book, agentID := newFixture(t)
	ctx := context.Background()

	// 2.5% royalty to the creator, floored.
	require.NoError(t, mkt.SetRoyalty(ctx, agentID, "seller", "creator", 250))

	listingID, err := mkt.CreateListing(ctx, agentID, "seller", Sale, 1001, 0)
	require.NoError(t, err)
	require.NoError(t, mkt.Purchase(ctx, listingID, "buyer", 1001))

	// floor(1001 * 250 / 10000) = 25
	assert.Equal(t, int64(25), book.Balance("creator"))
	assert.Equal(t, int64(976), book.Balance("seller"))
}

func TestPurchaseRejectsUnderpayment(t *testing.T) {
	mkt, _, _, agentID := newFixture(t)
	ctx := context.Background()

	listingID, err := mkt.CreateListing(ctx, agentID, "seller", Sale, 1000, 0)
	require.NoError(t, err)

	err = mkt.Purchase(ctx, listingID, "buyer", 999)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidInput))

	err = mkt.Purchase(ctx, listingID, "seller", 1000)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidInput))
}

func TestPurchaseInsufficientFunds(t *testing.T) {
	mkt, reg, _, agentID := newFixture(t)
	ctx := context.Background()

	listingID, err := mkt.CreateListing(ctx, agentID, "seller", Sale, 99_000, 0)
	require.NoError(t, err)

	err = mkt.Purchase(ctx, listingID, "buyer", 99_000)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidState))

	// The failed purchase left the listing open and the agent locked.
	listing, err := mkt.GetListing(ctx, listingID)
	require.NoError(t, err)
	assert.True(t, listing.Active)
	agent, err := reg.Get(ctx, agentID)
	require.NoError(t, err)
	assert.True(t, agent.EscrowLocked)
}

func TestCancelListingReturnsAgent(t *testing.T) {
	mkt, reg, _, agentID := newFixture(t)
	ctx := context.Background()

	listingID, err := mkt.CreateListing(ctx, agentID, "seller", Sale, 1000, 0)
	require.NoError(t, err)

	err = mkt.CancelListing(ctx, listingID, "mallory")
	assert.True(t, xerrors.HasCode(err, xerrors.CodeUnauthorized))

	require.NoError(t, mkt.CancelListing(ctx, listingID, "seller"))

	agent, err := reg.Get(ctx, agentID)
	require.NoError(t, err)
	assert.False(t, agent.EscrowLocked)
	assert.Equal(t, "seller", agent.Owner)

	err = mkt.CancelListing(ctx, listingID, "seller")
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidState))

	// The agent can be listed again after cancellation.
	_, err = mkt.CreateListing(ctx, agentID, "seller", Sale, 2000, 0)
	require.NoError(t, err)
}

type royaltyFailStore struct {
	store.Store
	fail bool
}

func (s *royaltyFailStore) Get(ctx context.Context, key store.Key) ([]byte, bool, error) {
	if s.fail && key.Namespace == "royalty" {
		return nil, false, xerrors.New(xerrors.CodeStorageFailure, "royalty backend down")
	}
	return s.Store.Get(ctx, key)
}

func TestPurchaseFailsClosedOnRoyaltyReadError(t *testing.T) {
	ctx := context.Background()
	st := &royaltyFailStore{Store: store.NewMemoryStore()}
	reg := registry.New(st, events.Discard{}, auth.AllowAll{})
	require.NoError(t, reg.Initialize(ctx, "admin"))

	book := token.NewBook()
	book.Credit("buyer", 10_000)

	mkt := New(st, events.Discard{}, auth.AllowAll{}, reg, book, Config{
		PriceUpperBound: 100_000,
		MaxDurationDays: 365,
	})
	require.NoError(t, mkt.Initialize(ctx, "admin"))

	agentID, err := reg.Mint(ctx, "seller", "agent", "hash-v1", "", nil)
	require.NoError(t, err)
	listingID, err := mkt.CreateListing(ctx, agentID, "seller", Sale, 1000, 0)
	require.NoError(t, err)

	// An unreadable royalty record aborts the settlement instead of silently
	// skipping the split.
	st.fail = true
	err = mkt.Purchase(ctx, listingID, "buyer", 1000)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeStorageFailure))
	assert.Equal(t, int64(10_000), book.Balance("buyer"))
	assert.Equal(t, int64(0), book.Balance("seller"))

	st.fail = false
	listing, err := mkt.GetListing(ctx, listingID)
	require.NoError(t, err)
	assert.True(t, listing.Active)
	require.NoError(t, mkt.Purchase(ctx, listingID, "buyer", 1000))
}

func TestRoyaltyOwnerOnly(t *testing.T) {
	mkt, _, _, agentID := newFixture(t)
	ctx := context.Background()

	err := mkt.SetRoyalty(ctx, agentID, "mallory", "mallory", 100)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeUnauthorized))

	err = mkt.SetRoyalty(ctx, agentID, "seller", "creator", MaxRoyaltyBps+1)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidInput))

	info, err := mkt.GetRoyalty(ctx, agentID)
	require.NoError(t, err)
	assert.Nil(t, info)

	require.NoError(t, mkt.SetRoyalty(ctx, agentID, "seller", "creator", 500))
	info, err = mkt.GetRoyalty(ctx, agentID)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "creator", info.Recipient)
	assert.Equal(t, uint32(500), info.FeeBps)
}
