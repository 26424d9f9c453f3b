package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveEnvelope(t *testing.T, ch chan *Envelope) *Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("no envelope received")
		return nil
	}
}

func TestBusTopicSubscription(t *testing.T) {
	bus := NewBus()
	minted := bus.Subscribe("agent.minted")
	sold := bus.Subscribe("listing.sold")

	bus.Emit(context.Background(), AgentMinted{AgentID: 7, Owner: "alice"})

	env := receiveEnvelope(t, minted)
	assert.Equal(t, "agent.minted", env.Topic)
	assert.NotEmpty(t, env.ID)

	var payload AgentMinted
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, uint64(7), payload.AgentID)
	assert.Equal(t, "alice", payload.Owner)

	select {
	case <-sold:
		t.Fatal("wrong topic delivered")
	default:
	}
}

func TestBusAllSubscriber(t *testing.T) {
	bus := NewBus()
	all := bus.Subscribe()

	ctx := context.Background()
	bus.Emit(ctx, AgentMinted{AgentID: 1, Owner: "alice"})
	bus.Emit(ctx, AgentSold{ListingID: 2, AgentID: 1, Buyer: "bob", SellerAmount: 990, Royalty: 10})

	first := receiveEnvelope(t, all)
	second := receiveEnvelope(t, all)
	assert.Equal(t, "agent.minted", first.Topic)
	assert.Equal(t, "listing.sold", second.Topic)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe("agent.minted")
	bus.Unsubscribe(ch)

	// Channel is closed and no longer receives.
	_, open := <-ch
	assert.False(t, open)

	bus.Emit(context.Background(), AgentMinted{AgentID: 1, Owner: "alice"})
}

func TestBusSlowSubscriberDropsNotBlocks(t *testing.T) {
	bus := NewBus()
	bus.bufferSize = 1
	ch := bus.Subscribe("agent.minted")

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Emit(ctx, AgentMinted{AgentID: uint64(i + 1), Owner: "alice"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full subscriber channel")
	}
	assert.Len(t, ch, 1)
}
