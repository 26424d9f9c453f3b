package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	key := Key{Namespace: "agent", Ref: "1"}

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, key, []byte("payload")))

	got, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("payload"), got)

	has, err := s.Has(ctx, key)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.Remove(ctx, key))
	has, err = s.Has(ctx, key)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	key := Key{Namespace: "x", Ref: "y"}

	value := []byte("original")
	require.NoError(t, s.Set(ctx, key, value))
	value[0] = 'X'

	got, _, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)

	got[0] = 'Y'
	again, _, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "agent:7", NumericKey("agent", 7).String())
	assert.Equal(t, "registry:config", Key{Namespace: "registry", Ref: "config"}.String())
}

func TestSequenceStartsAtOne(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seq := NewSequence(s, "agent")

	current, err := seq.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), current)

	first, err := seq.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first)

	second, err := seq.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second)

	current, err = seq.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), current)
}

func TestSequencesAreIndependent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	agents := NewSequence(s, "agent")
	listings := NewSequence(s, "listing")

	_, err := agents.Next(ctx)
	require.NoError(t, err)
	_, err = agents.Next(ctx)
	require.NoError(t, err)

	first, err := listings.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first)
}
