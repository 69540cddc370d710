package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glaciergh0st/HuntLens/internal/domain/corpus"
	"github.com/glaciergh0st/HuntLens/internal/domain/evidence"
)

func setupCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(Options{URL: fmt.Sprintf("redis://%s", mr.Addr()), TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestCache_RoundTrip(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()
	items := []evidence.Item{{
		DocumentID: "T1003", Title: "OS Credential Dumping", Source: corpus.SourceAttack, Tier: corpus.TierCanonical,
		Score: 0.75, Rank: 1, Snippet: "mimikatz", Signals: evidence.SignalLexical | evidence.SignalSemantic,
	}}

	_, ok, err := c.Get(ctx, "huntlens:retrieval:v1:combined:5:abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "huntlens:retrieval:v1:combined:5:abc", items))
	got, ok, err := c.Get(ctx, "huntlens:retrieval:v1:combined:5:abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, items, got)

	assert.Equal(t, time.Minute, mr.TTL("huntlens:retrieval:v1:combined:5:abc"))
}

func TestCache_Expiry(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []evidence.Item{}))

	mr.FastForward(2 * time.Minute)
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_CorruptEntry(t *testing.T) {
	c, mr := setupCache(t)
	require.NoError(t, mr.Set("k", "not json"))
	_, ok, err := c.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestCache_ConnectionFailure(t *testing.T) {
	_, err := New(Options{URL: "redis://127.0.0.1:1", ConnectTimeout: 200 * time.Millisecond})
	assert.Error(t, err)

	_, err = New(Options{URL: "not a url"})
	assert.Error(t, err)
}

func TestCache_ServerGoneAfterConnect(t *testing.T) {
	c, mr := setupCache(t)
	mr.Close()
	_, _, err := c.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, c.Ping(context.Background()))
}
