package rag

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T, next *bagEmbedder) (*CachedEmbedder, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCachedEmbedder(next, rdb, "supportbot", "gemini-embedding-001", time.Hour), srv
}

func TestCachedEmbedderReusesVectors(t *testing.T) {
	ctx := context.Background()
	next := &bagEmbedder{}
	cache, srv := newCache(t, next)

	first, err := cache.EmbedStrings(ctx, []string{"return window", "shipping time"})
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)
	assert.Len(t, srv.Keys(), 2)

	second, err := cache.EmbedStrings(ctx, []string{"shipping time", "warranty"})
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
	assert.Equal(t, []string{"return window", "shipping time", "warranty"}, next.seen)
	assert.Equal(t, first[1], second[0])

	ttl := srv.TTL(cache.key("warranty"))
	assert.Equal(t, time.Hour, ttl)
}

func TestCachedEmbedderKeyDependsOnModel(t *testing.T) {
	a := NewCachedEmbedder(nil, nil, "p", "model-a", 0)
	b := NewCachedEmbedder(nil, nil, "p", "model-b", 0)
	assert.NotEqual(t, a.key("text"), b.key("text"))
	assert.Contains(t, a.key("text"), "p:emb:")
}

func TestCachedEmbedderFallsBackWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	next := &bagEmbedder{}
	cache, srv := newCache(t, next)
	srv.Close()

	vecs, err := cache.EmbedStrings(ctx, []string{"return window"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, 1, next.calls)
}
