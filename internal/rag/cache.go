package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/redis/go-redis/v9"

	logx "github.com/chative-support/server/pkg/logger"
)

// CachedEmbedder memoizes embeddings in redis keyed by model and text, so the
// policy index can be rebuilt on every start without re-embedding unchanged
// chunks. Redis failures fall back to the wrapped embedder.
type CachedEmbedder struct {
	next   embedding.Embedder
	rdb    *redis.Client
	prefix string
	model  string
	ttl    time.Duration
}

var _ embedding.Embedder = (*CachedEmbedder)(nil)

func NewCachedEmbedder(next embedding.Embedder, rdb *redis.Client, prefix, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, rdb: rdb, prefix: prefix, model: model, ttl: ttl}
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	k := "emb:" + hex.EncodeToString(sum[:])
	if c.prefix != "" {
		k = c.prefix + ":" + k
	}
	return k
}

func (c *CachedEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	out := make([][]float64, len(texts))
	cached, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		logx.Warn().Err(err).Msg("Embedding cache read failed")
		cached = nil
	}

	var missIdx []int
	var missTexts []string
	for i := range texts {
		if i < len(cached) {
			if s, ok := cached[i].(string); ok {
				var vec []float64
				if err := json.Unmarshal([]byte(s), &vec); err == nil {
					out[i] = vec
					continue
				}
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}
	if len(missTexts) == 0 {
		logx.Debug().Int("hits", len(texts)).Msg("Embedding cache hit")
		return out, nil
	}

	fresh, err := c.next.EmbedStrings(ctx, missTexts, opts...)
	if err != nil {
		return nil, err
	}

	pipe := c.rdb.Pipeline()
	for j, i := range missIdx {
		out[i] = fresh[j]
		raw, err := json.Marshal(fresh[j])
		if err != nil {
			continue
		}
		pipe.Set(ctx, keys[i], raw, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logx.Warn().Err(err).Msg("Embedding cache write failed")
	}

	logx.Debug().
		Int("hits", len(texts)-len(missTexts)).
		Int("misses", len(missTexts)).
		Msg("Embedded texts")
	return out, nil
}
