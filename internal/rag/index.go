package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
)

var ErrEmptyIndex = errors.New("vector index is empty")

// Index is an in-memory cosine-similarity vector store. The policy corpus is
// small enough to score every chunk per query.
type Index struct {
	embedder embedding.Embedder
	topK     int

	mu   sync.RWMutex
	docs []*schema.Document
	vecs [][]float64
}

var _ retriever.Retriever = (*Index)(nil)

func NewIndex(embedder embedding.Embedder, topK int) *Index {
	if topK <= 0 {
		topK = 3
	}
	return &Index{embedder: embedder, topK: topK}
}

// Add embeds and stores docs.
func (ix *Index) Add(ctx context.Context, docs []*schema.Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := ix.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}
	if len(vecs) != len(docs) {
		return fmt.Errorf("embed documents: got %d vectors for %d documents", len(vecs), len(docs))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i, d := range docs {
		ix.docs = append(ix.docs, d)
		ix.vecs = append(ix.vecs, normalizeVec(vecs[i]))
	}
	return nil
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Retrieve returns the top-k documents by cosine similarity to query. Equal
// scores keep insertion order. Returned documents carry their score.
func (ix *Index) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := ix.topK
	o := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)
	if o.TopK != nil && *o.TopK > 0 {
		topK = *o.TopK
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(ix.docs) == 0 {
		return nil, ErrEmptyIndex
	}

	qv, err := ix.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(qv))
	}
	q := normalizeVec(qv[0])

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(ix.docs))
	for i, v := range ix.vecs {
		ranked[i] = scored{idx: i, score: dot(q, v)}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

	out := make([]*schema.Document, 0, topK)
	for _, r := range ranked {
		if len(out) == topK {
			break
		}
		if o.ScoreThreshold != nil && r.score < *o.ScoreThreshold {
			break
		}
		src := ix.docs[r.idx]
		meta := make(map[string]any, len(src.MetaData)+1)
		for k, v := range src.MetaData {
			meta[k] = v
		}
		doc := &schema.Document{ID: src.ID, Content: src.Content, MetaData: meta}
		out = append(out, doc.WithScore(r.score))
	}
	return out, nil
}

func normalizeVec(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	out := make([]float64, len(v))
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func dot(a, b []float64) float64 {
	n := min(len(a), len(b))
	var s float64
	for i := 0; i < n; i++ {
		s += a[i] * b[i]
	}
	return s
}
