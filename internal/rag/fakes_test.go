package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
)

// bagEmbedder gives every distinct lowercase word its own dimension and
// counts occurrences, so cosine similarity reflects shared vocabulary exactly.
type bagEmbedder struct {
	mu    sync.Mutex
	calls int
	seen  []string
	err   error
	vocab map[string]int
}

const bagDims = 512

func (b *bagEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.seen = append(b.seen, texts...)
	if b.err != nil {
		return nil, b.err
	}
	if b.vocab == nil {
		b.vocab = map[string]int{}
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		vec := make([]float64, bagDims)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			w = strings.Trim(w, ".,?!:;#*")
			if w == "" {
				continue
			}
			dim, ok := b.vocab[w]
			if !ok {
				if len(b.vocab) == bagDims {
					return nil, fmt.Errorf("vocabulary exceeds %d words", bagDims)
				}
				dim = len(b.vocab)
				b.vocab[w] = dim
			}
			vec[dim]++
		}
		out[i] = vec
	}
	return out, nil
}
