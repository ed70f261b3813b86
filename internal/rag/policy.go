package rag

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/schema"

	"github.com/chative-support/server/internal/agent/model"
	logx "github.com/chative-support/server/pkg/logger"
)

// BuildPolicyIndex loads the policy markdown at cfg.PolicyPath, chunks it and
// embeds every chunk into a fresh index.
func BuildPolicyIndex(ctx context.Context, cfg model.RAGConfig, embedder embedding.Embedder) (*Index, error) {
	md, err := os.ReadFile(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("read policy document: %w", err)
	}
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	docs := chunker.Chunk(cfg.PolicyPath, md)
	ix := NewIndex(embedder, cfg.TopK)
	if err := ix.Add(ctx, docs); err != nil {
		return nil, err
	}

	logx.Info().
		Str("path", cfg.PolicyPath).
		Int("chunks", len(docs)).
		Msg("Policy index ready")
	return ix, nil
}

// JoinDocuments concatenates document contents separated by a blank line.
func JoinDocuments(docs []*schema.Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Content)
	}
	return strings.Join(parts, "\n\n")
}
