package rag

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"google.golang.org/genai"
)

// maxEmbedBatch is the largest batch the Gemini embedding endpoint accepts.
const maxEmbedBatch = 100

type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GeminiEmbedder implements embedding.Embedder on top of the genai client.
type GeminiEmbedder struct {
	models contentEmbedder
	model  string
}

var _ embedding.Embedder = (*GeminiEmbedder)(nil)

func NewGeminiEmbedder(client *genai.Client, model string) *GeminiEmbedder {
	return &GeminiEmbedder{models: client.Models, model: model}
}

func (e *GeminiEmbedder) Model() string { return e.model }

func (e *GeminiEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	model := e.model
	o := embedding.GetCommonOptions(&embedding.Options{Model: &model}, opts...)
	if o.Model != nil {
		model = *o.Model
	}

	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbedBatch {
		end := min(start+maxEmbedBatch, len(texts))
		contents := make([]*genai.Content, 0, end-start)
		for _, t := range texts[start:end] {
			contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
		}

		resp, err := e.models.EmbedContent(ctx, model, contents, nil)
		if err != nil {
			return nil, fmt.Errorf("embed %d texts with %s: %w", len(contents), model, err)
		}
		if len(resp.Embeddings) != len(contents) {
			return nil, fmt.Errorf("embed with %s: got %d vectors for %d texts", model, len(resp.Embeddings), len(contents))
		}
		for _, emb := range resp.Embeddings {
			vec := make([]float64, len(emb.Values))
			for i, v := range emb.Values {
				vec[i] = float64(v)
			}
			out = append(out, vec)
		}
	}
	return out, nil
}
