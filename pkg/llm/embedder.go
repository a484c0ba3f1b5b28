package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raki39/frontgraph/pkg/config"
	"github.com/raki39/frontgraph/pkg/models"
)

// Embedder wraps langchaingo embeddings with dimension validation. The
// vector dimension is fixed at models.EmbeddingDim; a provider returning
// anything else is an error, never silently truncated.
type Embedder struct {
	model     embeddings.Embedder
	modelName string
}

// NewEmbedder creates the embedder for the configured embedding model.
// When an OpenAI key is configured the model is served by OpenAI;
// otherwise it is served by Ollama.
func NewEmbedder(cfg config.LLMConfig, embeddingModel string) (*Embedder, error) {
	var model embeddings.Embedder

	if cfg.OpenAIKey != "" {
		llm, err := openai.New(
			openai.WithToken(cfg.OpenAIKey),
			openai.WithEmbeddingModel(embeddingModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}
	} else {
		llm, err := ollama.New(
			ollama.WithModel(embeddingModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}
	}

	return &Embedder{model: model, modelName: embeddingModel}, nil
}

// Embed generates the vector for one text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vectors, err := e.model.EmbedDocuments(ctx, []string{text})
	if err != nil {
		slog.Warn("embedding failed",
			"model", e.modelName, "text_len", len(text),
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	embedding := vectors[0]
	if len(embedding) != models.EmbeddingDim {
		return nil, fmt.Errorf("dimension mismatch: got %d, want %d", len(embedding), models.EmbeddingDim)
	}
	return embedding, nil
}

// ModelName returns the embedding model version tag stored alongside each
// vector.
func (e *Embedder) ModelName() string {
	return e.modelName
}
