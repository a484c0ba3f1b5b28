// Package llm provides LLM and embedding clients using langchaingo. The
// pipeline and validation harness consume these through small interfaces,
// so the provider SDKs stay behind this boundary.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raki39/frontgraph/pkg/config"
)

// Model wraps a langchaingo LLM for text generation with one model id.
type Model struct {
	llm       llms.Model
	modelName string
}

// Factory builds model clients per agent model id. Clients are cheap
// handles over an HTTP client, so no caching is needed here; the worker
// caches whole agent bundles in the registry instead.
type Factory struct {
	cfg config.LLMConfig
}

// NewFactory creates a model factory from provider credentials.
func NewFactory(cfg config.LLMConfig) *Factory {
	return &Factory{cfg: cfg}
}

// Model resolves a model id to a client. The provider is inferred from the
// id prefix: gpt-*, o1-*, o3-* → OpenAI, claude-* → Anthropic, anything else is
// served by Ollama.
func (f *Factory) Model(modelID string) (*Model, error) {
	if modelID == "" {
		return nil, fmt.Errorf("model id required")
	}

	var model llms.Model
	var err error

	switch {
	case strings.HasPrefix(modelID, "gpt-") || strings.HasPrefix(modelID, "o1-") || strings.HasPrefix(modelID, "o3-"):
		if f.cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required for model %q", modelID)
		}
		model, err = openai.New(
			openai.WithToken(f.cfg.OpenAIKey),
			openai.WithModel(modelID),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case strings.HasPrefix(modelID, "claude-"):
		if f.cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("Anthropic API key required for model %q", modelID)
		}
		model, err = anthropic.New(
			anthropic.WithToken(f.cfg.AnthropicKey),
			anthropic.WithModel(modelID),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		model, err = ollama.New(
			ollama.WithModel(modelID),
			ollama.WithServerURL(f.cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
	}

	return &Model{llm: model, modelName: modelID}, nil
}

// Judge returns the secondary judge model for the validation harness, or
// an error when none is configured.
func (f *Factory) Judge() (*Model, error) {
	if f.cfg.JudgeModel == "" {
		return nil, fmt.Errorf("no judge model configured")
	}
	return f.Model(f.cfg.JudgeModel)
}

// Generate generates text from a single prompt.
func (m *Model) Generate(ctx context.Context, prompt string) (string, error) {
	response, err := llms.GenerateFromSinglePrompt(ctx, m.llm, prompt)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return response, nil
}

// GenerateWithSystem generates text with a system prompt.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	response, err := m.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate with system: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return response.Choices[0].Content, nil
}

// ModelName returns the model id this client speaks for.
func (m *Model) ModelName() string {
	return m.modelName
}
