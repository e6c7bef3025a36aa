// Package consensus validates an accepted prompt's generated answer by
// sampling several independent completions and measuring their semantic
// agreement. Low agreement marks the answer as possibly fabricated.
package consensus

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BackendConfig names one text-generation backend. Distinct backends give
// more independent samples; a single backend is re-sampled when fewer
// backends than samples are configured.
type BackendConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type backend struct {
	client *openai.Client
	model  string
}

// Generator produces candidate answers for a prompt from one or more
// backend models, concurrently.
type Generator struct {
	backends  []backend
	maxTokens int
	logger    *zap.Logger
}

// NewGenerator creates a generator over the given backends.
func NewGenerator(cfgs []BackendConfig, maxTokens int, logger *zap.Logger) (*Generator, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("NewGenerator: at least one backend required")
	}
	if maxTokens <= 0 {
		maxTokens = 200
	}

	backends := make([]backend, 0, len(cfgs))
	for _, cfg := range cfgs {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		backends = append(backends, backend{
			client: openai.NewClientWithConfig(clientCfg),
			model:  cfg.Model,
		})
	}
	return &Generator{backends: backends, maxTokens: maxTokens, logger: logger}, nil
}

// Generate produces n candidate answers concurrently. Index 0 is the
// canonical answer returned to the caller. A failure of any one generation
// cancels the rest and fails the whole batch — the consensus check never
// silently runs on fewer samples than requested.
func (g *Generator) Generate(ctx context.Context, prompt string, n int) ([]string, error) {
	if n < 2 {
		return nil, fmt.Errorf("Generate: need at least 2 samples, got %d", n)
	}

	answers := make([]string, n)
	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		b := g.backends[i%len(g.backends)]
		eg.Go(func() error {
			resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model: b.model,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleUser, Content: prompt},
				},
				MaxTokens: g.maxTokens,
			})
			if err != nil {
				return fmt.Errorf("generate sample %d (%s): %w", i, b.model, err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("generate sample %d (%s): no choices", i, b.model)
			}
			answers[i] = resp.Choices[0].Message.Content
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return answers, nil
}
