package consensus

import (
	"context"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"
	"github.com/triage-ai/aegis/internal/engine"
	"go.uber.org/zap"
)

// Embedder turns texts into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIEmbedder embeds texts through an OpenAI-compatible embeddings
// endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an embedder. Model defaults to
// text-embedding-3-small.
func NewOpenAIEmbedder(baseURL, apiKey, model string) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.EmbeddingModel(model),
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("Embed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("Embed: got %d embeddings for %d texts", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// Detector runs the full consensus check: sample N answers, embed them, and
// compare each against the canonical answer.
//
// Decision rule (agreement-based): the answer is suspected fabricated unless
// EVERY pairwise similarity between the canonical answer and the other
// samples exceeds the threshold. The alternative difference-of-similarities
// rule is not supported.
type Detector struct {
	generator *Generator
	embedder  Embedder
	logger    *zap.Logger
}

// NewDetector creates a consensus hallucination detector.
func NewDetector(generator *Generator, embedder Embedder, logger *zap.Logger) *Detector {
	return &Detector{generator: generator, embedder: embedder, logger: logger}
}

// Check generates samples candidate answers for prompt and measures their
// agreement against threshold.
//
// A generation failure is returned as an error (the pipeline fails closed to
// BLOCKED on it). An embedding failure does NOT error: the canonical answer
// exists at that point and is still owed to the caller, so the result is the
// answer marked hallucination-suspected.
func (d *Detector) Check(ctx context.Context, prompt string, samples int, threshold float64) (engine.ConsensusResult, error) {
	answers, err := d.generator.Generate(ctx, prompt, samples)
	if err != nil {
		return engine.ConsensusResult{}, err
	}
	canonical := answers[0]

	vecs, err := d.embedder.Embed(ctx, answers)
	if err != nil {
		d.logger.Warn("embedding failed, assuming hallucination", zap.Error(err))
		return engine.ConsensusResult{Hallucinated: true, Canonical: canonical}, nil
	}

	hallucinated := false
	sims := make([]float64, 0, len(vecs)-1)
	for i := 1; i < len(vecs); i++ {
		sim := cosineSimilarity(vecs[0], vecs[i])
		sims = append(sims, sim)
		if sim <= threshold {
			hallucinated = true
		}
	}

	d.logger.Debug("consensus similarities",
		zap.Float64s("similarities", sims),
		zap.Float64("threshold", threshold),
		zap.Bool("hallucinated", hallucinated),
	)

	return engine.ConsensusResult{
		Hallucinated: hallucinated,
		Canonical:    canonical,
		Similarities: sims,
	}, nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched or zero-magnitude vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
