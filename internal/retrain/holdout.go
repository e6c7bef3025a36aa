package retrain

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/triage-ai/aegis/internal/classifier"
	"github.com/triage-ai/aegis/internal/engine"
	"go.uber.org/zap"
)

// ClassifyFunc runs one classification through an explicit checkpoint,
// bypassing the live pointer. The SLM classifier's ClassifyWith satisfies
// this shape.
type ClassifyFunc func(ctx context.Context, cp *classifier.Checkpoint, text string) engine.Verdict

// HoldoutEvaluator scores checkpoints by accuracy over a fixed labeled set.
type HoldoutEvaluator struct {
	examples []TrainingExample
	classify ClassifyFunc
	logger   *zap.Logger
}

// NewHoldoutEvaluator creates an evaluator over the given examples.
func NewHoldoutEvaluator(examples []TrainingExample, classify ClassifyFunc, logger *zap.Logger) (*HoldoutEvaluator, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("NewHoldoutEvaluator: empty holdout set")
	}
	return &HoldoutEvaluator{examples: examples, classify: classify, logger: logger}, nil
}

// Score runs the whole holdout set through cp and returns accuracy as a
// percentage. A context cancellation aborts the sweep.
func (h *HoldoutEvaluator) Score(ctx context.Context, cp *classifier.Checkpoint) (float64, error) {
	correct := 0
	for _, ex := range h.examples {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("Score: %w", err)
		}
		got := h.classify(ctx, cp, ex.Text)
		if got.String() == ex.Label {
			correct++
		}
	}
	score := float64(correct) / float64(len(h.examples)) * 100
	h.logger.Debug("holdout sweep complete",
		zap.String("checkpoint", cp.Name),
		zap.Int("correct", correct),
		zap.Int("total", len(h.examples)),
		zap.Float64("score", score),
	)
	return score, nil
}

// holdoutFile is the on-disk shape of the holdout set.
type holdoutFile struct {
	Data []TrainingExample `json:"data"`
}

// LoadHoldout reads the fixed holdout set from its JSON file.
func LoadHoldout(path string) ([]TrainingExample, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadHoldout: %w", err)
	}
	var f holdoutFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("LoadHoldout: %w", err)
	}
	if len(f.Data) == 0 {
		return nil, fmt.Errorf("LoadHoldout: %s has no examples", path)
	}
	return f.Data, nil
}
